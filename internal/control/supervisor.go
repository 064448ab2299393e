package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/vietddude/sifter/internal/connhealth"
	"github.com/vietddude/sifter/internal/core/config"
	"github.com/vietddude/sifter/internal/core/domain"
	"github.com/vietddude/sifter/internal/gateway"
	"github.com/vietddude/sifter/internal/health"
	"github.com/vietddude/sifter/internal/infra/cooldown"
	"github.com/vietddude/sifter/internal/infra/queueapi"
	"github.com/vietddude/sifter/internal/infra/storage"
	"github.com/vietddude/sifter/internal/infra/storage/memory"
	"github.com/vietddude/sifter/internal/infra/storage/postgres"
	"github.com/vietddude/sifter/internal/worker"
)

const (
	healthCheckInterval = 30 * time.Second
	restartGraceDelay   = 5 * time.Second
)

// Config holds the supervisor configuration.
type Config struct {
	App *config.AppConfig

	// ManualRestart clears all cooldown state and starts immediately
	// from level zero, regardless of what was persisted.
	ManualRestart bool
}

// Supervisor owns the process lifecycle: it decides whether to start the
// worker loop immediately or defer it behind a remaining cooldown window,
// health-checks it while running, and reschedules it after a ban.
type Supervisor struct {
	cfg        Config
	instanceID string

	store        *cooldown.LayeredStore
	redisBackend *cooldown.RedisStore
	daemon       *gateway.DaemonClient
	queue        *queueapi.Client
	loop         *worker.Loop
	monitor      *connhealth.Monitor
	healthMon    *health.Monitor
	healthServer *health.Server
	db           *postgres.DB
	outcomeRepo  storage.OutcomeRepository
	banRepo      storage.BanEventRepository
	log          *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates a supervisor with all dependencies initialized.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	app := cfg.App
	instanceID := uuid.NewString()

	// 1. Cooldown store: remote backend per config, local file fallback.
	var remote cooldown.RemoteStore
	var redisBackend *cooldown.RedisStore
	switch app.Cooldown.Backend {
	case "redis":
		rs, err := cooldown.NewRedisStore(cooldown.RedisConfig{
			URL:      app.Redis.URL,
			Password: app.Redis.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init redis cooldown store: %w", err)
		}
		remote = rs
		redisBackend = rs
		slog.Info("Using Redis cooldown backend")
	default:
		remote = cooldown.NewHTTPStore(app.Cooldown.BaseURL, app.Cooldown.APIKey, app.Queue.RequestTimeout)
		slog.Info("Using HTTP cooldown backend", "base_url", app.Cooldown.BaseURL)
	}
	store := cooldown.NewLayeredStore(
		instanceID,
		remote,
		cooldown.NewFileStore(app.Cooldown.LocalFile),
	)

	// 2. Outcome journal: PostgreSQL when configured, memory otherwise.
	var outcomeRepo storage.OutcomeRepository
	var banRepo storage.BanEventRepository
	var db *postgres.DB
	if app.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), postgres.Config{
			URL:      app.Database.URL,
			MaxConns: app.Database.MaxConns,
			MinConns: app.Database.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		outcomeRepo = postgres.NewOutcomeRepo(db)
		banRepo = postgres.NewBanEventRepo(db)
		slog.Info("Using PostgreSQL journal")
	} else {
		mem := memory.NewMemoryStorage()
		outcomeRepo = memory.NewOutcomeRepo(mem)
		banRepo = memory.NewBanEventRepo(mem)
		slog.Info("Using in-memory journal")
	}

	// 3. Queue client and session daemon gateway.
	queue := queueapi.NewClient(
		app.Queue.BaseURL,
		app.Queue.APIKey,
		app.Queue.Downstream,
		app.Queue.MarkerURL,
		app.Queue.RequestTimeout,
	)
	daemon := gateway.NewDaemonClient(app.Gateway.BaseURL, app.Gateway.RequestTimeout)

	s := &Supervisor{
		cfg:          cfg,
		instanceID:   instanceID,
		store:        store,
		redisBackend: redisBackend,
		daemon:       daemon,
		queue:        queue,
		db:           db,
		outcomeRepo:  outcomeRepo,
		banRepo:      banRepo,
		log:          slog.Default().With("component", "supervisor"),
	}

	// 4. Worker loop and connection health monitor. The monitor's initial
	// cooldown state is injected in Start once loaded/cleared.
	s.loop = worker.NewLoop(
		worker.Config{
			InstanceID:       instanceID,
			BatchSize:        app.Worker.BatchSize,
			MaxRetries:       app.Worker.MaxRetries,
			FetchTimeout:     app.Worker.FetchTimeout,
			RetryDelay:       app.Worker.RetryDelay,
			PollInterval:     app.Worker.PollInterval,
			ItemDelayMin:     app.Worker.ItemDelayMin,
			ItemDelayMax:     app.Worker.ItemDelayMax,
			TimeoutThreshold: app.Worker.TimeoutThreshold,
			MarkerRetries:    app.Worker.MarkerRetries,
		},
		queue,
		daemon,
		worker.DefaultFilter(worker.FilterCriteria{
			MaxCommendations: app.Worker.MaxCommendations,
			RequiredMedals:   app.Worker.RequiredMedals,
		}),
		outcomeRepo,
		nil, // monitor wired below
	)

	return s, nil
}

// InstanceID returns the unique identifier generated for this run.
func (s *Supervisor) InstanceID() string {
	return s.instanceID
}

// Start loads or clears the persisted cooldown state, decides the start
// path, and launches the supervision loop.
func (s *Supervisor) Start(ctx context.Context) error {
	app := s.cfg.App

	state, err := s.startupState(ctx)
	if err != nil {
		return err
	}

	s.monitor = connhealth.NewMonitor(
		s.instanceID,
		connhealth.Config{
			ConnectTimeout: app.Gateway.ConnectTimeout,
			GraceDelay:     app.Gateway.GraceDelay,
			ReconnectDelay: app.Gateway.ReconnectDelay,
		},
		s.daemon,
		s.store,
		s.loop,
		state,
	)
	s.loop.SetMonitor(s.monitor)

	s.healthMon = health.NewMonitor(s.instanceID, s.loop, s.monitor, s.outcomeRepo, s.banRepo)
	s.healthServer = health.NewServer(s.healthMon, app.Server.Port)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		if err := s.healthServer.Start(); err != nil && ctx.Err() == nil {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(runCtx)
	}

	go s.daemon.Run(runCtx)
	go s.run(runCtx, state)

	return nil
}

// startupState applies the manual-restart override or loads the persisted
// state.
func (s *Supervisor) startupState(ctx context.Context) (domain.CooldownState, error) {
	if s.cfg.ManualRestart || os.Getenv("SIFTER_FORCE_RESTART") != "" {
		s.log.Info("Manual restart requested, clearing cooldown state")
		if err := s.store.Clear(ctx); err != nil {
			s.log.Warn("Failed to clear cooldown state", "error", err)
		}
		return domain.CooldownState{}, nil
	}

	state, err := s.store.Load(ctx)
	if err != nil {
		return domain.CooldownState{}, fmt.Errorf("failed to load cooldown state: %w", err)
	}
	return state, nil
}

// run is the supervision loop: defer behind any remaining cooldown, run a
// session until it is banned, then reschedule at the ban's resume time.
func (s *Supervisor) run(ctx context.Context, state domain.CooldownState) {
	defer close(s.done)

	delay := state.Remaining(domain.DefaultEscalationTable, time.Now())
	if delay > 0 {
		s.log.Warn("Persisted cooldown still active, deferring start",
			"level", state.CooldownLevel,
			"resume_at", time.Now().Add(delay).Format(time.RFC3339))
	}

	for ctx.Err() == nil {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		ban := s.runSession(ctx)
		if ban == nil {
			return
		}

		if s.banRepo != nil {
			if err := s.banRepo.Record(ctx, ban); err != nil {
				s.log.Debug("Ban journal write failed", "error", err)
			}
		}

		delay = time.Until(ban.ResumeAt)
		s.log.Info("Deferred restart scheduled",
			"resume_at", ban.ResumeAt.Format(time.RFC3339), "in", delay.Round(time.Second))
	}
}

// runSession drives one connected session: the monitor proves the
// connection, the worker loop starts on the first connect, and a periodic
// health check restarts a dead, un-banned loop. Returns the ban event
// that ended the session, or nil on shutdown.
func (s *Supervisor) runSession(ctx context.Context) *domain.BanEvent {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		ban *domain.BanEvent
		err error
	}
	monitorDone := make(chan result, 1)
	go func() {
		ban, err := s.monitor.Run(sessionCtx)
		monitorDone <- result{ban, err}
	}()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.monitor.Connected():
			if !s.loop.IsRunning() {
				if err := s.loop.Start(sessionCtx); err != nil {
					s.log.Warn("Worker start failed", "error", err)
				}
			}

		case <-ticker.C:
			snap := s.monitor.Snapshot()
			if s.loop.IsRunning() || snap.Phase != connhealth.PhaseConnected.String() {
				continue
			}
			// Died while connected and not banned: restart after a short
			// grace delay. A banned death is owned by the deferred timer.
			s.log.Warn("Worker loop not running, restarting", "grace", restartGraceDelay)
			select {
			case <-sessionCtx.Done():
			case <-time.After(restartGraceDelay):
				if err := s.loop.Start(sessionCtx); err != nil && err != worker.ErrAlreadyRunning {
					s.log.Warn("Worker restart failed", "error", err)
				}
			}

		case res := <-monitorDone:
			if res.ban != nil {
				return res.ban
			}
			// Context cancelled: stop the worker, releasing claimed work.
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.loop.Stop(stopCtx); err != nil {
				s.log.Warn("Worker stop failed", "error", err)
			}
			stopCancel()
			return nil
		}
	}
}

// Stop shuts the supervisor down gracefully: the worker releases claimed
// work, the session logs off, and the health server drains.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.log.Info("Stopping supervisor...")

	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			return fmt.Errorf("supervision loop did not stop: %w", ctx.Err())
		}
	}

	if err := s.loop.Stop(ctx); err != nil {
		s.log.Warn("Worker stop during shutdown failed", "error", err)
	}

	if err := s.daemon.LogOff(ctx); err != nil {
		s.log.Debug("Log off during shutdown failed", "error", err)
	}

	if s.redisBackend != nil {
		if err := s.redisBackend.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	return s.healthServer.Stop(ctx)
}
