package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/sifter/internal/core/config"
	"github.com/vietddude/sifter/internal/core/domain"
	"github.com/vietddude/sifter/internal/infra/cooldown"
)

// fakeBackend serves the queue API, the cooldown API and the session
// daemon from one httptest server, enough for a full lifecycle run.
type fakeBackend struct {
	mu        sync.Mutex
	connected bool
	released  []string
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.URL.Path == "/session/connect":
			f.connected = true
			w.WriteHeader(http.StatusOK)

		case r.URL.Path == "/session/logoff":
			f.connected = false
			w.WriteHeader(http.StatusOK)

		case r.URL.Path == "/session/events":
			events := []map[string]string{}
			if f.connected {
				events = append(events, map[string]string{"kind": "connected"})
				f.connected = false // deliver once
			}
			json.NewEncoder(w).Encode(map[string]any{"events": events})

		case r.URL.Path == "/queue/filter/claim":
			json.NewEncoder(w).Encode(map[string]any{"items": []any{}})

		case r.URL.Path == "/queue/filter/release":
			var req struct {
				Items []string `json:"items"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			f.released = append(f.released, req.Items...)
			w.WriteHeader(http.StatusOK)

		case r.URL.Path == "/queue/filter/complete":
			w.WriteHeader(http.StatusOK)

		case strings.HasPrefix(r.URL.Path, "/cooldown/"):
			switch r.Method {
			case http.MethodGet:
				json.NewEncoder(w).Encode(map[string]any{"found": false})
			default:
				w.WriteHeader(http.StatusOK)
			}

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func testAppConfig(t *testing.T, baseURL string) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		Server: config.ServerConfig{Port: 0},
		Queue: config.QueueConfig{
			BaseURL:        baseURL,
			APIKey:         "test-key",
			Downstream:     "send",
			RequestTimeout: 2 * time.Second,
		},
		Gateway: config.GatewayConfig{
			BaseURL:        baseURL,
			RequestTimeout: 2 * time.Second,
			ConnectTimeout: 5 * time.Second,
			GraceDelay:     100 * time.Millisecond,
			ReconnectDelay: 100 * time.Millisecond,
		},
		Worker: config.WorkerConfig{
			BatchSize:        5,
			MaxRetries:       2,
			FetchTimeout:     time.Second,
			RetryDelay:       10 * time.Millisecond,
			PollInterval:     50 * time.Millisecond,
			ItemDelayMin:     time.Millisecond,
			ItemDelayMax:     2 * time.Millisecond,
			TimeoutThreshold: 5,
			MarkerRetries:    1,
			MaxCommendations: 50,
		},
		Cooldown: config.CooldownConfig{
			Backend:   "http",
			BaseURL:   baseURL,
			APIKey:    "test-key",
			LocalFile: filepath.Join(t.TempDir(), "cooldown_state.json"),
		},
	}
}

func TestSupervisor_Lifecycle(t *testing.T) {
	backend := &fakeBackend{}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	s, err := NewSupervisor(Config{App: testAppConfig(t, server.URL)})
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}

	if s.InstanceID() == "" {
		t.Error("expected a generated instance id")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let the session connect and the worker spin up against the drained
	// queue.
	time.Sleep(300 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestSupervisor_HealthReportsJournalCounts(t *testing.T) {
	backend := &fakeBackend{}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	s, err := NewSupervisor(Config{App: testAppConfig(t, server.URL)})
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		s.Stop(stopCtx)
	}()

	// The journal the worker writes is the same one the health report reads.
	if err := s.outcomeRepo.Record(ctx, &domain.OutcomeRecord{
		ItemID:      "a1",
		Username:    "alice",
		Outcome:     domain.OutcomePass,
		Attempts:    1,
		ProcessedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	report := s.healthMon.CheckHealth(ctx)
	if report.Outcomes[domain.OutcomePass] != 1 {
		t.Errorf("expected journal count in health report, got %v", report.Outcomes)
	}
}

func TestSupervisor_ManualRestartClearsState(t *testing.T) {
	backend := &fakeBackend{}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	cfg := testAppConfig(t, server.URL)

	// Simulate an earlier run that ended banned at level 3.
	fs := cooldown.NewFileStore(cfg.Cooldown.LocalFile)
	if err := fs.Write(domain.CooldownState{
		LastBanTime:   time.Now(),
		TotalBanCount: 3,
		CooldownLevel: 3,
	}); err != nil {
		t.Fatalf("failed to seed state file: %v", err)
	}

	s, err := NewSupervisor(Config{App: cfg, ManualRestart: true})
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}

	state, err := s.startupState(context.Background())
	if err != nil {
		t.Fatalf("startupState failed: %v", err)
	}
	if state.CooldownLevel != 0 || state.TotalBanCount != 0 {
		t.Errorf("expected zero state after manual restart, got %+v", state)
	}

	// The state file is gone too.
	if _, found, _ := fs.Read(); found {
		t.Error("expected state file removed")
	}
}

func TestSupervisor_LoadsPersistedState(t *testing.T) {
	backend := &fakeBackend{}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	cfg := testAppConfig(t, server.URL)

	fs := cooldown.NewFileStore(cfg.Cooldown.LocalFile)
	if err := fs.Write(domain.CooldownState{
		LastBanTime:   time.Now(),
		TotalBanCount: 2,
		CooldownLevel: 2,
	}); err != nil {
		t.Fatalf("failed to seed state file: %v", err)
	}

	s, err := NewSupervisor(Config{App: cfg})
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}

	state, err := s.startupState(context.Background())
	if err != nil {
		t.Fatalf("startupState failed: %v", err)
	}
	if state.CooldownLevel != 2 || state.TotalBanCount != 2 {
		t.Errorf("expected persisted state loaded, got %+v", state)
	}
	if state.Remaining(domain.DefaultEscalationTable, time.Now()) == 0 {
		t.Error("expected an active cooldown window")
	}
}
