package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
	"github.com/vietddude/sifter/internal/gateway"
	"github.com/vietddude/sifter/internal/infra/httpapi"
	"github.com/vietddude/sifter/internal/infra/queueapi"
	"github.com/vietddude/sifter/internal/infra/storage"
	"github.com/vietddude/sifter/internal/metrics"
)

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("worker loop already running")

// BanReporter receives ban evidence the loop gathers independently of any
// single item's retry budget.
type BanReporter interface {
	ReportBanEvidence(reason string)
}

// Config holds worker loop parameters.
type Config struct {
	InstanceID       string
	BatchSize        int
	MaxRetries       int
	FetchTimeout     time.Duration
	RetryDelay       time.Duration
	PollInterval     time.Duration
	ItemDelayMin     time.Duration
	ItemDelayMax     time.Duration
	TimeoutThreshold int
	MarkerRetries    int
}

// Loop claims batches from the filter queue and processes items strictly
// one at a time, respecting the external service's rate sensitivity.
type Loop struct {
	cfg     Config
	queue   *queueapi.Client
	cap     gateway.Capability
	filter  domain.FilterFunc
	journal storage.OutcomeRepository
	monitor BanReporter
	log     *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu              sync.Mutex
	batch           []domain.WorkItem
	inFlight        *domain.WorkItem
	stats           Stats
	consecTimeouts  int
	itemFailures    map[string]int
}

// NewLoop creates a worker loop. journal may be nil to skip outcome
// journaling; monitor may be nil in tests.
func NewLoop(
	cfg Config,
	queue *queueapi.Client,
	cap gateway.Capability,
	filter domain.FilterFunc,
	journal storage.OutcomeRepository,
	monitor BanReporter,
) *Loop {
	return &Loop{
		cfg:          cfg,
		queue:        queue,
		cap:          cap,
		filter:       filter,
		journal:      journal,
		monitor:      monitor,
		log:          slog.Default().With("component", "worker"),
		itemFailures: make(map[string]int),
	}
}

// SetMonitor wires the ban evidence sink. Must be called before Start.
func (l *Loop) SetMonitor(monitor BanReporter) {
	l.monitor = monitor
}

// Start launches the processing loop. It returns immediately; the loop
// runs until Stop or context cancellation.
func (l *Loop) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(runCtx)
	return nil
}

// Stop cancels the loop and waits for it to finish. The loop releases the
// in-flight item and any unprocessed claimed batch before Stop returns;
// no claimed item is silently dropped.
func (l *Loop) Stop(ctx context.Context) error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker stop: %w", ctx.Err())
	}
}

// IsRunning reports whether the loop is active.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.running.Store(false)
	defer l.releaseClaimed()
	defer func() {
		// An unexpected fault takes the same graceful path as an explicit
		// stop: log it and let the deferred release run.
		if r := recover(); r != nil {
			l.log.Error("Worker loop fault, shutting down", "panic", r)
		}
	}()

	l.log.Info("Worker loop started", "instance_id", l.cfg.InstanceID, "batch_size", l.cfg.BatchSize)

	for ctx.Err() == nil {
		l.step(ctx)
	}
}

// step runs one iteration: top up the batch if needed, then process one item.
func (l *Loop) step(ctx context.Context) {
	item, ok := l.nextItem(ctx)
	if !ok {
		return
	}

	outcome, attempts, aborted := l.processItem(ctx, item)
	if aborted {
		// Shutdown mid-item: the deferred release returns it to the queue.
		return
	}

	l.route(ctx, item, outcome)

	l.mu.Lock()
	l.inFlight = nil
	l.stats.Processed++
	l.stats.LastItemAt = time.Now()
	l.mu.Unlock()

	l.notifyMarker(ctx, item)
	l.journalOutcome(ctx, item, outcome, attempts)

	l.sleepRandom(ctx)
}

// nextItem pops the next claimed item, claiming a fresh batch when the
// local one is empty. Returns false when nothing is available yet.
func (l *Loop) nextItem(ctx context.Context) (domain.WorkItem, bool) {
	l.mu.Lock()
	if len(l.batch) > 0 {
		item := l.batch[0]
		l.batch = l.batch[1:]
		l.inFlight = &item
		l.mu.Unlock()
		return item, true
	}
	l.mu.Unlock()

	items, err := l.queue.Claim(ctx, l.cfg.InstanceID, l.cfg.BatchSize)
	metrics.ClaimsTotal.Inc()
	if err != nil {
		if ctx.Err() == nil {
			metrics.QueueAPIErrors.WithLabelValues("claim").Inc()
			l.log.Warn("Claim failed", "error", err)
		}
		l.sleep(ctx, l.cfg.PollInterval)
		return domain.WorkItem{}, false
	}
	if len(items) == 0 {
		// Queue drained; not an error.
		l.log.Debug("Queue drained, polling later", "interval", l.cfg.PollInterval)
		l.sleep(ctx, l.cfg.PollInterval)
		return domain.WorkItem{}, false
	}

	l.mu.Lock()
	l.stats.Claimed += len(items)
	item := items[0]
	l.batch = items[1:]
	l.inFlight = &item
	l.mu.Unlock()

	l.log.Debug("Claimed batch", "count", len(items))
	return item, true
}

// processItem fetches the profile with bounded retries and classifies the
// outcome. aborted is true when shutdown interrupted the attempts.
func (l *Loop) processItem(ctx context.Context, item domain.WorkItem) (outcome domain.Outcome, attempts int, aborted bool) {
	for attempts = 1; attempts <= l.cfg.MaxRetries; attempts++ {
		if ctx.Err() != nil {
			return "", attempts, true
		}

		fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeout)
		start := time.Now()
		profile, err := l.cap.FetchProfile(fetchCtx, item.Username)
		cancel()

		if err == nil {
			metrics.FetchLatency.Observe(time.Since(start).Seconds())
			l.resetTimeoutStreak()
			if l.filter(profile) {
				return domain.OutcomePass, attempts, false
			}
			return domain.OutcomeFailCriteria, attempts, false
		}

		if ctx.Err() != nil {
			return "", attempts, true
		}

		if httpapi.IsTimeout(err) {
			l.recordTimeout()
		} else {
			l.resetTimeoutStreak()
		}
		l.log.Debug("Fetch attempt failed",
			"item", item.ID, "username", item.Username, "attempt", attempts, "error", err)

		if attempts < l.cfg.MaxRetries {
			l.sleep(ctx, l.cfg.RetryDelay)
		}
	}

	return domain.OutcomeTransientError, l.cfg.MaxRetries, false
}

// route issues exactly one of complete/release for the item.
func (l *Loop) route(ctx context.Context, item domain.WorkItem, outcome domain.Outcome) {
	// Routing must finish even when shutdown races the last item.
	routeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	switch outcome {
	case domain.OutcomePass:
		if err := l.queue.AddDownstream(routeCtx, item.Username, item.ID); err != nil {
			// Downstream enqueue failed; release so the item is retried
			// rather than consumed without being forwarded.
			metrics.QueueAPIErrors.WithLabelValues("add").Inc()
			l.log.Warn("Downstream enqueue failed, releasing item", "item", item.ID, "error", err)
			l.releaseOne(routeCtx, item)
			return
		}
		if err := l.queue.Complete(routeCtx, l.cfg.InstanceID, []string{item.ID}); err != nil {
			metrics.QueueAPIErrors.WithLabelValues("complete").Inc()
			l.log.Warn("Complete after downstream enqueue failed", "item", item.ID, "error", err)
			// Do not release: the downstream effect exists and the lease
			// will lapse server-side.
			return
		}
		metrics.ItemsProcessed.WithLabelValues(string(domain.OutcomePass)).Inc()
		l.mu.Lock()
		l.stats.Passed++
		l.mu.Unlock()
		l.log.Info("Item passed filter", "item", item.ID, "username", item.Username)

	case domain.OutcomeFailCriteria:
		if err := l.queue.Complete(routeCtx, l.cfg.InstanceID, []string{item.ID}); err != nil {
			metrics.QueueAPIErrors.WithLabelValues("complete").Inc()
			l.log.Warn("Complete failed", "item", item.ID, "error", err)
			return
		}
		metrics.ItemsProcessed.WithLabelValues(string(domain.OutcomeFailCriteria)).Inc()
		l.mu.Lock()
		l.stats.FailedCriteria++
		l.mu.Unlock()
		l.log.Debug("Item failed criteria", "item", item.ID, "username", item.Username)

	case domain.OutcomeTransientError:
		l.releaseOne(routeCtx, item)
		metrics.ItemsProcessed.WithLabelValues(string(domain.OutcomeTransientError)).Inc()
		l.mu.Lock()
		l.stats.TransientErrors++
		l.itemFailures[item.ID]++
		l.mu.Unlock()
		l.log.Warn("Item released after exhausted retries", "item", item.ID, "username", item.Username)
	}
}

func (l *Loop) releaseOne(ctx context.Context, item domain.WorkItem) {
	if err := l.queue.Release(ctx, l.cfg.InstanceID, []string{item.ID}); err != nil {
		metrics.QueueAPIErrors.WithLabelValues("release").Inc()
		l.log.Warn("Release failed", "item", item.ID, "error", err)
		return
	}
	l.mu.Lock()
	l.stats.Released++
	l.mu.Unlock()
}

// releaseClaimed returns the in-flight item and the unprocessed batch to
// the source queue on shutdown. Hard requirement: claimed items are never
// silently dropped.
func (l *Loop) releaseClaimed() {
	l.mu.Lock()
	ids := make([]string, 0, len(l.batch)+1)
	if l.inFlight != nil {
		ids = append(ids, l.inFlight.ID)
		l.inFlight = nil
	}
	for _, item := range l.batch {
		ids = append(ids, item.ID)
	}
	l.batch = nil
	l.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.queue.Release(ctx, l.cfg.InstanceID, ids); err != nil {
		metrics.QueueAPIErrors.WithLabelValues("release").Inc()
		l.log.Error("Failed to release claimed items at shutdown", "count", len(ids), "error", err)
		return
	}

	l.mu.Lock()
	l.stats.Released += len(ids)
	l.mu.Unlock()
	l.log.Info("Released claimed items at shutdown", "count", len(ids))
}

// notifyMarker is best-effort bookkeeping with its own retry budget; its
// failure never blocks the loop or re-queues the item.
func (l *Loop) notifyMarker(ctx context.Context, item domain.WorkItem) {
	if !l.queue.HasMarker() {
		return
	}

	var lastErr error
	for attempt := 0; attempt <= l.cfg.MarkerRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if _, err := l.queue.MarkProcessed(ctx, item.ID); err == nil {
			return
		} else {
			lastErr = err
		}
		l.sleep(ctx, time.Second)
	}

	metrics.MarkerFailures.Inc()
	l.log.Warn("Processed-marker notification failed", "item", item.ID, "error", lastErr)
}

func (l *Loop) journalOutcome(ctx context.Context, item domain.WorkItem, outcome domain.Outcome, attempts int) {
	if l.journal == nil {
		return
	}
	rec := &domain.OutcomeRecord{
		ItemID:      item.ID,
		Username:    item.Username,
		Outcome:     outcome,
		Attempts:    attempts,
		ProcessedAt: time.Now(),
	}
	if err := l.journal.Record(ctx, rec); err != nil {
		l.log.Debug("Outcome journal write failed", "item", item.ID, "error", err)
	}
}

func (l *Loop) recordTimeout() {
	l.mu.Lock()
	l.consecTimeouts++
	streak := l.consecTimeouts
	if streak >= l.cfg.TimeoutThreshold {
		l.consecTimeouts = 0
	}
	l.mu.Unlock()

	metrics.ConsecutiveTimeouts.Set(float64(streak))

	if streak >= l.cfg.TimeoutThreshold && l.monitor != nil {
		l.log.Warn("Sustained fetch timeouts, signalling health monitor", "streak", streak)
		l.monitor.ReportBanEvidence(fmt.Sprintf("%d consecutive fetch timeouts", streak))
	}
}

func (l *Loop) resetTimeoutStreak() {
	l.mu.Lock()
	l.consecTimeouts = 0
	l.mu.Unlock()
	metrics.ConsecutiveTimeouts.Set(0)
}

// sleepRandom spreads request timing with a randomized inter-item delay.
func (l *Loop) sleepRandom(ctx context.Context) {
	span := l.cfg.ItemDelayMax - l.cfg.ItemDelayMin
	delay := l.cfg.ItemDelayMin
	if span > 0 {
		delay += rand.N(span)
	}
	l.sleep(ctx, delay)
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
