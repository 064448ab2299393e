package connhealth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
	"github.com/vietddude/sifter/internal/gateway"
)

// fakeCapability drives the monitor from a test. connectEmits controls how
// many Connect calls are answered with a connected event.
type fakeCapability struct {
	mu           sync.Mutex
	connects     int
	logoffs      int
	connectEmits int
	events       chan gateway.Event
}

func newFakeCapability(connectEmits int) *fakeCapability {
	return &fakeCapability{
		connectEmits: connectEmits,
		events:       make(chan gateway.Event, 8),
	}
}

func (f *fakeCapability) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	emit := f.connects <= f.connectEmits
	f.mu.Unlock()
	if emit {
		f.events <- gateway.Event{Kind: gateway.EventConnected, At: time.Now()}
	}
	return nil
}

func (f *fakeCapability) LogOff(ctx context.Context) error {
	f.mu.Lock()
	f.logoffs++
	f.mu.Unlock()
	return nil
}

func (f *fakeCapability) FetchProfile(ctx context.Context, username string) (*domain.Profile, error) {
	return &domain.Profile{Username: username}, nil
}

func (f *fakeCapability) Events() <-chan gateway.Event {
	return f.events
}

func (f *fakeCapability) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeCapability) logoffCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoffs
}

// fakeStore records saves in memory.
type fakeStore struct {
	mu     sync.Mutex
	saves  []domain.CooldownState
	clears int
}

func (f *fakeStore) Load(ctx context.Context) (domain.CooldownState, error) {
	return domain.CooldownState{}, nil
}

func (f *fakeStore) Save(ctx context.Context, state domain.CooldownState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, state)
	return nil
}

func (f *fakeStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeStore) lastSave() (domain.CooldownState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return domain.CooldownState{}, false
	}
	return f.saves[len(f.saves)-1], true
}

// fakeWorker records Stop calls.
type fakeWorker struct {
	mu    sync.Mutex
	stops int
}

func (f *fakeWorker) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeWorker) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func fastConfig() Config {
	return Config{
		ConnectTimeout: 40 * time.Millisecond,
		GraceDelay:     10 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
		LogoffWait:     time.Millisecond,
	}
}

func TestMonitorResetsLevelOnConnect(t *testing.T) {
	cap := newFakeCapability(1)
	store := &fakeStore{}
	m := NewMonitor("inst-1", fastConfig(), cap, store, &fakeWorker{},
		domain.CooldownState{CooldownLevel: 2, TotalBanCount: 2, LastBanTime: time.Now().Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Run(ctx)
		done <- err
	}()

	select {
	case <-m.Connected():
	case <-time.After(time.Second):
		t.Fatal("monitor never reported a connection")
	}

	state := m.State()
	if state.CooldownLevel != 0 {
		t.Errorf("expected level reset to 0 on connect, got %d", state.CooldownLevel)
	}
	// Total ban count survives a reset; only the level clears.
	if state.TotalBanCount != 2 {
		t.Errorf("expected ban count preserved, got %d", state.TotalBanCount)
	}

	saved, ok := store.lastSave()
	if !ok {
		t.Fatal("expected reset to be persisted")
	}
	if saved.CooldownLevel != 0 {
		t.Errorf("expected persisted level 0, got %d", saved.CooldownLevel)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitorFirstTimeoutGetsLightweightReconnect(t *testing.T) {
	cap := newFakeCapability(0) // never connects
	store := &fakeStore{}
	worker := &fakeWorker{}
	m := NewMonitor("inst-1", fastConfig(), cap, store, worker, domain.CooldownState{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ban, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ban == nil {
		t.Fatal("expected a ban event")
	}

	// First connect timeout buys exactly one lightweight reconnect; the
	// second timeout is the ban.
	if got := cap.connectCount(); got != 2 {
		t.Errorf("expected 2 connect attempts, got %d", got)
	}
	if ban.Level != 1 {
		t.Errorf("expected escalation to level 1, got %d", ban.Level)
	}
	if ban.BanCount != 1 {
		t.Errorf("expected ban count 1, got %d", ban.BanCount)
	}

	wantResume := ban.DetectedAt.Add(30 * time.Minute)
	if !ban.ResumeAt.Equal(wantResume) {
		t.Errorf("expected resume at %v, got %v", wantResume, ban.ResumeAt)
	}

	// Clean shutdown sequence: persist, stop worker, log off.
	if saved, ok := store.lastSave(); !ok || saved.CooldownLevel != 1 {
		t.Errorf("expected persisted level 1, got %+v ok=%v", saved, ok)
	}
	if worker.stopCount() != 1 {
		t.Errorf("expected worker stopped once, got %d", worker.stopCount())
	}
	if cap.logoffCount() != 1 {
		t.Errorf("expected one log off, got %d", cap.logoffCount())
	}

	if got := m.Snapshot().Phase; got != "ban_detected" {
		t.Errorf("expected phase ban_detected, got %q", got)
	}
}

func TestMonitorDisconnectAfterGraceDelay(t *testing.T) {
	cap := newFakeCapability(1) // first connect succeeds, reconnect does not
	store := &fakeStore{}
	m := NewMonitor("inst-1", fastConfig(), cap, store, &fakeWorker{}, domain.CooldownState{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *domain.BanEvent, 1)
	go func() {
		ban, _ := m.Run(ctx)
		done <- ban
	}()

	select {
	case <-m.Connected():
	case <-time.After(time.Second):
		t.Fatal("monitor never connected")
	}

	cap.events <- gateway.Event{Kind: gateway.EventDisconnected, Reason: "session replaced", At: time.Now()}

	select {
	case ban := <-done:
		if ban == nil {
			t.Fatal("expected a ban event")
		}
		// Disconnect consumed the lightweight reconnect; its timeout
		// confirmed the ban.
		if ban.Level != 1 {
			t.Errorf("expected level 1, got %d", ban.Level)
		}
		if got := cap.connectCount(); got != 2 {
			t.Errorf("expected 2 connect attempts, got %d", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not detect ban")
	}
}

func TestMonitorBanEvidenceSignal(t *testing.T) {
	cap := newFakeCapability(1)
	store := &fakeStore{}
	m := NewMonitor("inst-1", fastConfig(), cap, store, &fakeWorker{}, domain.CooldownState{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *domain.BanEvent, 1)
	go func() {
		ban, _ := m.Run(ctx)
		done <- ban
	}()

	select {
	case <-m.Connected():
	case <-time.After(time.Second):
		t.Fatal("monitor never connected")
	}

	m.ReportBanEvidence("5 consecutive fetch timeouts")

	select {
	case ban := <-done:
		if ban == nil {
			t.Fatal("expected a ban event")
		}
		if ban.Level != 1 {
			t.Errorf("expected level 1, got %d", ban.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not act on ban evidence")
	}
}

func TestMonitorBanEvidenceDuringGraceWindow(t *testing.T) {
	cap := newFakeCapability(1)
	store := &fakeStore{}
	cfg := Config{
		ConnectTimeout: 80 * time.Millisecond,
		GraceDelay:     30 * time.Millisecond,
		ReconnectDelay: 60 * time.Millisecond,
		LogoffWait:     time.Millisecond,
	}
	m := NewMonitor("inst-1", cfg, cap, store, &fakeWorker{}, domain.CooldownState{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *domain.BanEvent, 1)
	go func() {
		ban, _ := m.Run(ctx)
		done <- ban
	}()

	select {
	case <-m.Connected():
	case <-time.After(time.Second):
		t.Fatal("monitor never connected")
	}

	// A disconnect arms the grace window; ban evidence landing inside that
	// window starts the one recovery. The later grace expiry must not be
	// counted as a second failure, so the lightweight reconnect still runs.
	cap.events <- gateway.Event{Kind: gateway.EventDisconnected, Reason: "session replaced", At: time.Now()}
	time.Sleep(5 * time.Millisecond)
	m.ReportBanEvidence("5 consecutive fetch timeouts")

	select {
	case ban := <-done:
		if ban == nil {
			t.Fatal("expected a ban event")
		}
		if got := cap.connectCount(); got != 2 {
			t.Errorf("expected the lightweight reconnect before the ban, got %d connect attempts", got)
		}
		if ban.Level != 1 {
			t.Errorf("expected a single escalation to level 1, got %d", ban.Level)
		}
		if ban.BanCount != 1 {
			t.Errorf("expected one counted ban, got %d", ban.BanCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not resolve the overlapping failures")
	}
}

func TestMonitorEscalatesFromPersistedLevel(t *testing.T) {
	cap := newFakeCapability(0)
	store := &fakeStore{}
	m := NewMonitor("inst-1", fastConfig(), cap, store, &fakeWorker{},
		domain.CooldownState{CooldownLevel: 2, TotalBanCount: 4, LastBanTime: time.Now().Add(-2 * time.Hour)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ban, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ban == nil {
		t.Fatal("expected a ban event")
	}

	if ban.Level != 3 {
		t.Errorf("expected escalation 2 -> 3, got %d", ban.Level)
	}
	if ban.BanCount != 5 {
		t.Errorf("expected ban count 5, got %d", ban.BanCount)
	}
	// Level 3 means a 2h window.
	wantResume := ban.DetectedAt.Add(2 * time.Hour)
	if !ban.ResumeAt.Equal(wantResume) {
		t.Errorf("expected resume at %v, got %v", wantResume, ban.ResumeAt)
	}
}

func TestMonitorLevelClampsAtCeiling(t *testing.T) {
	cap := newFakeCapability(0)
	store := &fakeStore{}
	m := NewMonitor("inst-1", fastConfig(), cap, store, &fakeWorker{},
		domain.CooldownState{CooldownLevel: 5, TotalBanCount: 9, LastBanTime: time.Now().Add(-9 * time.Hour)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ban, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ban == nil {
		t.Fatal("expected a ban event")
	}

	if ban.Level != 5 {
		t.Errorf("expected level clamped at 5, got %d", ban.Level)
	}
	if ban.BanCount != 10 {
		t.Errorf("expected ban count still incrementing, got %d", ban.BanCount)
	}
}
