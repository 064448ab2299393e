package cooldown

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
)

// Store persists one instance's cooldown state.
type Store interface {
	// Load returns the persisted state, or the zero state when no record
	// exists anywhere.
	Load(ctx context.Context) (domain.CooldownState, error)

	// Save persists the state. Writes degrade remote -> local; the local
	// file is always written as a write-through backup.
	Save(ctx context.Context, state domain.CooldownState) error

	// Clear best-effort removes the remote record and the local file.
	Clear(ctx context.Context) error
}

// RemoteStore is one backend for the shared fleet store. Each instance
// writes only under its own key, so there is no cross-instance contention.
type RemoteStore interface {
	Get(ctx context.Context, instanceID string) (state domain.CooldownState, found bool, err error)
	Put(ctx context.Context, instanceID string, state domain.CooldownState) error
	Delete(ctx context.Context, instanceID string) error
}

// record is the wire/file format shared by every backend.
// Times are unix milliseconds, 0 meaning never.
type record struct {
	LastBanTime   int64 `json:"lastBanTime"`
	TotalBanCount int   `json:"totalBanCount"`
	CooldownLevel int   `json:"cooldownLevel"`
	Timestamp     int64 `json:"timestamp"`
}

func toRecord(s domain.CooldownState, now time.Time) record {
	r := record{
		TotalBanCount: s.TotalBanCount,
		CooldownLevel: s.CooldownLevel,
		Timestamp:     now.UnixMilli(),
	}
	if !s.LastBanTime.IsZero() {
		r.LastBanTime = s.LastBanTime.UnixMilli()
	}
	return r
}

func (r record) toState() domain.CooldownState {
	s := domain.CooldownState{
		TotalBanCount: r.TotalBanCount,
		CooldownLevel: r.CooldownLevel,
	}
	if r.LastBanTime > 0 {
		s.LastBanTime = time.UnixMilli(r.LastBanTime)
	}
	return s
}

// LayeredStore is the remote-first store with a local-file fallback.
// The first remote failure permanently degrades the instance to file-only
// for the rest of the process; there is no per-call remote retry.
type LayeredStore struct {
	instanceID string
	remote     RemoteStore
	file       *FileStore
	log        *slog.Logger

	mu             sync.Mutex
	remoteDisabled bool
}

// NewLayeredStore creates a store for one instance. remote may be nil to
// run file-only from the start.
func NewLayeredStore(instanceID string, remote RemoteStore, file *FileStore) *LayeredStore {
	return &LayeredStore{
		instanceID: instanceID,
		remote:     remote,
		file:       file,
		log:        slog.Default().With("component", "cooldown_store"),
	}
}

func (s *LayeredStore) remoteAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote != nil && !s.remoteDisabled
}

func (s *LayeredStore) disableRemote(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteDisabled {
		return
	}
	s.remoteDisabled = true
	s.log.Warn("Remote cooldown store failed, degrading to local file for the rest of the process",
		"op", op, "error", err)
}

// Load reads the state remote-first, then from the local file, and returns
// the zero state when neither has a record.
func (s *LayeredStore) Load(ctx context.Context) (domain.CooldownState, error) {
	if s.remoteAvailable() {
		state, found, err := s.remote.Get(ctx, s.instanceID)
		if err != nil {
			s.disableRemote("load", err)
		} else if found {
			return state, nil
		}
	}

	state, found, err := s.file.Read()
	if err != nil {
		s.log.Warn("Failed to read local cooldown file", "error", err)
		return domain.CooldownState{}, nil
	}
	if !found {
		return domain.CooldownState{}, nil
	}
	return state, nil
}

// Save writes the state to the remote store when still enabled and always
// write-through to the local file, so a later remote outage still has a
// recent local copy.
func (s *LayeredStore) Save(ctx context.Context, state domain.CooldownState) error {
	if s.remoteAvailable() {
		if err := s.remote.Put(ctx, s.instanceID, state); err != nil {
			s.disableRemote("save", err)
		}
	}

	if err := s.file.Write(state); err != nil {
		return err
	}
	return nil
}

// Clear removes the remote record and the local file. Partial failure of
// either is logged but not fatal.
func (s *LayeredStore) Clear(ctx context.Context) error {
	if s.remoteAvailable() {
		if err := s.remote.Delete(ctx, s.instanceID); err != nil {
			s.disableRemote("clear", err)
		}
	}

	if err := s.file.Remove(); err != nil {
		s.log.Warn("Failed to remove local cooldown file", "error", err)
	}
	return nil
}
