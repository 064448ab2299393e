package gateway

import (
	"context"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
)

// EventKind identifies the small fixed set of session events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a session state change delivered over a channel so that state
// transitions stay serialized in a single control loop.
type Event struct {
	Kind   EventKind
	Reason string
	Err    error
	At     time.Time
}

// Capability is the surface of the external service session collaborator.
// The authentication/session/protocol client itself is not part of this
// repository; the worker only issues commands and consumes events.
type Capability interface {
	// Connect issues the connect command. Success is reported
	// asynchronously as an EventConnected on Events.
	Connect(ctx context.Context) error

	// LogOff explicitly closes the external service session.
	LogOff(ctx context.Context) error

	// FetchProfile fetches the record for a username, bounded by ctx.
	FetchProfile(ctx context.Context, username string) (*domain.Profile, error)

	// Events delivers session events in arrival order.
	Events() <-chan Event
}
