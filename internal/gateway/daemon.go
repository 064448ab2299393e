package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
	"github.com/vietddude/sifter/internal/infra/httpapi"
)

// eventWait is how long the daemon may hold an idle event poll before
// answering empty. The poll client's timeout must exceed it, otherwise
// every idle poll dies client-side instead of returning cleanly.
const (
	eventWait        = 30 * time.Second
	eventPollTimeout = eventWait + 10*time.Second
)

// DaemonClient implements Capability against the session daemon, the
// sidecar process that owns the external service's wire protocol and
// exposes it over a small HTTP surface. Commands share one client;
// the event long-poll gets its own with a timeout sized to the wait
// window.
type DaemonClient struct {
	api    *httpapi.Client
	poll   *httpapi.Client
	events chan Event
	log    *slog.Logger
}

// NewDaemonClient creates a client for the session daemon at baseURL.
// Run must be started for events to flow.
func NewDaemonClient(baseURL string, timeout time.Duration) *DaemonClient {
	return &DaemonClient{
		api:    httpapi.NewClient(baseURL, "", timeout),
		poll:   httpapi.NewClient(baseURL, "", eventPollTimeout),
		events: make(chan Event, 16),
		log:    slog.Default().With("component", "gateway"),
	}
}

// Connect issues the connect command to the daemon.
func (c *DaemonClient) Connect(ctx context.Context) error {
	if err := c.api.Do(ctx, http.MethodPost, "/session/connect", nil, nil); err != nil {
		return fmt.Errorf("issue connect: %w", err)
	}
	return nil
}

// LogOff closes the session on the daemon.
func (c *DaemonClient) LogOff(ctx context.Context) error {
	if err := c.api.Do(ctx, http.MethodPost, "/session/logoff", nil, nil); err != nil {
		return fmt.Errorf("log off: %w", err)
	}
	return nil
}

// FetchProfile fetches a profile record through the daemon.
func (c *DaemonClient) FetchProfile(ctx context.Context, username string) (*domain.Profile, error) {
	var profile domain.Profile
	path := "/profile/" + url.PathEscape(username)
	if err := c.api.Do(ctx, http.MethodGet, path, nil, &profile); err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", username, err)
	}
	return &profile, nil
}

// Events delivers session events pushed by the poll loop.
func (c *DaemonClient) Events() <-chan Event {
	return c.events
}

type wireEvent struct {
	Kind   string `json:"kind"` // connected, disconnected, error
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

type eventsResponse struct {
	Events []wireEvent `json:"events"`
}

// Run long-polls the daemon's event endpoint and forwards events until ctx
// is cancelled. Poll failures are logged and retried after a short pause;
// they are not themselves session events.
func (c *DaemonClient) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var resp eventsResponse
		path := fmt.Sprintf("/session/events?wait=%d", int(eventWait.Seconds()))
		err := c.poll.Do(ctx, http.MethodGet, path, nil, &resp)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Debug("Event poll failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for _, we := range resp.Events {
			ev := Event{Reason: we.Reason, At: time.Now()}
			switch we.Kind {
			case "connected":
				ev.Kind = EventConnected
			case "disconnected":
				ev.Kind = EventDisconnected
			case "error":
				ev.Kind = EventError
				ev.Err = fmt.Errorf("%s", we.Error)
			default:
				c.log.Debug("Ignoring unknown event kind", "kind", we.Kind)
				continue
			}

			select {
			case c.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
