package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDaemonClientCommands(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewDaemonClient(server.URL, 5*time.Second)
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.LogOff(ctx); err != nil {
		t.Fatalf("LogOff failed: %v", err)
	}

	want := []string{"POST /session/connect", "POST /session/logoff"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("unexpected requests: %v", paths)
	}
}

func TestDaemonClientFetchProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/profile/alice" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"username":      "alice",
			"commendations": 12,
			"medals":        []string{"gold"},
			"vac_banned":    false,
		})
	}))
	defer server.Close()

	c := NewDaemonClient(server.URL, 5*time.Second)

	profile, err := c.FetchProfile(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FetchProfile failed: %v", err)
	}
	if profile.Username != "alice" || profile.Commendations != 12 {
		t.Errorf("unexpected profile: %+v", profile)
	}
	if len(profile.Medals) != 1 || profile.Medals[0] != "gold" {
		t.Errorf("unexpected medals: %v", profile.Medals)
	}
}

func TestDaemonClientEventPollOutlivesCommandTimeout(t *testing.T) {
	served := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"events": []any{}}
		if !served {
			served = true
			// Hold the poll well past the command timeout, the way a
			// quiet daemon does.
			time.Sleep(200 * time.Millisecond)
			resp["events"] = []map[string]string{{"kind": "connected"}}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewDaemonClient(server.URL, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case ev := <-c.Events():
		if ev.Kind != EventConnected {
			t.Errorf("expected connected event, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("held poll was cut off by the command timeout")
	}
}

func TestDaemonClientEventPolling(t *testing.T) {
	served := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		resp := map[string]any{"events": []any{}}
		if !served {
			served = true
			resp["events"] = []map[string]string{
				{"kind": "connected"},
				{"kind": "disconnected", "reason": "session replaced"},
				{"kind": "error", "error": "rate limited"},
				{"kind": "mystery"},
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewDaemonClient(server.URL, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	collect := func() Event {
		select {
		case ev := <-c.Events():
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
			return Event{}
		}
	}

	if ev := collect(); ev.Kind != EventConnected {
		t.Errorf("expected connected event, got %v", ev.Kind)
	}
	ev := collect()
	if ev.Kind != EventDisconnected || ev.Reason != "session replaced" {
		t.Errorf("unexpected disconnect event: %+v", ev)
	}
	ev = collect()
	if ev.Kind != EventError || ev.Err == nil {
		t.Errorf("unexpected error event: %+v", ev)
	}
	// Unknown kinds are dropped, not forwarded.
	select {
	case ev := <-c.Events():
		t.Errorf("unexpected extra event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
