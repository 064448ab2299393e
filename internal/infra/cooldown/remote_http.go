package cooldown

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
	"github.com/vietddude/sifter/internal/infra/httpapi"
)

// HTTPStore is the default remote backend: the fleet cooldown API.
type HTTPStore struct {
	api *httpapi.Client
}

// NewHTTPStore creates a remote store against the cooldown API.
func NewHTTPStore(baseURL, apiKey string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{api: httpapi.NewClient(baseURL, apiKey, timeout)}
}

type getResponse struct {
	Found bool   `json:"found"`
	State record `json:"state"`
}

type putRequest struct {
	State record `json:"state"`
}

// Get fetches the record for an instance.
func (s *HTTPStore) Get(ctx context.Context, instanceID string) (domain.CooldownState, bool, error) {
	var resp getResponse
	err := s.api.Do(ctx, http.MethodGet, "/cooldown/"+instanceID, nil, &resp)
	if httpapi.IsStatus(err, http.StatusNotFound) {
		return domain.CooldownState{}, false, nil
	}
	if err != nil {
		return domain.CooldownState{}, false, fmt.Errorf("get cooldown state: %w", err)
	}
	if !resp.Found {
		return domain.CooldownState{}, false, nil
	}
	return resp.State.toState(), true, nil
}

// Put stores the record for an instance.
func (s *HTTPStore) Put(ctx context.Context, instanceID string, state domain.CooldownState) error {
	req := putRequest{State: toRecord(state, time.Now())}
	if err := s.api.Do(ctx, http.MethodPost, "/cooldown/"+instanceID, req, nil); err != nil {
		return fmt.Errorf("put cooldown state: %w", err)
	}
	return nil
}

// Delete removes the record for an instance.
func (s *HTTPStore) Delete(ctx context.Context, instanceID string) error {
	err := s.api.Do(ctx, http.MethodDelete, "/cooldown/"+instanceID, nil, nil)
	if httpapi.IsStatus(err, http.StatusNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete cooldown state: %w", err)
	}
	return nil
}
