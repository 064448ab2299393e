package queueapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
	"github.com/vietddude/sifter/internal/infra/httpapi"
)

// Client talks to the remote work queue API. Claim, complete, release and
// downstream-add are independent calls: a failure on one does not imply
// failure of another in-flight call.
type Client struct {
	api        *httpapi.Client
	downstream string
	markerURL  string
}

// NewClient creates a queue API client.
func NewClient(baseURL, apiKey, downstream, markerURL string, timeout time.Duration) *Client {
	return &Client{
		api:        httpapi.NewClient(baseURL, apiKey, timeout),
		downstream: downstream,
		markerURL:  markerURL,
	}
}

type claimRequest struct {
	InstanceID string `json:"instance_id"`
	Count      int    `json:"count"`
}

type claimResponse struct {
	Items []domain.WorkItem `json:"items"`
}

type itemsRequest struct {
	InstanceID string   `json:"instance_id"`
	Items      []string `json:"items"`
}

// Claim leases up to count items for this instance. An empty slice means
// the queue is currently drained; that is not an error.
func (c *Client) Claim(ctx context.Context, instanceID string, count int) ([]domain.WorkItem, error) {
	var resp claimResponse
	err := c.api.Do(ctx, http.MethodPost, "/queue/filter/claim", claimRequest{
		InstanceID: instanceID,
		Count:      count,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return resp.Items, nil
}

// Complete removes claimed items from the source queue.
func (c *Client) Complete(ctx context.Context, instanceID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := c.api.Do(ctx, http.MethodPost, "/queue/filter/complete", itemsRequest{
		InstanceID: instanceID,
		Items:      ids,
	}, nil)
	if err != nil {
		return fmt.Errorf("complete items: %w", err)
	}
	return nil
}

// Release returns claimed items to the source queue unmarked, so another
// instance (or this one, later) may retry them.
func (c *Client) Release(ctx context.Context, instanceID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := c.api.Do(ctx, http.MethodPost, "/queue/filter/release", itemsRequest{
		InstanceID: instanceID,
		Items:      ids,
	}, nil)
	if err != nil {
		return fmt.Errorf("release items: %w", err)
	}
	return nil
}

// AddDownstream enqueues a passed item onto the configured downstream queue.
func (c *Client) AddDownstream(ctx context.Context, username, id string) error {
	body := map[string][]string{username: {id}}
	path := fmt.Sprintf("/queue/%s/add", c.downstream)
	if err := c.api.Do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("add downstream: %w", err)
	}
	return nil
}

type markerRequest struct {
	RecordID string `json:"record_id"`
}

type markerResponse struct {
	Success bool `json:"success"`
	Created bool `json:"created"`
}

// MarkProcessed notifies the processed-marker endpoint about an item.
// Best-effort bookkeeping: the caller logs failures and moves on.
func (c *Client) MarkProcessed(ctx context.Context, recordID string) (created bool, err error) {
	if c.markerURL == "" {
		return false, nil
	}
	var resp markerResponse
	err = c.api.DoURL(ctx, http.MethodPost, c.markerURL, markerRequest{RecordID: recordID}, &resp)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return resp.Created, nil
}

// HasMarker reports whether a processed-marker endpoint is configured.
func (c *Client) HasMarker() bool {
	return c.markerURL != ""
}
