// Package client provides an HTTP/WebSocket client for the consultant
// server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chyon8/AI-consultant-sub001/internal/jobs"
	"github.com/chyon8/AI-consultant-sub001/internal/models"
	"github.com/chyon8/AI-consultant-sub001/internal/server"
)

// Client talks to the consultant server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. If endpoint is empty, CONSULTANT_SERVER_URL is used,
// falling back to localhost. Timeout is configurable via
// CONSULTANT_CLIENT_TIMEOUT (generations can run for minutes).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("CONSULTANT_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8090"
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("CONSULTANT_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit creates a job. When the session already has an active job, the
// server returns that job instead and created is false.
func (c *Client) Submit(ctx context.Context, req server.CreateJobRequest) (*server.JobSummary, bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, false, fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, false, apiError(resp)
	}

	var summary server.JobSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return &summary, resp.StatusCode == http.StatusAccepted, nil
}

// GetJob fetches a job summary. acknowledged stage names are excluded from
// the returned staged results. Returns nil when the job does not exist.
func (c *Client) GetJob(ctx context.Context, id string, acknowledged []string) (*server.JobSummary, error) {
	u := c.baseURL + "/api/jobs/" + url.PathEscape(id)
	if len(acknowledged) > 0 {
		u += "?ack=" + url.QueryEscape(strings.Join(acknowledged, ","))
	}

	var summary server.JobSummary
	found, err := c.getJSON(ctx, u, &summary)
	if err != nil || !found {
		return nil, err
	}
	return &summary, nil
}

// GetChunks fetches chunks with sequence greater than after (-1 for the full
// log). Returns nil when the job does not exist.
func (c *Client) GetChunks(ctx context.Context, id string, after int) (*server.ChunksResponse, error) {
	u := c.baseURL + "/api/jobs/" + url.PathEscape(id) + "/chunks?after=" + strconv.Itoa(after)

	var chunks server.ChunksResponse
	found, err := c.getJSON(ctx, u, &chunks)
	if err != nil || !found {
		return nil, err
	}
	return &chunks, nil
}

// Cancel requests cooperative cancellation; true means the job was still
// cancellable.
func (c *Client) Cancel(ctx context.Context, id string) (bool, error) {
	u := c.baseURL + "/api/jobs/" + url.PathEscape(id) + "/cancel"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, apiError(resp)
	}
	var cr server.CancelResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return cr.Cancelled, nil
}

// ListSessionJobs returns summaries for every job in a session.
func (c *Client) ListSessionJobs(ctx context.Context, sessionID string) ([]server.JobSummary, error) {
	u := c.baseURL + "/api/sessions/" + url.PathEscape(sessionID) + "/jobs"

	var summaries []server.JobSummary
	if _, err := c.getJSON(ctx, u, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Watch opens the live websocket feed for a job, replaying chunks after the
// given sequence first. Events are delivered on the returned channel until
// the job reaches a terminal state or ctx is done; the channel is then
// closed. The error channel receives at most one transport error.
func (c *Client) Watch(ctx context.Context, id string, after int) (<-chan jobs.Event, <-chan error, error) {
	wsURL, err := c.websocketURL(id, after)
	if err != nil {
		return nil, nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial websocket: %w", err)
	}

	events := make(chan jobs.Event, 16)
	errs := make(chan error, 1)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev jobs.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					errs <- fmt.Errorf("read event: %w", err)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == jobs.EventStatus && ev.Status.Terminal() {
				return
			}
		}
	}()

	return events, errs, nil
}

func (c *Client) websocketURL(id string, after int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/jobs/" + url.PathEscape(id)
	u.RawQuery = "after=" + strconv.Itoa(after)
	return u.String(), nil
}

// getJSON decodes a GET response into out. found is false on 404.
func (c *Client) getJSON(ctx context.Context, u string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("server error: %s - %s", resp.Status, apiErr.Error)
	}
	return fmt.Errorf("server error: %s - %s", resp.Status, string(body))
}

// StatusGlyph returns a one-character indicator for a job status, used by
// the CLI listings.
func StatusGlyph(status models.JobStatus) string {
	switch status {
	case models.JobStatusCompleted:
		return "✓"
	case models.JobStatusFailed:
		return "✗"
	case models.JobStatusCancelled:
		return "−"
	case models.JobStatusRunning:
		return "▸"
	default:
		return "·"
	}
}
