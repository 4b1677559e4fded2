// Package browser provides the client for the remote browser provider.
//
// The provider exposes a Browserbase-style HTTP API: creating a session
// returns a CDP connect URL and a live-view URL, releasing is a status
// update, and recordings are fetched per session after the fact.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Session is one remote browser session.
type Session struct {
	ID          string `json:"id"`
	ConnectURL  string `json:"connectUrl"`  // CDP endpoint for automation backends
	LiveViewURL string `json:"liveViewUrl"` // human-watchable viewer
}

// Client talks to the remote browser provider.
type Client struct {
	baseURL    string
	apiKey     string
	projectID  string
	httpClient *http.Client
}

// NewClient creates a new browser provider client.
func NewClient(baseURL, apiKey, projectID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		projectID: projectID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateSession provisions one remote browser session. Both URLs are
// required by callers; a response missing either is an error so the caller
// can release the session instead of provisioning a half-usable one.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	body, err := json.Marshal(map[string]string{"projectId": c.projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", body, &session); err != nil {
		return nil, fmt.Errorf("failed to create browser session: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("browser session response missing id")
	}
	if session.ConnectURL == "" {
		return nil, fmt.Errorf("browser session %s missing connect url", session.ID)
	}
	if session.LiveViewURL == "" {
		return nil, fmt.Errorf("browser session %s missing live view url", session.ID)
	}
	return &session, nil
}

// ReleaseSession requests release of a browser session. Releasing a session
// that is already gone is a no-op, so cleanup paths can release
// unconditionally.
func (c *Client) ReleaseSession(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(map[string]string{
		"projectId": c.projectID,
		"status":    "REQUEST_RELEASE",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	err = c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID, body, nil)
	var se *statusError
	if errors.As(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusGone) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release browser session %s: %w", sessionID, err)
	}
	return nil
}

// RecordingURL fetches the URL of the session recording, if one exists.
func (c *Client) RecordingURL(ctx context.Context, sessionID string) (string, error) {
	var resp struct {
		RecordingURL string `json:"recordingUrl"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID+"/recording", nil, &resp); err != nil {
		return "", fmt.Errorf("failed to fetch recording for session %s: %w", sessionID, err)
	}
	return resp.RecordingURL, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("browser provider returned status %d: %s", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BB-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: string(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
