package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentarena/orchestrator/domain"
)

// Delegate invokes an external executor service over HTTP. Services like
// browser-use or skyvern run in their own process and drive the provisioned
// browser through the CDP URL we hand them.
type Delegate struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewDelegate creates a delegate backend for the given executor service.
func NewDelegate(name, endpoint string, timeout time.Duration) *Delegate {
	return &Delegate{
		name:     name,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the backend identifier.
func (d *Delegate) Name() string { return d.name }

// ManagesBrowser is false: the orchestrator owns the browser session.
func (d *Delegate) ManagesBrowser() bool { return false }

// delegateRequest is the wire format sent to the executor.
type delegateRequest struct {
	Instruction      string            `json:"instruction"`
	Model            string            `json:"model,omitempty"`
	CDPURL           string            `json:"cdp_url"`
	BrowserSessionID string            `json:"browser_session_id"`
	Credentials      map[string]string `json:"credentials,omitempty"`
}

// delegateResponse is the executor's result envelope.
type delegateResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Actions []domain.Action `json:"actions,omitempty"`
	Usage   struct {
		In     int64 `json:"in"`
		Out    int64 `json:"out"`
		Cached int64 `json:"cached"`
		Total  int64 `json:"total_tokens"`
	} `json:"usage"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Run posts the instruction to the executor's /run endpoint and waits for
// the full result.
func (d *Delegate) Run(ctx context.Context, in RunInput) (*RunOutput, error) {
	if d.endpoint == "" {
		return nil, fmt.Errorf("backend %s has no endpoint configured", d.name)
	}

	body, err := json.Marshal(delegateRequest{
		Instruction:      in.Instruction,
		Model:            in.Model,
		CDPURL:           in.CDPURL,
		BrowserSessionID: in.BrowserSessionID,
		Credentials:      in.Credentials,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke backend %s: %w", d.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("backend %s returned status %d: %s", d.name, resp.StatusCode, string(respBody))
	}

	var out delegateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode backend %s response: %w", d.name, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("backend %s failed: %s", d.name, out.Error)
	}

	return &RunOutput{
		Success: out.Success,
		Message: out.Message,
		Actions: out.Actions,
		Usage: domain.Usage{
			InputTokens:  out.Usage.In,
			OutputTokens: out.Usage.Out,
			CachedTokens: out.Usage.Cached,
			TotalTokens:  out.Usage.Total,
		},
		Data: out.Data,
	}, nil
}
