// Package dispatch supervises agent executions after the HTTP response has
// been returned.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentarena/orchestrator/backend"
	"github.com/agentarena/orchestrator/domain"
	"github.com/agentarena/orchestrator/pricing"
	"github.com/agentarena/orchestrator/store"
)

// BrowserController is the part of the browser provider the dispatcher
// needs: releasing sessions and fetching recordings.
type BrowserController interface {
	ReleaseSession(ctx context.Context, sessionID string) error
	RecordingURL(ctx context.Context, sessionID string) (string, error)
}

// cleanupTimeout bounds the detached cleanup calls; the per-agent context
// may already be expired when cleanup runs.
const cleanupTimeout = 30 * time.Second

// Dispatcher fans out one task per agent and supervises them to a terminal
// state. It is the only writer of agent status after provisioning.
type Dispatcher struct {
	store    store.Store
	browser  BrowserController
	backends *backend.Registry
	tier     pricing.Tier
	timeout  time.Duration
}

// New creates a dispatcher.
func New(st store.Store, browser BrowserController, backends *backend.Registry, tier pricing.Tier, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:    st,
		browser:  browser,
		backends: backends,
		tier:     tier,
		timeout:  timeout,
	}
}

// Task is one agent execution to supervise. The CDP control URL is handed
// over in memory only; the persisted agent record carries just the session
// id and the human-facing viewer URL.
type Task struct {
	Agent  domain.Agent
	CDPURL string
}

// Run executes all tasks concurrently and returns once every agent has
// reached a terminal state. One agent failing never affects its siblings;
// errors are recorded on the agent record, not propagated. Callers that have
// already answered the HTTP request invoke this on its own goroutine.
func (d *Dispatcher) Run(tasks []Task, instruction string, credentials map[string]string) {
	var g errgroup.Group
	for _, task := range tasks {
		g.Go(func() error {
			d.runAgent(task, instruction, credentials)
			return nil
		})
	}
	g.Wait()
	log.Printf("dispatch finished for %d agent(s)", len(tasks))
}

// runAgent drives one agent through pending -> running -> terminal.
func (d *Dispatcher) runAgent(task Task, instruction string, credentials map[string]string) {
	agent := task.Agent
	// Detached from the originating request: the response is long gone.
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: agent %s panicked: %v", agent.AgentID, r)
			d.Cleanup(agent.AgentID, agent.Browser.SessionID, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := d.store.UpdateAgentStatus(ctx, agent.AgentID, domain.AgentStatusRunning, ""); err != nil {
		log.Printf("ERROR: failed to mark agent %s running: %v", agent.AgentID, err)
		d.Cleanup(agent.AgentID, agent.Browser.SessionID, fmt.Errorf("failed to start execution: %w", err))
		return
	}

	be, ok := d.backends.Get(agent.Name)
	if !ok {
		d.Cleanup(agent.AgentID, agent.Browser.SessionID, fmt.Errorf("unknown backend %q", agent.Name))
		return
	}

	start := time.Now()
	out, err := be.Run(ctx, backend.RunInput{
		Instruction:      instruction,
		Model:            agent.Model,
		CDPURL:           task.CDPURL,
		BrowserSessionID: agent.Browser.SessionID,
		Credentials:      credentials,
	})
	duration := time.Since(start).Seconds()
	if err != nil {
		log.Printf("ERROR: agent %s (%s) execution failed: %v", agent.AgentID, agent.Name, err)
		d.Cleanup(agent.AgentID, agent.Browser.SessionID, err)
		return
	}

	cost := pricing.Cost(agent.Model, out.Usage, duration, d.tier)
	result := &domain.AgentResult{
		Backend:         agent.Name,
		Success:         out.Success,
		Message:         out.Message,
		Actions:         out.Actions,
		Usage:           out.Usage,
		DurationSeconds: duration,
		Cost:            &cost,
		Data:            out.Data,
	}
	if err := d.store.UpdateAgentResult(ctx, agent.AgentID, result, domain.AgentStatusCompleted); err != nil {
		log.Printf("ERROR: failed to persist result for agent %s: %v", agent.AgentID, err)
		d.Cleanup(agent.AgentID, agent.Browser.SessionID, fmt.Errorf("failed to persist result: %w", err))
		return
	}

	d.attachRecording(agent)

	// The terminal status is written before the session is released, so a
	// viewer never sees a live session on an agent the record calls done.
	if !be.ManagesBrowser() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer releaseCancel()
		if err := d.browser.ReleaseSession(releaseCtx, agent.Browser.SessionID); err != nil {
			log.Printf("WARN: failed to release browser session %s: %v", agent.Browser.SessionID, err)
		}
	}
}

// attachRecording fetches the session recording URL and stores it on the
// agent. Best effort: recordings are a side channel, never a failure.
func (d *Dispatcher) attachRecording(agent domain.Agent) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	url, err := d.browser.RecordingURL(ctx, agent.Browser.SessionID)
	if err != nil {
		log.Printf("WARN: failed to fetch recording for agent %s: %v", agent.AgentID, err)
		return
	}
	if url == "" {
		return
	}
	if err := d.store.UpdateAgentRecording(ctx, agent.AgentID, url); err != nil {
		log.Printf("WARN: failed to store recording for agent %s: %v", agent.AgentID, err)
	}
}

// Cleanup marks the agent failed and releases its browser session. Both
// steps are attempted independently and residual errors are logged only:
// this runs where no caller is left to report to. Releasing a session that
// is already gone is a no-op.
func (d *Dispatcher) Cleanup(agentID, browserSessionID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if agentID != "" {
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		if err := d.store.UpdateAgentStatus(ctx, agentID, domain.AgentStatusFailed, msg); err != nil {
			log.Printf("ERROR: cleanup failed to mark agent %s failed: %v", agentID, err)
		}
	}
	if browserSessionID != "" {
		if err := d.browser.ReleaseSession(ctx, browserSessionID); err != nil {
			log.Printf("ERROR: cleanup failed to release browser session %s: %v", browserSessionID, err)
		}
	}
}
