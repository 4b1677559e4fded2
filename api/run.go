package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/agentarena/orchestrator/browser"
	"github.com/agentarena/orchestrator/dispatch"
	"github.com/agentarena/orchestrator/domain"
	"github.com/agentarena/orchestrator/fingerprint"
	"github.com/agentarena/orchestrator/policy"
)

// RunAgents provisions browser sessions and agent records for a request and
// dispatches the executions in the background.
// POST /v1/agent/run
func (h *Handler) RunAgents(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.RunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	req.Instruction = strings.TrimSpace(req.Instruction)

	specs, err := requestedSpecs(&req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if len(specs) > h.config.MaxAgentsPerRequest {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("too many agents: maximum is %d", h.config.MaxAgentsPerRequest),
		})
	}

	userID, authErr := h.callerIdentity(c)
	if authErr != nil {
		return c.JSON(authErr.Code, map[string]string{"error": fmt.Sprintf("%v", authErr.Message)})
	}
	isDemo := userID == ""

	// Request policy runs before anything that costs money.
	violations, err := h.policy.Evaluate(ctx, policyInput(h, &req, specs, isDemo))
	if err != nil {
		log.Printf("ERROR: policy evaluation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "policy evaluation failed"})
	}
	if len(violations) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": violations[0]})
	}

	if h.config.BrowserAPIKey == "" {
		log.Printf("ERROR: browser provider api key is not configured")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "browser provider is not configured"})
	}

	// Demo flow: claim a free slot before any paid resource is created.
	// The ledger failing closed is deliberate; a dead store never grants
	// unlimited usage.
	var claim *domain.QuotaClaim
	if isDemo {
		deviceID, cookieValue := h.fingerprints.Resolve(fingerprintCookie(c), c.RealIP(), c.Request().UserAgent())
		h.setFingerprintCookie(c, cookieValue)

		claim, err = h.store.ClaimDemoSlot(ctx, deviceID, h.config.DemoMaxQueries)
		if err != nil {
			log.Printf("ERROR: quota claim failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "quota check failed"})
		}
		if !claim.Allowed {
			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"error":       "DEMO_LIMIT_REACHED",
				"message":     "You have used your free demo query. Sign in to keep going.",
				"queriesUsed": claim.QueriesUsed,
				"maxQueries":  claim.MaxQueries,
			})
		}
		userID = domain.DemoUserID
	}

	// Attaching to an existing session requires ownership.
	var session *domain.Session
	if req.SessionID != "" {
		if isDemo {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "demo sessions cannot be extended"})
		}
		session, err = h.store.GetSession(ctx, req.SessionID)
		if err != nil {
			log.Printf("ERROR: failed to load session %s: %v", req.SessionID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
		}
		if session == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		if session.UserID != userID {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "not the session owner"})
		}
	}

	// Provision one remote browser session per requested pair. Any failure
	// releases everything created so far; no paid resource outlives a
	// failed request.
	browserSessions := make([]*browser.Session, 0, len(specs))
	for _, spec := range specs {
		bs, err := h.browser.CreateSession(ctx)
		if err != nil {
			log.Printf("ERROR: browser provisioning failed for %s: %v", spec.Agent, err)
			h.releaseAll(browserSessions)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create browser session"})
		}
		browserSessions = append(browserSessions, bs)
	}

	now := time.Now()
	agents := make([]domain.Agent, len(specs))
	for i, spec := range specs {
		agents[i] = domain.Agent{
			AgentID:   "agent_" + uuid.New().String()[:8],
			Name:      spec.Agent,
			Model:     spec.Model,
			Status:    domain.AgentStatusPending,
			Browser: domain.BrowserRef{
				SessionID: browserSessions[i].ID,
				ViewURL:   browserSessions[i].LiveViewURL,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	// Persist: a new session is created atomically with its first agent so
	// no session ever exists with zero agents.
	persisted := 0
	if session == nil {
		session = &domain.Session{
			SessionID:   "session_" + uuid.New().String()[:8],
			Instruction: req.Instruction,
			UserID:      userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		agents[0].SessionID = session.SessionID
		if err := h.store.CreateSessionWithAgent(ctx, session, &agents[0]); err != nil {
			log.Printf("ERROR: failed to create session: %v", err)
			h.releaseAll(browserSessions)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
		}
		persisted = 1
	}
	for i := persisted; i < len(agents); i++ {
		agents[i].SessionID = session.SessionID
		if err := h.store.AddAgent(ctx, &agents[i]); err != nil {
			log.Printf("ERROR: failed to create agent record: %v", err)
			// Persisted agents get the full cleanup; the rest only need
			// their browser sessions released.
			for j := 0; j < i; j++ {
				h.runner.Cleanup(agents[j].AgentID, agents[j].Browser.SessionID, fmt.Errorf("provisioning failed: %w", err))
			}
			for j := i; j < len(agents); j++ {
				h.runner.Cleanup("", agents[j].Browser.SessionID, nil)
			}
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create agent"})
		}
	}

	// Bind the free slot to the session it paid for.
	if claim != nil {
		if err := h.store.LinkDemoUsage(ctx, claim.UsageID, session.SessionID); err != nil {
			log.Printf("WARN: failed to link demo usage %s: %v", claim.UsageID, err)
		}
	}

	tasks := make([]dispatch.Task, len(agents))
	for i, agent := range agents {
		tasks[i] = dispatch.Task{Agent: agent, CDPURL: browserSessions[i].ConnectURL}
	}
	// Fire and forget: execution continues after the response below.
	go h.runner.Run(tasks, req.Instruction, req.Credentials)

	agentIDs := make([]string, len(agents))
	for i, agent := range agents {
		agentIDs[i] = agent.AgentID
	}
	return c.JSON(http.StatusOK, domain.RunResponse{
		Session:  domain.SessionRef{ID: session.SessionID},
		AgentIDs: agentIDs,
		IsDemo:   isDemo,
	})
}

// requestedSpecs normalizes the two request shapes into a list of
// backend/model pairs.
func requestedSpecs(req *domain.RunRequest) ([]domain.AgentSpec, error) {
	if req.Instruction == "" {
		return nil, fmt.Errorf("instruction is required")
	}
	if req.AgentType != "" && len(req.Agents) > 0 {
		return nil, fmt.Errorf("agentType and agents are mutually exclusive")
	}
	if req.AgentType != "" {
		return []domain.AgentSpec{{Agent: req.AgentType, Model: req.Model}}, nil
	}
	if len(req.Agents) == 0 {
		return nil, fmt.Errorf("agentType or agents is required")
	}
	return req.Agents, nil
}

func policyInput(h *Handler, req *domain.RunRequest, specs []domain.AgentSpec, isDemo bool) policy.Input {
	agents := make([]policy.AgentSpec, len(specs))
	for i, s := range specs {
		agents[i] = policy.AgentSpec{Name: s.Agent, Model: s.Model}
	}
	return policy.Input{
		InstructionLength:    len(req.Instruction),
		MaxInstructionLength: h.config.MaxInstructionLength,
		AgentCount:           len(specs),
		MaxAgents:            h.config.MaxAgentsPerRequest,
		Agents:               agents,
		Demo:                 isDemo,
	}
}

func fingerprintCookie(c echo.Context) string {
	cookie, err := c.Cookie(fingerprint.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// releaseAll releases browser sessions created for a request that failed
// before any record existed.
func (h *Handler) releaseAll(sessions []*browser.Session) {
	for _, bs := range sessions {
		h.runner.Cleanup("", bs.ID, nil)
	}
}
