// Package api provides HTTP handlers for the orchestrator.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/agentarena/orchestrator/browser"
	"github.com/agentarena/orchestrator/config"
	"github.com/agentarena/orchestrator/dispatch"
	"github.com/agentarena/orchestrator/fingerprint"
	"github.com/agentarena/orchestrator/policy"
	"github.com/agentarena/orchestrator/store"
)

// BrowserProvisioner is the part of the browser provider the handlers need:
// creating sessions during provisioning and releasing them on failure paths.
type BrowserProvisioner interface {
	CreateSession(ctx context.Context) (*browser.Session, error)
	ReleaseSession(ctx context.Context, sessionID string) error
}

// Runner supervises agent executions after the response is sent.
type Runner interface {
	Run(tasks []dispatch.Task, instruction string, credentials map[string]string)
	Cleanup(agentID, browserSessionID string, cause error)
}

// Handler handles HTTP requests.
type Handler struct {
	store        store.Store
	browser      BrowserProvisioner
	runner       Runner
	fingerprints *fingerprint.Service
	policy       *policy.Engine
	config       *config.Config
}

// NewHandler creates a new handler.
func NewHandler(st store.Store, browser BrowserProvisioner, runner Runner, fp *fingerprint.Service, policyEngine *policy.Engine, cfg *config.Config) *Handler {
	return &Handler{
		store:        st,
		browser:      browser,
		runner:       runner,
		fingerprints: fp,
		policy:       policyEngine,
		config:       cfg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/agent/run", h.RunAgents)

	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.DELETE("/v1/sessions/:session_id", h.DeleteSession)
	e.GET("/v1/agents/:agent_id", h.GetAgent)

	e.POST("/v1/battles", h.CreateBattle)
	e.GET("/v1/battles/:battle_id", h.GetBattle)
	e.POST("/v1/battles/:battle_id/vote", h.VoteBattle)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "orchestrator",
	})
}

// callerIdentity resolves the authenticated user id. An empty id with a nil
// error means the caller is anonymous and goes through the demo flow.
func (h *Handler) callerIdentity(c echo.Context) (string, *echo.HTTPError) {
	key := c.Request().Header.Get("X-API-Key")
	if key == "" {
		return "", nil
	}
	if h.config.APIKey == "" || key != h.config.APIKey {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
	}
	userID := c.Request().Header.Get("X-User-ID")
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "X-User-ID is required with an api key")
	}
	return userID, nil
}

// setFingerprintCookie refreshes the signed device cookie for a year.
func (h *Handler) setFingerprintCookie(c echo.Context, value string) {
	c.SetCookie(&http.Cookie{
		Name:     fingerprint.CookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(365 * 24 * time.Hour),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.IsProduction(),
	})
}
