package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetSession returns a session together with its agents. Session ids are
// unguessable, so this is the polling surface for demo and authenticated
// clients alike.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session %s: %v", sessionID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	if session == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	agents, err := h.store.ListSessionAgents(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to list agents for session %s: %v", sessionID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list agents"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session": session,
		"agents":  agents,
	})
}

// DeleteSession removes a session and its records. Only the authenticated
// owner may delete; demo sessions are not client-deletable.
// DELETE /v1/sessions/:session_id
func (h *Handler) DeleteSession(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	userID, authErr := h.callerIdentity(c)
	if authErr != nil {
		return c.JSON(authErr.Code, map[string]string{"error": fmt.Sprintf("%v", authErr.Message)})
	}
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	}

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session %s: %v", sessionID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	if session == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	if session.IsDemo() || session.UserID != userID {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "not the session owner"})
	}

	if err := h.store.DeleteSession(ctx, sessionID); err != nil {
		log.Printf("ERROR: failed to delete session %s: %v", sessionID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete session"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}

// GetAgent returns a single agent record.
// GET /v1/agents/:agent_id
func (h *Handler) GetAgent(c echo.Context) error {
	ctx := c.Request().Context()
	agentID := c.Param("agent_id")

	agent, err := h.store.GetAgent(ctx, agentID)
	if err != nil {
		log.Printf("ERROR: failed to get agent %s: %v", agentID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get agent"})
	}
	if agent == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
	}
	return c.JSON(http.StatusOK, agent)
}
