package api

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/agentarena/orchestrator/domain"
)

// CreateBattle pairs two sibling agents of one session for a head-to-head
// comparison.
// POST /v1/battles
func (h *Handler) CreateBattle(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.BattleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.SessionID == "" || req.AgentA == "" || req.AgentB == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sessionId, agentA and agentB are required"})
	}
	if req.AgentA == req.AgentB {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "a battle needs two distinct agents"})
	}

	for _, agentID := range []string{req.AgentA, req.AgentB} {
		agent, err := h.store.GetAgent(ctx, agentID)
		if err != nil {
			log.Printf("ERROR: failed to get agent %s: %v", agentID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get agent"})
		}
		if agent == nil || agent.SessionID != req.SessionID {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "agents must belong to the session"})
		}
	}

	now := time.Now()
	battle := &domain.Battle{
		BattleID:  "battle_" + uuid.New().String()[:8],
		SessionID: req.SessionID,
		AgentA:    req.AgentA,
		AgentB:    req.AgentB,
		Status:    domain.BattleStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateBattle(ctx, battle); err != nil {
		log.Printf("ERROR: failed to create battle: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create battle"})
	}
	return c.JSON(http.StatusOK, battle)
}

// GetBattle returns a battle record.
// GET /v1/battles/:battle_id
func (h *Handler) GetBattle(c echo.Context) error {
	ctx := c.Request().Context()
	battleID := c.Param("battle_id")

	battle, err := h.store.GetBattle(ctx, battleID)
	if err != nil {
		log.Printf("ERROR: failed to get battle %s: %v", battleID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get battle"})
	}
	if battle == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "battle not found"})
	}
	return c.JSON(http.StatusOK, battle)
}

// VoteBattle records the vote outcome and the rating deltas handed over by
// the external rating engine. Voting requires at least one paired agent to
// have completed, and a voted battle is final.
// POST /v1/battles/:battle_id/vote
func (h *Handler) VoteBattle(c echo.Context) error {
	ctx := c.Request().Context()
	battleID := c.Param("battle_id")

	var req domain.VoteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	switch req.Outcome {
	case domain.OutcomeAgentA, domain.OutcomeAgentB, domain.OutcomeTie, domain.OutcomeBothBad:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid outcome"})
	}

	battle, err := h.store.GetBattle(ctx, battleID)
	if err != nil {
		log.Printf("ERROR: failed to get battle %s: %v", battleID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get battle"})
	}
	if battle == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "battle not found"})
	}
	if battle.Status == domain.BattleStatusVoted {
		return c.JSON(http.StatusConflict, map[string]string{"error": "battle already voted"})
	}

	completed := 0
	for _, agentID := range []string{battle.AgentA, battle.AgentB} {
		agent, err := h.store.GetAgent(ctx, agentID)
		if err != nil {
			log.Printf("ERROR: failed to get agent %s: %v", agentID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get agent"})
		}
		if agent != nil && agent.Status == domain.AgentStatusCompleted {
			completed++
		}
	}
	if completed == 0 {
		return c.JSON(http.StatusConflict, map[string]string{"error": "voting requires at least one completed agent"})
	}

	winnerID := ""
	switch req.Outcome {
	case domain.OutcomeAgentA:
		winnerID = battle.AgentA
	case domain.OutcomeAgentB:
		winnerID = battle.AgentB
	}

	if err := h.store.UpdateBattleVote(ctx, battleID, req.Outcome, winnerID, req.EloDeltaA, req.EloDeltaB); err != nil {
		log.Printf("ERROR: failed to record vote for battle %s: %v", battleID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to record vote"})
	}

	battle, err = h.store.GetBattle(ctx, battleID)
	if err != nil || battle == nil {
		log.Printf("ERROR: failed to reload battle %s: %v", battleID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to reload battle"})
	}
	return c.JSON(http.StatusOK, battle)
}
