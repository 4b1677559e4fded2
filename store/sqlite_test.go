package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/orchestrator/domain"
	"github.com/agentarena/orchestrator/store"
	"github.com/agentarena/orchestrator/tests/helpers"
)

func seedSession(t *testing.T, s *store.SQLiteStore, sessionID, agentID string) (*domain.Session, *domain.Agent) {
	t.Helper()
	now := time.Now()
	session := &domain.Session{
		SessionID:   sessionID,
		Instruction: "find the cheapest flight to Lisbon",
		UserID:      "user_1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	agent := &domain.Agent{
		AgentID:   agentID,
		SessionID: sessionID,
		Name:      "stagehand",
		Model:     "openai/gpt-4.1",
		Status:    domain.AgentStatusPending,
		Browser: domain.BrowserRef{
			SessionID: "bb_" + agentID,
			ViewURL:   "https://viewer.example/" + agentID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateSessionWithAgent(context.Background(), session, agent))
	return session, agent
}

func TestClaimDemoSlot(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	claim, err := s.ClaimDemoSlot(ctx, "device_1", 1)
	require.NoError(t, err)
	assert.True(t, claim.Allowed)
	assert.Equal(t, 1, claim.QueriesUsed)
	assert.Equal(t, 1, claim.MaxQueries)
	assert.NotEmpty(t, claim.UsageID)

	// Second claim against the same fingerprint is denied but still reports
	// the usage counters.
	claim2, err := s.ClaimDemoSlot(ctx, "device_1", 1)
	require.NoError(t, err)
	assert.False(t, claim2.Allowed)
	assert.Equal(t, 1, claim2.QueriesUsed)
	assert.Equal(t, claim.UsageID, claim2.UsageID)

	// A different fingerprint has its own budget.
	claim3, err := s.ClaimDemoSlot(ctx, "device_2", 1)
	require.NoError(t, err)
	assert.True(t, claim3.Allowed)
}

func TestClaimDemoSlotConcurrent(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := s.ClaimDemoSlot(ctx, "device_race", 1)
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			if claim.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, allowed, "exactly one concurrent claim should win")
}

func TestLinkDemoUsage(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	claim, err := s.ClaimDemoSlot(ctx, "device_link", 1)
	require.NoError(t, err)
	require.True(t, claim.Allowed)

	require.NoError(t, s.LinkDemoUsage(ctx, claim.UsageID, "session_a"))
	// Linking the same usage id to the same session again is a no-op.
	require.NoError(t, s.LinkDemoUsage(ctx, claim.UsageID, "session_a"))
	// A different session never overwrites an existing link.
	require.NoError(t, s.LinkDemoUsage(ctx, claim.UsageID, "session_b"))
}

func TestSessionLifecycle(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	session, agent := seedSession(t, s, "session_abc", "agent_001")

	got, err := s.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.Instruction, got.Instruction)
	assert.Equal(t, session.UserID, got.UserID)

	missing, err := s.GetSession(ctx, "session_nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	second := *agent
	second.AgentID = "agent_002"
	second.Name = "browser-use"
	second.CreatedAt = agent.CreatedAt.Add(time.Second)
	require.NoError(t, s.AddAgent(ctx, &second))

	agents, err := s.ListSessionAgents(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "agent_001", agents[0].AgentID)
	assert.Equal(t, "agent_002", agents[1].AgentID)

	require.NoError(t, s.DeleteSession(ctx, session.SessionID))
	got, err = s.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Nil(t, got)
	agents, err = s.ListSessionAgents(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestAgentStatusIsMonotonic(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	_, agent := seedSession(t, s, "session_mono", "agent_mono")

	require.NoError(t, s.UpdateAgentStatus(ctx, agent.AgentID, domain.AgentStatusRunning, ""))
	require.NoError(t, s.UpdateAgentStatus(ctx, agent.AgentID, domain.AgentStatusFailed, "timed out"))

	// Writes after a terminal state are silently dropped.
	require.NoError(t, s.UpdateAgentStatus(ctx, agent.AgentID, domain.AgentStatusRunning, ""))
	require.NoError(t, s.UpdateAgentResult(ctx, agent.AgentID, &domain.AgentResult{Success: true}, domain.AgentStatusCompleted))

	got, err := s.GetAgent(ctx, agent.AgentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.AgentStatusFailed, got.Status)
	assert.Equal(t, "timed out", got.Error)
	assert.Nil(t, got.Result)
}

func TestUpdateAgentResult(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	_, agent := seedSession(t, s, "session_res", "agent_res")

	ok := true
	result := &domain.AgentResult{
		Backend: "stagehand",
		Success: true,
		Message: "booked the flight",
		Actions: []domain.Action{
			{Name: "goto", Success: &ok},
			{Name: "extract", Success: &ok, ExtractedContent: "EUR 43"},
		},
		Usage:           domain.Usage{InputTokens: 1200, OutputTokens: 300, TotalTokens: 1500},
		DurationSeconds: 42.5,
		Cost:            &domain.CostBreakdown{LLMCost: 0.005, BrowserCost: 0.002, TotalCost: 0.007},
	}
	require.NoError(t, s.UpdateAgentResult(ctx, agent.AgentID, result, domain.AgentStatusCompleted))

	got, err := s.GetAgent(ctx, agent.AgentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.AgentStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "booked the flight", got.Result.Message)
	assert.Len(t, got.Result.Actions, 2)
	assert.Equal(t, int64(1500), got.Result.Usage.TotalTokens)
	require.NotNil(t, got.Result.Cost)
	assert.InDelta(t, 0.007, got.Result.Cost.TotalCost, 1e-9)

	// Recordings arrive late and are writable after the terminal state.
	require.NoError(t, s.UpdateAgentRecording(ctx, agent.AgentID, "https://recordings.example/r1"))
	got, err = s.GetAgent(ctx, agent.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "https://recordings.example/r1", got.RecordingURL)
}

func TestGetAgentMissing(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)

	agent, err := s.GetAgent(context.Background(), "agent_missing")
	require.NoError(t, err)
	assert.Nil(t, agent)
}

func TestBattleLifecycle(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	session, agent := seedSession(t, s, "session_battle", "agent_a1")
	second := *agent
	second.AgentID = "agent_b1"
	second.Name = "browser-use"
	require.NoError(t, s.AddAgent(ctx, &second))

	now := time.Now()
	battle := &domain.Battle{
		BattleID:  "battle_001",
		SessionID: session.SessionID,
		AgentA:    "agent_a1",
		AgentB:    "agent_b1",
		Status:    domain.BattleStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateBattle(ctx, battle))

	got, err := s.GetBattle(ctx, battle.BattleID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.BattleStatusRunning, got.Status)
	assert.Empty(t, got.Outcome)

	require.NoError(t, s.UpdateBattleVote(ctx, battle.BattleID, domain.OutcomeAgentA, "agent_a1", 12.5, -12.5))

	got, err = s.GetBattle(ctx, battle.BattleID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.BattleStatusVoted, got.Status)
	assert.Equal(t, domain.OutcomeAgentA, got.Outcome)
	assert.Equal(t, "agent_a1", got.WinnerID)
	assert.InDelta(t, 12.5, got.EloDeltaA, 1e-9)
	assert.InDelta(t, -12.5, got.EloDeltaB, 1e-9)

	// A voted battle is final; a second vote does not overwrite.
	require.NoError(t, s.UpdateBattleVote(ctx, battle.BattleID, domain.OutcomeTie, "", 0, 0))
	got, err = s.GetBattle(ctx, battle.BattleID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAgentA, got.Outcome)
	assert.Equal(t, "agent_a1", got.WinnerID)
}
