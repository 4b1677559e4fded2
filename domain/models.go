// Package domain defines the core domain models for the orchestrator.
package domain

import (
	"time"
)

// AgentStatus represents the lifecycle state of an agent execution.
type AgentStatus string

const (
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s AgentStatus) IsTerminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusFailed
}

// BattleStatus represents the status of a head-to-head battle.
type BattleStatus string

const (
	BattleStatusPending   BattleStatus = "pending"
	BattleStatusRunning   BattleStatus = "running"
	BattleStatusCompleted BattleStatus = "completed"
	BattleStatusVoted     BattleStatus = "voted"
	BattleStatusFailed    BattleStatus = "failed"
)

// BattleOutcome is the voted result of a battle.
type BattleOutcome string

const (
	OutcomeAgentA  BattleOutcome = "agent_a"
	OutcomeAgentB  BattleOutcome = "agent_b"
	OutcomeTie     BattleOutcome = "tie"
	OutcomeBothBad BattleOutcome = "both_bad"
)

// DemoUserID is the sentinel identity used for anonymous sessions.
const DemoUserID = "demo"

// Session represents one user instruction and the set of agents executing it.
type Session struct {
	SessionID   string    `json:"session_id"`
	Instruction string    `json:"instruction"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsDemo reports whether the session belongs to the anonymous demo identity.
func (s *Session) IsDemo() bool {
	return s.UserID == DemoUserID
}

// BrowserRef points at the remote browser session owned by an agent.
type BrowserRef struct {
	SessionID string `json:"session_id"`
	ViewURL   string `json:"view_url"`
}

// Agent is one execution of one automation backend against a session's
// instruction, bound to one remote browser session.
type Agent struct {
	AgentID      string       `json:"agent_id"`
	SessionID    string       `json:"session_id"`
	Name         string       `json:"name"`  // backend identifier, e.g. "stagehand", "browser-use"
	Model        string       `json:"model"` // "provider/model"
	Browser      BrowserRef   `json:"browser"`
	Status       AgentStatus  `json:"status"`
	Error        string       `json:"error,omitempty"`
	Result       *AgentResult `json:"result,omitempty"`
	RecordingURL string       `json:"recording_url,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Battle pairs two agents of one session for a head-to-head comparison.
// The rating algorithm itself lives outside the orchestrator; the battle
// record only stores the outcome and the rating deltas it was handed.
type Battle struct {
	BattleID  string        `json:"battle_id"`
	SessionID string        `json:"session_id"`
	AgentA    string        `json:"agent_a"`
	AgentB    string        `json:"agent_b"`
	Status    BattleStatus  `json:"status"`
	Outcome   BattleOutcome `json:"outcome,omitempty"`
	WinnerID  string        `json:"winner_id,omitempty"`
	EloDeltaA float64       `json:"elo_delta_a,omitempty"`
	EloDeltaB float64       `json:"elo_delta_b,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// QuotaClaim is the outcome of one demo quota claim attempt.
type QuotaClaim struct {
	Allowed     bool   `json:"allowed"`
	UsageID     string `json:"usage_id"`
	QueriesUsed int    `json:"queries_used"`
	MaxQueries  int    `json:"max_queries"`
}
