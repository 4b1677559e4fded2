package domain

// AgentSpec is one requested backend/model pair.
type AgentSpec struct {
	Agent string `json:"agent"`
	Model string `json:"model,omitempty"`
}

// RunRequest is the body of POST /v1/agent/run.
// AgentType and Agents are mutually exclusive; Agents carries at most four
// pairs. ClientFingerprint is display-only and never trusted for quota.
type RunRequest struct {
	Instruction       string            `json:"instruction"`
	AgentType         string            `json:"agentType,omitempty"`
	Model             string            `json:"model,omitempty"`
	Agents            []AgentSpec       `json:"agents,omitempty"`
	SessionID         string            `json:"sessionId,omitempty"`
	ClientFingerprint string            `json:"clientFingerprint,omitempty"`
	Credentials       map[string]string `json:"credentials,omitempty"`
}

// RunResponse is returned before any agent has executed.
type RunResponse struct {
	Session  SessionRef `json:"session"`
	AgentIDs []string   `json:"agentIds"`
	IsDemo   bool       `json:"isDemo"`
}

// SessionRef identifies a session in API responses.
type SessionRef struct {
	ID string `json:"id"`
}

// VoteRequest is the body of POST /v1/battles/:battle_id/vote. The rating
// deltas come from the external rating engine that observed the vote.
type VoteRequest struct {
	Outcome   BattleOutcome `json:"outcome"`
	EloDeltaA float64       `json:"eloDeltaA"`
	EloDeltaB float64       `json:"eloDeltaB"`
}

// BattleRequest is the body of POST /v1/battles.
type BattleRequest struct {
	SessionID string `json:"sessionId"`
	AgentA    string `json:"agentA"`
	AgentB    string `json:"agentB"`
}
