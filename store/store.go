// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/agentarena/orchestrator/domain"
)

// Store defines the interface for data persistence. Getters return
// (nil, nil) when a record does not exist.
type Store interface {
	// Demo quota ledger. ClaimDemoSlot is the sole writer of the usage
	// counter and must be atomic per fingerprint: at most maxQueries claims
	// ever observe Allowed=true, under any interleaving.
	ClaimDemoSlot(ctx context.Context, fingerprint string, maxQueries int) (*domain.QuotaClaim, error)
	// LinkDemoUsage binds a successful claim to the session it paid for.
	// Linking the same usage id twice is a no-op.
	LinkDemoUsage(ctx context.Context, usageID, sessionID string) error

	// Session operations
	CreateSessionWithAgent(ctx context.Context, session *domain.Session, agent *domain.Agent) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Agent operations
	AddAgent(ctx context.Context, agent *domain.Agent) error
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)
	ListSessionAgents(ctx context.Context, sessionID string) ([]domain.Agent, error)
	// UpdateAgentStatus advances the agent state machine. Writes against an
	// agent already in a terminal state are silently dropped.
	UpdateAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus, errMsg string) error
	// UpdateAgentResult writes the result envelope together with the
	// terminal status, in one statement.
	UpdateAgentResult(ctx context.Context, agentID string, result *domain.AgentResult, status domain.AgentStatus) error
	// Late side-channel updates, permitted after a terminal status.
	UpdateAgentRecording(ctx context.Context, agentID, recordingURL string) error
	UpdateAgentBrowserView(ctx context.Context, agentID, viewURL string) error

	// Battle operations
	CreateBattle(ctx context.Context, battle *domain.Battle) error
	GetBattle(ctx context.Context, battleID string) (*domain.Battle, error)
	UpdateBattleVote(ctx context.Context, battleID string, outcome domain.BattleOutcome, winnerID string, deltaA, deltaB float64) error

	// Lifecycle
	Close() error
}
