package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentarena/orchestrator/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; funnel all access through one
	// connection so concurrent quota claims serialize instead of
	// returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS demo_quota (
			fingerprint TEXT PRIMARY KEY,
			usage_id TEXT NOT NULL,
			queries_used INTEGER NOT NULL DEFAULT 0,
			max_queries INTEGER NOT NULL,
			session_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_demo_quota_usage ON demo_quota(usage_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			instruction TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			model TEXT,
			browser_session_id TEXT NOT NULL,
			browser_view_url TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			result TEXT,
			recording_url TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS battles (
			battle_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			agent_a TEXT NOT NULL,
			agent_b TEXT NOT NULL,
			status TEXT NOT NULL,
			outcome TEXT,
			winner_id TEXT,
			elo_delta_a REAL NOT NULL DEFAULT 0,
			elo_delta_b REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ClaimDemoSlot atomically claims one free demo slot for a device
// fingerprint. The check and increment run as a single conditional UPDATE
// inside one transaction, so concurrent claims against the same fingerprint
// are linearized by the database: at most maxQueries of them succeed.
func (s *SQLiteStore) ClaimDemoSlot(ctx context.Context, fingerprint string, maxQueries int) (*domain.QuotaClaim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	usageID := "usage_" + uuid.New().String()[:8]
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO demo_quota (fingerprint, usage_id, queries_used, max_queries, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		fingerprint, usageID, maxQueries, now, now); err != nil {
		return nil, fmt.Errorf("failed to upsert quota record: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE demo_quota SET queries_used = queries_used + 1, updated_at = ?
		 WHERE fingerprint = ? AND queries_used < max_queries`,
		now, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to increment quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}

	claim := &domain.QuotaClaim{Allowed: affected == 1}
	if err := tx.QueryRowContext(ctx,
		`SELECT usage_id, queries_used, max_queries FROM demo_quota WHERE fingerprint = ?`,
		fingerprint).Scan(&claim.UsageID, &claim.QueriesUsed, &claim.MaxQueries); err != nil {
		return nil, fmt.Errorf("failed to read quota record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claim, nil
}

// LinkDemoUsage associates a claimed slot with the session it paid for.
func (s *SQLiteStore) LinkDemoUsage(ctx context.Context, usageID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE demo_quota SET session_id = ?, updated_at = ?
		 WHERE usage_id = ? AND (session_id IS NULL OR session_id = '' OR session_id = ?)`,
		sessionID, time.Now(), usageID, sessionID)
	return err
}

// CreateSessionWithAgent creates a session and its first agent in a single
// transaction, so a session never exists with zero agents.
func (s *SQLiteStore) CreateSessionWithAgent(ctx context.Context, session *domain.Session, agent *domain.Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, instruction, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.SessionID, session.Instruction, session.UserID, session.CreatedAt, session.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	if err := insertAgent(ctx, tx, agent); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, instruction, user_id, created_at, updated_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &session.Instruction, &session.UserID, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a session together with its agents and battles.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM battles WHERE session_id = ?`,
		`DELETE FROM agents WHERE session_id = ?`,
		`DELETE FROM sessions WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	return tx.Commit()
}

func insertAgent(ctx context.Context, tx *sql.Tx, agent *domain.Agent) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO agents (agent_id, session_id, name, model, browser_session_id, browser_view_url, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.AgentID, agent.SessionID, agent.Name, agent.Model,
		agent.Browser.SessionID, agent.Browser.ViewURL, agent.Status,
		agent.CreatedAt, agent.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// AddAgent attaches an additional agent to an existing session.
func (s *SQLiteStore) AddAgent(ctx context.Context, agent *domain.Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertAgent(ctx, tx, agent); err != nil {
		return err
	}
	return tx.Commit()
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, session_id, name, model, browser_session_id, browser_view_url,
		        status, error, result, recording_url, created_at, updated_at
		 FROM agents WHERE agent_id = ?`, agentID)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListSessionAgents returns all agents of a session, oldest first.
func (s *SQLiteStore) ListSessionAgents(ctx context.Context, sessionID string) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, session_id, name, model, browser_session_id, browser_view_url,
		        status, error, result, recording_url, created_at, updated_at
		 FROM agents WHERE session_id = ? ORDER BY created_at ASC, agent_id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var agent domain.Agent
	var model, errMsg, result, recording sql.NullString
	if err := row.Scan(&agent.AgentID, &agent.SessionID, &agent.Name, &model,
		&agent.Browser.SessionID, &agent.Browser.ViewURL,
		&agent.Status, &errMsg, &result, &recording,
		&agent.CreatedAt, &agent.UpdatedAt); err != nil {
		return nil, err
	}
	agent.Model = model.String
	agent.Error = errMsg.String
	agent.RecordingURL = recording.String
	if result.Valid && result.String != "" {
		var r domain.AgentResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("failed to decode agent result: %w", err)
		}
		agent.Result = &r
	}
	return &agent, nil
}

// UpdateAgentStatus advances the agent state machine. Terminal states are
// final: a write against a completed or failed agent is a silent no-op, which
// keeps the observed status sequence monotonic even if callers race.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus, errMsg string) error {
	var err error
	if errMsg != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE agents SET status = ?, error = ?, updated_at = ?
			 WHERE agent_id = ? AND status NOT IN ('completed', 'failed')`,
			status, errMsg, time.Now(), agentID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE agents SET status = ?, updated_at = ?
			 WHERE agent_id = ? AND status NOT IN ('completed', 'failed')`,
			status, time.Now(), agentID)
	}
	return err
}

// UpdateAgentResult writes the result envelope and the terminal status in one
// statement.
func (s *SQLiteStore) UpdateAgentResult(ctx context.Context, agentID string, result *domain.AgentResult, status domain.AgentStatus) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal agent result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, result = ?, updated_at = ?
		 WHERE agent_id = ? AND status NOT IN ('completed', 'failed')`,
		status, string(data), time.Now(), agentID)
	return err
}

// UpdateAgentRecording stores the recording URL. Allowed after a terminal
// status; recordings arrive late by nature.
func (s *SQLiteStore) UpdateAgentRecording(ctx context.Context, agentID, recordingURL string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET recording_url = ?, updated_at = ? WHERE agent_id = ?`,
		recordingURL, time.Now(), agentID)
	return err
}

// UpdateAgentBrowserView corrects the live-view URL after creation.
func (s *SQLiteStore) UpdateAgentBrowserView(ctx context.Context, agentID, viewURL string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET browser_view_url = ?, updated_at = ? WHERE agent_id = ?`,
		viewURL, time.Now(), agentID)
	return err
}

// CreateBattle creates a battle pairing two agents.
func (s *SQLiteStore) CreateBattle(ctx context.Context, battle *domain.Battle) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO battles (battle_id, session_id, agent_a, agent_b, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		battle.BattleID, battle.SessionID, battle.AgentA, battle.AgentB, battle.Status,
		battle.CreatedAt, battle.UpdatedAt)
	return err
}

// GetBattle retrieves a battle by ID.
func (s *SQLiteStore) GetBattle(ctx context.Context, battleID string) (*domain.Battle, error) {
	var b domain.Battle
	var outcome, winner sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT battle_id, session_id, agent_a, agent_b, status, outcome, winner_id,
		        elo_delta_a, elo_delta_b, created_at, updated_at
		 FROM battles WHERE battle_id = ?`, battleID).
		Scan(&b.BattleID, &b.SessionID, &b.AgentA, &b.AgentB, &b.Status, &outcome, &winner,
			&b.EloDeltaA, &b.EloDeltaB, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Outcome = domain.BattleOutcome(outcome.String)
	b.WinnerID = winner.String
	return &b, nil
}

// UpdateBattleVote records the vote. Voted battles are final; a second vote
// does not overwrite the first.
func (s *SQLiteStore) UpdateBattleVote(ctx context.Context, battleID string, outcome domain.BattleOutcome, winnerID string, deltaA, deltaB float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE battles SET status = ?, outcome = ?, winner_id = ?, elo_delta_a = ?, elo_delta_b = ?, updated_at = ?
		 WHERE battle_id = ? AND status != 'voted'`,
		domain.BattleStatusVoted, outcome, winnerID, deltaA, deltaB, time.Now(), battleID)
	return err
}
