package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/agentrelay/relay/internal/models"
)

// SQLiteStore handles SQLite database operations for agents, messages and
// nonces.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary creates) the relay database.
// If dbPath is empty, defaults to "./data/relay.db".
//
// The journal mode is DELETE rather than WAL: the database file may live on
// network-attached storage that survives instance restarts, and WAL needs
// shared memory such storage cannot reliably provide. The busy timeout
// tolerates transient lock contention from a previous instance shutting down.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/relay.db"
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=DELETE&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		name TEXT PRIMARY KEY,
		public_key TEXT NOT NULL,
		owner_email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		teams TEXT NOT NULL DEFAULT '[]',
		registered_at DATETIME NOT NULL,
		approved_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		from_agent TEXT NOT NULL,
		to_agent TEXT NOT NULL,
		type TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		signature TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nonces (
		value TEXT PRIMARY KEY,
		seen_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_to_seq ON messages(to_agent, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
	CREATE INDEX IF NOT EXISTS idx_nonces_seen_at ON nonces(seen_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isUniqueViolation reports whether err is a SQLite unique or primary key
// constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// CreateAgent inserts a new agent with status pending. Returns ErrDuplicate
// if the name is already taken.
func (s *SQLiteStore) CreateAgent(ctx context.Context, name, publicKey, ownerEmail string, teams []string) (*models.Agent, error) {
	if teams == nil {
		teams = []string{}
	}
	teamsJSON, err := json.Marshal(teams)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (name, public_key, owner_email, status, teams, registered_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, name, publicKey, ownerEmail, models.StatusPending, string(teamsJSON), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	return s.GetAgent(ctx, name)
}

// GetAgent retrieves an agent by name. Returns (nil, nil) when unknown.
func (s *SQLiteStore) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, public_key, owner_email, status, teams, registered_at, approved_at
		FROM agents WHERE name = ?
	`, name)

	agent, err := scanAgent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// ListAgents returns every registered agent ordered by registration time.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, public_key, owner_email, status, teams, registered_at, approved_at
		FROM agents ORDER BY registered_at, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

func scanAgent(scan func(dest ...any) error) (*models.Agent, error) {
	agent := &models.Agent{}
	var teamsJSON string
	var approvedAt sql.NullTime
	err := scan(
		&agent.Name,
		&agent.PublicKey,
		&agent.OwnerEmail,
		&agent.Status,
		&teamsJSON,
		&agent.RegisteredAt,
		&approvedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(teamsJSON), &agent.Teams); err != nil {
		return nil, fmt.Errorf("corrupt teams column for agent %s: %w", agent.Name, err)
	}
	if agent.Teams == nil {
		agent.Teams = []string{}
	}
	if approvedAt.Valid {
		t := approvedAt.Time.UTC()
		agent.ApprovedAt = &t
	}
	return agent, nil
}

// ApproveAgent sets an agent's status to active. Idempotent when already
// active. Returns ErrNotFound for an unknown name and ErrRevoked when the
// agent has been revoked: revocation is terminal.
func (s *SQLiteStore) ApproveAgent(ctx context.Context, name string) (*models.Agent, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ?, approved_at = COALESCE(approved_at, ?)
		WHERE name = ? AND status != ?
	`, models.StatusActive, now, name, models.StatusRevoked)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		agent, err := s.GetAgent(ctx, name)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			return nil, ErrNotFound
		}
		return nil, ErrRevoked
	}
	return s.GetAgent(ctx, name)
}

// RevokeAgent sets an agent's status to revoked, unconditionally and
// irreversibly. Returns ErrNotFound for an unknown name.
func (s *SQLiteStore) RevokeAgent(ctx context.Context, name string) (*models.Agent, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ? WHERE name = ?
	`, models.StatusRevoked, name)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetAgent(ctx, name)
}

// CountAgents returns the total number of registered agents.
func (s *SQLiteStore) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	return count, err
}

// CountAgentsByStatus returns registered agent counts grouped by status.
func (s *SQLiteStore) CountAgentsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM agents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// InsertMessage persists a message for its recipient and returns how many
// old entries were evicted. If the recipient's queue is at or above
// maxQueue, the oldest entries (by insertion order) are deleted first so at
// most maxQueue messages remain after the insert. The eviction and insert
// happen in one transaction so a concurrent poll never observes an
// over-full queue.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message, maxQueue int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var depth int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE to_agent = ?
	`, msg.To).Scan(&depth); err != nil {
		return 0, err
	}

	var evicted int64
	if excess := depth - maxQueue + 1; excess > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE seq IN (
				SELECT seq FROM messages WHERE to_agent = ? ORDER BY seq LIMIT ?
			)
		`, msg.To, excess)
		if err != nil {
			return 0, err
		}
		if evicted, err = res.RowsAffected(); err != nil {
			return 0, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, from_agent, to_agent, type, body, payload, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.From, msg.To, msg.Type, msg.Text, msg.Payload, msg.Signature, msg.CreatedAt.UTC()); err != nil {
		return 0, err
	}

	return evicted, tx.Commit()
}

// ListInbox returns up to limit pending messages for the recipient, oldest
// first (insertion order).
func (s *SQLiteStore) ListInbox(ctx context.Context, agent string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_agent, to_agent, type, body, payload, signature, created_at
		FROM messages WHERE to_agent = ? ORDER BY seq LIMIT ?
	`, agent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.From,
			&msg.To,
			&msg.Type,
			&msg.Text,
			&msg.Payload,
			&msg.Signature,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteMessages deletes the listed message ids scoped to the recipient's
// queue and returns the count actually deleted. Ids already gone are
// skipped, making acknowledgment safe to retry. Ids are deleted in chunks
// so an arbitrarily long ack stays under SQLite's host-parameter limit.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, agent string, ids []string) (int64, error) {
	const chunkSize = 500

	var deleted int64
	for start := 0; start < len(ids); start += chunkSize {
		chunk := ids[start:min(start+chunkSize, len(ids))]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(chunk)+1)
		args = append(args, agent)
		for _, id := range chunk {
			args = append(args, id)
		}

		res, err := s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE to_agent = ? AND id IN (`+placeholders+`)`, args...)
		if err != nil {
			return deleted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

// CountMessages returns the total number of queued messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// OldestMessageAt returns the creation time of the oldest queued message, or
// nil when no messages are queued.
func (s *SQLiteStore) OldestMessageAt(ctx context.Context) (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MIN(created_at) FROM messages`).Scan(&t)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	at := t.Time.UTC()
	return &at, nil
}

// RecordNonce records a nonce, returning ErrDuplicate if it was ever seen
// before. The primary key makes this an atomic insert-or-reject, so two
// concurrent sends with the same nonce cannot both pass.
func (s *SQLiteStore) RecordNonce(ctx context.Context, value string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nonces (value, seen_at) VALUES (?, ?)
	`, value, seenAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Cleanup purges messages and nonces older than their TTLs. Expired nonces
// no longer matter: any request carrying one is already outside the
// timestamp acceptance window.
func (s *SQLiteStore) Cleanup(ctx context.Context, messageTTL, nonceTTL time.Duration) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE created_at < ?`, now.Add(-messageTTL)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM nonces WHERE seen_at < ?`, now.Add(-nonceTTL))
	return err
}
