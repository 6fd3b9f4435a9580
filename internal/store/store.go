package store

import (
	"context"
	"errors"
	"time"

	"github.com/agentrelay/relay/internal/models"
)

var (
	// ErrNotFound is returned when an agent or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned on unique-constraint violations: a taken agent
	// name at registration, or a replayed nonce at send.
	ErrDuplicate = errors.New("duplicate")
	// ErrRevoked is returned when approving a revoked agent. Revocation is
	// terminal; there is no path back to active.
	ErrRevoked = errors.New("agent revoked")
)

// DataStore defines the interface for persistent storage of agents, messages
// and nonces. The relay process is the sole writer.
type DataStore interface {
	// Connection management
	Close() error
	Ping(ctx context.Context) error

	// Agent operations
	CreateAgent(ctx context.Context, name, publicKey, ownerEmail string, teams []string) (*models.Agent, error)
	GetAgent(ctx context.Context, name string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	ApproveAgent(ctx context.Context, name string) (*models.Agent, error)
	RevokeAgent(ctx context.Context, name string) (*models.Agent, error)
	CountAgents(ctx context.Context) (int64, error)
	CountAgentsByStatus(ctx context.Context) (map[string]int64, error)

	// Message operations. InsertMessage returns the number of messages
	// evicted to keep the recipient's queue at or below maxQueue.
	InsertMessage(ctx context.Context, msg *models.Message, maxQueue int) (int64, error)
	ListInbox(ctx context.Context, agent string, limit int) ([]models.Message, error)
	DeleteMessages(ctx context.Context, agent string, ids []string) (int64, error)
	CountMessages(ctx context.Context) (int64, error)
	OldestMessageAt(ctx context.Context) (*time.Time, error)

	// Nonce operations
	RecordNonce(ctx context.Context, value string, seenAt time.Time) error

	// Cleanup removes messages and nonces older than their TTLs.
	Cleanup(ctx context.Context, messageTTL, nonceTTL time.Duration) error
}
