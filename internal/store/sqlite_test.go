package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/relay/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testMessage(id, from, to string) *models.Message {
	return &models.Message{
		ID:        id,
		From:      from,
		To:        to,
		Type:      "chat",
		Text:      "hello",
		Payload:   `{"from":"` + from + `"}`,
		Signature: "c2ln",
		CreatedAt: time.Now(),
	}
}

func TestCreateAndGetAgent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent, err := st.CreateAgent(ctx, "alice", "cHVibGljLWtleQ==", "alice@example.com", []string{"ops"})
	require.NoError(t, err)
	assert.Equal(t, "alice", agent.Name)
	assert.Equal(t, models.StatusPending, agent.Status)
	assert.Equal(t, []string{"ops"}, agent.Teams)
	assert.Nil(t, agent.ApprovedAt)

	got, err := st.GetAgent(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cHVibGljLWtleQ==", got.PublicKey)
}

func TestGetAgentUnknownReturnsNil(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetAgent(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateAgentDuplicateName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateAgent(ctx, "alice", "a2V5LTE=", "", nil)
	require.NoError(t, err)

	// The conflict holds regardless of the public key supplied.
	_, err = st.CreateAgent(ctx, "alice", "a2V5LTI=", "", nil)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestApproveAgentLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateAgent(ctx, "alice", "a2V5", "", nil)
	require.NoError(t, err)

	agent, err := st.ApproveAgent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, agent.Status)
	require.NotNil(t, agent.ApprovedAt)
	firstApproval := *agent.ApprovedAt

	// Idempotent: a second approve keeps the original approval time.
	agent, err = st.ApproveAgent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, agent.Status)
	assert.Equal(t, firstApproval, *agent.ApprovedAt)

	_, err = st.ApproveAgent(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeAgentIsTerminal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateAgent(ctx, "alice", "a2V5", "", nil)
	require.NoError(t, err)
	_, err = st.ApproveAgent(ctx, "alice")
	require.NoError(t, err)

	agent, err := st.RevokeAgent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, agent.Status)

	// No path back to active.
	_, err = st.ApproveAgent(ctx, "alice")
	assert.ErrorIs(t, err, ErrRevoked)

	got, err := st.GetAgent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, got.Status)

	_, err = st.RevokeAgent(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAgentsAndCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := st.CreateAgent(ctx, name, "a2V5", "", nil)
		require.NoError(t, err)
	}
	_, err := st.ApproveAgent(ctx, "alice")
	require.NoError(t, err)

	agents, err := st.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 3)

	count, err := st.CountAgents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	byStatus, err := st.CountAgentsByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, byStatus[models.StatusActive])
	assert.EqualValues(t, 2, byStatus[models.StatusPending])
}

func TestRecordNonceRejectsReplay(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordNonce(ctx, "n1", time.Now()))
	assert.ErrorIs(t, st.RecordNonce(ctx, "n1", time.Now()), ErrDuplicate)
	require.NoError(t, st.RecordNonce(ctx, "n2", time.Now()))
}

func TestInboxOrderAndLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := st.InsertMessage(ctx, testMessage(fmt.Sprintf("m%d", i), "alice", "bob"), 100)
		require.NoError(t, err)
	}

	// Oldest first, in insertion order.
	messages, err := st.ListInbox(ctx, "bob", 50)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.ID)
	}

	// Limit applies from the oldest end.
	messages, err = st.ListInbox(ctx, "bob", 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m0", messages[0].ID)
	assert.Equal(t, "m1", messages[1].ID)

	// Another recipient's queue is untouched.
	messages, err = st.ListInbox(ctx, "carol", 50)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestQueueCapEvictsOldestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	const capacity = 100
	for i := 0; i < capacity; i++ {
		evicted, err := st.InsertMessage(ctx, testMessage(fmt.Sprintf("m%d", i), "alice", "bob"), capacity)
		require.NoError(t, err)
		assert.Zero(t, evicted)
	}

	// The 101st insert evicts exactly the oldest entry.
	evicted, err := st.InsertMessage(ctx, testMessage("m100", "alice", "bob"), capacity)
	require.NoError(t, err)
	assert.EqualValues(t, 1, evicted)

	messages, err := st.ListInbox(ctx, "bob", capacity+10)
	require.NoError(t, err)
	require.Len(t, messages, capacity)
	assert.Equal(t, "m1", messages[0].ID, "oldest survivor")
	assert.Equal(t, "m100", messages[capacity-1].ID, "newest at the tail")

	// Survivors keep their relative order.
	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("m%d", i+1), msg.ID)
	}
}

func TestDeleteMessagesScopedToRecipient(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.InsertMessage(ctx, testMessage("m1", "alice", "bob"), 100)
	require.NoError(t, err)
	_, err = st.InsertMessage(ctx, testMessage("m2", "alice", "bob"), 100)
	require.NoError(t, err)
	_, err = st.InsertMessage(ctx, testMessage("m3", "alice", "carol"), 100)
	require.NoError(t, err)

	// Deleting bob's ids from carol's queue removes nothing.
	deleted, err := st.DeleteMessages(ctx, "carol", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = st.DeleteMessages(ctx, "bob", []string{"m1", "m2", "m9"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	// Idempotent retry.
	deleted, err = st.DeleteMessages(ctx, "bob", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = st.DeleteMessages(ctx, "bob", nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	count, err := st.CountMessages(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDeleteMessagesLargeAck(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Well past any single-statement placeholder budget.
	const total = 1100
	ids := make([]string, 0, total+5)
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("m%04d", i)
		_, err := st.InsertMessage(ctx, testMessage(id, "alice", "bob"), total)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 0; i < 5; i++ {
		ids = append(ids, fmt.Sprintf("gone%d", i))
	}

	deleted, err := st.DeleteMessages(ctx, "bob", ids)
	require.NoError(t, err)
	assert.EqualValues(t, total, deleted)

	count, err := st.CountMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCleanupPurgesExpired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := testMessage("old", "alice", "bob")
	old.CreatedAt = time.Now().Add(-8 * 24 * time.Hour)
	_, err := st.InsertMessage(ctx, old, 100)
	require.NoError(t, err)
	_, err = st.InsertMessage(ctx, testMessage("fresh", "alice", "bob"), 100)
	require.NoError(t, err)

	require.NoError(t, st.RecordNonce(ctx, "stale", time.Now().Add(-10*time.Minute)))
	require.NoError(t, st.RecordNonce(ctx, "recent", time.Now()))

	require.NoError(t, st.Cleanup(ctx, 7*24*time.Hour, 5*time.Minute))

	messages, err := st.ListInbox(ctx, "bob", 50)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "fresh", messages[0].ID)

	// The purged nonce value is usable again; the recent one is not.
	require.NoError(t, st.RecordNonce(ctx, "stale", time.Now()))
	assert.ErrorIs(t, st.RecordNonce(ctx, "recent", time.Now()), ErrDuplicate)
}

func TestOldestMessageAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	at, err := st.OldestMessageAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, at)

	msg := testMessage("m1", "alice", "bob")
	msg.CreatedAt = time.Now().Add(-time.Hour)
	_, err = st.InsertMessage(ctx, msg, 100)
	require.NoError(t, err)
	_, err = st.InsertMessage(ctx, testMessage("m2", "alice", "bob"), 100)
	require.NoError(t, err)

	at, err = st.OldestMessageAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), *at, 5*time.Second)
}
