package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/chain/stub"
	"token-ledger/internal/domain"
	"token-ledger/internal/storage/memory"
)

func command(t *testing.T, id string, tokenID int64) *domain.Command {
	t.Helper()
	c, err := domain.NewPublishCommand(id, &domain.PublishCommand{
		TokenID: tokenID, OwnerID: 1, Name: "ABC1", TotalSupply: 1000, IntentEventID: 1,
	})
	require.NoError(t, err)
	return c
}

func TestQueue_EnqueueIsIdempotent(t *testing.T) {
	q := NewQueue(memory.NewDB(), nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, command(t, "cmd-1", 1))
	require.NoError(t, err)
	assert.Equal(t, "cmd-1", id)

	id, err = q.Enqueue(ctx, command(t, "cmd-1", 1))
	require.NoError(t, err)
	assert.Equal(t, "cmd-1", id)

	c, err := q.ActiveForToken(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.CommandQueued, c.Status)
}

func TestQueue_OneActiveCommandPerToken(t *testing.T) {
	q := NewQueue(memory.NewDB(), nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, command(t, "cmd-1", 1))
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, command(t, "cmd-2", 1))
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = q.Get(ctx, "cmd-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueue_EnqueueStorageFailure(t *testing.T) {
	db := memory.NewDB()
	q := NewQueue(db, nil)
	ctx := context.Background()

	db.InjectFault("commands.insert", errors.New("connection reset"))
	_, err := q.Enqueue(ctx, command(t, "cmd-1", 1))
	assert.ErrorIs(t, err, domain.ErrStorage)

	_, err = q.Get(ctx, "cmd-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueue_ClaimFIFO(t *testing.T) {
	q := NewQueue(memory.NewDB(), nil)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, command(t, id, int64(i+1)))
		require.NoError(t, err)
	}

	claimed, err := q.Claim(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "a", claimed[0].CommandID)
	assert.Equal(t, "b", claimed[1].CommandID)
	assert.Equal(t, domain.CommandDispatched, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)

	claimed, err = q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "c", claimed[0].CommandID)
}

type outcomes struct {
	mu   sync.Mutex
	seen []*domain.Outcome
	err  error
}

func (o *outcomes) HandleOutcome(_ context.Context, out *domain.Outcome) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, out)
	return o.err
}

func TestWorker_RunOnce(t *testing.T) {
	q := NewQueue(memory.NewDB(), nil)
	ctx := context.Background()

	for i, id := range []string{"ok", "fail", "broken"} {
		_, err := q.Enqueue(ctx, command(t, id, int64(i+1)))
		require.NoError(t, err)
	}

	submitter := stub.NewSubmitter()
	submitter.FailToken(2, "reverted")
	submitter.ErrorToken(3, errors.New("executor unreachable"))
	handler := &outcomes{}

	w := NewWorker(q, submitter, handler, WorkerOptions{BatchSize: 10})
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, submitter.Submitted(), 3)

	require.Len(t, handler.seen, 3)
	assert.Equal(t, domain.CommandConfirmed, handler.seen[0].Status)
	assert.Equal(t, int64(1000), handler.seen[0].IssuedTokens)
	assert.Equal(t, domain.CommandFailed, handler.seen[1].Status)
	assert.Equal(t, "reverted", handler.seen[1].Reason)
	assert.Equal(t, domain.CommandFailed, handler.seen[2].Status)
	assert.Equal(t, "executor unreachable", handler.seen[2].Reason)

	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorker_AsyncSubmitLeavesCommandDispatched(t *testing.T) {
	q := NewQueue(memory.NewDB(), nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, command(t, "cmd-1", 1))
	require.NoError(t, err)

	submitter := stub.NewSubmitter()
	submitter.SetAsync(true)
	handler := &outcomes{}

	_, err = NewWorker(q, submitter, handler, WorkerOptions{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, handler.seen)

	c, err := q.Get(ctx, "cmd-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CommandDispatched, c.Status)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	q := NewQueue(memory.NewDB(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWorker(q, stub.NewSubmitter(), &outcomes{}, WorkerOptions{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
