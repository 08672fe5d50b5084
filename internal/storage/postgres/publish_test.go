package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/access"
	"token-ledger/internal/dispatch"
	"token-ledger/internal/domain"
	"token-ledger/internal/eventlog"
	"token-ledger/internal/ledger"
	"token-ledger/internal/publish"
)

type publishServices struct {
	db      *DB
	ledger  *ledger.Ledger
	queue   *dispatch.Queue
	machine *publish.Machine
}

func newPublishServices(t *testing.T, pool *Pool) *publishServices {
	t.Helper()
	ctx := context.Background()

	db := NewDB(pool)
	events := eventlog.New(db, eventlog.Options{})
	checker := access.NewChecker(db, events, nil)
	s := &publishServices{
		db:     db,
		ledger: ledger.New(db, events, ledger.Options{Authorizer: checker}),
		queue:  dispatch.NewQueue(db, nil),
	}

	var err error
	s.machine, err = publish.New(publish.Options{
		Backend: db,
		Events:  events,
		Queue:   s.queue,
		Pricing: ledger.DefaultPricing(50),
		Access:  checker,
	})
	require.NoError(t, err)

	require.NoError(t, db.Grants().Put(ctx, 1, domain.Grants{Administrator: true}))
	require.NoError(t, db.Grants().Put(ctx, 7, domain.Grants{Capabilities: []domain.Capability{domain.CapLaunchICO}}))
	return s
}

// requestConcurrently fires one publish request per token id at once.
func (s *publishServices) requestConcurrently(tokenIDs []int64) ([]*publish.Result, []error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []*publish.Result
		failed   []error
	)
	for _, id := range tokenIDs {
		wg.Add(1)
		go func(tokenID int64) {
			defer wg.Done()
			res, err := s.machine.RequestPublish(context.Background(), publish.Request{TokenID: tokenID, RequesterID: 7})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, err)
				return
			}
			accepted = append(accepted, res)
		}(id)
	}
	wg.Wait()
	return accepted, failed
}

func TestRequestPublish_ConcurrentSameToken(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := newPublishServices(t, pool)
	ctx := context.Background()

	tok, err := s.machine.CreateToken(ctx, 7, "ABC1", "", 1000)
	require.NoError(t, err)
	_, err = s.ledger.Issue(ctx, 1, 7, 100, "")
	require.NoError(t, err)

	const callers = 8
	ids := make([]int64, callers)
	for i := range ids {
		ids[i] = tok.TokenID
	}
	accepted, failed := s.requestConcurrently(ids)

	require.Len(t, accepted, 1)
	require.Len(t, failed, callers-1)
	for _, err := range failed {
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	}

	balance, err := s.ledger.Balance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	cmd, err := s.queue.ActiveForToken(ctx, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, accepted[0].CommandID, cmd.CommandID)

	got, err := s.machine.Get(ctx, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenStatePendingPublish, got.State)
	require.NotNil(t, got.PendingCommandID)
	assert.Equal(t, cmd.CommandID, *got.PendingCommandID)
}

func TestRequestPublish_ConcurrentTokensShareOneBalance(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := newPublishServices(t, pool)
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"ABC1", "ABC2", "ABC3", "ABC4"} {
		tok, err := s.machine.CreateToken(ctx, 7, name, "", 1000)
		require.NoError(t, err)
		ids = append(ids, tok.TokenID)
	}
	_, err := s.ledger.Issue(ctx, 1, 7, 100, "")
	require.NoError(t, err)

	accepted, failed := s.requestConcurrently(ids)

	require.Len(t, accepted, 2)
	require.Len(t, failed, 2)
	for _, err := range failed {
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	}

	balance, err := s.ledger.Balance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	claimed, err := s.queue.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}
