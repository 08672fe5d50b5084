package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/access"
	"token-ledger/internal/chain/stub"
	"token-ledger/internal/dispatch"
	"token-ledger/internal/domain"
	"token-ledger/internal/eventlog"
	"token-ledger/internal/ledger"
	"token-ledger/internal/storage"
	"token-ledger/internal/storage/memory"
)

const (
	admin = int64(1)
	owner = int64(7)
)

type fixture struct {
	db        *memory.DB
	events    *eventlog.Log
	ledger    *ledger.Ledger
	queue     *dispatch.Queue
	machine   *Machine
	submitter *stub.Submitter
	worker    *dispatch.Worker
	now       time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{db: memory.NewDB(), now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.events = eventlog.New(f.db, eventlog.Options{})
	checker := access.NewChecker(f.db, f.events, nil)
	f.ledger = ledger.New(f.db, f.events, ledger.Options{Authorizer: checker})
	f.queue = dispatch.NewQueue(f.db, nil)

	var err error
	f.machine, err = New(Options{
		Backend: f.db,
		Events:  f.events,
		Queue:   f.queue,
		Pricing: ledger.DefaultPricing(50),
		Access:  checker,
		Now:     func() time.Time { return f.now },
	})
	require.NoError(t, err)

	f.submitter = stub.NewSubmitter()
	f.worker = dispatch.NewWorker(f.queue, f.submitter, f.machine, dispatch.WorkerOptions{})

	require.NoError(t, f.db.Grants().Put(ctx, admin, domain.Grants{Administrator: true}))
	require.NoError(t, f.db.Grants().Put(ctx, owner, domain.Grants{Capabilities: []domain.Capability{domain.CapLaunchICO}}))
	return f
}

func (f *fixture) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := f.ledger.Issue(context.Background(), admin, userID, amount, "")
	require.NoError(t, err)
}

func (f *fixture) token(t *testing.T) *domain.Token {
	t.Helper()
	tok, err := f.machine.CreateToken(context.Background(), owner, "ABC1", "", 1000)
	require.NoError(t, err)
	return tok
}

func (f *fixture) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) state(t *testing.T, tokenID int64) *domain.Token {
	t.Helper()
	tok, err := f.machine.Get(context.Background(), tokenID)
	require.NoError(t, err)
	return tok
}

func (f *fixture) history(t *testing.T, tokenID int64) []domain.EventType {
	t.Helper()
	events, err := f.events.ForToken(context.Background(), tokenID)
	require.NoError(t, err)
	types := make([]domain.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestCreateToken_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		token   string
		symbol  string
		supply  int64
		wantErr bool
	}{
		{"too short", "ab", "", 1000, true},
		{"not alphanumeric", "Token_123", "", 1000, true},
		{"valid", "ValidName1", "", 1000, false},
		{"valid with symbol", "ValidName2", "VN2", 1000, false},
		{"symbol too long", "ValidName3", "toolong1", 1000, true},
		{"lowercase symbol", "ValidName4", "abc", 1000, true},
		{"zero supply", "ValidName5", "", 0, true},
		{"seventeen digit supply", "ValidName6", "", 10_000_000_000_000_000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := f.machine.CreateToken(ctx, owner, tt.token, tt.symbol, tt.supply)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.TokenStateDraft, tok.State)
			if tt.symbol == "" {
				assert.Nil(t, tok.Symbol)
			} else {
				assert.Equal(t, tt.symbol, *tok.Symbol)
			}
		})
	}

	n, err := f.events.Count(ctx, domain.EventTokenDrafted, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCreateToken_RequiresLaunchICO(t *testing.T) {
	f := setup(t)

	_, err := f.machine.CreateToken(context.Background(), 99, "ABC1", "", 1000)
	assert.ErrorIs(t, err, domain.ErrAuthorization)
}

func TestRequestPublish_InsufficientFunds(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 40)

	_, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	var insufficient *domain.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(40), insufficient.Balance)
	assert.Equal(t, int64(50), insufficient.Price)

	assert.Equal(t, int64(40), f.balance(t, owner))
	assert.Equal(t, domain.TokenStateDraft, f.state(t, tok.TokenID).State)
	assert.Equal(t, []domain.EventType{domain.EventTokenDrafted}, f.history(t, tok.TokenID))

	_, err = f.queue.ActiveForToken(ctx, tok.TokenID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestPublish_Success(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 100)

	res, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CommandID)
	assert.Equal(t, int64(50), res.Price)
	assert.False(t, res.Replayed)

	intent, err := f.events.Get(ctx, res.IntentEventID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventPublishRequested, intent.Type)
	require.NotNil(t, intent.TokenID)
	assert.Equal(t, tok.TokenID, *intent.TokenID)

	assert.Equal(t, int64(50), f.balance(t, owner))

	got := f.state(t, tok.TokenID)
	assert.Equal(t, domain.TokenStatePendingPublish, got.State)
	require.NotNil(t, got.PendingCommandID)
	assert.Equal(t, res.CommandID, *got.PendingCommandID)

	cmd, err := f.queue.ActiveForToken(ctx, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, res.CommandID, cmd.CommandID)
	assert.Equal(t, domain.CommandQueued, cmd.Status)

	var payload domain.PublishCommand
	require.NoError(t, domain.DecodeCommandPayload(cmd, &payload))
	assert.Equal(t, res.IntentEventID, payload.IntentEventID)
	assert.Equal(t, int64(1000), payload.TotalSupply)

	entries, err := f.ledger.Entries(ctx, owner, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-50), entries[0].Delta)
	assert.Equal(t, res.IntentEventID, entries[0].EventID)
}

func TestRequestPublish_NotDraftIsRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 200)

	_, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
	require.NoError(t, err)

	_, err = f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, int64(150), f.balance(t, owner))
	n, err := f.events.Count(ctx, domain.EventPublishRequested, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRequestPublish_ConcurrentRequestsPublishOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 100)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []*Result
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInvalidState)
				rejected++
				return
			}
			accepted = append(accepted, res)
		}()
	}
	wg.Wait()

	require.Len(t, accepted, 1)
	assert.Equal(t, callers-1, rejected)
	assert.Equal(t, int64(50), f.balance(t, owner))

	cmd, err := f.queue.ActiveForToken(ctx, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, accepted[0].CommandID, cmd.CommandID)

	claimed, err := f.queue.Claim(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestRequestPublish_Authorization(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)

	const manager, stranger = int64(8), int64(9)
	require.NoError(t, f.db.Grants().Put(ctx, manager, domain.Grants{
		Capabilities: []domain.Capability{domain.CapLaunchICO},
		Tokens:       map[int64]domain.TokenRole{tok.TokenID: domain.TokenRoleManagement},
	}))
	require.NoError(t, f.db.Grants().Put(ctx, stranger, domain.Grants{
		Capabilities: []domain.Capability{domain.CapLaunchICO},
	}))
	f.fund(t, manager, 60)
	f.fund(t, stranger, 60)

	_, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: stranger})
	require.ErrorIs(t, err, domain.ErrAuthorization)
	assert.Equal(t, int64(60), f.balance(t, stranger))

	_, err = f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: manager})
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.balance(t, manager))

	_, err = f.machine.RequestPublish(ctx, Request{TokenID: 404, RequesterID: owner})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestPublish_RoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 100)

	res, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
	require.NoError(t, err)

	n, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.state(t, tok.TokenID)
	assert.Equal(t, domain.TokenStatePublished, got.State)
	assert.Equal(t, int64(1000), got.IssuedTokens)
	require.NotNil(t, got.PublishedAt)
	assert.Nil(t, got.PendingCommandID)
	assert.NotNil(t, got.ContractAddress)

	assert.Equal(t, []domain.EventType{
		domain.EventTokenDrafted,
		domain.EventPublishRequested,
		domain.EventTokenPublished,
	}, f.history(t, tok.TokenID))

	cmd, err := f.queue.Get(ctx, res.CommandID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommandConfirmed, cmd.Status)
	assert.Equal(t, int64(50), f.balance(t, owner))

	_, err = f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestHandleOutcome_DuplicateIsNoop(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 100)

	res, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
	require.NoError(t, err)

	confirmed := &domain.Outcome{CommandID: res.CommandID, Status: domain.CommandConfirmed, IssuedTokens: 1000}
	require.NoError(t, f.machine.HandleOutcome(ctx, confirmed))
	require.NoError(t, f.machine.HandleOutcome(ctx, confirmed))
	require.NoError(t, f.machine.HandleOutcome(ctx, &domain.Outcome{CommandID: res.CommandID, Status: domain.CommandFailed}))

	assert.Equal(t, domain.TokenStatePublished, f.state(t, tok.TokenID).State)
	assert.Equal(t, int64(50), f.balance(t, owner))
	n, err := f.events.Count(ctx, domain.EventTokenPublished, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = f.machine.HandleOutcome(ctx, &domain.Outcome{CommandID: "nope", Status: domain.CommandConfirmed})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = f.machine.HandleOutcome(ctx, &domain.Outcome{CommandID: res.CommandID, Status: domain.CommandQueued})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFailedPublish_RefundAndReset(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 100)
	f.submitter.FailToken(tok.TokenID, "out of gas")

	res, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
	require.NoError(t, err)
	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)

	got := f.state(t, tok.TokenID)
	assert.Equal(t, domain.TokenStateFailed, got.State)
	require.NotNil(t, got.RefundEventID)
	assert.Equal(t, int64(100), f.balance(t, owner))

	cmd, err := f.queue.Get(ctx, res.CommandID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommandFailed, cmd.Status)
	require.NotNil(t, cmd.LastError)
	assert.Equal(t, "out of gas", *cmd.LastError)

	entries, err := f.ledger.Entries(ctx, owner, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonRefund, entries[0].Reason)
	assert.Equal(t, *got.RefundEventID, entries[0].EventID)

	_, err = f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.machine.ResetFailed(ctx, 99, tok.TokenID)
	require.ErrorIs(t, err, domain.ErrAuthorization)

	reset, err := f.machine.ResetFailed(ctx, owner, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenStateDraft, reset.State)
	assert.Nil(t, reset.RefundEventID)

	_, err = f.machine.ResetFailed(ctx, owner, tok.TokenID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, []domain.EventType{
		domain.EventTokenDrafted,
		domain.EventPublishRequested,
		domain.EventPublishFailed,
		domain.EventTokenReset,
	}, f.history(t, tok.TokenID))

	// A reset token can be published again.
	f.submitter = stub.NewSubmitter()
	f.worker = dispatch.NewWorker(f.queue, f.submitter, f.machine, dispatch.WorkerOptions{})
	_, err = f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
	require.NoError(t, err)
	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenStatePublished, f.state(t, tok.TokenID).State)
	assert.Equal(t, int64(50), f.balance(t, owner))
}

func TestRequestPublish_EnqueueFailureCompensates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 100)

	f.db.InjectFault("commands.insert", errors.New("queue unavailable"))
	_, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, domain.ErrStorage)

	assert.Equal(t, int64(100), f.balance(t, owner))
	got := f.state(t, tok.TokenID)
	assert.Equal(t, domain.TokenStateDraft, got.State)
	assert.Nil(t, got.PendingCommandID)

	assert.Equal(t, []domain.EventType{
		domain.EventTokenDrafted,
		domain.EventPublishRequested,
		domain.EventPublishAborted,
	}, f.history(t, tok.TokenID))

	entries, err := f.ledger.Entries(ctx, owner, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(50), entries[0].Delta)
	assert.Equal(t, domain.ReasonRefund, entries[0].Reason)
	assert.Equal(t, int64(-50), entries[1].Delta)

	// The key was released, so a retry is a fresh attempt.
	res, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(50), f.balance(t, owner))
}

// cancelingQueue cancels the request context and then fails, like a client
// that disconnects while the command is being enqueued.
type cancelingQueue struct {
	cancel context.CancelFunc
}

func (q *cancelingQueue) Enqueue(ctx context.Context, _ *domain.Command) (string, error) {
	q.cancel()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", domain.NewStorageError("insert command", errors.New("queue unavailable"))
}

func TestRequestPublish_CompensatesAfterCallerCancels(t *testing.T) {
	f := setup(t)
	tok := f.token(t)
	f.fund(t, owner, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := access.NewChecker(f.db, f.events, nil)
	machine, err := New(Options{
		Backend: f.db,
		Events:  f.events,
		Queue:   &cancelingQueue{cancel: cancel},
		Pricing: ledger.DefaultPricing(50),
		Access:  checker,
		Now:     func() time.Time { return f.now },
	})
	require.NoError(t, err)

	_, err = machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, domain.ErrStorage)
	require.Error(t, ctx.Err())

	assert.Equal(t, int64(100), f.balance(t, owner))
	got := f.state(t, tok.TokenID)
	assert.Equal(t, domain.TokenStateDraft, got.State)
	assert.Nil(t, got.PendingCommandID)
	assert.Equal(t, []domain.EventType{
		domain.EventTokenDrafted,
		domain.EventPublishRequested,
		domain.EventPublishAborted,
	}, f.history(t, tok.TokenID))

	// The token is free for a new attempt with a new key.
	res, err := f.machine.RequestPublish(context.Background(), Request{TokenID: tok.TokenID, RequesterID: owner, IdempotencyKey: "k2"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(50), f.balance(t, owner))
}

func TestRequestPublish_RetryRequeuesMissingCommand(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 100)

	// Both the enqueue and its compensation fail.
	f.db.InjectFault("commands.insert", errors.New("queue unavailable"))
	f.db.InjectFault("idempotency.delete", errors.New("connection lost"))
	_, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, domain.ErrStorage)

	got := f.state(t, tok.TokenID)
	assert.Equal(t, domain.TokenStatePendingPublish, got.State)
	assert.Equal(t, int64(50), f.balance(t, owner))
	_, err = f.queue.ActiveForToken(ctx, tok.TokenID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	res, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, *got.PendingCommandID, res.CommandID)

	cmd, err := f.queue.ActiveForToken(ctx, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, res.CommandID, cmd.CommandID)
	assert.Equal(t, int64(50), f.balance(t, owner))
}

func TestRequestPublish_IdempotentRetry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	other, err := f.machine.CreateToken(ctx, owner, "XYZ9", "XYZ", 5)
	require.NoError(t, err)
	f.fund(t, owner, 100)

	first, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner, IdempotencyKey: "k1"})
	require.NoError(t, err)

	second, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.CommandID, second.CommandID)
	assert.Equal(t, first.IntentEventID, second.IntentEventID)
	assert.Equal(t, first.Price, second.Price)
	assert.Equal(t, int64(50), f.balance(t, owner))

	_, err = f.machine.RequestPublish(ctx, Request{TokenID: other.TokenID, RequesterID: owner, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, domain.ErrIdempotencyMismatch)
	assert.Equal(t, domain.TokenStateDraft, f.state(t, other.TokenID).State)
	assert.Equal(t, int64(50), f.balance(t, owner))
}

func TestReconciler_ExpiresStalePublishes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 100)

	res, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner})
	require.NoError(t, err)
	f.submitter.SetAsync(true)
	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)

	r := NewReconciler(f.machine, ReconcilerOptions{Deadline: 30 * time.Minute})

	n, err := r.Sweep(ctx, f.now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.TokenStatePendingPublish, f.state(t, tok.TokenID).State)

	n, err = r.Sweep(ctx, f.now.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.state(t, tok.TokenID)
	assert.Equal(t, domain.TokenStateFailed, got.State)
	require.NotNil(t, got.RefundEventID)
	assert.Equal(t, int64(100), f.balance(t, owner))

	cmd, err := f.queue.Get(ctx, res.CommandID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommandFailed, cmd.Status)

	expired, err := f.events.Get(ctx, *got.RefundEventID)
	require.NoError(t, err)
	p, err := domain.DecodePayload(expired)
	require.NoError(t, err)
	assert.Equal(t, int64(31*time.Minute/time.Millisecond), p.(*domain.PublishExpired).PendingMs)

	// A late confirmation for the expired command changes nothing.
	require.NoError(t, f.machine.HandleOutcome(ctx, &domain.Outcome{CommandID: res.CommandID, Status: domain.CommandConfirmed}))
	assert.Equal(t, domain.TokenStateFailed, f.state(t, tok.TokenID).State)

	n, err = r.Sweep(ctx, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.machine.ResetFailed(ctx, owner, tok.TokenID)
	require.NoError(t, err)
}

func TestReconciler_RefundsPublishWithoutCommand(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t)
	f.fund(t, owner, 100)

	f.db.InjectFault("commands.insert", errors.New("queue unavailable"))
	f.db.InjectFault("idempotency.delete", errors.New("connection lost"))
	_, err := f.machine.RequestPublish(ctx, Request{TokenID: tok.TokenID, RequesterID: owner, IdempotencyKey: "k1"})
	require.Error(t, err)
	assert.Equal(t, int64(50), f.balance(t, owner))

	n, err := NewReconciler(f.machine, ReconcilerOptions{}).Sweep(ctx, f.now.Add(DefaultDeadline+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(100), f.balance(t, owner))
	assert.Equal(t, domain.TokenStateFailed, f.state(t, tok.TokenID).State)

	events, err := f.events.Query(ctx, storage.EventFilter{Types: []domain.EventType{domain.EventPublishExpired}})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestListOwned(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first := f.token(t)
	second, err := f.machine.CreateToken(ctx, owner, "ABC2", "", 10)
	require.NoError(t, err)

	tokens, err := f.machine.ListOwned(ctx, owner)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, second.TokenID, tokens[0].TokenID)
	assert.Equal(t, first.TokenID, tokens[1].TokenID)

	_, err = f.machine.Get(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
