package verification

import (
	"context"
	"errors"
	"fmt"

	"token-ledger/internal/domain"
	"token-ledger/internal/eventlog"
	"token-ledger/internal/storage"
)

// ErrTokenNotFound is returned when the token id doesn't exist.
var ErrTokenNotFound = errors.New("token not found")

// ReplayVerifier implements Verifier over a storage backend.
type ReplayVerifier struct {
	backend storage.Backend
	events  *eventlog.Log
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(backend storage.Backend, events *eventlog.Log) *ReplayVerifier {
	return &ReplayVerifier{backend: backend, events: events}
}

// Compile-time interface check.
var _ Verifier = (*ReplayVerifier)(nil)

// VerifyAccount replays the account's entries oldest first: every running
// balance must be non-negative and match the entry, the final balance must
// match the account, and every entry must link to a stored event.
func (v *ReplayVerifier) VerifyAccount(ctx context.Context, userID int64) (*VerificationResult, error) {
	subject := fmt.Sprintf("account %d", userID)

	var stored int64
	account, err := v.backend.Accounts().Get(ctx, userID)
	switch {
	case err == nil:
		stored = account.Balance
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("get account: %w", err)
	}

	entries, err := v.backend.Accounts().Entries(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("get entries: %w", err)
	}

	var (
		divergences []FieldDivergence
		running     int64
	)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		running += e.Delta
		if running < 0 {
			divergences = append(divergences, FieldDivergence{
				Field: fmt.Sprintf("entry %d balance", e.EntryID), Expected: "non-negative", Actual: running,
			})
		}
		if e.BalanceAfter != running {
			divergences = append(divergences, FieldDivergence{
				Field: fmt.Sprintf("entry %d balance_after", e.EntryID), Expected: running, Actual: e.BalanceAfter,
			})
		}
		if _, err := v.backend.Events().GetByID(ctx, e.EventID); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("get event %d: %w", e.EventID, err)
			}
			divergences = append(divergences, FieldDivergence{
				Field: fmt.Sprintf("entry %d event", e.EntryID), Expected: e.EventID, Actual: nil,
			})
		}
	}

	if running != stored {
		divergences = append(divergences, FieldDivergence{Field: "balance", Expected: running, Actual: stored})
	}
	return result(subject, divergences), nil
}

// VerifyToken replays the token's history and compares the state it implies
// and the published details with the stored token.
func (v *ReplayVerifier) VerifyToken(ctx context.Context, tokenID int64) (*VerificationResult, error) {
	subject := fmt.Sprintf("token %d", tokenID)

	t, err := v.backend.Tokens().Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	history, err := v.events.ForToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	var divergences []FieldDivergence
	derived, err := DeriveTokenState(history)
	if err != nil {
		divergences = append(divergences, FieldDivergence{Field: "history", Expected: "valid transitions", Actual: err.Error()})
	} else if derived != t.State {
		divergences = append(divergences, FieldDivergence{Field: "state", Expected: derived, Actual: t.State})
	}

	if t.IsPending() != (t.PendingCommandID != nil) {
		divergences = append(divergences, FieldDivergence{
			Field: "pending_command_id", Expected: t.IsPending(), Actual: t.PendingCommandID != nil,
		})
	}

	if t.State == domain.TokenStatePublished {
		if issued, ok := lastIssued(history); ok && issued != t.IssuedTokens {
			divergences = append(divergences, FieldDivergence{Field: "issued_tokens", Expected: issued, Actual: t.IssuedTokens})
		}
	}
	return result(subject, divergences), nil
}

// VerifyAll checks event ids are strictly increasing, then verifies every
// account and token.
func (v *ReplayVerifier) VerifyAll(ctx context.Context) (*VerificationReport, error) {
	report := &VerificationReport{}
	add := func(r *VerificationResult) {
		if !r.Match {
			report.DivergentResults++
			report.Results = append(report.Results, *r)
		}
	}

	var since int64
	for {
		page, err := v.events.Scan(ctx, since, storage.MaxQueryLimit)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			if e.EventID <= since {
				add(result("event log", []FieldDivergence{{Field: "event_id", Expected: fmt.Sprintf("> %d", since), Actual: e.EventID}}))
			}
			since = e.EventID
		}
		report.EventsScanned += len(page)
		if len(page) < storage.MaxQueryLimit {
			break
		}
	}

	accounts, err := v.backend.Accounts().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	report.TotalAccounts = len(accounts)
	for _, a := range accounts {
		r, err := v.VerifyAccount(ctx, a.UserID)
		if err != nil {
			return nil, err
		}
		add(r)
	}

	tokens, err := v.backend.Tokens().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	report.TotalTokens = len(tokens)
	for _, t := range tokens {
		r, err := v.VerifyToken(ctx, t.TokenID)
		if err != nil {
			return nil, err
		}
		add(r)
	}

	return report, nil
}

func lastIssued(history []*domain.Event) (int64, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Type != domain.EventTokenPublished {
			continue
		}
		p, err := domain.DecodePayload(history[i])
		if err != nil {
			return 0, false
		}
		return p.(*domain.TokenPublished).IssuedTokens, true
	}
	return 0, false
}
