// Package verification replays the event log and the ledger and checks the
// stored balances and token states against what they imply.
package verification

import (
	"context"
	"fmt"

	"token-ledger/internal/domain"
)

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string // field name
	Expected any    // replayed value
	Actual   any    // stored value
}

// VerificationResult is the outcome of verifying one account or token.
type VerificationResult struct {
	Subject     string            // "account 7", "token 3"
	Match       bool              // true if all fields match
	Divergences []FieldDivergence // list of divergent fields
}

// VerificationReport contains results for a full verification run.
type VerificationReport struct {
	EventsScanned    int
	TotalAccounts    int
	TotalTokens      int
	DivergentResults int
	Results          []VerificationResult // only divergent results
}

// OK reports whether nothing diverged.
func (r *VerificationReport) OK() bool {
	return r.DivergentResults == 0
}

// Verifier checks derived state against the log.
type Verifier interface {
	// VerifyAccount replays one account's ledger entries.
	VerifyAccount(ctx context.Context, userID int64) (*VerificationResult, error)

	// VerifyToken replays one token's events.
	VerifyToken(ctx context.Context, tokenID int64) (*VerificationResult, error)

	// VerifyAll verifies the event log order, every account and every token.
	VerifyAll(ctx context.Context) (*VerificationReport, error)
}

// DeriveTokenState folds a token's events, oldest first, into the state they
// imply. Returns an error when an event is not allowed in the state reached
// so far.
func DeriveTokenState(events []*domain.Event) (domain.TokenState, error) {
	var state domain.TokenState
	for _, e := range events {
		next, ok := stateAfter(e.Type)
		if !ok {
			continue
		}
		if state == "" {
			if e.Type != domain.EventTokenDrafted {
				return "", fmt.Errorf("event %d: %s before the token was drafted", e.EventID, e.Type)
			}
		} else if !domain.CanTransition(state, next) {
			return "", fmt.Errorf("event %d: %s not allowed in state %s", e.EventID, e.Type, state)
		}
		state = next
	}
	return state, nil
}

func stateAfter(t domain.EventType) (domain.TokenState, bool) {
	switch t {
	case domain.EventTokenDrafted, domain.EventPublishAborted, domain.EventTokenReset:
		return domain.TokenStateDraft, true
	case domain.EventPublishRequested:
		return domain.TokenStatePendingPublish, true
	case domain.EventTokenPublished:
		return domain.TokenStatePublished, true
	case domain.EventPublishFailed, domain.EventPublishExpired:
		return domain.TokenStateFailed, true
	}
	return "", false
}

func result(subject string, divergences []FieldDivergence) *VerificationResult {
	return &VerificationResult{Subject: subject, Match: len(divergences) == 0, Divergences: divergences}
}
