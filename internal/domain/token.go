package domain

import "time"

// TokenState is the publish lifecycle state of a token.
type TokenState string

const (
	TokenStateDraft          TokenState = "DRAFT"
	TokenStatePendingPublish TokenState = "PENDING_PUBLISH"
	TokenStatePublished      TokenState = "PUBLISHED"
	TokenStateFailed         TokenState = "FAILED"
)

// transitions lists every allowed state change. Anything else is rejected.
var transitions = map[TokenState][]TokenState{
	TokenStateDraft:          {TokenStatePendingPublish},
	TokenStatePendingPublish: {TokenStatePublished, TokenStateFailed, TokenStateDraft},
	TokenStateFailed:         {TokenStateDraft},
}

// CanTransition reports whether a token may move from one state to another.
// PendingPublish -> Draft is only used when the enqueue of the publish
// command failed and the debit was compensated.
func CanTransition(from, to TokenState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Token is an ERC20 token definition owned by a platform user.
// Corresponds to the tokens table in PostgreSQL.
type Token struct {
	TokenID     int64      // PRIMARY KEY
	OwnerID     int64      // user that created the token
	Name        string     // 4-36 alphanumeric
	Symbol      *string    // 1-5 uppercase alphanumeric, nil when absent
	TotalSupply int64      // positive, at most 16 digits
	State       TokenState // lifecycle state

	// PendingCommandID is the materialized pending-publish flag: set while the
	// token is PendingPublish, nil otherwise.
	PendingCommandID *string
	IntentEventID    *int64     // event that opened the current publish attempt
	RequestedAt      *time.Time // when the current publish attempt started
	RefundEventID    *int64     // event of the compensating credit after a failure

	PublishedAt     *time.Time
	IssuedTokens    int64
	ContractAddress *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPending reports whether a publish is in flight for the token.
func (t *Token) IsPending() bool {
	return t.State == TokenStatePendingPublish
}

// SymbolOrEmpty returns the symbol or "" when the token has none.
func (t *Token) SymbolOrEmpty() string {
	if t.Symbol == nil {
		return ""
	}
	return *t.Symbol
}

// Clone returns a deep copy of the token.
func (t *Token) Clone() *Token {
	c := *t
	c.Symbol = clonePtr(t.Symbol)
	c.PendingCommandID = clonePtr(t.PendingCommandID)
	c.IntentEventID = clonePtr(t.IntentEventID)
	c.RequestedAt = clonePtr(t.RequestedAt)
	c.RefundEventID = clonePtr(t.RefundEventID)
	c.PublishedAt = clonePtr(t.PublishedAt)
	c.ContractAddress = clonePtr(t.ContractAddress)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
