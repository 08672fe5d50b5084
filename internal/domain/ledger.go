package domain

import "time"

// Ledger entry reasons.
const (
	ReasonERC20Publish = "erc20_publish"
	ReasonRefund       = "refund"
	ReasonIssue        = "issue"
	ReasonPurchase     = "purchase"
)

// ActionERC20Publish is the priced action of publishing a token.
const ActionERC20Publish = "erc20_publish"

// CreditsAccount holds a user's spendable balance. Balance is never negative.
type CreditsAccount struct {
	UserID    int64
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerEntry is one signed balance change. Entries are append-only.
// The sum of an account's deltas equals its balance.
type LedgerEntry struct {
	EntryID      int64  // assigned on insert
	UserID       int64  // account owner
	Delta        int64  // negative for debits
	Reason       string // ReasonERC20Publish, ReasonRefund, ...
	EventID      int64  // event that caused the change
	BalanceAfter int64  // account balance right after this entry
	CreatedAt    time.Time
}
