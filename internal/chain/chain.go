// Package chain defines the boundary to the external executor that submits
// publish commands to the network.
package chain

import (
	"context"

	"token-ledger/internal/domain"
)

// Submitter hands a command to the executor.
//
// A non-nil outcome is final and is reported back to the state machine by
// the caller. A nil outcome with a nil error means the executor accepted the
// command and will report the outcome itself. Executors must treat the
// command id as an idempotency key: the same command may be submitted again
// after a worker crash.
type Submitter interface {
	Submit(ctx context.Context, cmd *domain.Command) (*domain.Outcome, error)
}
