// Package dispatch is the durable outbox of commands for the external
// executor and the worker that drains it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// Queue stores commands until the executor picks them up.
type Queue struct {
	backend storage.Backend
	logger  *slog.Logger
}

// NewQueue creates a Queue. A nil logger uses slog.Default().
func NewQueue(backend storage.Backend, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{backend: backend, logger: logger.With("component", "dispatch")}
}

// Enqueue durably records c and returns its id. Enqueueing an id that is
// already stored succeeds without writing.
func (q *Queue) Enqueue(ctx context.Context, c *domain.Command) (string, error) {
	if c == nil || c.CommandID == "" || c.TokenID <= 0 {
		return "", &domain.ValidationError{Field: "command", Message: "command id and token are required"}
	}

	err := q.backend.Commands().Insert(ctx, c)
	if err == nil {
		observability.RecordEnqueued()
		q.logger.Info("command enqueued", "command_id", c.CommandID, "token_id", c.TokenID)
		return c.CommandID, nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return "", domain.NewStorageError("enqueue command", err)
	}

	if _, getErr := q.backend.Commands().Get(ctx, c.CommandID); getErr == nil {
		return c.CommandID, nil
	}
	return "", &domain.StateError{TokenID: c.TokenID, State: domain.TokenStatePendingPublish, Action: "enqueue a second command"}
}

// Claim hands up to limit queued commands, oldest first, to the caller and
// marks them Dispatched.
func (q *Queue) Claim(ctx context.Context, limit int) ([]*domain.Command, error) {
	commands, err := q.backend.Commands().Claim(ctx, limit)
	if err != nil {
		return nil, domain.NewStorageError("claim commands", err)
	}
	if len(commands) > 0 {
		observability.RecordClaimed(len(commands))
	}
	return commands, nil
}

// Get returns a command.
func (q *Queue) Get(ctx context.Context, commandID string) (*domain.Command, error) {
	c, err := q.backend.Commands().Get(ctx, commandID)
	if err != nil {
		return nil, translate("get command", err)
	}
	return c, nil
}

// ActiveForToken returns the queued or dispatched command of a token.
func (q *Queue) ActiveForToken(ctx context.Context, tokenID int64) (*domain.Command, error) {
	c, err := q.backend.Commands().ActiveForToken(ctx, tokenID)
	if err != nil {
		return nil, translate("get active command", err)
	}
	return c, nil
}

func translate(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return domain.NewStorageError(op, err)
}
