package memory

import (
	"context"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// CommandStore is an in-memory implementation of storage.CommandStore.
type CommandStore struct {
	view
}

// Insert stores a Queued command. At most one active command per token.
func (s *CommandStore) Insert(_ context.Context, c *domain.Command) error {
	if c == nil || c.CommandID == "" || c.TokenID <= 0 {
		return storage.ErrInvalidInput
	}

	return s.write("commands.insert", func(st *state) error {
		if _, exists := st.commands[c.CommandID]; exists {
			return storage.ErrDuplicateKey
		}
		for _, existing := range st.commands {
			if existing.TokenID == c.TokenID && existing.Status.IsActive() {
				return storage.ErrDuplicateKey
			}
		}

		now := time.Now().UTC()
		c.Status = domain.CommandQueued
		c.CreatedAt = now
		c.UpdatedAt = now
		st.commands[c.CommandID] = c.Clone()
		st.commandOrder = append(st.commandOrder, c.CommandID)
		return nil
	})
}

// Get retrieves a command. Returns ErrNotFound if not exists.
func (s *CommandStore) Get(_ context.Context, commandID string) (*domain.Command, error) {
	var result *domain.Command
	s.read(func(st *state) {
		if c, ok := st.commands[commandID]; ok {
			result = c.Clone()
		}
	})
	if result == nil {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// ActiveForToken returns the token's Queued or Dispatched command.
func (s *CommandStore) ActiveForToken(_ context.Context, tokenID int64) (*domain.Command, error) {
	var result *domain.Command
	s.read(func(st *state) {
		for _, c := range st.commands {
			if c.TokenID == tokenID && c.Status.IsActive() {
				result = c.Clone()
				return
			}
		}
	})
	if result == nil {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// Claim moves up to limit Queued commands to Dispatched in insertion order.
func (s *CommandStore) Claim(_ context.Context, limit int) ([]*domain.Command, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []*domain.Command
	err := s.write("commands.claim", func(st *state) error {
		now := time.Now().UTC()
		for _, id := range st.commandOrder {
			if len(claimed) >= limit {
				break
			}
			c := st.commands[id]
			if c.Status != domain.CommandQueued {
				continue
			}
			updated := c.Clone()
			updated.Status = domain.CommandDispatched
			updated.Attempts++
			updated.UpdatedAt = now
			st.commands[id] = updated
			claimed = append(claimed, updated.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SetStatus updates a command's status and last error.
func (s *CommandStore) SetStatus(_ context.Context, commandID string, status domain.CommandStatus, lastError *string) error {
	return s.write("commands.set_status", func(st *state) error {
		c, ok := st.commands[commandID]
		if !ok {
			return storage.ErrNotFound
		}
		updated := c.Clone()
		updated.Status = status
		if lastError != nil {
			msg := *lastError
			updated.LastError = &msg
		}
		updated.UpdatedAt = time.Now().UTC()
		st.commands[commandID] = updated
		return nil
	})
}

// Verify interface compliance at compile time.
var _ storage.CommandStore = (*CommandStore)(nil)
