// Package stub provides an in-process chain.Submitter for tests and local runs.
package stub

import (
	"context"
	"fmt"
	"sync"

	"token-ledger/internal/chain"
	"token-ledger/internal/domain"
)

// Submitter confirms every command unless told otherwise.
type Submitter struct {
	mu        sync.Mutex
	submitted []*domain.Command
	failures  map[int64]string // token id -> failure reason
	errs      map[int64]error  // token id -> transport error
	async     bool
}

// NewSubmitter creates a stub that confirms synchronously.
func NewSubmitter() *Submitter {
	return &Submitter{
		failures: make(map[int64]string),
		errs:     make(map[int64]error),
	}
}

// Compile-time interface check.
var _ chain.Submitter = (*Submitter)(nil)

// FailToken makes commands for tokenID fail with reason.
func (s *Submitter) FailToken(tokenID int64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[tokenID] = reason
}

// ErrorToken makes submits for tokenID return err.
func (s *Submitter) ErrorToken(tokenID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[tokenID] = err
}

// SetAsync makes Submit accept commands without an outcome.
func (s *Submitter) SetAsync(async bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.async = async
}

// Submitted returns copies of every submitted command in order.
func (s *Submitter) Submitted() []*domain.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Command, len(s.submitted))
	for i, c := range s.submitted {
		out[i] = c.Clone()
	}
	return out
}

// Submit records the command and returns the configured outcome.
func (s *Submitter) Submit(_ context.Context, cmd *domain.Command) (*domain.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitted = append(s.submitted, cmd.Clone())

	if err, ok := s.errs[cmd.TokenID]; ok {
		return nil, err
	}
	if s.async {
		return nil, nil
	}
	if reason, ok := s.failures[cmd.TokenID]; ok {
		return &domain.Outcome{CommandID: cmd.CommandID, Status: domain.CommandFailed, Reason: reason}, nil
	}

	var pc domain.PublishCommand
	if err := domain.DecodeCommandPayload(cmd, &pc); err != nil {
		return nil, err
	}
	return &domain.Outcome{
		CommandID:       cmd.CommandID,
		Status:          domain.CommandConfirmed,
		IssuedTokens:    pc.TotalSupply,
		ContractAddress: fmt.Sprintf("0x%040x", cmd.TokenID),
		TxHash:          fmt.Sprintf("0x%064x", len(s.submitted)),
	}, nil
}
