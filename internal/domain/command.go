package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandStatus is the dispatch status of a command.
type CommandStatus string

const (
	CommandQueued     CommandStatus = "QUEUED"
	CommandDispatched CommandStatus = "DISPATCHED"
	CommandConfirmed  CommandStatus = "CONFIRMED"
	CommandFailed     CommandStatus = "FAILED"
)

// IsActive reports whether the command still awaits an outcome.
func (s CommandStatus) IsActive() bool {
	return s == CommandQueued || s == CommandDispatched
}

// CommandKindERC20Publish is the only command kind the core emits.
const CommandKindERC20Publish = "erc20_publish"

// Command is a durable request for the external executor.
// Corresponds to commands table in PostgreSQL.
type Command struct {
	CommandID string          // UUID, assigned by the caller before enqueue
	Kind      string          // CommandKindERC20Publish
	TokenID   int64           // token the command publishes
	Payload   json.RawMessage // PublishCommand JSON
	Status    CommandStatus
	Attempts  int     // times the command was claimed
	LastError *string // last failure reason
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the command.
func (c *Command) Clone() *Command {
	cp := *c
	cp.Payload = append(json.RawMessage(nil), c.Payload...)
	cp.LastError = clonePtr(c.LastError)
	return &cp
}

// PublishCommand is the payload handed to the executor.
type PublishCommand struct {
	TokenID       int64   `json:"token_id"`
	OwnerID       int64   `json:"owner_id"`
	Name          string  `json:"token_name"`
	Symbol        *string `json:"token_symbol,omitempty"`
	TotalSupply   int64   `json:"token_count"`
	IntentEventID int64   `json:"event_id"`
}

// NewPublishCommand builds the command that publishes pc.
func NewPublishCommand(commandID string, pc *PublishCommand) (*Command, error) {
	raw, err := json.Marshal(pc)
	if err != nil {
		return nil, fmt.Errorf("marshal publish command: %w", err)
	}
	return &Command{
		CommandID: commandID,
		Kind:      CommandKindERC20Publish,
		TokenID:   pc.TokenID,
		Payload:   raw,
		Status:    CommandQueued,
	}, nil
}

// DecodeCommandPayload unmarshals the payload of a publish command.
func DecodeCommandPayload(c *Command, pc *PublishCommand) error {
	if c.Kind != CommandKindERC20Publish {
		return fmt.Errorf("decode command %s: unknown kind %q", c.CommandID, c.Kind)
	}
	if err := json.Unmarshal(c.Payload, pc); err != nil {
		return fmt.Errorf("decode command %s: %w", c.CommandID, err)
	}
	return nil
}

// Outcome is the executor's report for a command.
type Outcome struct {
	CommandID       string        `json:"command_id"`
	Status          CommandStatus `json:"status"` // CommandConfirmed or CommandFailed
	IssuedTokens    int64         `json:"issued_tokens,omitempty"`
	ContractAddress string        `json:"contract_address,omitempty"`
	TxHash          string        `json:"tx_hash,omitempty"`
	Reason          string        `json:"reason,omitempty"`
}

// Validate checks the outcome is terminal and well formed.
func (o *Outcome) Validate() error {
	if o.CommandID == "" {
		return &ValidationError{Field: "command_id", Message: "command is required"}
	}
	if o.Status != CommandConfirmed && o.Status != CommandFailed {
		return &ValidationError{Field: "status", Message: "status must be CONFIRMED or FAILED"}
	}
	if o.IssuedTokens < 0 {
		return &ValidationError{Field: "issued_tokens", Message: "issued tokens must not be negative"}
	}
	return nil
}
