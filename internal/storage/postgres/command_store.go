package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

const commandColumns = `command_id, kind, token_id, payload, status, attempts, last_error, created_at, updated_at`

// CommandStore implements storage.CommandStore using PostgreSQL.
type CommandStore struct {
	q querier
}

// NewCommandStore creates a new CommandStore.
func NewCommandStore(pool *Pool) *CommandStore {
	return &CommandStore{q: pool}
}

// Compile-time interface check.
var _ storage.CommandStore = (*CommandStore)(nil)

// Insert adds a Queued command. Returns ErrDuplicateKey if the id exists or
// the token already has an active command.
func (s *CommandStore) Insert(ctx context.Context, c *domain.Command) error {
	if c == nil || c.CommandID == "" || c.TokenID <= 0 {
		return storage.ErrInvalidInput
	}

	payload := c.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO commands (command_id, kind, token_id, payload, status)
		VALUES ($1, $2, $3, $4, 'QUEUED')
		RETURNING status, created_at, updated_at
	`

	var status string
	err := s.q.QueryRow(ctx, query, c.CommandID, c.Kind, c.TokenID, string(payload)).
		Scan(&status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert command: %w", err)
	}
	c.Status = domain.CommandStatus(status)
	return nil
}

// Get retrieves a command by id. Returns ErrNotFound if not exists.
func (s *CommandStore) Get(ctx context.Context, commandID string) (*domain.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE command_id = $1`

	c, err := scanCommand(s.q.QueryRow(ctx, query, commandID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get command: %w", err)
	}
	return c, nil
}

// ActiveForToken returns the token's Queued or Dispatched command.
func (s *CommandStore) ActiveForToken(ctx context.Context, tokenID int64) (*domain.Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE token_id = $1 AND status IN ('QUEUED', 'DISPATCHED')
	`

	c, err := scanCommand(s.q.QueryRow(ctx, query, tokenID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get active command: %w", err)
	}
	return c, nil
}

// Claim moves up to limit Queued commands to Dispatched. Rows locked by a
// concurrent claimer are skipped.
func (s *CommandStore) Claim(ctx context.Context, limit int) ([]*domain.Command, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE commands
		SET status = 'DISPATCHED', attempts = attempts + 1, updated_at = now()
		WHERE command_id IN (
			SELECT command_id
			FROM commands
			WHERE status = 'QUEUED'
			ORDER BY created_at ASC, command_id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + commandColumns

	rows, err := s.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim commands: %w", err)
	}
	defer rows.Close()

	var commands []*domain.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command row: %w", err)
		}
		commands = append(commands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command rows: %w", err)
	}

	// RETURNING does not preserve the subquery order.
	sort.Slice(commands, func(i, j int) bool {
		if commands[i].CreatedAt.Equal(commands[j].CreatedAt) {
			return commands[i].CommandID < commands[j].CommandID
		}
		return commands[i].CreatedAt.Before(commands[j].CreatedAt)
	})
	return commands, nil
}

// SetStatus updates a command's status. A nil lastError keeps the stored one.
func (s *CommandStore) SetStatus(ctx context.Context, commandID string, status domain.CommandStatus, lastError *string) error {
	query := `
		UPDATE commands
		SET status = $2, last_error = COALESCE($3, last_error), updated_at = now()
		WHERE command_id = $1
	`

	tag, err := s.q.Exec(ctx, query, commandID, string(status), lastError)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("set command status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanCommand scans a single row into a Command.
func scanCommand(row pgx.Row) (*domain.Command, error) {
	var c domain.Command
	var status string
	var payload []byte

	err := row.Scan(
		&c.CommandID,
		&c.Kind,
		&c.TokenID,
		&payload,
		&status,
		&c.Attempts,
		&c.LastError,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = domain.CommandStatus(status)
	c.Payload = payload
	return &c, nil
}
