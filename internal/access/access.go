// Package access decides which user may perform which action.
package access

import (
	"context"
	"fmt"
	"log/slog"

	"token-ledger/internal/domain"
	"token-ledger/internal/eventlog"
	"token-ledger/internal/storage"
)

// Checker answers capability questions and administers grants.
type Checker struct {
	backend storage.Backend
	events  *eventlog.Log
	logger  *slog.Logger
}

// NewChecker creates a Checker. A nil logger uses slog.Default().
func NewChecker(backend storage.Backend, events *eventlog.Log, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		backend: backend,
		events:  events,
		logger:  logger.With("component", "access"),
	}
}

// HasCapability reports whether userID holds c. With a scope, the
// token-scoped capabilities (management, member) are checked against that
// token; global capabilities ignore the scope. Administrators hold everything.
func (c *Checker) HasCapability(ctx context.Context, userID int64, capability domain.Capability, scope *int64) (bool, error) {
	g, err := c.Grants(ctx, userID)
	if err != nil {
		return false, err
	}
	return allows(g, capability, scope), nil
}

// Require returns ErrAuthorization unless userID holds the capability.
func (c *Checker) Require(ctx context.Context, userID int64, capability domain.Capability, scope *int64) error {
	ok, err := c.HasCapability(ctx, userID, capability, scope)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d lacks %s: %w", userID, capability, domain.ErrAuthorization)
	}
	return nil
}

// Grants returns a user's grants. Unknown users have none.
func (c *Checker) Grants(ctx context.Context, userID int64) (domain.Grants, error) {
	g, err := c.backend.Grants().Get(ctx, userID)
	if err != nil {
		return domain.Grants{}, domain.NewStorageError("get grants", err)
	}
	return g, nil
}

// SetGrants replaces the grants of target and logs the change. The actor
// needs change-permissions and may only hand out or take away what they
// hold themselves.
func (c *Checker) SetGrants(ctx context.Context, actorID, targetID int64, g domain.Grants) error {
	if targetID <= 0 {
		return &domain.ValidationError{Field: "user_id", Message: "user is required"}
	}
	if err := g.Validate(); err != nil {
		return err
	}

	var e *domain.Event
	err := c.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		actor, err := tx.Grants().Get(ctx, actorID)
		if err != nil {
			return domain.NewStorageError("get grants", err)
		}
		if !actor.Has(domain.CapChangePermissions) {
			return fmt.Errorf("user %d lacks %s: %w", actorID, domain.CapChangePermissions, domain.ErrAuthorization)
		}
		current, err := tx.Grants().Get(ctx, targetID)
		if err != nil {
			return domain.NewStorageError("get grants", err)
		}
		if err := canDelegate(actor, current, "revoke"); err != nil {
			return err
		}
		if err := canDelegate(actor, g, "grant"); err != nil {
			return err
		}

		if err := tx.Grants().Put(ctx, targetID, g); err != nil {
			return domain.NewStorageError("put grants", err)
		}
		e, err = c.events.AppendTx(ctx, tx, actorID, &domain.PermissionsChanged{UserID: targetID, NewGrants: g})
		return err
	})
	if err != nil {
		return err
	}

	c.events.Notify(e)
	c.logger.Info("permissions changed", "user_id", targetID, "actor_id", actorID, "event_id", e.EventID)
	return nil
}

func allows(g domain.Grants, capability domain.Capability, scope *int64) bool {
	if capability == domain.CapManagement || capability == domain.CapMember {
		return scope != nil && g.HasTokenRole(*scope, capability)
	}
	return g.Has(capability)
}

// canDelegate rejects grants the actor could not exercise themselves. verb
// names the direction ("grant" or "revoke") for the error.
func canDelegate(actor, g domain.Grants, verb string) error {
	if actor.Administrator {
		return nil
	}
	if g.Administrator {
		return fmt.Errorf("only administrators can %s administrator: %w", verb, domain.ErrAuthorization)
	}
	for _, capability := range g.Capabilities {
		if !actor.Has(capability) {
			return fmt.Errorf("cannot %s %s without holding it: %w", verb, capability, domain.ErrAuthorization)
		}
	}
	for tokenID, role := range g.Tokens {
		if !actor.HasTokenRole(tokenID, domain.Capability(role)) {
			return fmt.Errorf("cannot %s %s on token %d without holding it: %w", verb, role, tokenID, domain.ErrAuthorization)
		}
	}
	return nil
}
