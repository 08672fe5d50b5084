package domain

import "fmt"

// Capability is a named global permission.
type Capability string

const (
	CapLaunchICO         Capability = "launch-ico"
	CapOnboardUsers      Capability = "onboard-users"
	CapResetPasswords    Capability = "reset-passwords"
	CapEthereumNetwork   Capability = "ethereum-network"
	CapViewEventLog      Capability = "view-event-log"
	CapIssueCredits      Capability = "issue-credits"
	CapChangePermissions Capability = "change-permissions"

	// Token-scoped capabilities, only meaningful with a token scope.
	// Management implies membership.
	CapManagement Capability = "management"
	CapMember     Capability = "member"
)

var knownCapabilities = map[Capability]bool{
	CapLaunchICO:         true,
	CapOnboardUsers:      true,
	CapResetPasswords:    true,
	CapEthereumNetwork:   true,
	CapViewEventLog:      true,
	CapIssueCredits:      true,
	CapChangePermissions: true,
}

// IsKnownCapability reports whether c is a global capability.
func IsKnownCapability(c Capability) bool {
	return knownCapabilities[c]
}

// TokenRole is a role a user holds on one token.
type TokenRole string

const (
	TokenRoleManagement TokenRole = "management"
	TokenRoleMember     TokenRole = "member"
)

// Grants is a user's permission set.
type Grants struct {
	Administrator bool                `json:"administrator"`
	Capabilities  []Capability        `json:"capabilities"`
	Tokens        map[int64]TokenRole `json:"tokens"`
}

// Validate rejects unknown capabilities and roles.
func (g Grants) Validate() error {
	for _, c := range g.Capabilities {
		if !IsKnownCapability(c) {
			return &ValidationError{Field: "capabilities", Message: fmt.Sprintf("unknown capability %q", c)}
		}
	}
	for tokenID, role := range g.Tokens {
		if tokenID <= 0 {
			return &ValidationError{Field: "tokens", Message: "token id must be positive"}
		}
		if role != TokenRoleManagement && role != TokenRoleMember {
			return &ValidationError{Field: "tokens", Message: fmt.Sprintf("unknown token role %q", role)}
		}
	}
	return nil
}

// Has reports whether the grants include c globally.
func (g Grants) Has(c Capability) bool {
	if g.Administrator {
		return true
	}
	for _, have := range g.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// HasTokenRole reports whether the grants include a role on tokenID that
// satisfies c (CapManagement or CapMember).
func (g Grants) HasTokenRole(tokenID int64, c Capability) bool {
	if g.Administrator {
		return true
	}
	switch g.Tokens[tokenID] {
	case TokenRoleManagement:
		return c == CapManagement || c == CapMember
	case TokenRoleMember:
		return c == CapMember
	}
	return false
}

// Clone returns a deep copy of the grants.
func (g Grants) Clone() Grants {
	c := Grants{Administrator: g.Administrator}
	c.Capabilities = append([]Capability(nil), g.Capabilities...)
	if g.Tokens != nil {
		c.Tokens = make(map[int64]TokenRole, len(g.Tokens))
		for k, v := range g.Tokens {
			c.Tokens[k] = v
		}
	}
	return c
}
