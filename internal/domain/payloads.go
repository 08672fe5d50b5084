package domain

// TokenDrafted records a token created in Draft.
type TokenDrafted struct {
	TokenID     int64   `json:"token_id"`
	Name        string  `json:"token_name"`
	Symbol      *string `json:"token_symbol,omitempty"`
	TotalSupply int64   `json:"token_count"`
}

func (p *TokenDrafted) EventType() EventType { return EventTokenDrafted }
func (p *TokenDrafted) TokenRef() *int64 { return &p.TokenID }

func (p *TokenDrafted) Validate() error {
	if err := requireToken(p.TokenID); err != nil {
		return err
	}
	if err := ValidateTokenName(p.Name); err != nil {
		return err
	}
	if p.Symbol != nil {
		if _, err := NormalizeTokenSymbol(*p.Symbol); err != nil {
			return err
		}
	}
	return ValidateTotalSupply(p.TotalSupply)
}

// PublishRequested is the intent event of a publish attempt. The debit and
// the dispatch command both reference it.
type PublishRequested struct {
	TokenID     int64   `json:"token_id"`
	Name        string  `json:"token_name"`
	Symbol      *string `json:"token_symbol,omitempty"`
	TotalSupply int64   `json:"token_count"`
	Price       int64   `json:"price"`
	CommandID   string  `json:"command_id"`
}

func (p *PublishRequested) EventType() EventType { return EventPublishRequested }
func (p *PublishRequested) TokenRef() *int64 { return &p.TokenID }

func (p *PublishRequested) Validate() error {
	if err := requireToken(p.TokenID); err != nil {
		return err
	}
	if p.Price < 0 {
		return &ValidationError{Field: "price", Message: "price must not be negative"}
	}
	return requireCommand(p.CommandID)
}

// TokenPublished records the executor's confirmation.
type TokenPublished struct {
	TokenID         int64  `json:"token_id"`
	CommandID       string `json:"command_id"`
	IssuedTokens    int64  `json:"issued_tokens"`
	ContractAddress string `json:"contract_address,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`
}

func (p *TokenPublished) EventType() EventType { return EventTokenPublished }
func (p *TokenPublished) TokenRef() *int64 { return &p.TokenID }

func (p *TokenPublished) Validate() error {
	if err := requireToken(p.TokenID); err != nil {
		return err
	}
	if p.IssuedTokens < 0 {
		return &ValidationError{Field: "issued_tokens", Message: "issued tokens must not be negative"}
	}
	return requireCommand(p.CommandID)
}

// PublishFailed records a failure reported by the executor.
type PublishFailed struct {
	TokenID   int64  `json:"token_id"`
	CommandID string `json:"command_id"`
	Reason    string `json:"reason"`
	Refund    int64  `json:"refund"`
}

func (p *PublishFailed) EventType() EventType { return EventPublishFailed }
func (p *PublishFailed) TokenRef() *int64 { return &p.TokenID }

func (p *PublishFailed) Validate() error {
	if err := requireToken(p.TokenID); err != nil {
		return err
	}
	return requireCommand(p.CommandID)
}

// PublishAborted records the compensation of a publish whose command could
// not be enqueued.
type PublishAborted struct {
	TokenID       int64  `json:"token_id"`
	CommandID     string `json:"command_id"`
	IntentEventID int64  `json:"intent_event_id"`
	Refund        int64  `json:"refund"`
	Reason        string `json:"reason"`
}

func (p *PublishAborted) EventType() EventType { return EventPublishAborted }
func (p *PublishAborted) TokenRef() *int64 { return &p.TokenID }

func (p *PublishAborted) Validate() error {
	if err := requireToken(p.TokenID); err != nil {
		return err
	}
	if p.IntentEventID <= 0 {
		return &ValidationError{Field: "intent_event_id", Message: "intent event is required"}
	}
	return requireCommand(p.CommandID)
}

// PublishExpired records a pending publish expired by reconciliation.
type PublishExpired struct {
	TokenID   int64  `json:"token_id"`
	CommandID string `json:"command_id"`
	Refund    int64  `json:"refund"`
	PendingMs int64  `json:"pending_ms"`
}

func (p *PublishExpired) EventType() EventType { return EventPublishExpired }
func (p *PublishExpired) TokenRef() *int64 { return &p.TokenID }

func (p *PublishExpired) Validate() error {
	return requireToken(p.TokenID)
}

// TokenReset records Failed -> Draft.
type TokenReset struct {
	TokenID       int64 `json:"token_id"`
	RefundEventID int64 `json:"refund_event_id"`
}

func (p *TokenReset) EventType() EventType { return EventTokenReset }
func (p *TokenReset) TokenRef() *int64 { return &p.TokenID }

func (p *TokenReset) Validate() error {
	return requireToken(p.TokenID)
}

// CreditsIssued records credits granted to a user by an administrator.
type CreditsIssued struct {
	UserID int64  `json:"user_id"`
	Amount int64  `json:"amount"`
	Note   string `json:"note,omitempty"`
}

func (p *CreditsIssued) EventType() EventType { return EventCreditsIssued }
func (p *CreditsIssued) TokenRef() *int64 { return nil }

func (p *CreditsIssued) Validate() error {
	if p.UserID <= 0 {
		return &ValidationError{Field: "user_id", Message: "user is required"}
	}
	if p.Amount <= 0 {
		return &ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	return nil
}

// PermissionsChanged records new grants for a user.
type PermissionsChanged struct {
	UserID    int64  `json:"user_id"`
	NewGrants Grants `json:"new_acl_data"`
}

func (p *PermissionsChanged) EventType() EventType { return EventPermissionsChanged }
func (p *PermissionsChanged) TokenRef() *int64 { return nil }

func (p *PermissionsChanged) Validate() error {
	if p.UserID <= 0 {
		return &ValidationError{Field: "user_id", Message: "user is required"}
	}
	return p.NewGrants.Validate()
}

func requireToken(id int64) error {
	if id <= 0 {
		return &ValidationError{Field: "token_id", Message: "token is required"}
	}
	return nil
}

func requireCommand(id string) error {
	if id == "" {
		return &ValidationError{Field: "command_id", Message: "command is required"}
	}
	return nil
}
