package ledger

import (
	"fmt"

	"token-ledger/internal/domain"
)

// DefaultPublishPrice is the price of ActionERC20Publish unless configured.
const DefaultPublishPrice int64 = 50

// Pricing maps priced actions to their cost in credits.
type Pricing struct {
	prices map[string]int64
}

// NewPricing creates a price table. Negative prices are rejected.
func NewPricing(prices map[string]int64) (*Pricing, error) {
	p := &Pricing{prices: make(map[string]int64, len(prices))}
	for action, price := range prices {
		if price < 0 {
			return nil, &domain.ValidationError{Field: "price", Message: fmt.Sprintf("price of %s must not be negative", action)}
		}
		p.prices[action] = price
	}
	return p, nil
}

// DefaultPricing returns the table with only the publish price set.
func DefaultPricing(publishPrice int64) *Pricing {
	return &Pricing{prices: map[string]int64{domain.ActionERC20Publish: publishPrice}}
}

// PriceFor returns the price of an action.
func (p *Pricing) PriceFor(action string) (int64, error) {
	price, ok := p.prices[action]
	if !ok {
		return 0, fmt.Errorf("price for %q: %w", action, domain.ErrNotFound)
	}
	return price, nil
}
