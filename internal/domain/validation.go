package domain

import (
	"regexp"
	"strconv"
)

var (
	tokenNameRegex   = regexp.MustCompile(`^[A-Za-z0-9]{4,36}$`)
	tokenSymbolRegex = regexp.MustCompile(`^[A-Z0-9]{1,5}$`)
	tokenSupplyRegex = regexp.MustCompile(`^[0-9]{1,16}$`)
)

// MaxTotalSupply is the largest supply expressible in 16 digits.
const MaxTotalSupply int64 = 9_999_999_999_999_999

// ValidateTokenName checks the 4-36 alphanumeric rule.
func ValidateTokenName(name string) error {
	if !tokenNameRegex.MatchString(name) {
		return &ValidationError{
			Field:   "name",
			Message: "Invalid token name, must consist of 4-36 alphanumeric characters only.",
		}
	}
	return nil
}

// NormalizeTokenSymbol validates an optional symbol. An empty symbol means
// the token has none and yields nil.
func NormalizeTokenSymbol(symbol string) (*string, error) {
	if symbol == "" {
		return nil, nil
	}
	if !tokenSymbolRegex.MatchString(symbol) {
		return nil, &ValidationError{
			Field:   "symbol",
			Message: "Invalid token symbol, must consist of between 1-5 uppercase letters or numbers. This field is optional.",
		}
	}
	return &symbol, nil
}

// ValidateTotalSupply checks that supply is a positive integer of at most 16 digits.
func ValidateTotalSupply(supply int64) error {
	if supply <= 0 || supply > MaxTotalSupply {
		return invalidSupply()
	}
	return nil
}

// ParseTotalSupply parses a supply given as decimal text, as submitted by forms.
func ParseTotalSupply(s string) (int64, error) {
	if !tokenSupplyRegex.MatchString(s) {
		return 0, invalidSupply()
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, invalidSupply()
	}
	if err := ValidateTotalSupply(n); err != nil {
		return 0, err
	}
	return n, nil
}

func invalidSupply() error {
	return &ValidationError{
		Field:   "total_supply",
		Message: "Invalid initial token count value, must be a positive integer.",
	}
}
