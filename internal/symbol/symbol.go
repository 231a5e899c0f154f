// Package symbol normalizes and validates stock ticker symbols.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// tickerRegex matches exchange tickers such as AAPL, BRK.B, RDS-A or ^GSPC.
var tickerRegex = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.\-]{0,11}$`)

var (
	ErrEmpty   = errors.New("symbol: missing symbol")
	ErrInvalid = errors.New("symbol: invalid ticker format")
)

// Normalize trims surrounding whitespace and uppercases s.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Parse normalizes s and validates the result.
func Parse(s string) (string, error) {
	sym := Normalize(s)
	if sym == "" {
		return "", ErrEmpty
	}
	if !tickerRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return sym, nil
}
