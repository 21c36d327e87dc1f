// Package quote supplies the latest known market price per symbol.
// The built-in feed is a simulated random walk; the ledger only ever
// asks "current price for symbol S" and treats absence as a valid,
// non-fatal answer.
package quote

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Source is a read-only price feed. Implementations must be safe for
// concurrent use; the engine and valuation service share one instance
// with no additional locking.
type Source interface {
	// CurrentPrice returns the latest price for symbol, or ok=false when
	// the symbol is unknown to the feed.
	CurrentPrice(symbol string) (price decimal.Decimal, ok bool)
}

// symbolRegex matches exchange-style tickers: 1-8 uppercase letters,
// digits allowed after the first character. Example: TCS, INFY, HDFC.
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,7}$`)

// ErrInvalidSymbol is returned when a symbol fails format validation.
var ErrInvalidSymbol = errors.New("quote: invalid symbol format")

// NormalizeSymbol uppercases and validates a ticker symbol.
func NormalizeSymbol(symbol string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q (expected 1-8 alphanumeric characters)", ErrInvalidSymbol, symbol)
	}
	return sym, nil
}
