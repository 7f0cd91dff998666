// Package pair handles currency symbol validation and the ordered pair keys
// pools are indexed by.
package pair

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches a currency symbol: a letter followed by 1-11 letters
// or digits. Examples: sUSD, sEUR, sXAU, HBAR.
var symbolRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{1,11}$`)

var (
	ErrInvalidSymbol = errors.New("pair: invalid currency symbol")
	ErrInvalidPair   = errors.New("pair: invalid pair")
	ErrSameSymbol    = errors.New("pair: both sides are the same currency")
)

// Key identifies a pool by its two currencies, stored in lexicographic
// order so that (x, y) and (y, x) resolve to the same pool.
type Key struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewKey orders x and y into a Key.
func NewKey(x, y string) Key {
	if y < x {
		x, y = y, x
	}
	return Key{A: x, B: y}
}

// String renders the key as "A-B", which is safe to use in URL paths.
func (k Key) String() string {
	return k.A + "-" + k.B
}

// Has reports whether symbol is one side of the pair.
func (k Key) Has(symbol string) bool {
	return k.A == symbol || k.B == symbol
}

// Other returns the side of the pair that is not symbol.
func (k Key) Other(symbol string) (string, bool) {
	switch symbol {
	case k.A:
		return k.B, true
	case k.B:
		return k.A, true
	default:
		return "", false
	}
}

// ValidateSymbol checks a single currency symbol.
func ValidateSymbol(symbol string) error {
	if !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// Parse parses "X/Y" or "X-Y" into an ordered Key.
func Parse(s string) (Key, error) {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return Key{}, fmt.Errorf("%w: %q (expected X/Y or X-Y)", ErrInvalidPair, s)
	}
	return Of(parts[0], parts[1])
}

// Of validates both symbols and returns their ordered Key.
func Of(x, y string) (Key, error) {
	if err := ValidateSymbol(x); err != nil {
		return Key{}, err
	}
	if err := ValidateSymbol(y); err != nil {
		return Key{}, err
	}
	if x == y {
		return Key{}, fmt.Errorf("%w: %s", ErrSameSymbol, x)
	}
	return NewKey(x, y), nil
}
