// Package amount implements the scaled fixed-point money representation
// used everywhere in the durability core.
//
// The core never uses floating point (spec §3). Every monetary amount is
// a uint64 scaled by the asset's configured number of decimal places
// (e.g. 8 for BTC, 6 for USDT). Parsing a decimal string validates the
// digit count against the asset's scale and rejects malformed input
// before it ever reaches the WAL.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind distinguishes the reasons a decimal string can be rejected, so
// callers (the gateway boundary) can surface a stable machine-readable
// error code instead of a generic "bad request" (spec §7).
type Kind int

const (
	// KindMalformed covers syntactic problems: empty string, signs,
	// scientific notation, whitespace, multiple dots, thousands
	// separators, or a dot with nothing on either side.
	KindMalformed Kind = iota + 1
	// KindPrecision means the string has more fractional digits than
	// the asset's configured scale allows.
	KindPrecision
	// KindOverflow means the value would overflow uint64 once scaled.
	KindOverflow
)

// Error is a typed parse/format error carrying a stable Kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func malformed(msg string, args ...interface{}) error {
	return &Error{Kind: KindMalformed, Msg: fmt.Sprintf(msg, args...)}
}

// MaxScale bounds the largest decimal scale any asset may declare;
// beyond this a uint64 cannot usefully represent whole-unit amounts.
const MaxScale = 18

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// Parse validates and converts a decimal string into a scaled uint64
// amount for an asset with the given number of decimal places.
//
// Rejects (per spec §3/§8):
//   - empty input, leading/trailing whitespace
//   - a leading '+' or '-' sign
//   - scientific notation ("1e10")
//   - thousands separators
//   - a dot with no digits before or after it
//   - more fractional digits than scale
//   - a value that overflows uint64 after scaling
func Parse(s string, scale int) (uint64, error) {
	if scale < 0 || scale > MaxScale {
		return 0, malformed("invalid scale %d", scale)
	}
	if s == "" {
		return 0, malformed("empty amount")
	}
	if strings.TrimSpace(s) != s {
		return 0, malformed("amount %q has leading/trailing whitespace", s)
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.':
		default:
			return 0, malformed("amount %q contains invalid character %q", s, r)
		}
	}
	if strings.Count(s, ".") > 1 {
		return 0, malformed("amount %q has multiple decimal points", s)
	}

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if hasDot && fracPart == "" {
		return 0, malformed("amount %q has a trailing decimal point", s)
	}
	if hasDot && intPart == "" {
		return 0, malformed("amount %q has a leading decimal point", s)
	}
	if intPart == "" {
		return 0, malformed("amount %q is missing an integer part", s)
	}
	if len(intPart) > 1 && intPart[0] == '0' {
		return 0, malformed("amount %q has a leading zero", s)
	}

	if len(fracPart) > scale {
		return 0, &Error{
			Kind: KindPrecision,
			Msg:  fmt.Sprintf("amount %q has %d fractional digits, asset allows %d", s, len(fracPart), scale),
		}
	}

	// shopspring/decimal gives us exact, non-float digit validation; we
	// immediately drop back to uint64 and never let a decimal.Decimal
	// leak past this function — the core's arithmetic stays integer.
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, malformed("amount %q is not a valid decimal: %v", s, err)
	}

	scaled := d.Shift(int32(scale))
	if !scaled.IsInteger() {
		return 0, &Error{Kind: KindPrecision, Msg: fmt.Sprintf("amount %q does not fit scale %d", s, scale)}
	}

	scaledBig := scaled.BigInt()
	if scaledBig.Sign() < 0 {
		return 0, malformed("amount %q is negative", s)
	}
	if scaledBig.Cmp(maxUint64) > 0 {
		return 0, &Error{Kind: KindOverflow, Msg: fmt.Sprintf("amount %q overflows uint64 at scale %d", s, scale)}
	}

	return scaledBig.Uint64(), nil
}

// Format converts a scaled uint64 amount back into its canonical
// decimal string for the given scale. Formatting is the exact inverse
// of Parse: Parse(Format(v, s), s) == v for every representable v.
func Format(v uint64, scale int) string {
	if scale <= 0 {
		return fmt.Sprintf("%d", v)
	}
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(v), -int32(scale))
	return d.String()
}

var errOverflow = errors.New("amount: overflow")
var errUnderflow = errors.New("amount: subtraction underflow")

// Add returns a+b, erroring on uint64 overflow rather than wrapping.
func Add(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, errOverflow
	}
	return sum, nil
}

// Sub returns a-b, erroring if b > a (balances are never negative).
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, errUnderflow
	}
	return a - b, nil
}

// FeeBps computes floor((amount * rateBps) / 10_000), per spec §4.5.
// The multiply is done in big.Int to avoid uint64 overflow for large
// scaled amounts, then reduced back to uint64 — the fee itself can
// never exceed amount, which always fits.
func FeeBps(amount uint64, rateBps uint32) uint64 {
	if amount == 0 || rateBps == 0 {
		return 0
	}
	product := new(big.Int).Mul(new(big.Int).SetUint64(amount), new(big.Int).SetUint64(uint64(rateBps)))
	product.Quo(product, big.NewInt(10000))
	return product.Uint64()
}
