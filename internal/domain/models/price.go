package models

import (
	"fmt"
	"strconv"
	"strings"
)

// FracDigits is the number of fractional digits carried by prices and
// volumes on the wire and in storage.
const FracDigits = 8

// priceScale is 10^FracDigits.
const priceScale = 100_000_000

// Price is a fixed-point decimal stored as an integer number of 1e-8 units.
// Keeping prices integral makes min/max comparisons and equality in the
// merge algebra exact; floats would drift across fold orders.
type Price int64

// Quantity is a fixed-point decimal with the same 1e-8 scale as Price.
type Quantity int64

// ParsePrice parses a decimal string with at most FracDigits fractional
// digits into a Price. It rejects empty strings, malformed numbers, and
// excess precision.
func ParsePrice(s string) (Price, error) {
	v, err := parseScaled(s)
	return Price(v), err
}

// ParseQuantity parses a decimal string into a Quantity. Same rules as
// ParsePrice.
func ParseQuantity(s string) (Quantity, error) {
	v, err := parseScaled(s)
	return Quantity(v), err
}

// String renders the price as a decimal with all fractional digits,
// e.g. Price(4500012345678) -> "45000.12345678".
func (p Price) String() string { return formatScaled(int64(p)) }

// String renders the quantity as a decimal with all fractional digits.
func (q Quantity) String() string { return formatScaled(int64(q)) }

// parseScaled converts a decimal string into its 1e-8 scaled integer value.
func parseScaled(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty decimal")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("sign without digits")
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("no digits in %q", s)
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > FracDigits {
		return 0, fmt.Errorf("more than %d fractional digits in %q", FracDigits, s)
	}

	// ParseInt accepts its own sign, so check digits explicitly; otherwise
	// "1.-5" would parse instead of erroring.
	if !isDigits(intPart) || !isDigits(fracPart) {
		return 0, fmt.Errorf("non-digit characters in %q", s)
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer part in %q: %w", s, err)
	}

	var frac int64
	if fracPart != "" {
		frac, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fractional part in %q: %w", s, err)
		}
		for i := len(fracPart); i < FracDigits; i++ {
			frac *= 10
		}
	}

	v := whole*priceScale + frac
	if neg {
		v = -v
	}
	return v, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// formatScaled renders a 1e-8 scaled integer as a decimal string. Adapted
// from the scaled-integer append formatting used throughout the hot path.
func formatScaled(v int64) string {
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(^v) + 1
	}

	digits := strconv.FormatUint(u, 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	if len(digits) <= FracDigits {
		b.WriteString("0.")
		for i := 0; i < FracDigits-len(digits); i++ {
			b.WriteByte('0')
		}
		b.WriteString(digits)
		return b.String()
	}

	idx := len(digits) - FracDigits
	b.WriteString(digits[:idx])
	b.WriteByte('.')
	b.WriteString(digits[idx:])
	return b.String()
}
