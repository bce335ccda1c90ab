// Package money normalizes captured amount strings to decimal magnitudes.
//
// Captured invoices carry amounts the way the document showed them: a
// currency marker mixed with grouped digits, e.g. "৳45,230" or "$1,200.50".
// Scoring and reporting need a plain magnitude, so this package strips
// markers and separators and parses what remains.
package money

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseError reports an amount string that could not be normalized. It is
// a non-fatal diagnostic: callers substitute zero and keep going.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparsable amount %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse normalizes a raw amount string to a decimal magnitude.
// Currency symbols, grouping separators and whitespace are stripped; a
// single '.' is kept as the decimal point. On failure it returns
// decimal.Zero and a *ParseError.
func Parse(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.':
			b.WriteRune(r)
		case r == '-':
			b.WriteRune(r)
		case r == ',' || unicode.IsSpace(r) || unicode.IsSymbol(r):
			// grouping separator or currency marker
		case unicode.IsLetter(r):
			// currency code letters, e.g. "BDT 500"
		default:
			return decimal.Zero, &ParseError{Raw: raw, Err: fmt.Errorf("unexpected character %q", r)}
		}
	}

	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, &ParseError{Raw: raw, Err: fmt.Errorf("no digits")}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, &ParseError{Raw: raw, Err: err}
	}
	if d.IsNegative() {
		return decimal.Zero, &ParseError{Raw: raw, Err: fmt.Errorf("negative amount")}
	}
	return d, nil
}
