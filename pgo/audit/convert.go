package audit

import (
	"time"

	"github.com/shopspring/decimal"
)

func durationFromNanos(ns int64) time.Duration {
	return time.Duration(ns)
}

// decimalFromString parses a stored decimal string, falling back to zero
// for a malformed or empty value rather than failing the whole row scan —
// a parse failure here means an operator queried their own audit log, not
// a programming error worth aborting the read for.
func decimalFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
