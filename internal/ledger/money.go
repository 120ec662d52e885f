package ledger

import "github.com/shopspring/decimal"

// Scale is the number of fraction digits every stored amount carries.
const Scale = 2

// Quantize rounds to Scale fraction digits, half away from zero.
// Credits are never negative, so this is round-half-up: 10.005 becomes 10.01.
func Quantize(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Scale)
}
