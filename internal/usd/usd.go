// Package usd formats decimal dollar amounts for display.
package usd

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Format renders amount as US dollars rounded to cents, e.g. "$8,500.00".
func Format(amount decimal.Decimal) string {
	cur := money.GetCurrency(money.USD)
	cents := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(cents.IntPart(), money.USD).Display()
}
