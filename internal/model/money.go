package model

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the ISO code amounts are displayed in when none is configured.
const DefaultCurrency = "BRL"

// FormatMoney renders an amount with the currency's symbol and separators,
// e.g. "-R$755,00" for BRL. Unknown currency codes fall back to two decimals.
func FormatMoney(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = DefaultCurrency
	}
	fraction := 2
	if cur := money.GetCurrency(currency); cur != nil {
		fraction = cur.Fraction
	}
	minor := amount.Shift(int32(fraction)).Round(0).IntPart()
	return money.New(minor, currency).Display()
}
