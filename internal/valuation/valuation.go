// Package valuation computes the cash impact, notional and margin of single
// legs. Every function here is pure.
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/model"
)

var (
	hundred = decimal.NewFromInt(100)

	// DefaultOptionMarginPercent applies to short CALL/PUT legs.
	DefaultOptionMarginPercent = decimal.NewFromInt(15)

	// DefaultStockMarginPercent applies to short STOCK legs.
	DefaultStockMarginPercent = decimal.NewFromInt(100)
)

// Valuation holds the figures derived from one leg.
type Valuation struct {
	CashImpact     decimal.Decimal `json:"cash_impact"` // signed: -debit / +credit
	Notional       decimal.Decimal `json:"notional"`
	MarginRequired decimal.Decimal `json:"margin_required"`
}

// Valuate computes a leg's valuation.
func Valuate(leg model.Leg) Valuation {
	return Valuation{
		CashImpact:     CashImpact(leg),
		Notional:       Notional(leg),
		MarginRequired: MarginRequired(leg),
	}
}

// CashImpact is -price·qty for LONG and +price·qty for SHORT, where price is
// the entry price for stock and the premium otherwise.
func CashImpact(leg model.Leg) decimal.Decimal {
	var price decimal.Decimal
	switch v := leg.(type) {
	case *model.StockLeg:
		price = v.EntryPrice
	case *model.CallLeg:
		price = v.Premium
	case *model.PutLeg:
		price = v.Premium
	case *model.FutureLeg:
		price = v.Premium
	}

	b := leg.Base()
	amount := price.Mul(decimal.NewFromInt(b.Quantity))
	if b.Side == model.Long {
		return amount.Neg()
	}
	return amount
}

// Notional is the reference value used for margin sizing.
func Notional(leg model.Leg) decimal.Decimal {
	var ref decimal.Decimal
	switch v := leg.(type) {
	case *model.StockLeg:
		ref = v.EntryPrice
	case *model.CallLeg:
		ref = v.Strike
	case *model.PutLeg:
		ref = v.Strike
	case *model.FutureLeg:
		ref = v.SpotPrice
	}
	return ref.Mul(decimal.NewFromInt(leg.Base().Quantity))
}

// MarginRequired is zero for LONG legs. For SHORT legs it is
// notional × rate / 100 where rate is the leg's custom percent or the kind
// default. FUTURE legs have no default rate and only carry margin when a
// custom percent is set.
func MarginRequired(leg model.Leg) decimal.Decimal {
	b := leg.Base()
	if b.Side != model.Short {
		return decimal.Zero
	}

	rate, ok := MarginPercent(leg)
	if !ok {
		return decimal.Zero
	}
	return Notional(leg).Mul(rate).Div(hundred)
}

// MarginPercent returns the rate applied to a short leg and whether one
// exists for it.
func MarginPercent(leg model.Leg) (decimal.Decimal, bool) {
	if pct := leg.Base().CustomMarginPercent; pct != nil {
		return *pct, true
	}
	switch leg.Kind() {
	case model.KindCall, model.KindPut:
		return DefaultOptionMarginPercent, true
	case model.KindStock:
		return DefaultStockMarginPercent, true
	default:
		return decimal.Zero, false
	}
}

// Totals aggregates valuations over a leg list.
type Totals struct {
	CashImpact     decimal.Decimal `json:"cash_impact"`
	PremiumImpact  decimal.Decimal `json:"premium_impact"` // CALL/PUT/FUTURE only
	StockImpact    decimal.Decimal `json:"stock_impact"`
	Notional       decimal.Decimal `json:"notional"`
	MarginRequired decimal.Decimal `json:"margin_required"`
}

// Sum valuates every leg and adds the results.
func Sum(legs model.Legs) Totals {
	var t Totals
	for _, leg := range legs {
		v := Valuate(leg)
		t.CashImpact = t.CashImpact.Add(v.CashImpact)
		t.Notional = t.Notional.Add(v.Notional)
		t.MarginRequired = t.MarginRequired.Add(v.MarginRequired)
		if leg.Kind() == model.KindStock {
			t.StockImpact = t.StockImpact.Add(v.CashImpact)
		} else {
			t.PremiumImpact = t.PremiumImpact.Add(v.CashImpact)
		}
	}
	return t
}

// NetPremium is the signed premium cash impact of the option and futures legs.
func NetPremium(legs model.Legs) decimal.Decimal {
	return Sum(legs).PremiumImpact
}

// AssemblyCost is the fixed per-leg cost times the number of legs.
func AssemblyCost(legs model.Legs, costPerLeg decimal.Decimal) decimal.Decimal {
	return costPerLeg.Mul(decimal.NewFromInt(int64(len(legs))))
}

// Derive refreshes the structure's derived figures from its legs.
func Derive(s *model.Structure, costPerLeg decimal.Decimal) {
	s.NetPremium = NetPremium(s.Legs)
	s.AssemblyCost = AssemblyCost(s.Legs, costPerLeg)
}
