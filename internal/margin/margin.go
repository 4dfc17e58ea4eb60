// Package margin aggregates leg valuations into the guarantee a user must
// block and the guarantee they have available.
package margin

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/valuation"
)

var hundred = decimal.NewFromInt(100)

// RequiredGuarantee is the sum of marginRequired over the structure's legs.
// A structure with no short legs requires zero.
func RequiredGuarantee(s *model.Structure) decimal.Decimal {
	return RequiredForLegs(s.Legs)
}

// RequiredForLegs is RequiredGuarantee over a bare leg list.
func RequiredForLegs(legs model.Legs) decimal.Decimal {
	total := decimal.Zero
	for _, leg := range legs {
		total = total.Add(valuation.MarginRequired(leg))
	}
	return total
}

// Used sums the required guarantee of every structure given. Callers pass
// the user's ACTIVE structures.
func Used(active []model.Structure) decimal.Decimal {
	total := decimal.Zero
	for i := range active {
		total = total.Add(RequiredGuarantee(&active[i]))
	}
	return total
}

// AssetGuarantee is quantity × marketPrice × guaranteePercent / 100 for
// assets pledged as guarantee, zero otherwise.
func AssetGuarantee(a model.CustodyAsset) decimal.Decimal {
	if !a.UsedAsGuarantee || a.Quantity <= 0 {
		return decimal.Zero
	}
	return a.MarketValue().Mul(a.GuaranteePercent).Div(hundred)
}

// CustodyGuarantee sums AssetGuarantee over a user's custody rows.
func CustodyGuarantee(assets []model.CustodyAsset) decimal.Decimal {
	total := decimal.Zero
	for _, a := range assets {
		total = total.Add(AssetGuarantee(a))
	}
	return total
}

// AvailableGuarantee is the pledged custody guarantee plus max(0, freeCash).
func AvailableGuarantee(assets []model.CustodyAsset, freeCash decimal.Decimal) decimal.Decimal {
	return CustodyGuarantee(assets).Add(decimal.Max(decimal.Zero, freeCash))
}
