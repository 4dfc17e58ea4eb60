package margin

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/atmx/treasury-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func workedStructure() *model.Structure {
	expiry := time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC)
	return &model.Structure{
		ID:   "s1",
		Name: "covered call",
		Legs: model.Legs{
			&model.CallLeg{
				LegBase: model.LegBase{ID: "c", Side: model.Short, Symbol: "PETRA300", Quantity: 100, Expiration: expiry},
				Strike:  d(30), Premium: d(0.5),
			},
			&model.StockLeg{
				LegBase:    model.LegBase{ID: "s", Side: model.Long, Symbol: "PETR4", Quantity: 100, Expiration: model.StockExpiration},
				EntryPrice: d(28),
			},
		},
	}
}

func TestRequiredGuarantee_WorkedExample(t *testing.T) {
	got := RequiredGuarantee(workedStructure())
	assert.True(t, got.Equal(d(450)), "got %s", got)
}

func TestRequiredGuarantee_NoShortLegs(t *testing.T) {
	s := workedStructure()
	s.Legs = s.Legs[1:]
	got := RequiredGuarantee(s)
	assert.True(t, got.IsZero(), "long-only structure should require zero, got %s", got)
}

func TestUsed_SumsActiveStructures(t *testing.T) {
	a := *workedStructure()
	b := *workedStructure()

	got := Used([]model.Structure{a, b})
	assert.True(t, got.Equal(d(900)), "got %s", got)

	got = Used(nil)
	assert.True(t, got.IsZero(), "expected zero for no structures, got %s", got)
}

func TestAvailableGuarantee(t *testing.T) {
	assets := []model.CustodyAsset{
		{Symbol: "PETR4", Quantity: 100, MarketPrice: d(30), GuaranteePercent: d(60), UsedAsGuarantee: true},
		{Symbol: "PETRA300_OPT", Quantity: 100, MarketPrice: d(1), GuaranteePercent: d(0), UsedAsGuarantee: false},
		{Symbol: "VALE3", Quantity: 10, MarketPrice: d(60), GuaranteePercent: d(60), UsedAsGuarantee: false},
	}

	// 100 × 30 × 60% = 1800, plus free cash.
	got := AvailableGuarantee(assets, d(500))
	assert.True(t, got.Equal(d(2300)), "got %s", got)

	// Negative free cash contributes nothing.
	got = AvailableGuarantee(assets, d(-5000))
	assert.True(t, got.Equal(d(1800)), "with negative cash: got %s", got)

	got = AvailableGuarantee(nil, d(-1))
	assert.False(t, got.IsNegative(), "available guarantee must never be negative, got %s", got)
}
