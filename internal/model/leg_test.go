package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var expiry = time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC)

func TestLegs_JSONPreservesVariants(t *testing.T) {
	pct := d(20)
	legs := Legs{
		&CallLeg{LegBase: LegBase{ID: "c1", Side: Short, Symbol: "PETRA300", Quantity: 100, Expiration: expiry, CustomMarginPercent: &pct}, Strike: d(30), Premium: d(0.5)},
		&StockLeg{LegBase: LegBase{ID: "s1", Side: Long, Symbol: "PETR4", Quantity: 100}, EntryPrice: d(28)},
		&FutureLeg{LegBase: LegBase{ID: "f1", Side: Long, Symbol: "WINZ25", Quantity: 1, Expiration: expiry}, SpotPrice: d(130000), Premium: d(10)},
	}

	data, err := json.Marshal(legs)
	require.NoError(t, err)

	var got Legs
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 3)

	call, ok := got[0].(*CallLeg)
	require.True(t, ok, "leg 0 should be *CallLeg, got %T", got[0])
	assert.True(t, call.Strike.Equal(d(30)), "strike: got %s", call.Strike)
	require.NotNil(t, call.CustomMarginPercent)
	assert.True(t, call.CustomMarginPercent.Equal(pct))

	assert.IsType(t, &StockLeg{}, got[1])

	fut, ok := got[2].(*FutureLeg)
	require.True(t, ok, "leg 2 should be *FutureLeg, got %T", got[2])
	assert.True(t, fut.SpotPrice.Equal(d(130000)), "spot: got %s", fut.SpotPrice)
}

func TestFromRecord_StockGetsSentinelExpiration(t *testing.T) {
	price := d(10)
	leg, err := FromRecord(LegRecord{ID: "s", Kind: KindStock, Side: Long, Symbol: "VALE3", Quantity: 1, EntryPrice: &price})
	require.NoError(t, err)
	assert.True(t, leg.Base().Expiration.Equal(StockExpiration), "got %v", leg.Base().Expiration)
}

func TestFromRecord_UnknownKind(t *testing.T) {
	_, err := FromRecord(LegRecord{ID: "x", Kind: "SWAP"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateLeg(t *testing.T) {
	over := d(150)
	tests := []struct {
		name  string
		leg   Leg
		field string
	}{
		{"ok call", &CallLeg{LegBase: LegBase{ID: "1", Side: Long, Symbol: "A", Quantity: 1, Expiration: expiry}, Strike: d(10), Premium: d(1)}, ""},
		{"ok stock", &StockLeg{LegBase: LegBase{ID: "1", Side: Short, Symbol: "A", Quantity: 1, Expiration: StockExpiration}, EntryPrice: d(10)}, ""},
		{"missing id", &StockLeg{LegBase: LegBase{Side: Long, Symbol: "A", Quantity: 1}, EntryPrice: d(10)}, "leg.id"},
		{"missing symbol", &StockLeg{LegBase: LegBase{ID: "1", Side: Long, Quantity: 1}, EntryPrice: d(10)}, "leg.symbol"},
		{"zero qty", &StockLeg{LegBase: LegBase{ID: "1", Side: Long, Symbol: "A"}, EntryPrice: d(10)}, "leg.quantity"},
		{"bad side", &StockLeg{LegBase: LegBase{ID: "1", Side: "FLAT", Symbol: "A", Quantity: 1}, EntryPrice: d(10)}, "leg.side"},
		{"no strike", &PutLeg{LegBase: LegBase{ID: "1", Side: Long, Symbol: "A", Quantity: 1, Expiration: expiry}, Premium: d(1)}, "leg.strike"},
		{"no entry price", &StockLeg{LegBase: LegBase{ID: "1", Side: Long, Symbol: "A", Quantity: 1}}, "leg.entry_price"},
		{"no spot", &FutureLeg{LegBase: LegBase{ID: "1", Side: Long, Symbol: "A", Quantity: 1, Expiration: expiry}}, "leg.spot_price"},
		{"option without expiration", &CallLeg{LegBase: LegBase{ID: "1", Side: Long, Symbol: "A", Quantity: 1}, Strike: d(10)}, "leg.expiration"},
		{"negative premium", &CallLeg{LegBase: LegBase{ID: "1", Side: Long, Symbol: "A", Quantity: 1, Expiration: expiry}, Strike: d(10), Premium: d(-1)}, "leg.premium"},
		{"margin over 100", &StockLeg{LegBase: LegBase{ID: "1", Side: Short, Symbol: "A", Quantity: 1, CustomMarginPercent: &over}, EntryPrice: d(10)}, "leg.custom_margin_percent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLeg(tt.leg)
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestLegClone_IsIndependent(t *testing.T) {
	pct := d(10)
	orig := &CallLeg{LegBase: LegBase{ID: "c", Side: Short, Symbol: "X", Quantity: 1, Expiration: expiry, CustomMarginPercent: &pct}, Strike: d(5)}
	c := orig.Clone().(*CallLeg)
	c.Strike = d(6)
	*c.CustomMarginPercent = d(50)

	assert.True(t, orig.Strike.Equal(d(5)), "clone mutated original strike")
	assert.True(t, orig.CustomMarginPercent.Equal(d(10)), "clone shares custom margin pointer with original")
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "-R$755,00", FormatMoney(d(-755), "BRL"))
	assert.Equal(t, "$1,234.50", FormatMoney(d(1234.5), "USD"))
}
