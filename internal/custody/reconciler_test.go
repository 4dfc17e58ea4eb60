package custody

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/store"
	"github.com/atmx/treasury-engine/internal/store/storetest"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var expiry = time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC)

func stockLeg(id string, side model.Side, sym string, qty int64, price float64) *model.StockLeg {
	return &model.StockLeg{
		LegBase:    model.LegBase{ID: id, Side: side, Symbol: sym, Quantity: qty, Expiration: model.StockExpiration},
		EntryPrice: d(price),
	}
}

func structure(legs ...model.Leg) *model.Structure {
	return &model.Structure{ID: "s1", UserID: "u", Name: "test", Legs: legs, Status: model.StatusActive}
}

func asset(t *testing.T, ms *store.MemoryStore, sym string) *model.CustodyAsset {
	t.Helper()
	a, err := ms.GetCustodyAsset(context.Background(), "u", sym)
	require.NoError(t, err)
	return a
}

func TestApplyActivation_CreatesStockRow(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconciler(ms, decimal.Zero)

	changes, err := r.ApplyActivation(context.Background(), structure(stockLeg("a", model.Long, "PETR4", 100, 28)))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ActionCreate, changes[0].Action)

	a := asset(t, ms, "PETR4")
	assert.Equal(t, int64(100), a.Quantity)
	assert.True(t, a.AveragePrice.Equal(d(28)))
	assert.True(t, a.GuaranteePercent.Equal(d(60)))
	assert.True(t, a.UsedAsGuarantee)
	assert.Equal(t, model.AssetStock, a.Kind)
}

func TestWeightedAverage(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconciler(ms, decimal.Zero)
	ctx := context.Background()

	_, err := r.ApplyActivation(ctx, structure(stockLeg("a", model.Long, "PETR4", 100, 28)))
	require.NoError(t, err)
	_, err = r.ApplyActivation(ctx, structure(stockLeg("b", model.Long, "PETR4", 300, 32)))
	require.NoError(t, err)

	// (100×28 + 300×32) / 400 = 31
	a := asset(t, ms, "PETR4")
	assert.Equal(t, int64(400), a.Quantity)
	assert.True(t, a.AveragePrice.Equal(d(31)), "got %s", a.AveragePrice)
	assert.True(t, a.MarketPrice.Equal(d(28)), "market price is only seeded when the row is created")

	// Selling never changes the average.
	_, err = r.ApplyActivation(ctx, structure(stockLeg("c", model.Short, "PETR4", 150, 40)))
	require.NoError(t, err)
	a = asset(t, ms, "PETR4")
	assert.Equal(t, int64(250), a.Quantity)
	assert.True(t, a.AveragePrice.Equal(d(31)))
}

func TestWeightedAverage_Formula(t *testing.T) {
	cases := []struct {
		q0, q1 int64
		p0, p1 float64
	}{
		{100, 100, 10, 20},
		{1, 2, 3.33, 7.77},
		{0, 50, 0, 12.5},
		{700, 300, 21.17, 19.03},
	}
	for _, c := range cases {
		got := WeightedAverage(c.q0, d(c.p0), c.q1, d(c.p1))
		want := d(c.p0).Mul(decimal.NewFromInt(c.q0)).
			Add(d(c.p1).Mul(decimal.NewFromInt(c.q1))).
			Div(decimal.NewFromInt(c.q0 + c.q1))
		assert.True(t, got.Equal(want), "q0=%d p0=%v q1=%d p1=%v: got %s want %s", c.q0, c.p0, c.q1, c.p1, got, want)
	}
}

func TestApplyActivation_ShortWithoutHoldingCreatesNothing(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconciler(ms, decimal.Zero)

	changes, err := r.ApplyActivation(context.Background(), structure(stockLeg("a", model.Short, "VALE3", 100, 60)))
	require.NoError(t, err)
	assert.Empty(t, changes)

	list, _ := ms.ListCustodyAssets(context.Background(), "u")
	assert.Empty(t, list)
}

func TestApplyActivation_SellFloorsAtZeroAndDeletes(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconciler(ms, decimal.Zero)
	ctx := context.Background()

	_, _ = r.ApplyActivation(ctx, structure(stockLeg("a", model.Long, "PETR4", 100, 28)))
	changes, err := r.ApplyActivation(ctx, structure(stockLeg("b", model.Short, "PETR4", 250, 30)))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ActionDelete, changes[0].Action)
	assert.Equal(t, int64(100), changes[0].Quantity)

	_, err = ms.GetCustodyAsset(ctx, "u", "PETR4")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyActivation_SyntheticRows(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconciler(ms, decimal.Zero)
	ctx := context.Background()

	s := structure(
		&model.CallLeg{LegBase: model.LegBase{ID: "c", Side: model.Long, Symbol: "PETRA300", Quantity: 100, Expiration: expiry}, Strike: d(30), Premium: d(0.5)},
		&model.PutLeg{LegBase: model.LegBase{ID: "p", Side: model.Short, Symbol: "PETRM280", Quantity: 100, Expiration: expiry}, Strike: d(28), Premium: d(0.4)},
		&model.FutureLeg{LegBase: model.LegBase{ID: "f", Side: model.Long, Symbol: "WINZ25", Quantity: 2, Expiration: expiry}, SpotPrice: d(130000), Premium: d(10)},
	)
	changes, err := r.ApplyActivation(ctx, s)
	require.NoError(t, err)
	assert.Len(t, changes, 2, "short option legs have no custody effect")

	opt := asset(t, ms, "PETRA300_OPT")
	assert.Equal(t, model.AssetOption, opt.Kind)
	assert.True(t, opt.AveragePrice.Equal(d(0.5)))
	assert.True(t, opt.GuaranteePercent.IsZero())
	assert.False(t, opt.UsedAsGuarantee)

	fut := asset(t, ms, "WINZ25_FUT")
	assert.Equal(t, model.AssetFuture, fut.Kind)
	assert.True(t, fut.AveragePrice.Equal(d(130000)))
	assert.False(t, fut.UsedAsGuarantee)

	_, err = ms.GetCustodyAsset(ctx, "u", "PETRM280_OPT")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReverseStructure(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconciler(ms, decimal.Zero)
	ctx := context.Background()

	// A pre-existing holding plus a structure that adds to it.
	_, _ = r.ApplyActivation(ctx, &model.Structure{ID: "s0", UserID: "u", Legs: model.Legs{stockLeg("x", model.Long, "PETR4", 200, 25)}})
	s := structure(
		stockLeg("a", model.Long, "PETR4", 100, 28),
		stockLeg("b", model.Long, "VALE3", 10, 60),
		&model.CallLeg{LegBase: model.LegBase{ID: "c", Side: model.Long, Symbol: "PETRA300", Quantity: 100, Expiration: expiry}, Strike: d(30), Premium: d(0.5)},
		&model.CallLeg{LegBase: model.LegBase{ID: "d", Side: model.Short, Symbol: "PETRA320", Quantity: 100, Expiration: expiry}, Strike: d(32), Premium: d(0.2)},
	)
	_, err := r.ApplyActivation(ctx, s)
	require.NoError(t, err)
	avgBefore := asset(t, ms, "PETR4").AveragePrice

	changes, err := r.ReverseStructure(ctx, s)
	require.NoError(t, err)
	assert.Len(t, changes, 3)

	petr := asset(t, ms, "PETR4")
	assert.Equal(t, int64(200), petr.Quantity)
	assert.True(t, petr.AveragePrice.Equal(avgBefore), "reversal is a sell and keeps the average")

	for _, sym := range []string{"VALE3", "PETRA300_OPT"} {
		_, err := ms.GetCustodyAsset(ctx, "u", sym)
		assert.ErrorIs(t, err, store.ErrNotFound, sym)
	}
}

func TestApplyActivation_PersistenceError(t *testing.T) {
	fs := storetest.NewFaultyStore(store.NewMemoryStore())
	r := NewReconciler(fs, decimal.Zero)
	fs.FailAfter(storetest.OpSaveCustodyAsset, 1)

	changes, err := r.ApplyActivation(context.Background(), structure(
		stockLeg("a", model.Long, "PETR4", 100, 28),
		stockLeg("b", model.Long, "VALE3", 10, 60),
	))
	var pe *model.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Len(t, changes, 1)
}

func TestUpdateAsset(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconciler(ms, decimal.Zero)
	ctx := context.Background()
	_, _ = r.ApplyActivation(ctx, structure(stockLeg("a", model.Long, "PETR4", 100, 28)))

	price := d(35)
	off := false
	a, err := r.UpdateAsset(ctx, "u", "PETR4", AssetUpdate{MarketPrice: &price, UsedAsGuarantee: &off})
	require.NoError(t, err)
	assert.True(t, a.MarketPrice.Equal(d(35)))
	assert.True(t, a.AveragePrice.Equal(d(28)), "manual updates never touch the average")
	assert.False(t, a.UsedAsGuarantee)

	bad := d(120)
	_, err = r.UpdateAsset(ctx, "u", "PETR4", AssetUpdate{GuaranteePercent: &bad})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = r.UpdateAsset(ctx, "u", "NOPE3", AssetUpdate{MarketPrice: &price})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateAsset_MarketPriceSurvivesLaterBuys(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconciler(ms, decimal.Zero)
	ctx := context.Background()
	_, _ = r.ApplyActivation(ctx, structure(stockLeg("a", model.Long, "PETR4", 100, 28)))

	price := d(35)
	_, err := r.UpdateAsset(ctx, "u", "PETR4", AssetUpdate{MarketPrice: &price})
	require.NoError(t, err)

	_, err = r.ApplyActivation(ctx, structure(stockLeg("b", model.Long, "PETR4", 100, 30)))
	require.NoError(t, err)

	a := asset(t, ms, "PETR4")
	assert.Equal(t, int64(200), a.Quantity)
	assert.True(t, a.AveragePrice.Equal(d(29)), "got %s", a.AveragePrice)
	assert.True(t, a.MarketPrice.Equal(d(35)), "got %s", a.MarketPrice)
}

func TestUpdateAsset_RejectsMalformedKeys(t *testing.T) {
	r := NewReconciler(store.NewMemoryStore(), decimal.Zero)
	price := d(1)

	for _, key := range []string{"", "PETR 4", "_OPT", "_FUT"} {
		_, err := r.UpdateAsset(context.Background(), "u", key, AssetUpdate{MarketPrice: &price})
		assert.ErrorIs(t, err, model.ErrValidation, "key %q", key)
	}
}
