package roll

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/treasury-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	dec26 = time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC)
	jan27 = time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC)
)

func structure() *model.Structure {
	pct := d(20)
	return &model.Structure{
		ID:     "s1",
		UserID: "u",
		Name:   "collar",
		Status: model.StatusActive,
		Legs: model.Legs{
			&model.StockLeg{LegBase: model.LegBase{ID: "stk", Side: model.Long, Symbol: "PETR4", Quantity: 100, Expiration: model.StockExpiration}, EntryPrice: d(28)},
			&model.CallLeg{LegBase: model.LegBase{ID: "call", Side: model.Short, Symbol: "PETRL300", Quantity: 100, Expiration: dec26, CustomMarginPercent: &pct}, Strike: d(30), Premium: d(0.5)},
			&model.PutLeg{LegBase: model.LegBase{ID: "put", Side: model.Long, Symbol: "PETRX260", Quantity: 100, Expiration: dec26}, Strike: d(26), Premium: d(0.3)},
		},
		NetPremium: d(20),
	}
}

func rolledCall() *model.CallLeg {
	return &model.CallLeg{
		LegBase: model.LegBase{ID: "call", Side: model.Long, Symbol: "PETRA320", Quantity: 999, Expiration: jan27},
		Strike:  d(32), Premium: d(0.8),
	}
}

func marshal(t *testing.T, l model.Leg) string {
	t.Helper()
	b, err := json.Marshal(model.ToRecord(l))
	require.NoError(t, err)
	return string(b)
}

func TestApply_SubstitutesOnlyRolledFields(t *testing.T) {
	e := NewExecutor()
	s := structure()

	out, err := e.Apply(s, model.RollPosition{NewLegs: model.Legs{rolledCall()}})
	require.NoError(t, err)

	call := out.Legs[1].(*model.CallLeg)
	assert.Equal(t, "PETRA320", call.Symbol)
	assert.True(t, call.Strike.Equal(d(32)), "strike: got %s", call.Strike)
	assert.True(t, call.Premium.Equal(d(0.8)), "premium: got %s", call.Premium)
	assert.True(t, call.Expiration.Equal(jan27))

	assert.Equal(t, model.Short, call.Side, "side is kept")
	assert.Equal(t, int64(100), call.Quantity, "quantity is kept")
	require.NotNil(t, call.CustomMarginPercent, "custom margin is kept")
	assert.True(t, call.CustomMarginPercent.Equal(d(20)))

	// Net premium recomputed: +80 (short call) - 30 (long put).
	assert.True(t, out.NetPremium.Equal(d(50)), "net premium: got %s", out.NetPremium)
}

func TestApply_UntouchedLegsIdentical(t *testing.T) {
	e := NewExecutor()
	s := structure()
	before := []string{marshal(t, s.Legs[0]), marshal(t, s.Legs[1]), marshal(t, s.Legs[2])}

	out, err := e.Apply(s, model.RollPosition{NewLegs: model.Legs{rolledCall()}})
	require.NoError(t, err)

	assert.Equal(t, before[0], marshal(t, out.Legs[0]), "stock leg changed")
	assert.Equal(t, before[2], marshal(t, out.Legs[2]), "put leg changed")
	assert.Equal(t, before[1], marshal(t, s.Legs[1]), "Apply must not mutate its input")
	assert.Equal(t, s.ID, out.ID)
	assert.Len(t, out.Legs, len(s.Legs))
}

func TestApply_MatchesByIDNotPosition(t *testing.T) {
	e := NewExecutor()
	s := structure()
	s.Legs[0], s.Legs[2] = s.Legs[2], s.Legs[0]

	put := &model.PutLeg{LegBase: model.LegBase{ID: "put", Symbol: "PETRX240", Expiration: jan27}, Strike: d(24), Premium: d(0.2)}
	out, err := e.Apply(s, model.RollPosition{NewLegs: model.Legs{put}})
	require.NoError(t, err)

	got := out.Legs[0].(*model.PutLeg)
	assert.Equal(t, "PETRX240", got.Symbol)
	assert.True(t, got.Strike.Equal(d(24)), "strike: got %s", got.Strike)
}

func TestApply_Errors(t *testing.T) {
	e := NewExecutor()

	wrongKind := &model.PutLeg{LegBase: model.LegBase{ID: "call", Symbol: "X", Expiration: jan27}, Strike: d(1)}
	_, err := e.Apply(structure(), model.RollPosition{NewLegs: model.Legs{wrongKind}})
	assert.ErrorIs(t, err, model.ErrValidation, "kind mismatch")

	unknown := rolledCall()
	unknown.ID = "ghost"
	_, err = e.Apply(structure(), model.RollPosition{NewLegs: model.Legs{unknown}})
	assert.ErrorIs(t, err, model.ErrValidation, "unknown leg id")

	bad := rolledCall()
	bad.Strike = decimal.Zero
	_, err = e.Apply(structure(), model.RollPosition{NewLegs: model.Legs{bad}})
	assert.ErrorIs(t, err, model.ErrValidation, "invalid rolled leg")
}

func TestPrepare_SnapshotsStoredLegs(t *testing.T) {
	e := NewExecutor()
	s := structure()

	stale := &model.CallLeg{LegBase: model.LegBase{ID: "call", Symbol: "OLD"}, Strike: d(1)}
	rp, err := e.Prepare(s, model.RollPosition{OriginalLegs: model.Legs{stale}, NewLegs: model.Legs{rolledCall()}})
	require.NoError(t, err)

	assert.NotEmpty(t, rp.ID)
	assert.Equal(t, "s1", rp.StructureID)
	assert.Equal(t, "u", rp.UserID)
	assert.False(t, rp.RolledAt.IsZero())
	require.Len(t, rp.OriginalLegs, 1)
	assert.Equal(t, "PETRL300", rp.OriginalLegs[0].Base().Symbol, "original legs are the stored pre-roll legs")
}

func TestPrepare_Errors(t *testing.T) {
	e := NewExecutor()

	_, err := e.Prepare(structure(), model.RollPosition{})
	assert.ErrorIs(t, err, model.ErrValidation, "empty roll")

	orphan := &model.PutLeg{LegBase: model.LegBase{ID: "put"}}
	_, err = e.Prepare(structure(), model.RollPosition{OriginalLegs: model.Legs{orphan}, NewLegs: model.Legs{rolledCall()}})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "put", ve.LegID)

	twice := model.Legs{rolledCall(), rolledCall()}
	_, err = e.Prepare(structure(), model.RollPosition{NewLegs: twice})
	assert.ErrorIs(t, err, model.ErrValidation, "duplicate leg")
}
