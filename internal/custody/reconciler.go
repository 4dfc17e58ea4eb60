// Package custody keeps custody rows in step with activated and deleted
// structures.
//
// Long stock legs buy into the ticker's row, short stock legs sell out of
// it. Long option and futures legs buy into synthetic rows keyed
// "{ticker}_OPT" / "{ticker}_FUT". Buys move the average price by weighted
// average cost; sells never touch it. The market price is seeded from the
// entry price when a row is created and afterwards only moves through
// UpdateAsset. A row whose quantity reaches zero is deleted.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/metrics"
	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/store"
	"github.com/atmx/treasury-engine/internal/symbol"
)

// DefaultStockGuaranteePercent is the guarantee percent given to new stock rows.
var DefaultStockGuaranteePercent = decimal.NewFromInt(60)

var hundred = decimal.NewFromInt(100)

// Action describes what happened to a custody row.
type Action string

const (
	ActionCreate Action = "create"
	ActionBuy    Action = "buy"
	ActionSell   Action = "sell"
	ActionDelete Action = "delete"
)

// Change records one row mutation.
type Change struct {
	Symbol   string `json:"symbol"`
	Action   Action `json:"action"`
	Quantity int64  `json:"quantity"` // units bought or sold
	LegID    string `json:"leg_id"`
}

// Reconciler applies leg effects to custody rows.
type Reconciler struct {
	store            store.TreasuryStore
	stockGuaranteePc decimal.Decimal
	now              func() time.Time
}

// NewReconciler creates a reconciler. A zero stockGuaranteePercent falls
// back to DefaultStockGuaranteePercent.
func NewReconciler(ts store.TreasuryStore, stockGuaranteePercent decimal.Decimal) *Reconciler {
	if stockGuaranteePercent.IsZero() {
		stockGuaranteePercent = DefaultStockGuaranteePercent
	}
	return &Reconciler{store: ts, stockGuaranteePc: stockGuaranteePercent, now: time.Now}
}

// ApplyActivation applies every leg of a newly activated structure. Short
// option and futures legs have no custody effect. The first store failure
// aborts the remaining legs.
func (r *Reconciler) ApplyActivation(ctx context.Context, s *model.Structure) ([]Change, error) {
	var changes []Change
	for _, leg := range s.Legs {
		b := leg.Base()
		key, err := symbol.CustodyKey(b.Symbol, leg.Kind())
		if err != nil {
			return changes, &model.ValidationError{Field: "leg.symbol", Reason: err.Error(), LegID: b.ID}
		}

		var c *Change
		switch {
		case b.Side == model.Long:
			c, err = r.buy(ctx, s.UserID, key, leg)
		case leg.Kind() == model.KindStock:
			c, err = r.sell(ctx, s.UserID, key, b.Quantity)
		default:
			continue
		}
		if err != nil {
			return changes, err
		}
		if c != nil {
			c.LegID = b.ID
			changes = append(changes, *c)
		}
	}
	return changes, nil
}

// ReverseStructure undoes the holdings a structure's LONG legs created by
// selling the same quantities back out. Rows that no longer exist are
// skipped.
func (r *Reconciler) ReverseStructure(ctx context.Context, s *model.Structure) ([]Change, error) {
	var changes []Change
	for _, leg := range s.Legs {
		b := leg.Base()
		if b.Side != model.Long {
			continue
		}
		key, err := symbol.CustodyKey(b.Symbol, leg.Kind())
		if err != nil {
			continue
		}
		c, err := r.sell(ctx, s.UserID, key, b.Quantity)
		if err != nil {
			return changes, err
		}
		if c != nil {
			c.LegID = b.ID
			changes = append(changes, *c)
		}
	}
	return changes, nil
}

// buyPrice is the per-unit price a long leg enters custody at.
func buyPrice(leg model.Leg) decimal.Decimal {
	switch v := leg.(type) {
	case *model.StockLeg:
		return v.EntryPrice
	case *model.CallLeg:
		return v.Premium
	case *model.PutLeg:
		return v.Premium
	case *model.FutureLeg:
		return v.SpotPrice
	}
	return decimal.Zero
}

func (r *Reconciler) buy(ctx context.Context, userID, key string, leg model.Leg) (*Change, error) {
	qty := leg.Base().Quantity
	price := buyPrice(leg)
	now := r.now().UTC()

	asset, err := r.store.GetCustodyAsset(ctx, userID, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		asset = &model.CustodyAsset{
			ID:           uuid.New().String(),
			UserID:       userID,
			Symbol:       key,
			Kind:         symbol.AssetKind(leg.Kind()),
			Quantity:     qty,
			AveragePrice: price,
			MarketPrice:  price,
		}
		if leg.Kind() == model.KindStock {
			asset.GuaranteePercent = r.stockGuaranteePc
			asset.UsedAsGuarantee = true
		}
		asset.UpdatedAt = now
		if err := r.save(ctx, asset); err != nil {
			return nil, err
		}
		metrics.CustodyUpdates.WithLabelValues(string(ActionCreate)).Inc()
		return &Change{Symbol: key, Action: ActionCreate, Quantity: qty}, nil

	case err != nil:
		return nil, &model.PersistenceError{Op: "read custody " + key, Err: err}
	}

	asset.AveragePrice = WeightedAverage(asset.Quantity, asset.AveragePrice, qty, price)
	asset.Quantity += qty
	asset.UpdatedAt = now
	if err := r.save(ctx, asset); err != nil {
		return nil, err
	}
	metrics.CustodyUpdates.WithLabelValues(string(ActionBuy)).Inc()
	return &Change{Symbol: key, Action: ActionBuy, Quantity: qty}, nil
}

// sell decrements a row, flooring at zero and deleting it once empty.
// Selling a symbol with no row is a no-op.
func (r *Reconciler) sell(ctx context.Context, userID, key string, qty int64) (*Change, error) {
	asset, err := r.store.GetCustodyAsset(ctx, userID, key)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("custody sell without holding", "user", userID, "symbol", key, "qty", qty)
		return nil, nil
	}
	if err != nil {
		return nil, &model.PersistenceError{Op: "read custody " + key, Err: err}
	}

	sold := qty
	if sold > asset.Quantity {
		sold = asset.Quantity
	}
	asset.Quantity -= sold

	if asset.Quantity == 0 {
		if err := r.store.DeleteCustodyAsset(ctx, userID, asset.ID); err != nil {
			metrics.PersistenceErrors.WithLabelValues("delete_custody").Inc()
			return nil, &model.PersistenceError{Op: "delete custody " + key, Err: err}
		}
		metrics.CustodyUpdates.WithLabelValues(string(ActionDelete)).Inc()
		return &Change{Symbol: key, Action: ActionDelete, Quantity: sold}, nil
	}

	asset.UpdatedAt = r.now().UTC()
	if err := r.save(ctx, asset); err != nil {
		return nil, err
	}
	metrics.CustodyUpdates.WithLabelValues(string(ActionSell)).Inc()
	return &Change{Symbol: key, Action: ActionSell, Quantity: sold}, nil
}

func (r *Reconciler) save(ctx context.Context, a *model.CustodyAsset) error {
	if err := r.store.SaveCustodyAsset(ctx, a); err != nil {
		metrics.PersistenceErrors.WithLabelValues("save_custody").Inc()
		return &model.PersistenceError{Op: "save custody " + a.Symbol, Err: err}
	}
	return nil
}

// WeightedAverage returns (q0·p0 + q1·p1) / (q0 + q1). With no combined
// quantity it returns p1.
func WeightedAverage(q0 int64, p0 decimal.Decimal, q1 int64, p1 decimal.Decimal) decimal.Decimal {
	total := q0 + q1
	if total <= 0 {
		return p1
	}
	cost := p0.Mul(decimal.NewFromInt(q0)).Add(p1.Mul(decimal.NewFromInt(q1)))
	return cost.Div(decimal.NewFromInt(total))
}

// AssetUpdate carries the manually editable fields of a custody row. Nil
// fields are left unchanged.
type AssetUpdate struct {
	MarketPrice      *decimal.Decimal `json:"market_price,omitempty"`
	GuaranteePercent *decimal.Decimal `json:"guarantee_percent,omitempty"`
	UsedAsGuarantee  *bool            `json:"used_as_guarantee,omitempty"`
}

// UpdateAsset applies a manual update to a row. There is no market-data
// feed, so this is how market prices move.
func (r *Reconciler) UpdateAsset(ctx context.Context, userID, key string, u AssetUpdate) (*model.CustodyAsset, error) {
	if u.MarketPrice != nil && u.MarketPrice.IsNegative() {
		return nil, &model.ValidationError{Field: "market_price", Reason: "must not be negative"}
	}
	if u.GuaranteePercent != nil && (u.GuaranteePercent.IsNegative() || u.GuaranteePercent.GreaterThan(hundred)) {
		return nil, &model.ValidationError{Field: "guarantee_percent", Reason: "must be between 0 and 100"}
	}

	if _, err := symbol.Parse(key); err != nil {
		return nil, &model.ValidationError{Field: "symbol", Reason: err.Error()}
	}

	asset, err := r.store.GetCustodyAsset(ctx, userID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, &model.PersistenceError{Op: "read custody " + key, Err: err}
	}

	if u.MarketPrice != nil {
		asset.MarketPrice = *u.MarketPrice
	}
	if u.GuaranteePercent != nil {
		asset.GuaranteePercent = *u.GuaranteePercent
	}
	if u.UsedAsGuarantee != nil {
		asset.UsedAsGuarantee = *u.UsedAsGuarantee
	}
	asset.UpdatedAt = r.now().UTC()

	if err := r.save(ctx, asset); err != nil {
		return nil, err
	}
	slog.Info("custody asset updated", "user", userID, "symbol", key,
		"market_price", asset.MarketPrice.String(),
		"guarantee_percent", asset.GuaranteePercent.String(),
		"used_as_guarantee", asset.UsedAsGuarantee,
	)
	return asset, nil
}

// String renders a change for logs.
func (c Change) String() string {
	return fmt.Sprintf("%s %d %s", c.Action, c.Quantity, c.Symbol)
}
