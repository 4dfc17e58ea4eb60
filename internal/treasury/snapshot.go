// Package treasury assembles a user's treasury position from the ledger,
// custody rows and ACTIVE structures. Snapshots are always built from fresh
// reads; nothing here is cached.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/margin"
	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/store"
)

// Snapshot is a point-in-time view of a user's cash and guarantee position.
type Snapshot struct {
	UserID           string          `json:"user_id"`
	LedgerBalance    decimal.Decimal `json:"ledger_balance"`
	FreeCash         decimal.Decimal `json:"free_cash"` // max(0, ledger balance)
	CustodyValue     decimal.Decimal `json:"custody_value"`
	CustodyGuarantee decimal.Decimal `json:"custody_guarantee"`
	GuaranteeTotal   decimal.Decimal `json:"guarantee_total"` // custody guarantee + free cash
	GuaranteeUsed    decimal.Decimal `json:"guarantee_used"`

	// GuaranteeAvailable is floored at zero for display. GuaranteeHeadroom
	// keeps the sign and is what deficit math uses.
	GuaranteeAvailable decimal.Decimal `json:"guarantee_available"`
	GuaranteeHeadroom  decimal.Decimal `json:"guarantee_headroom"`

	ActiveStructures int       `json:"active_structures"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Compute derives a snapshot from already-loaded inputs.
func Compute(userID string, ledgerBalance decimal.Decimal, assets []model.CustodyAsset, active []model.Structure, now time.Time) *Snapshot {
	freeCash := decimal.Max(decimal.Zero, ledgerBalance)

	custodyValue := decimal.Zero
	for _, a := range assets {
		custodyValue = custodyValue.Add(a.MarketValue())
	}

	total := margin.AvailableGuarantee(assets, freeCash)
	used := margin.Used(active)
	headroom := total.Sub(used)

	return &Snapshot{
		UserID:             userID,
		LedgerBalance:      ledgerBalance,
		FreeCash:           freeCash,
		CustodyValue:       custodyValue,
		CustodyGuarantee:   margin.CustodyGuarantee(assets),
		GuaranteeTotal:     total,
		GuaranteeUsed:      used,
		GuaranteeAvailable: decimal.Max(decimal.Zero, headroom),
		GuaranteeHeadroom:  headroom,
		ActiveStructures:   len(active),
		ComputedAt:         now,
	}
}

// Builder reads snapshot inputs from the stores.
type Builder struct {
	structures store.TreasuryStore
	ledger     store.LedgerStore
	now        func() time.Time
}

// NewBuilder creates a snapshot builder over the given stores.
func NewBuilder(ts store.TreasuryStore, ls store.LedgerStore) *Builder {
	return &Builder{structures: ts, ledger: ls, now: time.Now}
}

// Build reads the latest balance, custody rows and ACTIVE structures for
// the user and computes a snapshot. An empty ledger counts as zero balance.
func (b *Builder) Build(ctx context.Context, userID string) (*Snapshot, error) {
	balance, err := b.latestBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	assets, err := b.structures.ListCustodyAssets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list custody for %s: %w", userID, err)
	}

	active, err := b.structures.ListStructures(ctx, userID, model.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active structures for %s: %w", userID, err)
	}

	return Compute(userID, balance, assets, active, b.now().UTC()), nil
}

func (b *Builder) latestBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	last, err := b.ledger.LastEntry(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("latest balance for %s: %w", userID, err)
	}
	return last.Balance, nil
}
