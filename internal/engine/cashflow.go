package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/metrics"
	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/treasury"
)

// CashFlowRequest is a manual ledger entry.
type CashFlowRequest struct {
	Type               model.EntryType `json:"type"`
	Description        string          `json:"description"`
	Amount             decimal.Decimal `json:"amount"` // signed
	RelatedStructureID string          `json:"related_structure_id,omitempty"`
}

// CashFlowOutcome is returned by manual postings.
type CashFlowOutcome struct {
	Entry    *model.CashFlowEntry `json:"entry"`
	Snapshot *treasury.Snapshot   `json:"snapshot"`
}

// PostCashFlow appends a manual entry. STRUCTURE_COST and
// STRUCTURE_PREMIUM are reserved for activation. An entry tied to a
// structure requires that structure to exist and to have been activated.
func (e *Engine) PostCashFlow(ctx context.Context, userID string, req CashFlowRequest) (*CashFlowOutcome, error) {
	if req.Type == model.EntryStructureCost || req.Type == model.EntryStructurePremium {
		return nil, &model.ValidationError{Field: "type", Reason: fmt.Sprintf("%s entries are posted by activation only", req.Type)}
	}

	if req.RelatedStructureID != "" {
		s, err := e.load(ctx, userID, req.RelatedStructureID)
		if err != nil {
			return nil, err
		}
		if s.Status == model.StatusDrafting {
			return nil, &model.ValidationError{Field: "related_structure_id", Reason: "structure has not been activated"}
		}
	}

	entry, err := e.poster.Post(ctx, userID, req.Type, req.Description, req.Amount, req.RelatedStructureID)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			return nil, err
		}
		return nil, e.persistence("post entry", userID, err)
	}
	slog.Info("cash flow posted", "user", userID, "type", entry.Type, "amount", entry.Amount.String(), "balance", entry.Balance.String())

	snap, err := e.changed(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &CashFlowOutcome{Entry: entry, Snapshot: snap}, nil
}

// PostRollCost posts the realized result of a roll as a ROLL_COST entry
// tied to the structure. Costs are negative, credits positive.
func (e *Engine) PostRollCost(ctx context.Context, userID, structureID string, amount decimal.Decimal, description string) (*CashFlowOutcome, error) {
	if description == "" {
		description = "Roll result"
	}
	return e.PostCashFlow(ctx, userID, CashFlowRequest{
		Type:               model.EntryRollCost,
		Description:        description,
		Amount:             amount,
		RelatedStructureID: structureID,
	})
}

// ListCashFlow returns the user's ledger in posting order.
func (e *Engine) ListCashFlow(ctx context.Context, userID string) ([]model.CashFlowEntry, error) {
	entries, err := e.ledger.ListEntries(ctx, userID)
	if err != nil {
		return nil, e.persistence("list entries", userID, err)
	}
	return entries, nil
}

// FindOrphanedEntries returns the user's entries whose related structure
// no longer exists.
func (e *Engine) FindOrphanedEntries(ctx context.Context, userID string) ([]model.CashFlowEntry, error) {
	entries, err := e.ledger.ListEntries(ctx, userID)
	if err != nil {
		return nil, e.persistence("list entries", userID, err)
	}
	structures, err := e.structures.ListStructures(ctx, userID, "")
	if err != nil {
		return nil, e.persistence("list structures", userID, err)
	}

	live := make(map[string]bool, len(structures))
	for _, s := range structures {
		live[s.ID] = true
	}

	var orphans []model.CashFlowEntry
	for _, en := range entries {
		if en.RelatedStructureID != "" && !live[en.RelatedStructureID] {
			orphans = append(orphans, en)
		}
	}
	return orphans, nil
}

// DeleteOrphanedEntry removes one orphaned entry and re-threads the
// remaining balances. Entries that are not orphaned return ErrNotOrphaned.
func (e *Engine) DeleteOrphanedEntry(ctx context.Context, userID, entryID string) (*treasury.Snapshot, error) {
	orphans, err := e.FindOrphanedEntries(ctx, userID)
	if err != nil {
		return nil, err
	}

	found := false
	for _, o := range orphans {
		if o.ID == entryID {
			found = true
			break
		}
	}
	if !found {
		entries, err := e.ledger.ListEntries(ctx, userID)
		if err != nil {
			return nil, e.persistence("list entries", userID, err)
		}
		for _, en := range entries {
			if en.ID == entryID {
				return nil, fmt.Errorf("%w: %s", ErrNotOrphaned, entryID)
			}
		}
		return nil, fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}

	if err := e.poster.RemoveEntry(ctx, userID, entryID); err != nil {
		return nil, e.persistence("delete orphaned entry", userID, err)
	}
	slog.Info("orphaned entry deleted", "user", userID, "entry", entryID)
	return e.changed(ctx, userID)
}

// ScanOrphans counts orphaned entries across every user with a ledger and
// publishes the total as a gauge. It is run periodically by the scheduler.
func (e *Engine) ScanOrphans(ctx context.Context) (int, error) {
	users, err := e.ledger.ListLedgerUsers(ctx)
	if err != nil {
		return 0, e.persistence("list ledger users", "", err)
	}

	total := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		orphans, err := e.FindOrphanedEntries(ctx, u)
		if err != nil {
			return total, err
		}
		if len(orphans) > 0 {
			slog.Warn("orphaned entries found", "user", u, "count", len(orphans))
		}
		total += len(orphans)
	}

	metrics.OrphanedEntries.Set(float64(total))
	return total, nil
}
