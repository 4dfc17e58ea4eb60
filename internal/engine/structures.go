package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/activation"
	"github.com/atmx/treasury-engine/internal/custody"
	"github.com/atmx/treasury-engine/internal/ledger"
	"github.com/atmx/treasury-engine/internal/metrics"
	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/store"
	"github.com/atmx/treasury-engine/internal/treasury"
	"github.com/atmx/treasury-engine/internal/valuation"
)

// ActivateOptions controls ActivateStructure.
type ActivateOptions struct {
	// Force activates even when a soft gate tripped. Callers set it only
	// after the user confirmed the warnings.
	Force bool
}

// ActivationOutcome describes what ActivateStructure did. When
// RequiresConfirmation is set nothing was written.
type ActivationOutcome struct {
	Structure            *model.Structure      `json:"structure"`
	Validation           *activation.Result    `json:"validation"`
	RequiresConfirmation bool                  `json:"requires_confirmation"`
	Forced               bool                  `json:"forced"`
	Entries              []model.CashFlowEntry `json:"entries,omitempty"`
	CustodyChanges       []custody.Change      `json:"custody_changes,omitempty"`
	Snapshot             *treasury.Snapshot    `json:"snapshot"`
}

// CloseOptions controls CloseStructure.
type CloseOptions struct {
	// Profit, when non-zero, is posted as a PROFIT entry tied to the
	// structure. Losses are negative.
	Profit      decimal.Decimal `json:"profit"`
	Description string          `json:"description"`
}

// StructureOutcome is returned by operations that change one structure.
type StructureOutcome struct {
	Structure *model.Structure     `json:"structure"`
	Entry     *model.CashFlowEntry `json:"entry,omitempty"`
	Snapshot  *treasury.Snapshot   `json:"snapshot"`
}

// SaveDraft creates or replaces a DRAFTING structure. Drafts need a name;
// legs may be added later but every leg given must be well formed. Derived
// figures are recomputed from the legs.
func (e *Engine) SaveDraft(ctx context.Context, userID string, s *model.Structure) (*model.Structure, error) {
	defer metrics.ObserveSince("save_draft", time.Now())

	draft := s.Clone()
	draft.UserID = userID
	draft.Status = model.StatusDrafting
	draft.ActivatedAt, draft.ClosedAt = nil, nil

	if strings.TrimSpace(draft.Name) == "" {
		return nil, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	for _, leg := range draft.Legs {
		if err := model.ValidateLeg(leg); err != nil {
			return nil, err
		}
	}
	valuation.Derive(draft, e.Policy().CostPerLeg)

	if draft.ID == "" {
		draft.ID = uuid.New().String()
		draft.CreatedAt = e.now().UTC()
		if err := e.structures.CreateStructure(ctx, draft); err != nil {
			return nil, e.persistence("create structure", userID, err)
		}
		slog.Info("draft created", "user", userID, "structure", draft.ID, "legs", len(draft.Legs))
		return draft, nil
	}

	existing, err := e.load(ctx, userID, draft.ID)
	if err != nil {
		return nil, err
	}
	if existing.Status != model.StatusDrafting {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotDrafting, existing.ID, existing.Status)
	}
	draft.CreatedAt = existing.CreatedAt
	if err := e.structures.UpdateStructure(ctx, draft); err != nil {
		return nil, e.persistence("update structure", userID, err)
	}
	slog.Info("draft updated", "user", userID, "structure", draft.ID, "legs", len(draft.Legs))
	return draft, nil
}

// GetStructure returns one of the user's structures.
func (e *Engine) GetStructure(ctx context.Context, userID, id string) (*model.Structure, error) {
	return e.load(ctx, userID, id)
}

// ListStructures returns the user's structures; an empty status lists all.
func (e *Engine) ListStructures(ctx context.Context, userID string, status model.StructureStatus) ([]model.Structure, error) {
	list, err := e.structures.ListStructures(ctx, userID, status)
	if err != nil {
		return nil, e.persistence("list structures", userID, err)
	}
	return list, nil
}

// ActivateStructure moves a structure from DRAFTING to ACTIVE.
//
// The structure is validated against a fresh snapshot. Hard failures
// return a *model.ValidationError. If a soft gate trips and opts.Force is
// not set, the outcome has RequiresConfirmation and nothing is written.
// Otherwise the status flips first, then the ledger entries are posted
// and custody is reconciled, each exactly once for the structure id.
// Activating a structure that is no longer DRAFTING returns ErrNotDrafting;
// an id that still owns ledger entries returns ErrStaleEntries.
func (e *Engine) ActivateStructure(ctx context.Context, userID string, s *model.Structure, opts ActivateOptions) (*ActivationOutcome, error) {
	defer metrics.ObserveSince("activate", time.Now())

	candidate := s.Clone()
	candidate.UserID = userID

	var stored *model.Structure
	if candidate.ID != "" {
		existing, err := e.structures.GetStructure(ctx, userID, candidate.ID)
		switch {
		case err == nil:
			stored = existing
		case !errors.Is(err, store.ErrNotFound):
			metrics.ActivationsTotal.WithLabelValues("failed").Inc()
			return nil, e.persistence("load structure", userID, err)
		}
	}
	if stored != nil && stored.Status != model.StatusDrafting {
		metrics.ActivationsTotal.WithLabelValues("duplicate").Inc()
		slog.Warn("activation rejected, structure already activated", "user", userID, "structure", stored.ID, "status", stored.Status)
		return nil, fmt.Errorf("%w: %s is %s", ErrNotDrafting, stored.ID, stored.Status)
	}
	if candidate.ID != "" {
		stale, err := e.ledger.ListEntriesByStructure(ctx, userID, candidate.ID)
		if err != nil {
			metrics.ActivationsTotal.WithLabelValues("failed").Inc()
			return nil, e.persistence("check structure entries", userID, err)
		}
		if len(stale) > 0 {
			metrics.ActivationsTotal.WithLabelValues("duplicate").Inc()
			slog.Warn("activation rejected, orphaned entries use this id", "user", userID, "structure", candidate.ID, "entries", len(stale))
			return nil, fmt.Errorf("%w: %s has %d entries", ErrStaleEntries, candidate.ID, len(stale))
		}
	}

	valuation.Derive(candidate, e.Policy().CostPerLeg)

	snap, err := e.ComputeTreasurySnapshot(ctx, userID)
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	res, err := e.validator.Validate(candidate, snap)
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	out := &ActivationOutcome{Structure: candidate, Validation: res, Snapshot: snap}
	for _, w := range res.Warnings {
		metrics.GateWarnings.WithLabelValues(string(w.Gate)).Inc()
		slog.Warn("activation gate tripped",
			"user", userID,
			"structure", candidate.ID,
			"err", w.Err(),
			"amount", w.Amount.String(),
			"limit", w.Limit.String(),
			"forced", opts.Force,
		)
	}
	if res.RequiresConfirmation() && !opts.Force {
		metrics.ActivationsTotal.WithLabelValues("confirmation_required").Inc()
		out.RequiresConfirmation = true
		return out, nil
	}
	out.Forced = res.RequiresConfirmation()

	// 1. Status flip.
	now := e.now().UTC()
	candidate.Status = model.StatusActive
	candidate.ActivatedAt = &now
	candidate.ClosedAt = nil
	if stored != nil {
		candidate.CreatedAt = stored.CreatedAt
		err = e.structures.UpdateStructure(ctx, candidate)
	} else {
		if candidate.ID == "" {
			candidate.ID = uuid.New().String()
		}
		candidate.CreatedAt = now
		err = e.structures.CreateStructure(ctx, candidate)
	}
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("failed").Inc()
		return nil, e.persistence("activate structure", userID, err)
	}

	// 2. Ledger, keyed by structure id.
	entries, err := e.poster.PostActivation(ctx, candidate)
	out.Entries = entries
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, ledger.ErrAlreadyPosted) {
			return out, fmt.Errorf("%w: %v", ErrStaleEntries, err)
		}
		return out, e.persistence("post activation", userID, err)
	}

	// 3. Custody.
	changes, err := e.custody.ApplyActivation(ctx, candidate)
	out.CustodyChanges = changes
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, model.ErrValidation) {
			return out, err
		}
		return out, e.persistence("reconcile custody", userID, err)
	}

	metrics.ActivationsTotal.WithLabelValues("activated").Inc()
	slog.Info("structure activated",
		"user", userID,
		"structure", candidate.ID,
		"legs", len(candidate.Legs),
		"new_balance", res.NewBalance.String(),
		"required_guarantee", res.RequiredGuarantee.String(),
		"forced", out.Forced,
		"entries", len(entries),
	)

	out.Snapshot, err = e.changed(ctx, userID)
	if err != nil {
		return out, err
	}
	return out, nil
}

// CloseStructure moves an ACTIVE structure to CLOSED and, when opts.Profit
// is non-zero, posts a PROFIT entry tied to it.
func (e *Engine) CloseStructure(ctx context.Context, userID, id string, opts CloseOptions) (*StructureOutcome, error) {
	defer metrics.ObserveSince("close", time.Now())

	s, err := e.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if s.Status != model.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, s.ID, s.Status)
	}

	now := e.now().UTC()
	s.Status = model.StatusClosed
	s.ClosedAt = &now
	if err := e.structures.UpdateStructure(ctx, s); err != nil {
		return nil, e.persistence("close structure", userID, err)
	}

	out := &StructureOutcome{Structure: s}
	if !opts.Profit.IsZero() {
		desc := opts.Description
		if strings.TrimSpace(desc) == "" {
			desc = "Result: " + s.Name
		}
		entry, err := e.poster.Post(ctx, userID, model.EntryProfit, desc, opts.Profit, s.ID)
		if err != nil {
			return out, e.persistence("post profit", userID, err)
		}
		out.Entry = entry
	}

	slog.Info("structure closed", "user", userID, "structure", s.ID, "profit", opts.Profit.String())
	out.Snapshot, err = e.changed(ctx, userID)
	return out, err
}

// DeleteStructure removes a structure. If it was ever activated, its
// cash-flow entries are deleted (and the remaining balances re-threaded)
// and the custody its LONG legs created is sold back out.
//
// The structure row goes first so that a failure in the cleanup leaves
// entries that FindOrphanedEntries reports.
func (e *Engine) DeleteStructure(ctx context.Context, userID, id string) (*treasury.Snapshot, error) {
	defer metrics.ObserveSince("delete", time.Now())

	s, err := e.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	// Custody was built from the legs as activated, before any roll.
	var activated *model.Structure
	if s.Status != model.StatusDrafting {
		activated, err = e.activatedStructure(ctx, userID, s)
		if err != nil {
			return nil, err
		}
	}

	if err := e.structures.DeleteStructure(ctx, userID, id); err != nil {
		return nil, e.persistence("delete structure", userID, err)
	}

	if activated != nil {
		removed, err := e.poster.RemoveStructureEntries(ctx, userID, id)
		if err != nil {
			return nil, e.persistence("delete structure entries", userID, err)
		}
		changes, err := e.custody.ReverseStructure(ctx, activated)
		if err != nil {
			return nil, e.persistence("reverse custody", userID, err)
		}
		slog.Info("structure effects reversed", "user", userID, "structure", id,
			"entries_removed", removed, "custody_changes", len(changes))
	}

	slog.Info("structure deleted", "user", userID, "structure", id, "status", s.Status)
	return e.changed(ctx, userID)
}

// activatedStructure returns a copy of s whose legs are put back to their
// state at activation, using the earliest roll that replaced each leg.
func (e *Engine) activatedStructure(ctx context.Context, userID string, s *model.Structure) (*model.Structure, error) {
	rolls, err := e.structures.ListRolls(ctx, userID)
	if err != nil {
		return nil, e.persistence("list rolls", userID, err)
	}

	first := make(map[string]model.Leg)
	for _, rp := range rolls {
		if rp.StructureID != s.ID {
			continue
		}
		for _, leg := range rp.OriginalLegs {
			if _, ok := first[leg.Base().ID]; !ok {
				first[leg.Base().ID] = leg
			}
		}
	}

	out := s.Clone()
	out.UserID = userID
	for i, leg := range out.Legs {
		if orig, ok := first[leg.Base().ID]; ok {
			out.Legs[i] = orig.Clone()
		}
	}
	return out, nil
}
