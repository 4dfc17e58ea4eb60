// Package engine runs the structure lifecycle against the treasury and
// ledger stores.
//
// Every user action is one sequential unit of work: store calls are awaited
// in order and there is no rollback coordinator, so a failure part-way
// leaves the rows already written in place. Entries whose structure no
// longer exists can be found with FindOrphanedEntries and removed by hand.
// The engine takes no locks; it assumes a single writer per user.
//
// Mutating operations return a freshly computed treasury snapshot and pass
// it to the optional OnChange callback.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/activation"
	"github.com/atmx/treasury-engine/internal/custody"
	"github.com/atmx/treasury-engine/internal/ledger"
	"github.com/atmx/treasury-engine/internal/metrics"
	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/roll"
	"github.com/atmx/treasury-engine/internal/store"
	"github.com/atmx/treasury-engine/internal/treasury"
)

var (
	// ErrNotFound is returned for a missing structure, entry or asset.
	ErrNotFound = store.ErrNotFound

	// ErrNotDrafting is returned when activating or editing a structure
	// that has already left DRAFTING.
	ErrNotDrafting = errors.New("engine: structure is not drafting")

	// ErrNotActive is returned when rolling or closing a structure that is
	// not ACTIVE.
	ErrNotActive = errors.New("engine: structure is not active")

	// ErrNotOrphaned is returned when deleting an entry whose structure
	// still exists, or that has no structure at all.
	ErrNotOrphaned = errors.New("engine: entry is not orphaned")

	// ErrStaleEntries is returned when activating under an id that still
	// has ledger entries left behind by a deleted structure.
	ErrStaleEntries = errors.New("engine: structure id still has ledger entries")
)

// ChangeFunc receives the snapshot computed after a mutation.
type ChangeFunc func(ctx context.Context, userID string, snap *treasury.Snapshot)

// Options configures an Engine.
type Options struct {
	// Policy holds the assembly cost and gate tolerances.
	Policy activation.Policy

	// StockGuaranteePercent is given to newly created stock custody rows.
	StockGuaranteePercent decimal.Decimal

	// OnChange, if set, is called after every successful mutation.
	OnChange ChangeFunc
}

// DefaultOptions returns the standard policy with no callback.
func DefaultOptions() Options {
	return Options{
		Policy:                activation.DefaultPolicy(),
		StockGuaranteePercent: custody.DefaultStockGuaranteePercent,
	}
}

// Engine is the entry point for every lifecycle operation.
type Engine struct {
	structures store.TreasuryStore
	ledger     store.LedgerStore

	snapshots *treasury.Builder
	validator *activation.Validator
	poster    *ledger.Poster
	custody   *custody.Reconciler
	rolls     *roll.Executor

	onChange ChangeFunc
	now      func() time.Time
}

// New wires an engine over the given stores.
func New(ts store.TreasuryStore, ls store.LedgerStore, opts Options) *Engine {
	return &Engine{
		structures: ts,
		ledger:     ls,
		snapshots:  treasury.NewBuilder(ts, ls),
		validator:  activation.NewValidator(opts.Policy),
		poster:     ledger.NewPoster(ls),
		custody:    custody.NewReconciler(ts, opts.StockGuaranteePercent),
		rolls:      roll.NewExecutor(),
		onChange:   opts.OnChange,
		now:        time.Now,
	}
}

// SetOnChange replaces the change callback. It must be called before the
// engine serves requests.
func (e *Engine) SetOnChange(fn ChangeFunc) { e.onChange = fn }

// Policy returns the effective activation policy.
func (e *Engine) Policy() activation.Policy { return e.validator.Policy() }

// ComputeTreasurySnapshot builds a fresh snapshot for the user.
func (e *Engine) ComputeTreasurySnapshot(ctx context.Context, userID string) (*treasury.Snapshot, error) {
	snap, err := e.snapshots.Build(ctx, userID)
	if err != nil {
		return nil, e.persistence("compute snapshot", userID, err)
	}
	return snap, nil
}

// ValidateActivation runs the hard checks and soft gates for s against snap.
// Soft gate failures come back as warnings in the result, never as errors.
func (e *Engine) ValidateActivation(s *model.Structure, snap *treasury.Snapshot) (*activation.Result, error) {
	return e.validator.Validate(s, snap)
}

// changed recomputes the snapshot after a mutation and hands it to OnChange.
func (e *Engine) changed(ctx context.Context, userID string) (*treasury.Snapshot, error) {
	snap, err := e.ComputeTreasurySnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if e.onChange != nil {
		e.onChange(ctx, userID, snap)
	}
	return snap, nil
}

// persistence logs a store failure and wraps it as a PersistenceError
// unless it already is one or is a not-found.
func (e *Engine) persistence(op, userID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	var pe *model.PersistenceError
	if !errors.As(err, &pe) {
		err = &model.PersistenceError{Op: op, Err: err}
	}
	metrics.PersistenceErrors.WithLabelValues(op).Inc()
	slog.Error("persistence failure", "op", op, "user", userID, "err", err)
	return err
}

// load fetches one of the user's structures.
func (e *Engine) load(ctx context.Context, userID, id string) (*model.Structure, error) {
	s, err := e.structures.GetStructure(ctx, userID, id)
	if err != nil {
		return nil, e.persistence("load structure", userID, err)
	}
	return s, nil
}
