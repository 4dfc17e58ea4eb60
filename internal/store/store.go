// Package store defines the persistence interfaces for the treasury engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/model"
)

// ErrNotFound is returned when a structure, entry or asset does not exist
// for the given user.
var ErrNotFound = errors.New("store: not found")

// TreasuryStore persists structures, custody rows and roll history. Every
// query is scoped by user id.
type TreasuryStore interface {
	// --- Structures ---

	// CreateStructure persists a new structure.
	CreateStructure(ctx context.Context, s *model.Structure) error

	// GetStructure retrieves one of the user's structures by id.
	GetStructure(ctx context.Context, userID, id string) (*model.Structure, error)

	// ListStructures returns the user's structures, oldest first. An empty
	// status returns every structure.
	ListStructures(ctx context.Context, userID string, status model.StructureStatus) ([]model.Structure, error)

	// UpdateStructure replaces a stored structure.
	UpdateStructure(ctx context.Context, s *model.Structure) error

	// DeleteStructure removes a structure.
	DeleteStructure(ctx context.Context, userID, id string) error

	// --- Custody ---

	// GetCustodyAsset looks a holding up by its (possibly synthetic) symbol.
	GetCustodyAsset(ctx context.Context, userID, symbol string) (*model.CustodyAsset, error)

	// ListCustodyAssets returns every holding of the user.
	ListCustodyAssets(ctx context.Context, userID string) ([]model.CustodyAsset, error)

	// SaveCustodyAsset inserts or replaces a holding, keyed by id.
	SaveCustodyAsset(ctx context.Context, a *model.CustodyAsset) error

	// DeleteCustodyAsset removes a holding.
	DeleteCustodyAsset(ctx context.Context, userID, id string) error

	// --- Roll history ---

	// InsertRoll appends a roll record. Rolls are never deleted.
	InsertRoll(ctx context.Context, r *model.RollPosition) error

	// ListRolls returns the user's rolls, oldest first.
	ListRolls(ctx context.Context, userID string) ([]model.RollPosition, error)
}

// LedgerStore persists cash-flow entries. Entries are ordered per user by Seq.
type LedgerStore interface {
	// InsertEntry appends an entry. The caller assigns Seq and Balance.
	InsertEntry(ctx context.Context, e *model.CashFlowEntry) error

	// LastEntry returns the user's entry with the highest Seq, or
	// ErrNotFound when the ledger is empty.
	LastEntry(ctx context.Context, userID string) (*model.CashFlowEntry, error)

	// ListEntries returns the user's entries in Seq order.
	ListEntries(ctx context.Context, userID string) ([]model.CashFlowEntry, error)

	// ListEntriesByStructure returns entries whose RelatedStructureID matches.
	ListEntriesByStructure(ctx context.Context, userID, structureID string) ([]model.CashFlowEntry, error)

	// DeleteEntry removes a single entry.
	DeleteEntry(ctx context.Context, userID, id string) error

	// DeleteEntriesByStructure removes every entry tied to a structure and
	// reports how many were removed.
	DeleteEntriesByStructure(ctx context.Context, userID, structureID string) (int, error)

	// UpdateBalances rewrites the Balance of the given entries (id → balance).
	UpdateBalances(ctx context.Context, userID string, balances map[string]decimal.Decimal) error

	// ListLedgerUsers returns every user id that owns at least one entry.
	ListLedgerUsers(ctx context.Context) ([]string, error)
}

// Store combines both collections. The engine depends on the two halves
// separately; concrete backends implement both.
type Store interface {
	TreasuryStore
	LedgerStore
}
