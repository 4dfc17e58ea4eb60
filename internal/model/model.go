// Package model defines the core domain types shared across the treasury
// engine. All monetary values use shopspring/decimal; never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StructureStatus is the lifecycle state of a structure. Transitions are
// monotonic: DRAFTING -> ACTIVE -> CLOSED.
type StructureStatus string

const (
	StatusDrafting StructureStatus = "DRAFTING"
	StatusActive   StructureStatus = "ACTIVE"
	StatusClosed   StructureStatus = "CLOSED"
)

// Structure is a named, user-owned bundle of legs.
type Structure struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Name         string          `json:"name" db:"name"`
	Legs         Legs            `json:"legs" db:"legs"`
	NetPremium   decimal.Decimal `json:"net_premium" db:"net_premium"`     // signed premium cash impact
	AssemblyCost decimal.Decimal `json:"assembly_cost" db:"assembly_cost"` // cost per leg × leg count
	Status       StructureStatus `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ActivatedAt  *time.Time      `json:"activated_at,omitempty" db:"activated_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (s *Structure) Clone() *Structure {
	c := *s
	c.Legs = s.Legs.Clone()
	if s.ActivatedAt != nil {
		t := *s.ActivatedAt
		c.ActivatedAt = &t
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// EntryType classifies a cash-flow entry.
type EntryType string

const (
	EntryDeposit          EntryType = "DEPOSIT"
	EntryWithdrawal       EntryType = "WITHDRAWAL"
	EntryStructureCost    EntryType = "STRUCTURE_COST"
	EntryStructurePremium EntryType = "STRUCTURE_PREMIUM"
	EntryRollCost         EntryType = "ROLL_COST"
	EntryExerciseCost     EntryType = "EXERCISE_COST"
	EntryBrokerage        EntryType = "BROKERAGE"
	EntryTax              EntryType = "TAX"
	EntryProfit           EntryType = "PROFIT"
)

var entryTypes = map[EntryType]bool{
	EntryDeposit:          true,
	EntryWithdrawal:       true,
	EntryStructureCost:    true,
	EntryStructurePremium: true,
	EntryRollCost:         true,
	EntryExerciseCost:     true,
	EntryBrokerage:        true,
	EntryTax:              true,
	EntryProfit:           true,
}

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool { return entryTypes[t] }

// CashFlowEntry is an append-only ledger row. Balance is the running total
// after this entry in Seq order.
type CashFlowEntry struct {
	ID                 string          `json:"id" db:"id"`
	UserID             string          `json:"user_id" db:"user_id"`
	Seq                int64           `json:"seq" db:"seq"`
	Date               time.Time       `json:"date" db:"date"`
	Type               EntryType       `json:"type" db:"type"`
	Description        string          `json:"description" db:"description"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`   // signed
	Balance            decimal.Decimal `json:"balance" db:"balance"` // running total
	RelatedStructureID string          `json:"related_structure_id,omitempty" db:"related_structure_id"`
}

// AssetKind classifies a custody row.
type AssetKind string

const (
	AssetStock  AssetKind = "STOCK"
	AssetOption AssetKind = "OPTION"
	AssetFuture AssetKind = "FUTURE"
)

// CustodyAsset is a user's holding of one symbol. Options and futures are
// held under synthetic symbols (see package symbol).
type CustodyAsset struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	Symbol           string          `json:"symbol" db:"symbol"`
	Kind             AssetKind       `json:"kind" db:"kind"`
	Quantity         int64           `json:"quantity" db:"quantity"`
	AveragePrice     decimal.Decimal `json:"average_price" db:"average_price"`
	MarketPrice      decimal.Decimal `json:"market_price" db:"market_price"`
	GuaranteePercent decimal.Decimal `json:"guarantee_percent" db:"guarantee_percent"`
	UsedAsGuarantee  bool            `json:"used_as_guarantee" db:"used_as_guarantee"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// MarketValue is quantity × market price.
func (a CustodyAsset) MarketValue() decimal.Decimal {
	return a.MarketPrice.Mul(decimal.NewFromInt(a.Quantity))
}

// RollPosition records one roll event. NewLegs are keyed by the same leg ids
// as OriginalLegs.
type RollPosition struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	StructureID  string    `json:"structure_id" db:"structure_id"`
	OriginalLegs Legs      `json:"original_legs" db:"original_legs"`
	NewLegs      Legs      `json:"new_legs" db:"new_legs"`
	RolledAt     time.Time `json:"rolled_at" db:"rolled_at"`
}
