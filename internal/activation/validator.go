// Package activation gates a structure's transition into ACTIVE.
//
// Two kinds of checks run against a fresh treasury snapshot:
//   - hard checks (empty name, no legs, malformed legs) reject the request
//     with a *model.ValidationError before anything is written
//   - soft gates (cash and guarantee) only produce warnings; the caller may
//     force activation after an explicit confirmation
//
// Both soft gates allow a fixed tolerance band below zero, expressed in
// currency units rather than as a percentage.
package activation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/margin"
	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/treasury"
	"github.com/atmx/treasury-engine/internal/valuation"
)

var (
	// ErrCashToleranceExceeded is carried by the cash gate warning when the
	// post-activation balance would fall below the negative cash tolerance.
	ErrCashToleranceExceeded = errors.New("activation: cash tolerance exceeded")

	// ErrGuaranteeToleranceExceeded is carried by the guarantee gate warning
	// when the structure needs more guarantee than is available plus the
	// guarantee tolerance.
	ErrGuaranteeToleranceExceeded = errors.New("activation: guarantee tolerance exceeded")
)

// Gate identifies which soft check produced a warning.
type Gate string

const (
	GateCash      Gate = "CASH"
	GateGuarantee Gate = "GUARANTEE"
)

// Warning is a soft gate failure. It is data, not an error: activation may
// still proceed when the caller confirms.
type Warning struct {
	Gate    Gate            `json:"gate"`
	Message string          `json:"message"`
	Amount  decimal.Decimal `json:"amount"` // new balance or required guarantee
	Limit   decimal.Decimal `json:"limit"`  // the threshold Amount was compared to
}

// Err returns the sentinel matching the warning's gate.
func (w Warning) Err() error {
	if w.Gate == GateGuarantee {
		return ErrGuaranteeToleranceExceeded
	}
	return ErrCashToleranceExceeded
}

// Result is the outcome of validating one structure.
type Result struct {
	CashImpact        decimal.Decimal `json:"cash_impact"`
	AssemblyCost      decimal.Decimal `json:"assembly_cost"`
	NewBalance        decimal.Decimal `json:"new_balance"`
	RequiredGuarantee decimal.Decimal `json:"required_guarantee"`
	GuaranteeHeadroom decimal.Decimal `json:"guarantee_headroom"`
	Warnings          []Warning       `json:"warnings,omitempty"`
}

// RequiresConfirmation reports whether any soft gate tripped.
func (r *Result) RequiresConfirmation() bool {
	return len(r.Warnings) > 0
}

// Policy holds the tunable figures the gates use.
type Policy struct {
	// CostPerLeg is the fixed assembly cost charged per leg.
	CostPerLeg decimal.Decimal

	// CashTolerance is how far below zero the post-activation balance may
	// go without a warning.
	CashTolerance decimal.Decimal

	// GuaranteeTolerance is how far the required guarantee may exceed the
	// available guarantee without a warning.
	GuaranteeTolerance decimal.Decimal

	// Currency is the ISO code used when formatting warning messages.
	Currency string
}

// DefaultPolicy returns the standard figures: 2.50 per leg, 1000 cash
// tolerance, 5000 guarantee tolerance, amounts in BRL.
func DefaultPolicy() Policy {
	return Policy{
		CostPerLeg:         decimal.NewFromFloat(2.5),
		CashTolerance:      decimal.NewFromInt(1000),
		GuaranteeTolerance: decimal.NewFromInt(5000),
		Currency:           model.DefaultCurrency,
	}
}

// Validator evaluates structures against a policy.
type Validator struct {
	policy Policy
}

// NewValidator creates a validator. Negative tolerances are treated as zero.
func NewValidator(p Policy) *Validator {
	p.CashTolerance = decimal.Max(decimal.Zero, p.CashTolerance)
	p.GuaranteeTolerance = decimal.Max(decimal.Zero, p.GuaranteeTolerance)
	if p.Currency == "" {
		p.Currency = model.DefaultCurrency
	}
	return &Validator{policy: p}
}

// Policy returns the effective policy.
func (v *Validator) Policy() Policy { return v.policy }

// Validate runs the hard checks and both soft gates. A non-nil error is
// always a *model.ValidationError.
func (v *Validator) Validate(s *model.Structure, snap *treasury.Snapshot) (*Result, error) {
	if err := CheckStructure(s); err != nil {
		return nil, err
	}

	totals := valuation.Sum(s.Legs)
	cost := valuation.AssemblyCost(s.Legs, v.policy.CostPerLeg)
	required := margin.RequiredGuarantee(s)

	res := &Result{
		CashImpact:        totals.CashImpact,
		AssemblyCost:      cost,
		RequiredGuarantee: required,
		GuaranteeHeadroom: snap.GuaranteeHeadroom,
	}

	newBalance, err := v.CheckCash(snap.FreeCash, totals.CashImpact, cost)
	res.NewBalance = newBalance
	if err != nil {
		res.Warnings = append(res.Warnings, Warning{
			Gate:   GateCash,
			Amount: newBalance,
			Limit:  v.policy.CashTolerance.Neg(),
			Message: fmt.Sprintf("insufficient cash: balance after activation would be %s (free cash %s, tolerance %s)",
				v.money(newBalance), v.money(snap.FreeCash), v.money(v.policy.CashTolerance.Neg())),
		})
	}

	if err := v.CheckGuarantee(required, snap.GuaranteeHeadroom); err != nil {
		res.Warnings = append(res.Warnings, Warning{
			Gate:   GateGuarantee,
			Amount: required,
			Limit:  snap.GuaranteeHeadroom.Add(v.policy.GuaranteeTolerance),
			Message: fmt.Sprintf("insufficient guarantee: structure requires %s, available %s (tolerance %s)",
				v.money(required), v.money(snap.GuaranteeAvailable), v.money(v.policy.GuaranteeTolerance)),
		})
	}

	return res, nil
}

// CheckCash computes newBalance = freeCash + cashImpact − assemblyCost and
// returns ErrCashToleranceExceeded when it falls below −CashTolerance.
func (v *Validator) CheckCash(freeCash, cashImpact, assemblyCost decimal.Decimal) (decimal.Decimal, error) {
	newBalance := freeCash.Add(cashImpact).Sub(assemblyCost)
	if newBalance.LessThan(v.policy.CashTolerance.Neg()) {
		return newBalance, ErrCashToleranceExceeded
	}
	return newBalance, nil
}

// CheckGuarantee returns ErrGuaranteeToleranceExceeded when required
// exceeds headroom + GuaranteeTolerance. headroom is the unfloored
// available guarantee.
func (v *Validator) CheckGuarantee(required, headroom decimal.Decimal) error {
	if required.GreaterThan(headroom.Add(v.policy.GuaranteeTolerance)) {
		return ErrGuaranteeToleranceExceeded
	}
	return nil
}

func (v *Validator) money(amount decimal.Decimal) string {
	return model.FormatMoney(amount, v.policy.Currency)
}

// CheckStructure runs the hard checks: non-empty name, at least one leg,
// unique leg ids and every leg well formed.
func CheckStructure(s *model.Structure) error {
	if strings.TrimSpace(s.Name) == "" {
		return &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(s.Legs) == 0 {
		return &model.ValidationError{Field: "legs", Reason: "structure has no legs"}
	}

	seen := make(map[string]bool, len(s.Legs))
	for _, leg := range s.Legs {
		if err := model.ValidateLeg(leg); err != nil {
			return err
		}
		id := leg.Base().ID
		if seen[id] {
			return &model.ValidationError{Field: "leg.id", Reason: "duplicate leg id", LegID: id}
		}
		seen[id] = true
	}
	return nil
}
