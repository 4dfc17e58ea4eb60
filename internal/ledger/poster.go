// Package ledger posts cash-flow entries and keeps the running balance
// consistent.
//
// Entries are ordered per user by Seq. After every posting and every
// deletion, balance[n] == balance[n-1] + amount[n] holds for the whole
// ledger, starting from zero.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/metrics"
	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/store"
	"github.com/atmx/treasury-engine/internal/valuation"
)

var (
	// ErrAlreadyPosted is returned when a structure already has entries.
	ErrAlreadyPosted = errors.New("ledger: structure already posted")

	// ErrZeroAmount is returned by Post for a zero amount.
	ErrZeroAmount = errors.New("ledger: amount must be non-zero")

	// ErrBalanceMismatch is returned by VerifyBalances.
	ErrBalanceMismatch = errors.New("ledger: running balance mismatch")
)

// Poster writes entries to a LedgerStore.
type Poster struct {
	store store.LedgerStore
	now   func() time.Time
}

// NewPoster creates a poster over the given store.
func NewPoster(ls store.LedgerStore) *Poster {
	return &Poster{store: ls, now: time.Now}
}

// Plan returns the entries an activation of s would post, in posting order,
// without Seq, Balance, ID or Date:
//  1. STRUCTURE_COST for -assemblyCost (skipped when zero)
//  2. one DEPOSIT/WITHDRAWAL per stock symbol with a non-zero net impact,
//     in order of first appearance
//  3. one STRUCTURE_PREMIUM with the summed option/future impact, if non-zero
func Plan(s *model.Structure) []model.CashFlowEntry {
	var planned []model.CashFlowEntry
	add := func(t model.EntryType, desc string, amount decimal.Decimal) {
		planned = append(planned, model.CashFlowEntry{
			UserID:             s.UserID,
			Type:               t,
			Description:        desc,
			Amount:             amount,
			RelatedStructureID: s.ID,
		})
	}

	if !s.AssemblyCost.IsZero() {
		add(model.EntryStructureCost, fmt.Sprintf("Assembly cost: %s (%d legs)", s.Name, len(s.Legs)), s.AssemblyCost.Neg())
	}

	for _, net := range netStock(s.Legs) {
		if net.amount.IsZero() {
			continue
		}
		qty := net.quantity
		if qty < 0 {
			qty = -qty
		}
		if net.amount.IsNegative() {
			add(model.EntryWithdrawal, fmt.Sprintf("Net buy %d %s: %s", qty, net.symbol, s.Name), net.amount)
		} else {
			add(model.EntryDeposit, fmt.Sprintf("Net sell %d %s: %s", qty, net.symbol, s.Name), net.amount)
		}
	}

	premium := decimal.Zero
	for _, leg := range s.Legs {
		if leg.Kind() != model.KindStock {
			premium = premium.Add(valuation.CashImpact(leg))
		}
	}
	if !premium.IsZero() {
		add(model.EntryStructurePremium, "Net premium: "+s.Name, premium)
	}

	return planned
}

type stockNet struct {
	symbol   string
	quantity int64 // signed, +long / -short
	amount   decimal.Decimal
}

func netStock(legs model.Legs) []*stockNet {
	var order []*stockNet
	bySymbol := make(map[string]*stockNet)
	for _, leg := range legs {
		if leg.Kind() != model.KindStock {
			continue
		}
		b := leg.Base()
		sym := strings.TrimSpace(b.Symbol)
		n, ok := bySymbol[sym]
		if !ok {
			n = &stockNet{symbol: sym}
			bySymbol[sym] = n
			order = append(order, n)
		}
		if b.Side == model.Long {
			n.quantity += b.Quantity
		} else {
			n.quantity -= b.Quantity
		}
		n.amount = n.amount.Add(valuation.CashImpact(leg))
	}
	return order
}

// PostActivation posts the consolidated entries for an activated structure.
// The structure id is the idempotency key: if any entry already relates to
// it, nothing is written and ErrAlreadyPosted is returned.
//
// A store failure aborts the remaining postings and is returned as a
// *model.PersistenceError; entries already written stay in place.
func (p *Poster) PostActivation(ctx context.Context, s *model.Structure) ([]model.CashFlowEntry, error) {
	existing, err := p.store.ListEntriesByStructure(ctx, s.UserID, s.ID)
	if err != nil {
		return nil, &model.PersistenceError{Op: "check existing entries", Err: err}
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPosted, s.ID)
	}

	return p.append(ctx, s.UserID, Plan(s))
}

// Post appends a single manual entry (deposit, withdrawal, brokerage, tax,
// roll cost, exercise cost, profit). Amount is signed.
func (p *Poster) Post(ctx context.Context, userID string, t model.EntryType, description string, amount decimal.Decimal, relatedStructureID string) (*model.CashFlowEntry, error) {
	if !t.Valid() {
		return nil, &model.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown entry type %q", t)}
	}
	if amount.IsZero() {
		return nil, &model.ValidationError{Field: "amount", Reason: ErrZeroAmount.Error()}
	}
	if strings.TrimSpace(description) == "" {
		description = string(t)
	}

	posted, err := p.append(ctx, userID, []model.CashFlowEntry{{
		UserID:             userID,
		Type:               t,
		Description:        description,
		Amount:             amount,
		RelatedStructureID: relatedStructureID,
	}})
	if err != nil {
		return nil, err
	}
	return &posted[0], nil
}

// append threads the running balance through the planned entries and
// inserts them one by one.
func (p *Poster) append(ctx context.Context, userID string, planned []model.CashFlowEntry) ([]model.CashFlowEntry, error) {
	if len(planned) == 0 {
		return nil, nil
	}

	var seq int64
	balance := decimal.Zero
	last, err := p.store.LastEntry(ctx, userID)
	switch {
	case err == nil:
		seq, balance = last.Seq, last.Balance
	case !errors.Is(err, store.ErrNotFound):
		return nil, &model.PersistenceError{Op: "read last entry", Err: err}
	}

	now := p.now().UTC()
	posted := make([]model.CashFlowEntry, 0, len(planned))
	for _, e := range planned {
		seq++
		balance = balance.Add(e.Amount)
		e.ID = uuid.New().String()
		e.UserID = userID
		e.Seq = seq
		e.Date = now
		e.Balance = balance

		if err := p.store.InsertEntry(ctx, &e); err != nil {
			metrics.PersistenceErrors.WithLabelValues("insert_entry").Inc()
			slog.Error("ledger posting aborted",
				"user", userID,
				"type", e.Type,
				"structure", e.RelatedStructureID,
				"posted", len(posted),
				"remaining", len(planned)-len(posted),
				"err", err,
			)
			return posted, &model.PersistenceError{Op: "post " + string(e.Type), Err: err}
		}
		metrics.EntriesPosted.WithLabelValues(string(e.Type)).Inc()
		posted = append(posted, e)
	}
	return posted, nil
}

// RemoveStructureEntries deletes every entry tied to the structure and
// re-threads the remaining balances.
func (p *Poster) RemoveStructureEntries(ctx context.Context, userID, structureID string) (int, error) {
	n, err := p.store.DeleteEntriesByStructure(ctx, userID, structureID)
	if err != nil {
		return 0, &model.PersistenceError{Op: "delete structure entries", Err: err}
	}
	if n == 0 {
		return 0, nil
	}
	return n, p.Rebalance(ctx, userID)
}

// RemoveEntry deletes one entry and re-threads the remaining balances.
func (p *Poster) RemoveEntry(ctx context.Context, userID, entryID string) error {
	if err := p.store.DeleteEntry(ctx, userID, entryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return &model.PersistenceError{Op: "delete entry", Err: err}
	}
	return p.Rebalance(ctx, userID)
}

// Rebalance recomputes every running balance from zero in Seq order and
// rewrites the entries whose stored balance differs.
func (p *Poster) Rebalance(ctx context.Context, userID string) error {
	entries, err := p.store.ListEntries(ctx, userID)
	if err != nil {
		return &model.PersistenceError{Op: "list entries", Err: err}
	}

	changed := Rethread(entries)
	if len(changed) == 0 {
		return nil
	}
	if err := p.store.UpdateBalances(ctx, userID, changed); err != nil {
		return &model.PersistenceError{Op: "update balances", Err: err}
	}
	slog.Info("ledger rebalanced", "user", userID, "entries", len(changed))
	return nil
}

// Rethread recomputes running balances in place and returns the entries
// whose balance changed (id → new balance).
func Rethread(entries []model.CashFlowEntry) map[string]decimal.Decimal {
	changed := make(map[string]decimal.Decimal)
	running := decimal.Zero
	for i := range entries {
		running = running.Add(entries[i].Amount)
		if !entries[i].Balance.Equal(running) {
			entries[i].Balance = running
			changed[entries[i].ID] = running
		}
	}
	return changed
}

// VerifyBalances checks balance[i] == balance[i-1] + amount[i] from zero.
func VerifyBalances(entries []model.CashFlowEntry) error {
	running := decimal.Zero
	for _, e := range entries {
		running = running.Add(e.Amount)
		if !e.Balance.Equal(running) {
			return fmt.Errorf("%w at seq %d: stored %s, expected %s", ErrBalanceMismatch, e.Seq, e.Balance, running)
		}
	}
	return nil
}
