package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestMemoryStore_StructureScopedByUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	st := &model.Structure{ID: "s1", UserID: "alice", Name: "collar", Status: model.StatusDrafting, CreatedAt: time.Now()}
	if err := s.CreateStructure(ctx, st); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateStructure(ctx, st); err == nil {
		t.Error("duplicate id should be rejected")
	}

	if _, err := s.GetStructure(ctx, "bob", "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other users must not see the structure, got %v", err)
	}

	got, err := s.GetStructure(ctx, "alice", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Name = "mutated"
	again, _ := s.GetStructure(ctx, "alice", "s1")
	if again.Name != "collar" {
		t.Error("returned structure aliases stored state")
	}
}

func TestMemoryStore_ListStructuresByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = s.CreateStructure(ctx, &model.Structure{ID: "b", UserID: "u", Status: model.StatusActive, CreatedAt: base.Add(time.Hour)})
	_ = s.CreateStructure(ctx, &model.Structure{ID: "a", UserID: "u", Status: model.StatusActive, CreatedAt: base})
	_ = s.CreateStructure(ctx, &model.Structure{ID: "c", UserID: "u", Status: model.StatusDrafting, CreatedAt: base})

	active, _ := s.ListStructures(ctx, "u", model.StatusActive)
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" {
		t.Fatalf("expected [a b] oldest first, got %+v", active)
	}
	all, _ := s.ListStructures(ctx, "u", "")
	if len(all) != 3 {
		t.Errorf("expected 3 structures, got %d", len(all))
	}
}

func TestMemoryStore_LedgerOrderingAndCascade(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	entries := []model.CashFlowEntry{
		{ID: "e2", UserID: "u", Seq: 2, Amount: d(-5), RelatedStructureID: "s1"},
		{ID: "e1", UserID: "u", Seq: 1, Amount: d(1000)},
		{ID: "e3", UserID: "u", Seq: 3, Amount: d(50), RelatedStructureID: "s1"},
		{ID: "x1", UserID: "other", Seq: 1, Amount: d(7)},
	}
	for i := range entries {
		if err := s.InsertEntry(ctx, &entries[i]); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	last, err := s.LastEntry(ctx, "u")
	if err != nil || last.ID != "e3" {
		t.Fatalf("expected last entry e3, got %+v (%v)", last, err)
	}

	list, _ := s.ListEntries(ctx, "u")
	if len(list) != 3 || list[0].ID != "e1" {
		t.Fatalf("entries should be in seq order, got %+v", list)
	}

	n, err := s.DeleteEntriesByStructure(ctx, "u", "s1")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 removed, got %d (%v)", n, err)
	}
	if rest, _ := s.ListEntries(ctx, "other"); len(rest) != 1 {
		t.Error("cascade must not touch other users")
	}

	if err := s.UpdateBalances(ctx, "u", map[string]decimal.Decimal{"e1": d(1000)}); err != nil {
		t.Fatalf("update balances: %v", err)
	}
	list, _ = s.ListEntries(ctx, "u")
	if !list[0].Balance.Equal(d(1000)) {
		t.Errorf("balance not updated: %s", list[0].Balance)
	}

	users, _ := s.ListLedgerUsers(ctx)
	if len(users) != 2 || users[0] != "other" || users[1] != "u" {
		t.Errorf("unexpected ledger users %v", users)
	}
}

func TestMemoryStore_EmptyLedger(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.LastEntry(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Custody(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := &model.CustodyAsset{ID: "a1", UserID: "u", Symbol: "PETR4", Quantity: 100, AveragePrice: d(28)}
	if err := s.SaveCustodyAsset(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetCustodyAsset(ctx, "u", "PETR4")
	if err != nil || got.Quantity != 100 {
		t.Fatalf("expected saved asset, got %+v (%v)", got, err)
	}

	a.Quantity = 150
	_ = s.SaveCustodyAsset(ctx, a)
	list, _ := s.ListCustodyAssets(ctx, "u")
	if len(list) != 1 || list[0].Quantity != 150 {
		t.Errorf("save should replace by id, got %+v", list)
	}

	if err := s.DeleteCustodyAsset(ctx, "u", "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetCustodyAsset(ctx, "u", "PETR4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
