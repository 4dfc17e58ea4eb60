// Package storetest provides store wrappers for tests.
package storetest

import (
	"context"
	"errors"
	"sync"

	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/store"
)

// ErrInjected is the error returned by a tripped operation.
var ErrInjected = errors.New("storetest: injected failure")

// Operation names accepted by FailAfter.
const (
	OpInsertEntry       = "InsertEntry"
	OpSaveCustodyAsset  = "SaveCustodyAsset"
	OpUpdateStructure   = "UpdateStructure"
	OpDeleteEntries     = "DeleteEntriesByStructure"
	OpDeleteCustody     = "DeleteCustodyAsset"
	OpListCustodyAssets = "ListCustodyAssets"
)

// FaultyStore wraps a Store and fails chosen write operations after a
// number of successful calls.
type FaultyStore struct {
	store.Store

	mu     sync.Mutex
	budget map[string]int
}

// NewFaultyStore wraps inner. No operation fails until FailAfter is called.
func NewFaultyStore(inner store.Store) *FaultyStore {
	return &FaultyStore{Store: inner, budget: make(map[string]int)}
}

// FailAfter lets op succeed n more times, then fails every later call.
func (f *FaultyStore) FailAfter(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.budget[op] = n
}

// Heal clears every injected failure.
func (f *FaultyStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.budget = make(map[string]int)
}

func (f *FaultyStore) trip(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, armed := f.budget[op]
	if !armed {
		return nil
	}
	if n <= 0 {
		return ErrInjected
	}
	f.budget[op] = n - 1
	return nil
}

func (f *FaultyStore) InsertEntry(ctx context.Context, e *model.CashFlowEntry) error {
	if err := f.trip(OpInsertEntry); err != nil {
		return err
	}
	return f.Store.InsertEntry(ctx, e)
}

func (f *FaultyStore) SaveCustodyAsset(ctx context.Context, a *model.CustodyAsset) error {
	if err := f.trip(OpSaveCustodyAsset); err != nil {
		return err
	}
	return f.Store.SaveCustodyAsset(ctx, a)
}

func (f *FaultyStore) UpdateStructure(ctx context.Context, s *model.Structure) error {
	if err := f.trip(OpUpdateStructure); err != nil {
		return err
	}
	return f.Store.UpdateStructure(ctx, s)
}

func (f *FaultyStore) DeleteEntriesByStructure(ctx context.Context, userID, structureID string) (int, error) {
	if err := f.trip(OpDeleteEntries); err != nil {
		return 0, err
	}
	return f.Store.DeleteEntriesByStructure(ctx, userID, structureID)
}

func (f *FaultyStore) DeleteCustodyAsset(ctx context.Context, userID, id string) error {
	if err := f.trip(OpDeleteCustody); err != nil {
		return err
	}
	return f.Store.DeleteCustodyAsset(ctx, userID, id)
}

func (f *FaultyStore) ListCustodyAssets(ctx context.Context, userID string) ([]model.CustodyAsset, error) {
	if err := f.trip(OpListCustodyAssets); err != nil {
		return nil, err
	}
	return f.Store.ListCustodyAssets(ctx, userID)
}
