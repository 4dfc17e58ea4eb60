package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	structures map[string]*model.Structure
	custody    map[string]*model.CustodyAsset
	rolls      []model.RollPosition
	ledger     []model.CashFlowEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		structures: make(map[string]*model.Structure),
		custody:    make(map[string]*model.CustodyAsset),
	}
}

// --- Structures ---

func (s *MemoryStore) CreateStructure(_ context.Context, st *model.Structure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.structures[st.ID]; ok {
		return fmt.Errorf("structure %s already exists", st.ID)
	}
	// Store a copy to avoid external mutation.
	s.structures[st.ID] = st.Clone()
	return nil
}

func (s *MemoryStore) GetStructure(_ context.Context, userID, id string) (*model.Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.structures[id]
	if !ok || st.UserID != userID {
		return nil, fmt.Errorf("structure %s: %w", id, ErrNotFound)
	}
	return st.Clone(), nil
}

func (s *MemoryStore) ListStructures(_ context.Context, userID string, status model.StructureStatus) ([]model.Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Structure
	for _, st := range s.structures {
		if st.UserID != userID || (status != "" && st.Status != status) {
			continue
		}
		result = append(result, *st.Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateStructure(_ context.Context, st *model.Structure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.structures[st.ID]
	if !ok || existing.UserID != st.UserID {
		return fmt.Errorf("structure %s: %w", st.ID, ErrNotFound)
	}
	s.structures[st.ID] = st.Clone()
	return nil
}

func (s *MemoryStore) DeleteStructure(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.structures[id]
	if !ok || st.UserID != userID {
		return fmt.Errorf("structure %s: %w", id, ErrNotFound)
	}
	delete(s.structures, id)
	return nil
}

// --- Custody ---

func (s *MemoryStore) GetCustodyAsset(_ context.Context, userID, symbol string) (*model.CustodyAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.custody {
		if a.UserID == userID && a.Symbol == symbol {
			copy := *a
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("custody asset %s: %w", symbol, ErrNotFound)
}

func (s *MemoryStore) ListCustodyAssets(_ context.Context, userID string) ([]model.CustodyAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CustodyAsset
	for _, a := range s.custody {
		if a.UserID == userID {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (s *MemoryStore) SaveCustodyAsset(_ context.Context, a *model.CustodyAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *a
	s.custody[a.ID] = &copy
	return nil
}

func (s *MemoryStore) DeleteCustodyAsset(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.custody[id]
	if !ok || a.UserID != userID {
		return fmt.Errorf("custody asset %s: %w", id, ErrNotFound)
	}
	delete(s.custody, id)
	return nil
}

// --- Roll history ---

func (s *MemoryStore) InsertRoll(_ context.Context, r *model.RollPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *r
	copy.OriginalLegs = r.OriginalLegs.Clone()
	copy.NewLegs = r.NewLegs.Clone()
	s.rolls = append(s.rolls, copy)
	return nil
}

func (s *MemoryStore) ListRolls(_ context.Context, userID string) ([]model.RollPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.RollPosition
	for _, r := range s.rolls {
		if r.UserID == userID {
			r.OriginalLegs = r.OriginalLegs.Clone()
			r.NewLegs = r.NewLegs.Clone()
			result = append(result, r)
		}
	}
	return result, nil
}

// --- Cash-flow ledger ---

func (s *MemoryStore) InsertEntry(_ context.Context, e *model.CashFlowEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *e)
	sort.SliceStable(s.ledger, func(i, j int) bool { return s.ledger[i].Seq < s.ledger[j].Seq })
	return nil
}

func (s *MemoryStore) LastEntry(_ context.Context, userID string) (*model.CashFlowEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserID == userID {
			e := s.ledger[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("last entry for %s: %w", userID, ErrNotFound)
}

func (s *MemoryStore) ListEntries(_ context.Context, userID string) ([]model.CashFlowEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CashFlowEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListEntriesByStructure(_ context.Context, userID, structureID string) ([]model.CashFlowEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CashFlowEntry
	for _, e := range s.ledger {
		if e.UserID == userID && e.RelatedStructureID == structureID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) DeleteEntry(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.ledger {
		if e.ID == id && e.UserID == userID {
			s.ledger = append(s.ledger[:i], s.ledger[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("entry %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) DeleteEntriesByStructure(_ context.Context, userID, structureID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.ledger[:0]
	removed := 0
	for _, e := range s.ledger {
		if e.UserID == userID && e.RelatedStructureID == structureID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.ledger = kept
	return removed, nil
}

func (s *MemoryStore) UpdateBalances(_ context.Context, userID string, balances map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.ledger {
		if s.ledger[i].UserID != userID {
			continue
		}
		if b, ok := balances[s.ledger[i].ID]; ok {
			s.ledger[i].Balance = b
		}
	}
	return nil
}

func (s *MemoryStore) ListLedgerUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var users []string
	for _, e := range s.ledger {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			users = append(users, e.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}
