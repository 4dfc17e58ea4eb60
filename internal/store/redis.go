package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for structures and roll history. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. The ledger and custody are never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateStructure(ctx context.Context, st *model.Structure) error {
	if err := s.primary.CreateStructure(ctx, st); err != nil {
		return err
	}
	s.cacheStructure(ctx, st)
	return nil
}

func (s *CachedStore) UpdateStructure(ctx context.Context, st *model.Structure) error {
	if err := s.primary.UpdateStructure(ctx, st); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, structureKey(st.UserID, st.ID))
	return nil
}

func (s *CachedStore) DeleteStructure(ctx context.Context, userID, id string) error {
	s.rdb.Del(ctx, structureKey(userID, id))
	return s.primary.DeleteStructure(ctx, userID, id)
}

func (s *CachedStore) InsertRoll(ctx context.Context, r *model.RollPosition) error {
	if err := s.primary.InsertRoll(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, rollsKey(r.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetStructure(ctx context.Context, userID, id string) (*model.Structure, error) {
	data, err := s.rdb.Get(ctx, structureKey(userID, id)).Bytes()
	if err == nil {
		var st model.Structure
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetStructure(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s.cacheStructure(ctx, st)
	return st, nil
}

func (s *CachedStore) ListRolls(ctx context.Context, userID string) ([]model.RollPosition, error) {
	data, err := s.rdb.Get(ctx, rollsKey(userID)).Bytes()
	if err == nil {
		var rolls []model.RollPosition
		if json.Unmarshal(data, &rolls) == nil {
			return rolls, nil
		}
	}

	rolls, err := s.primary.ListRolls(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(rolls); err == nil {
		s.rdb.Set(ctx, rollsKey(userID), data, s.ttl)
	}
	return rolls, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListStructures(ctx context.Context, userID string, status model.StructureStatus) ([]model.Structure, error) {
	return s.primary.ListStructures(ctx, userID, status)
}

func (s *CachedStore) GetCustodyAsset(ctx context.Context, userID, symbol string) (*model.CustodyAsset, error) {
	return s.primary.GetCustodyAsset(ctx, userID, symbol)
}

func (s *CachedStore) ListCustodyAssets(ctx context.Context, userID string) ([]model.CustodyAsset, error) {
	return s.primary.ListCustodyAssets(ctx, userID)
}

func (s *CachedStore) SaveCustodyAsset(ctx context.Context, a *model.CustodyAsset) error {
	return s.primary.SaveCustodyAsset(ctx, a)
}

func (s *CachedStore) DeleteCustodyAsset(ctx context.Context, userID, id string) error {
	return s.primary.DeleteCustodyAsset(ctx, userID, id)
}

func (s *CachedStore) InsertEntry(ctx context.Context, e *model.CashFlowEntry) error {
	return s.primary.InsertEntry(ctx, e)
}

func (s *CachedStore) LastEntry(ctx context.Context, userID string) (*model.CashFlowEntry, error) {
	return s.primary.LastEntry(ctx, userID)
}

func (s *CachedStore) ListEntries(ctx context.Context, userID string) ([]model.CashFlowEntry, error) {
	return s.primary.ListEntries(ctx, userID)
}

func (s *CachedStore) ListEntriesByStructure(ctx context.Context, userID, structureID string) ([]model.CashFlowEntry, error) {
	return s.primary.ListEntriesByStructure(ctx, userID, structureID)
}

func (s *CachedStore) DeleteEntry(ctx context.Context, userID, id string) error {
	return s.primary.DeleteEntry(ctx, userID, id)
}

func (s *CachedStore) DeleteEntriesByStructure(ctx context.Context, userID, structureID string) (int, error) {
	return s.primary.DeleteEntriesByStructure(ctx, userID, structureID)
}

func (s *CachedStore) UpdateBalances(ctx context.Context, userID string, balances map[string]decimal.Decimal) error {
	return s.primary.UpdateBalances(ctx, userID, balances)
}

func (s *CachedStore) ListLedgerUsers(ctx context.Context) ([]string, error) {
	return s.primary.ListLedgerUsers(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheStructure(ctx context.Context, st *model.Structure) {
	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, structureKey(st.UserID, st.ID), data, s.ttl)
	}
}

func structureKey(uid, id string) string { return fmt.Sprintf("structure:%s:%s", uid, id) }
func rollsKey(uid string) string         { return fmt.Sprintf("rolls:%s", uid) }
