package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// legs are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Structures ---

const structureColumns = `id, user_id, name, legs, net_premium::TEXT, assembly_cost::TEXT,
	status, created_at, activated_at, closed_at`

func (s *PostgresStore) CreateStructure(ctx context.Context, st *model.Structure) error {
	legs, err := json.Marshal(st.Legs)
	if err != nil {
		return fmt.Errorf("encode legs for %s: %w", st.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO structures (id, user_id, name, legs, net_premium, assembly_cost, status, created_at, activated_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
		st.ID, st.UserID, st.Name, legs,
		st.NetPremium.String(), st.AssemblyCost.String(),
		string(st.Status), st.CreatedAt, st.ActivatedAt, st.ClosedAt,
	)
	return err
}

func (s *PostgresStore) GetStructure(ctx context.Context, userID, id string) (*model.Structure, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+structureColumns+` FROM structures WHERE id = $1 AND user_id = $2`, id, userID)
	st, err := scanStructure(row)
	if err != nil {
		return nil, fmt.Errorf("get structure %s: %w", id, notFound(err))
	}
	return st, nil
}

func (s *PostgresStore) ListStructures(ctx context.Context, userID string, status model.StructureStatus) ([]model.Structure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+structureColumns+` FROM structures
		 WHERE user_id = $1 AND ($2::TEXT = '' OR status = $2::TEXT)
		 ORDER BY created_at, id`, userID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Structure
	for rows.Next() {
		st, err := scanStructure(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *st)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpdateStructure(ctx context.Context, st *model.Structure) error {
	legs, err := json.Marshal(st.Legs)
	if err != nil {
		return fmt.Errorf("encode legs for %s: %w", st.ID, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE structures
		 SET name = $3, legs = $4, net_premium = $5::NUMERIC, assembly_cost = $6::NUMERIC,
		     status = $7, activated_at = $8, closed_at = $9
		 WHERE id = $1 AND user_id = $2`,
		st.ID, st.UserID, st.Name, legs,
		st.NetPremium.String(), st.AssemblyCost.String(),
		string(st.Status), st.ActivatedAt, st.ClosedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("structure %s: %w", st.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteStructure(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM structures WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("structure %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Custody ---

const custodyColumns = `id, user_id, symbol, kind, quantity,
	average_price::TEXT, market_price::TEXT, guarantee_percent::TEXT,
	used_as_guarantee, updated_at`

func (s *PostgresStore) GetCustodyAsset(ctx context.Context, userID, symbol string) (*model.CustodyAsset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+custodyColumns+` FROM custody_assets WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	a, err := scanCustodyAsset(row)
	if err != nil {
		return nil, fmt.Errorf("custody asset %s: %w", symbol, notFound(err))
	}
	return a, nil
}

func (s *PostgresStore) ListCustodyAssets(ctx context.Context, userID string) ([]model.CustodyAsset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+custodyColumns+` FROM custody_assets WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.CustodyAsset
	for rows.Next() {
		a, err := scanCustodyAsset(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SaveCustodyAsset(ctx context.Context, a *model.CustodyAsset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO custody_assets (id, user_id, symbol, kind, quantity, average_price, market_price,
		                             guarantee_percent, used_as_guarantee, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)
		 ON CONFLICT (id) DO UPDATE
		 SET quantity = EXCLUDED.quantity,
		     average_price = EXCLUDED.average_price,
		     market_price = EXCLUDED.market_price,
		     guarantee_percent = EXCLUDED.guarantee_percent,
		     used_as_guarantee = EXCLUDED.used_as_guarantee,
		     updated_at = EXCLUDED.updated_at`,
		a.ID, a.UserID, a.Symbol, string(a.Kind), a.Quantity,
		a.AveragePrice.String(), a.MarketPrice.String(), a.GuaranteePercent.String(),
		a.UsedAsGuarantee, a.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) DeleteCustodyAsset(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM custody_assets WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("custody asset %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Roll history ---

func (s *PostgresStore) InsertRoll(ctx context.Context, r *model.RollPosition) error {
	original, err := json.Marshal(r.OriginalLegs)
	if err != nil {
		return fmt.Errorf("encode original legs for roll %s: %w", r.ID, err)
	}
	next, err := json.Marshal(r.NewLegs)
	if err != nil {
		return fmt.Errorf("encode new legs for roll %s: %w", r.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO roll_positions (id, user_id, structure_id, original_legs, new_legs, rolled_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.UserID, r.StructureID, original, next, r.RolledAt,
	)
	return err
}

func (s *PostgresStore) ListRolls(ctx context.Context, userID string) ([]model.RollPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, structure_id, original_legs, new_legs, rolled_at
		 FROM roll_positions WHERE user_id = $1 ORDER BY rolled_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.RollPosition
	for rows.Next() {
		var r model.RollPosition
		var original, next []byte
		if err := rows.Scan(&r.ID, &r.UserID, &r.StructureID, &original, &next, &r.RolledAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(original, &r.OriginalLegs); err != nil {
			return nil, fmt.Errorf("decode original legs for roll %s: %w", r.ID, err)
		}
		if err := json.Unmarshal(next, &r.NewLegs); err != nil {
			return nil, fmt.Errorf("decode new legs for roll %s: %w", r.ID, err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- Cash-flow ledger ---

const entryColumns = `id, user_id, seq, date, type, description,
	amount::TEXT, balance::TEXT, COALESCE(related_structure_id, '')`

func (s *PostgresStore) InsertEntry(ctx context.Context, e *model.CashFlowEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cash_flow_entries (id, user_id, seq, date, type, description, amount, balance, related_structure_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, NULLIF($9, ''))`,
		e.ID, e.UserID, e.Seq, e.Date, string(e.Type), e.Description,
		e.Amount.String(), e.Balance.String(), e.RelatedStructureID,
	)
	return err
}

func (s *PostgresStore) LastEntry(ctx context.Context, userID string) (*model.CashFlowEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM cash_flow_entries WHERE user_id = $1 ORDER BY seq DESC LIMIT 1`, userID)
	e, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("last entry for %s: %w", userID, notFound(err))
	}
	return e, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, userID string) ([]model.CashFlowEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM cash_flow_entries WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) ListEntriesByStructure(ctx context.Context, userID, structureID string) ([]model.CashFlowEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM cash_flow_entries
		 WHERE user_id = $1 AND related_structure_id = $2 ORDER BY seq`, userID, structureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cash_flow_entries WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteEntriesByStructure(ctx context.Context, userID, structureID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cash_flow_entries WHERE user_id = $1 AND related_structure_id = $2`, userID, structureID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// UpdateBalances rewrites the balances in one transaction.
func (s *PostgresStore) UpdateBalances(ctx context.Context, userID string, balances map[string]decimal.Decimal) error {
	if len(balances) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for id, bal := range balances {
			batch.Queue(`UPDATE cash_flow_entries SET balance = $3::NUMERIC WHERE id = $1 AND user_id = $2`,
				id, userID, bal.String())
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) ListLedgerUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM cash_flow_entries ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Scan helpers ---

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func scanStructure(row pgx.Row) (*model.Structure, error) {
	var st model.Structure
	var legs []byte
	var netPremium, assemblyCost string
	var activatedAt, closedAt *time.Time

	if err := row.Scan(&st.ID, &st.UserID, &st.Name, &legs, &netPremium, &assemblyCost,
		&st.Status, &st.CreatedAt, &activatedAt, &closedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(legs, &st.Legs); err != nil {
		return nil, fmt.Errorf("decode legs for %s: %w", st.ID, err)
	}
	st.NetPremium, _ = decimal.NewFromString(netPremium)
	st.AssemblyCost, _ = decimal.NewFromString(assemblyCost)
	st.ActivatedAt, st.ClosedAt = activatedAt, closedAt
	return &st, nil
}

func scanCustodyAsset(row pgx.Row) (*model.CustodyAsset, error) {
	var a model.CustodyAsset
	var avg, market, pct string
	if err := row.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Kind, &a.Quantity,
		&avg, &market, &pct, &a.UsedAsGuarantee, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.AveragePrice, _ = decimal.NewFromString(avg)
	a.MarketPrice, _ = decimal.NewFromString(market)
	a.GuaranteePercent, _ = decimal.NewFromString(pct)
	return &a, nil
}

func scanEntry(row pgx.Row) (*model.CashFlowEntry, error) {
	var e model.CashFlowEntry
	var amount, balance string
	if err := row.Scan(&e.ID, &e.UserID, &e.Seq, &e.Date, &e.Type, &e.Description,
		&amount, &balance, &e.RelatedStructureID); err != nil {
		return nil, err
	}
	e.Amount, _ = decimal.NewFromString(amount)
	e.Balance, _ = decimal.NewFromString(balance)
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]model.CashFlowEntry, error) {
	var entries []model.CashFlowEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
