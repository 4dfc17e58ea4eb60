package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/treasury-engine/internal/metrics"
	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/treasury"
)

// RollOutcome is returned by RollStructure.
type RollOutcome struct {
	Structure *model.Structure   `json:"structure"`
	Roll      model.RollPosition `json:"roll"`
	Snapshot  *treasury.Snapshot `json:"snapshot"`
}

// RollStructure substitutes the legs named in rp.NewLegs inside the ACTIVE
// structure rp.StructureID and appends the roll to the user's history.
// Nothing is posted to the ledger and custody is untouched; any realized
// result of the roll is posted separately with PostRollCost.
func (e *Engine) RollStructure(ctx context.Context, userID string, rp model.RollPosition) (*RollOutcome, error) {
	defer metrics.ObserveSince("roll", time.Now())

	s, err := e.load(ctx, userID, rp.StructureID)
	if err != nil {
		return nil, err
	}
	if s.Status != model.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, s.ID, s.Status)
	}

	record, err := e.rolls.Prepare(s, rp)
	if err != nil {
		return nil, err
	}
	rolled, err := e.rolls.Apply(s, record)
	if err != nil {
		return nil, err
	}

	if err := e.structures.UpdateStructure(ctx, rolled); err != nil {
		return nil, e.persistence("update rolled structure", userID, err)
	}
	if err := e.structures.InsertRoll(ctx, &record); err != nil {
		return nil, e.persistence("insert roll", userID, err)
	}

	metrics.RollsTotal.Inc()
	slog.Info("structure rolled",
		"user", userID,
		"structure", s.ID,
		"roll", record.ID,
		"legs", len(record.NewLegs),
		"net_premium", rolled.NetPremium.String(),
	)

	snap, err := e.changed(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &RollOutcome{Structure: rolled, Roll: record, Snapshot: snap}, nil
}

// ListRolls returns the user's roll history, oldest first.
func (e *Engine) ListRolls(ctx context.Context, userID string) ([]model.RollPosition, error) {
	rolls, err := e.structures.ListRolls(ctx, userID)
	if err != nil {
		return nil, e.persistence("list rolls", userID, err)
	}
	return rolls, nil
}
