// Package roll substitutes legs inside an existing structure.
//
// A roll names legs by id. Only symbol, strike or spot price, premium and
// expiration are replaced on a named leg; id, side, quantity and custom
// margin are kept, and legs that are not named stay exactly as they were.
// Rolls never post ledger entries or touch custody.
package roll

import (
	"time"

	"github.com/google/uuid"

	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/valuation"
)

// Executor builds roll records and applies them.
type Executor struct {
	now func() time.Time
}

// NewExecutor creates a roll executor.
func NewExecutor() *Executor {
	return &Executor{now: time.Now}
}

// Prepare completes a roll request against the stored structure. The
// legs named by NewLegs define the roll; OriginalLegs is always replaced by
// the structure's current version of those legs so the history records the
// true pre-roll state.
func (e *Executor) Prepare(s *model.Structure, rp model.RollPosition) (model.RollPosition, error) {
	if len(rp.NewLegs) == 0 {
		return rp, &model.ValidationError{Field: "new_legs", Reason: "roll names no legs"}
	}

	current := s.Legs.ByID()
	named := make(map[string]bool, len(rp.NewLegs))
	original := make(model.Legs, 0, len(rp.NewLegs))
	for _, nl := range rp.NewLegs {
		id := nl.Base().ID
		if named[id] {
			return rp, &model.ValidationError{Field: "new_legs", Reason: "leg named twice", LegID: id}
		}
		named[id] = true

		old, ok := current[id]
		if !ok {
			return rp, &model.ValidationError{Field: "new_legs", Reason: "leg not in structure", LegID: id}
		}
		original = append(original, old.Clone())
	}

	for _, ol := range rp.OriginalLegs {
		if id := ol.Base().ID; !named[id] {
			return rp, &model.ValidationError{Field: "original_legs", Reason: "leg has no replacement", LegID: id}
		}
	}

	out := rp
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.UserID = s.UserID
	out.StructureID = s.ID
	out.OriginalLegs = original
	out.NewLegs = rp.NewLegs.Clone()
	out.RolledAt = e.now().UTC()
	return out, nil
}

// Apply returns a copy of s with the roll's legs substituted by id and the
// net premium recomputed. s is not modified.
func (e *Executor) Apply(s *model.Structure, rp model.RollPosition) (*model.Structure, error) {
	replacements := rp.NewLegs.ByID()
	out := s.Clone()

	for i, leg := range out.Legs {
		nl, ok := replacements[leg.Base().ID]
		if !ok {
			continue
		}
		rolled, err := Substitute(leg, nl)
		if err != nil {
			return nil, err
		}
		out.Legs[i] = rolled
		delete(replacements, leg.Base().ID)
	}

	for _, nl := range rp.NewLegs {
		if id := nl.Base().ID; replacements[id] != nil {
			return nil, &model.ValidationError{Field: "new_legs", Reason: "leg not in structure", LegID: id}
		}
	}

	out.NetPremium = valuation.NetPremium(out.Legs)
	return out, nil
}

// Substitute copies the rolled fields of next onto a clone of cur. Both
// legs must be the same kind.
func Substitute(cur, next model.Leg) (model.Leg, error) {
	if cur.Kind() != next.Kind() {
		return nil, &model.ValidationError{
			Field:  "kind",
			Reason: "cannot roll " + string(cur.Kind()) + " into " + string(next.Kind()),
			LegID:  cur.Base().ID,
		}
	}

	out := cur.Clone()
	b, nb := out.Base(), next.Base()
	b.Symbol = nb.Symbol
	if !nb.Expiration.IsZero() {
		b.Expiration = nb.Expiration
	}

	switch o := out.(type) {
	case *model.CallLeg:
		n := next.(*model.CallLeg)
		o.Strike, o.Premium = n.Strike, n.Premium
	case *model.PutLeg:
		n := next.(*model.PutLeg)
		o.Strike, o.Premium = n.Strike, n.Premium
	case *model.FutureLeg:
		n := next.(*model.FutureLeg)
		o.SpotPrice, o.Premium = n.SpotPrice, n.Premium
	}

	if err := model.ValidateLeg(out); err != nil {
		return nil, err
	}
	return out, nil
}
