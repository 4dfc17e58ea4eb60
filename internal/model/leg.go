package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LegKind discriminates the leg variants.
type LegKind string

const (
	KindCall   LegKind = "CALL"
	KindPut    LegKind = "PUT"
	KindStock  LegKind = "STOCK"
	KindFuture LegKind = "FUTURE"
)

// Side is the direction of a leg.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// StockExpiration is the sentinel expiration for stock legs that have none.
var StockExpiration = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// LegBase carries the fields every leg variant has.
type LegBase struct {
	ID                  string           `json:"id"`
	Side                Side             `json:"side"`
	Symbol              string           `json:"symbol"`
	Quantity            int64            `json:"quantity"`
	Expiration          time.Time        `json:"expiration"`
	CustomMarginPercent *decimal.Decimal `json:"custom_margin_percent,omitempty"`
}

// Leg is one instrument position inside a structure. It is a closed sum
// type: only *CallLeg, *PutLeg, *StockLeg and *FutureLeg implement it.
type Leg interface {
	Kind() LegKind
	Base() *LegBase
	Clone() Leg
	isLeg()
}

// CallLeg is a call option position.
type CallLeg struct {
	LegBase
	Strike  decimal.Decimal
	Premium decimal.Decimal
}

// PutLeg is a put option position.
type PutLeg struct {
	LegBase
	Strike  decimal.Decimal
	Premium decimal.Decimal
}

// StockLeg is a cash-equity position.
type StockLeg struct {
	LegBase
	EntryPrice decimal.Decimal
}

// FutureLeg is a futures position.
type FutureLeg struct {
	LegBase
	SpotPrice decimal.Decimal
	Premium   decimal.Decimal
}

func (*CallLeg) Kind() LegKind   { return KindCall }
func (*PutLeg) Kind() LegKind    { return KindPut }
func (*StockLeg) Kind() LegKind  { return KindStock }
func (*FutureLeg) Kind() LegKind { return KindFuture }

func (l *CallLeg) Base() *LegBase   { return &l.LegBase }
func (l *PutLeg) Base() *LegBase    { return &l.LegBase }
func (l *StockLeg) Base() *LegBase  { return &l.LegBase }
func (l *FutureLeg) Base() *LegBase { return &l.LegBase }

func (l *CallLeg) Clone() Leg   { c := *l; c.LegBase = l.LegBase.clone(); return &c }
func (l *PutLeg) Clone() Leg    { c := *l; c.LegBase = l.LegBase.clone(); return &c }
func (l *StockLeg) Clone() Leg  { c := *l; c.LegBase = l.LegBase.clone(); return &c }
func (l *FutureLeg) Clone() Leg { c := *l; c.LegBase = l.LegBase.clone(); return &c }

func (*CallLeg) isLeg()   {}
func (*PutLeg) isLeg()    {}
func (*StockLeg) isLeg()  {}
func (*FutureLeg) isLeg() {}

func (b LegBase) clone() LegBase {
	if b.CustomMarginPercent != nil {
		pct := *b.CustomMarginPercent
		b.CustomMarginPercent = &pct
	}
	return b
}

// IsOption reports whether the leg is a CALL or PUT.
func IsOption(l Leg) bool {
	k := l.Kind()
	return k == KindCall || k == KindPut
}

// LegRecord is the flat wire/storage form of a leg. Only the price fields
// relevant to Kind are populated.
type LegRecord struct {
	ID                  string           `json:"id"`
	Kind                LegKind          `json:"kind"`
	Side                Side             `json:"side"`
	Symbol              string           `json:"symbol"`
	Quantity            int64            `json:"quantity"`
	Strike              *decimal.Decimal `json:"strike,omitempty"`
	EntryPrice          *decimal.Decimal `json:"entry_price,omitempty"`
	SpotPrice           *decimal.Decimal `json:"spot_price,omitempty"`
	Premium             *decimal.Decimal `json:"premium,omitempty"`
	Expiration          *time.Time       `json:"expiration,omitempty"`
	CustomMarginPercent *decimal.Decimal `json:"custom_margin_percent,omitempty"`
}

// ToRecord flattens a leg into its wire form.
func ToRecord(l Leg) LegRecord {
	b := l.Base()
	exp := b.Expiration
	r := LegRecord{
		ID:                  b.ID,
		Kind:                l.Kind(),
		Side:                b.Side,
		Symbol:              b.Symbol,
		Quantity:            b.Quantity,
		Expiration:          &exp,
		CustomMarginPercent: b.CustomMarginPercent,
	}
	switch v := l.(type) {
	case *CallLeg:
		r.Strike, r.Premium = ptr(v.Strike), ptr(v.Premium)
	case *PutLeg:
		r.Strike, r.Premium = ptr(v.Strike), ptr(v.Premium)
	case *StockLeg:
		r.EntryPrice = ptr(v.EntryPrice)
	case *FutureLeg:
		r.SpotPrice, r.Premium = ptr(v.SpotPrice), ptr(v.Premium)
	}
	return r
}

// FromRecord rebuilds the typed leg. Price fields that do not belong to the
// kind are ignored; missing ones are left at zero for Validate to reject.
func FromRecord(r LegRecord) (Leg, error) {
	base := LegBase{
		ID:                  r.ID,
		Side:                r.Side,
		Symbol:              r.Symbol,
		Quantity:            r.Quantity,
		CustomMarginPercent: r.CustomMarginPercent,
	}
	if r.Expiration != nil {
		base.Expiration = *r.Expiration
	}

	switch r.Kind {
	case KindCall:
		return &CallLeg{LegBase: base, Strike: val(r.Strike), Premium: val(r.Premium)}, nil
	case KindPut:
		return &PutLeg{LegBase: base, Strike: val(r.Strike), Premium: val(r.Premium)}, nil
	case KindStock:
		if base.Expiration.IsZero() {
			base.Expiration = StockExpiration
		}
		return &StockLeg{LegBase: base, EntryPrice: val(r.EntryPrice)}, nil
	case KindFuture:
		return &FutureLeg{LegBase: base, SpotPrice: val(r.SpotPrice), Premium: val(r.Premium)}, nil
	default:
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown leg kind %q", r.Kind)}
	}
}

// Legs is an ordered leg list that serializes through LegRecord.
type Legs []Leg

func (ls Legs) MarshalJSON() ([]byte, error) {
	records := make([]LegRecord, 0, len(ls))
	for _, l := range ls {
		records = append(records, ToRecord(l))
	}
	return json.Marshal(records)
}

func (ls *Legs) UnmarshalJSON(data []byte) error {
	var records []LegRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	out := make(Legs, 0, len(records))
	for _, r := range records {
		l, err := FromRecord(r)
		if err != nil {
			return err
		}
		out = append(out, l)
	}
	*ls = out
	return nil
}

// Clone deep-copies the list.
func (ls Legs) Clone() Legs {
	if ls == nil {
		return nil
	}
	out := make(Legs, len(ls))
	for i, l := range ls {
		out[i] = l.Clone()
	}
	return out
}

// ByID indexes the legs by id.
func (ls Legs) ByID() map[string]Leg {
	m := make(map[string]Leg, len(ls))
	for _, l := range ls {
		m[l.Base().ID] = l
	}
	return m
}

var hundred = decimal.NewFromInt(100)

// ValidateLeg checks the fields the leg's kind requires.
func ValidateLeg(l Leg) error {
	if l == nil {
		return &ValidationError{Field: "leg", Reason: "missing"}
	}
	b := l.Base()
	switch {
	case b.ID == "":
		return &ValidationError{Field: "leg.id", Reason: "required"}
	case b.Symbol == "":
		return &ValidationError{Field: "leg.symbol", Reason: "required", LegID: b.ID}
	case b.Quantity <= 0:
		return &ValidationError{Field: "leg.quantity", Reason: "must be positive", LegID: b.ID}
	case b.Side != Long && b.Side != Short:
		return &ValidationError{Field: "leg.side", Reason: fmt.Sprintf("invalid side %q", b.Side), LegID: b.ID}
	}
	if pct := b.CustomMarginPercent; pct != nil && (pct.IsNegative() || pct.GreaterThan(hundred)) {
		return &ValidationError{Field: "leg.custom_margin_percent", Reason: "must be within [0, 100]", LegID: b.ID}
	}

	switch v := l.(type) {
	case *CallLeg:
		return validateOption(b, v.Strike, v.Premium)
	case *PutLeg:
		return validateOption(b, v.Strike, v.Premium)
	case *StockLeg:
		if !v.EntryPrice.IsPositive() {
			return &ValidationError{Field: "leg.entry_price", Reason: "must be positive", LegID: b.ID}
		}
	case *FutureLeg:
		if !v.SpotPrice.IsPositive() {
			return &ValidationError{Field: "leg.spot_price", Reason: "must be positive", LegID: b.ID}
		}
		if v.Premium.IsNegative() {
			return &ValidationError{Field: "leg.premium", Reason: "must not be negative", LegID: b.ID}
		}
		if b.Expiration.IsZero() {
			return &ValidationError{Field: "leg.expiration", Reason: "required", LegID: b.ID}
		}
	}
	return nil
}

func validateOption(b *LegBase, strike, premium decimal.Decimal) error {
	if !strike.IsPositive() {
		return &ValidationError{Field: "leg.strike", Reason: "must be positive", LegID: b.ID}
	}
	if premium.IsNegative() {
		return &ValidationError{Field: "leg.premium", Reason: "must not be negative", LegID: b.ID}
	}
	if b.Expiration.IsZero() {
		return &ValidationError{Field: "leg.expiration", Reason: "required", LegID: b.ID}
	}
	return nil
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func val(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
