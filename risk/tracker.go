// Package risk classifies exposure against configured limits and enforces
// the process-wide aggregate caps.
package risk

// State is the per-instrument risk band.
type State int

const (
	// StateNormal means exposure is comfortably inside the limit.
	StateNormal State = iota
	// StateElevated means exposure is approaching the limit; quotes skew
	// defensively.
	StateElevated
	// StateBreached means exposure is at or beyond the limit; quoting that
	// increases it is suppressed.
	StateBreached
)

func (s State) String() string {
	switch s {
	case StateElevated:
		return "ELEVATED"
	case StateBreached:
		return "BREACHED"
	default:
		return "NORMAL"
	}
}

// Exposure is the committed exposure for one instrument at a point in time:
// the confirmed position plus the net effect of resting orders. It is
// recomputed from current truth every tick, never cached.
type Exposure struct {
	Position     float64 // signed confirmed position
	RestingBuys  float64 // sum of resting buy sizes
	RestingSells float64 // sum of resting sell sizes
}

// CommittedLong is the position if every resting buy fills.
func (e Exposure) CommittedLong() float64 {
	return e.Position + e.RestingBuys
}

// CommittedShort is the position if every resting sell fills.
func (e Exposure) CommittedShort() float64 {
	return e.Position - e.RestingSells
}

// Net is the signed exposure with the resting-order effect applied: the
// position plus every resting buy, minus every resting sell. This is what
// quote skewing works from, so the book leans away from exposure it has
// already committed to, not just exposure it has confirmed.
func (e Exposure) Net() float64 {
	return e.Position + e.RestingBuys - e.RestingSells
}

// Assessment is the per-tick risk view consumed by the quote builder.
type Assessment struct {
	State     State   // worst of the two sides
	BuyState  State   // constraint on adding long exposure
	SellState State   // constraint on adding short exposure
	LongRoom  float64 // quantity that may still be bought before breach
	ShortRoom float64 // quantity that may still be sold before breach
}

// Tracker classifies exposure for one instrument.
type Tracker struct {
	limit        float64
	elevatedFrac float64
}

// NewTracker builds a tracker. elevatedFrac is the exposure fraction at which
// the band moves from normal to elevated.
func NewTracker(positionLimit, elevatedFrac float64) *Tracker {
	if elevatedFrac <= 0 || elevatedFrac >= 1 {
		elevatedFrac = 0.75
	}
	return &Tracker{limit: positionLimit, elevatedFrac: elevatedFrac}
}

// Limit returns the configured position limit.
func (t *Tracker) Limit() float64 {
	return t.limit
}

// Assess classifies the exposure. A side is breached when the committed
// exposure in that direction is at or beyond the limit, which means a fill on
// that side could leave the position outside bounds.
func (t *Tracker) Assess(exp Exposure) Assessment {
	a := Assessment{
		BuyState:  t.bandFor(exp.CommittedLong()),
		SellState: t.bandFor(-exp.CommittedShort()),
		LongRoom:  t.limit - exp.CommittedLong(),
		ShortRoom: t.limit + exp.CommittedShort(),
	}
	if a.LongRoom < 0 {
		a.LongRoom = 0
	}
	if a.ShortRoom < 0 {
		a.ShortRoom = 0
	}
	a.State = maxState(a.BuyState, a.SellState)
	return a
}

// bandFor classifies a one-directional committed exposure; v is positive in
// the direction being assessed.
func (t *Tracker) bandFor(v float64) State {
	if v >= t.limit {
		return StateBreached
	}
	if v >= t.limit*t.elevatedFrac {
		return StateElevated
	}
	return StateNormal
}

func maxState(a, b State) State {
	if b > a {
		return b
	}
	return a
}
