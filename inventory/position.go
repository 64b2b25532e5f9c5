// Package inventory tracks per-instrument positions and P&L from confirmed
// fills. The tracker is the sole owner of position state; nothing else in the
// system mutates it.
package inventory

import (
	"sync"
)

// Side of a fill, matching the exchange order side.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Position is an immutable snapshot of the tracker state.
type Position struct {
	Instrument string
	Qty        float64 // signed, positive = long
	AvgCost    float64 // average entry price of the open quantity
	Realized   float64 // realized P&L for the session
}

// Tracker maintains one instrument's position. Mutated only on confirmed
// fills via OnFill.
type Tracker struct {
	mu         sync.RWMutex
	instrument string
	qty        float64
	avgCost    float64
	realized   float64
}

// NewTracker creates a flat tracker for an instrument.
func NewTracker(instrument string) *Tracker {
	return &Tracker{instrument: instrument}
}

// OnFill applies a confirmed fill. Same-direction fills move the average
// entry price by weighted average; reducing fills realize P&L against it;
// a flip resets the basis to the fill price for the residual quantity.
func (t *Tracker) OnFill(side string, price, qty float64) {
	if qty <= 0 {
		return
	}
	delta := qty
	if side == SideSell {
		delta = -qty
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.qty == 0 || sameSign(t.qty, delta):
		total := abs(t.qty) + abs(delta)
		t.avgCost = (t.avgCost*abs(t.qty) + price*abs(delta)) / total
		t.qty += delta

	case abs(delta) <= abs(t.qty):
		// Reducing: realize against the average entry.
		closed := abs(delta)
		t.realized += closed * (price - t.avgCost) * sign(t.qty)
		t.qty += delta
		if t.qty == 0 {
			t.avgCost = 0
		}

	default:
		// Flip: close the whole open quantity, restart at the fill price.
		closed := abs(t.qty)
		t.realized += closed * (price - t.avgCost) * sign(t.qty)
		t.qty += delta
		t.avgCost = price
	}
}

// Snapshot returns the current position.
func (t *Tracker) Snapshot() Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Position{
		Instrument: t.instrument,
		Qty:        t.qty,
		AvgCost:    t.avgCost,
		Realized:   t.realized,
	}
}

// NetExposure returns the signed open quantity.
func (t *Tracker) NetExposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.qty
}

// UnrealizedAt marks the open quantity against mid.
func (t *Tracker) UnrealizedAt(mid float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.qty == 0 || mid <= 0 {
		return 0
	}
	return t.qty * (mid - t.avgCost)
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
