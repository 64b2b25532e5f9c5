package order

import (
	"fmt"
	"math"
	"time"

	"market-agent-go/quote"
)

// Reconciler diffs the desired quote for one instrument against the orders
// actually resting, issuing only the cancels and placements needed. Calling
// it twice with an unchanged quote is a no-op until the staleness threshold
// forces a refresh.
type Reconciler struct {
	mgr            *Manager
	instrument     string
	tickSize       float64
	toleranceTicks float64
	staleAfter     time.Duration // <= 0 disables forced refresh
	now            func() time.Time
}

// Actions summarizes what one reconcile pass did.
type Actions struct {
	Placed    int
	Cancelled int
	Refreshed int // cancel-replaces forced by staleness alone
}

// NewReconciler builds a reconciler for one instrument.
func NewReconciler(mgr *Manager, instrument string, tickSize, toleranceTicks float64, staleAfter time.Duration) *Reconciler {
	if toleranceTicks <= 0 {
		toleranceTicks = 1
	}
	return &Reconciler{
		mgr:            mgr,
		instrument:     instrument,
		tickSize:       tickSize,
		toleranceTicks: toleranceTicks,
		staleAfter:     staleAfter,
		now:            time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Reconcile applies the desired quote. Each side independently: place when
// nothing rests and size > 0; cancel when size is zero; cancel-replace when
// the resting price deviates beyond tolerance or the order has gone stale.
func (r *Reconciler) Reconcile(desired quote.Quote) (Actions, error) {
	var acts Actions
	var firstErr error

	sides := []struct {
		side  string
		price float64
		size  float64
	}{
		{SideBuy, desired.Bid, desired.BidSize},
		{SideSell, desired.Ask, desired.AskSize},
	}

	for _, s := range sides {
		if err := r.reconcileSide(s.side, s.price, s.size, &acts); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s %s: %w", r.instrument, s.side, err)
		}
	}
	return acts, firstErr
}

func (r *Reconciler) reconcileSide(side string, price, size float64, acts *Actions) error {
	cur, resting := r.mgr.Resting(r.instrument, side)

	if !resting {
		if size <= 0 {
			return nil
		}
		if _, err := r.mgr.Submit(Order{
			Instrument: r.instrument,
			Side:       side,
			Price:      price,
			Quantity:   size,
		}); err != nil {
			return err
		}
		acts.Placed++
		return nil
	}

	if size <= 0 {
		if err := r.mgr.Cancel(cur.ID); err != nil {
			return err
		}
		acts.Cancelled++
		return nil
	}

	deviated := math.Abs(cur.Price-price) > r.toleranceTicks*r.tickSize+1e-9
	stale := r.staleAfter > 0 && r.now().Sub(cur.PlacedAt) >= r.staleAfter
	if !deviated && !stale {
		return nil
	}

	if err := r.mgr.Cancel(cur.ID); err != nil {
		return err
	}
	acts.Cancelled++
	if _, err := r.mgr.Submit(Order{
		Instrument: r.instrument,
		Side:       side,
		Price:      price,
		Quantity:   size,
	}); err != nil {
		return err
	}
	acts.Placed++
	if stale && !deviated {
		acts.Refreshed++
	}
	return nil
}
