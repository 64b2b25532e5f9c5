package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-agent-go/quote"
)

func desired(bid, bidSize, ask, askSize float64) quote.Quote {
	return quote.Quote{Instrument: "ABC", Bid: bid, BidSize: bidSize, Ask: ask, AskSize: askSize, Ts: time.Now()}
}

func newTestReconciler(t *testing.T, staleAfter time.Duration) (*Reconciler, *Manager, *fakeGateway, *time.Time) {
	t.Helper()
	gw := &fakeGateway{}
	mgr := NewManager(gw)
	now := time.Now()
	clock := func() time.Time { return now }
	mgr.SetClock(clock)
	r := NewReconciler(mgr, "ABC", 0.01, 2, staleAfter)
	r.SetClock(clock)
	return r, mgr, gw, &now
}

func TestReconcilePlacesBothSides(t *testing.T) {
	r, mgr, _, _ := newTestReconciler(t, 0)

	acts, err := r.Reconcile(desired(99.95, 10, 100.05, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, acts.Placed)

	bid, ok := mgr.Resting("ABC", SideBuy)
	require.True(t, ok)
	assert.Equal(t, 99.95, bid.Price)
	ask, ok := mgr.Resting("ABC", SideSell)
	require.True(t, ok)
	assert.Equal(t, 100.05, ask.Price)
}

func TestReconcileIdempotentWithinTolerance(t *testing.T) {
	r, _, gw, _ := newTestReconciler(t, 0)

	_, err := r.Reconcile(desired(99.95, 10, 100.05, 10))
	require.NoError(t, err)

	// Same quote again: nothing should happen.
	acts, err := r.Reconcile(desired(99.95, 10, 100.05, 10))
	require.NoError(t, err)
	assert.Equal(t, Actions{}, acts)

	// One tick of drift is within the two-tick tolerance.
	acts, err = r.Reconcile(desired(99.96, 10, 100.04, 10))
	require.NoError(t, err)
	assert.Equal(t, Actions{}, acts)

	assert.Empty(t, gw.cancelled)
	assert.Len(t, gw.placed, 2)
}

func TestReconcileCancelReplaceBeyondTolerance(t *testing.T) {
	r, mgr, gw, _ := newTestReconciler(t, 0)

	_, err := r.Reconcile(desired(99.95, 10, 100.05, 10))
	require.NoError(t, err)

	// Bid moves three ticks: cancel-replace within the same pass.
	acts, err := r.Reconcile(desired(99.98, 10, 100.05, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, acts.Cancelled)
	assert.Equal(t, 1, acts.Placed)
	assert.Len(t, gw.cancelled, 1)

	bid, ok := mgr.Resting("ABC", SideBuy)
	require.True(t, ok)
	assert.Equal(t, 99.98, bid.Price)
}

func TestReconcileZeroSizeCancels(t *testing.T) {
	r, mgr, _, _ := newTestReconciler(t, 0)

	_, err := r.Reconcile(desired(99.95, 10, 100.05, 10))
	require.NoError(t, err)

	acts, err := r.Reconcile(desired(99.95, 0, 100.05, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, acts.Cancelled)
	assert.Equal(t, 0, acts.Placed)

	_, ok := mgr.Resting("ABC", SideBuy)
	assert.False(t, ok)
	_, ok = mgr.Resting("ABC", SideSell)
	assert.True(t, ok)
}

func TestReconcileStalenessForcesRefresh(t *testing.T) {
	r, _, gw, now := newTestReconciler(t, 2*time.Second)

	_, err := r.Reconcile(desired(99.95, 10, 100.05, 10))
	require.NoError(t, err)

	// Unchanged quote before the threshold: no action.
	*now = now.Add(1 * time.Second)
	acts, err := r.Reconcile(desired(99.95, 10, 100.05, 10))
	require.NoError(t, err)
	assert.Equal(t, Actions{}, acts)

	// Past the threshold: force refresh even though the price is unchanged.
	*now = now.Add(2 * time.Second)
	acts, err = r.Reconcile(desired(99.95, 10, 100.05, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, acts.Refreshed)
	assert.Equal(t, 2, acts.Cancelled)
	assert.Equal(t, 2, acts.Placed)
	assert.Len(t, gw.cancelled, 2)
}
