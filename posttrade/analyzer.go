// Package posttrade measures fill quality: how the market moved in the
// seconds after each of our fills. A passive quote that keeps getting hit
// just before the price moves through it is being adversely selected, and
// the spread needs widening.
package posttrade

import (
	"sync"
	"time"
)

// MidFunc returns the current reference price for an instrument. ok is
// false when no market data is available.
type MidFunc func(instrument string) (mid float64, ok bool)

// FillRecord is one fill and its later markouts.
type FillRecord struct {
	Instrument string
	Side       string
	FillPrice  float64
	FillTime   time.Time

	ShortMark float64 // mid after the short horizon, 0 until sampled
	LongMark  float64 // mid after the long horizon, 0 until sampled
}

// Stats summarizes markouts across all sampled fills.
type Stats struct {
	TotalFills    int
	AnalyzedFills int
	// AdverseRate is the fraction of analyzed fills whose short-horizon
	// markout was negative (the market moved through our price).
	AdverseRate  float64
	AvgMarkShort float64 // mean relative markout at the short horizon
	AvgMarkLong  float64 // mean relative markout at the long horizon
}

// Analyzer samples the mid after each fill at two horizons and aggregates
// markout statistics for the session.
type Analyzer struct {
	mid          MidFunc
	shortHorizon time.Duration
	longHorizon  time.Duration

	mu    sync.Mutex
	fills map[string]*FillRecord
}

// NewAnalyzer builds an analyzer with 1s/5s horizons.
func NewAnalyzer(mid MidFunc) *Analyzer {
	return &Analyzer{
		mid:          mid,
		shortHorizon: time.Second,
		longHorizon:  5 * time.Second,
		fills:        make(map[string]*FillRecord),
	}
}

// SetHorizons overrides the sampling horizons. Test hook.
func (a *Analyzer) SetHorizons(short, long time.Duration) {
	a.shortHorizon = short
	a.longHorizon = long
}

// OnFill records a fill and schedules the markout samples.
func (a *Analyzer) OnFill(orderID, instrument, side string, price float64) {
	if price <= 0 {
		return
	}
	rec := &FillRecord{
		Instrument: instrument,
		Side:       side,
		FillPrice:  price,
		FillTime:   time.Now(),
	}
	a.mu.Lock()
	a.fills[orderID] = rec
	a.mu.Unlock()

	go a.sample(orderID)
}

func (a *Analyzer) sample(orderID string) {
	time.Sleep(a.shortHorizon)
	a.record(orderID, true)
	time.Sleep(a.longHorizon - a.shortHorizon)
	a.record(orderID, false)
}

func (a *Analyzer) record(orderID string, short bool) {
	a.mu.Lock()
	rec, exists := a.fills[orderID]
	a.mu.Unlock()
	if !exists {
		return
	}
	mid, ok := a.mid(rec.Instrument)
	if !ok || mid <= 0 {
		return
	}
	a.mu.Lock()
	if short {
		rec.ShortMark = mid
	} else {
		rec.LongMark = mid
	}
	a.mu.Unlock()
}

// Stats aggregates over every fill with both markouts sampled. Markout is
// signed from our perspective: for a buy, mid rising after the fill is
// positive; falling mid means we bought from someone better informed.
func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Stats{TotalFills: len(a.fills)}
	var adverse int
	var sumShort, sumLong float64
	for _, rec := range a.fills {
		if rec.ShortMark == 0 || rec.LongMark == 0 {
			continue
		}
		st.AnalyzedFills++
		short := (rec.ShortMark - rec.FillPrice) / rec.FillPrice
		long := (rec.LongMark - rec.FillPrice) / rec.FillPrice
		if rec.Side == "SELL" {
			short, long = -short, -long
		}
		sumShort += short
		sumLong += long
		if short < 0 {
			adverse++
		}
	}
	if st.AnalyzedFills > 0 {
		st.AdverseRate = float64(adverse) / float64(st.AnalyzedFills)
		st.AvgMarkShort = sumShort / float64(st.AnalyzedFills)
		st.AvgMarkLong = sumLong / float64(st.AnalyzedFills)
	}
	return st
}

// Prune drops fills older than maxAge to bound memory on long sessions.
func (a *Analyzer) Prune(maxAge time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for id, rec := range a.fills {
		if rec.FillTime.Before(cutoff) {
			delete(a.fills, id)
		}
	}
}
