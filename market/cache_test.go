package market

import (
	"testing"
	"time"
)

func TestCacheRecordAndWindow(t *testing.T) {
	c := NewCache(3)
	now := time.Now()

	if got := c.Window("ABC"); len(got) != 0 {
		t.Fatalf("expected empty window before data, got %d points", len(got))
	}

	c.Record("ABC", 100, now)
	c.Record("ABC", 101, now.Add(time.Second))
	w := c.Window("ABC")
	if len(w) != 2 {
		t.Fatalf("expected 2 points, got %d", len(w))
	}
	if w[0].Price != 100 || w[1].Price != 101 {
		t.Fatalf("window not oldest-first: %+v", w)
	}
}

func TestCacheEvictsOldestFIFO(t *testing.T) {
	c := NewCache(3)
	now := time.Now()
	// Prices deliberately non-monotonic: eviction must follow arrival, not price.
	prices := []float64{105, 99, 110, 95, 120}
	for i, p := range prices {
		c.Record("ABC", p, now.Add(time.Duration(i)*time.Second))
	}

	w := c.Window("ABC")
	if len(w) != 3 {
		t.Fatalf("window exceeded capacity: %d", len(w))
	}
	want := []float64{110, 95, 120}
	for i, p := range want {
		if w[i].Price != p {
			t.Fatalf("expected %v at index %d, got %v", p, i, w[i].Price)
		}
	}
}

func TestCacheSequenceMonotonicPerInstrument(t *testing.T) {
	c := NewCache(2)
	now := time.Now()
	a1 := c.Record("ABC", 1, now)
	x1 := c.Record("XYZ", 2, now)
	a2 := c.Record("ABC", 3, now)

	if a1.Seq != 1 || a2.Seq != 2 {
		t.Fatalf("ABC sequence not monotonic: %d then %d", a1.Seq, a2.Seq)
	}
	if x1.Seq != 1 {
		t.Fatalf("XYZ sequence should start at 1, got %d", x1.Seq)
	}

	// Sequence keeps advancing past evictions.
	a3 := c.Record("ABC", 4, now)
	if a3.Seq != 3 {
		t.Fatalf("expected seq 3 after eviction, got %d", a3.Seq)
	}
}

func TestCacheStaleness(t *testing.T) {
	c := NewCache(4)
	now := time.Now()

	if c.Staleness("ABC", now) < 24*time.Hour {
		t.Fatal("instrument without data should report very stale")
	}

	c.Record("ABC", 100, now)
	if got := c.Staleness("ABC", now.Add(3*time.Second)); got != 3*time.Second {
		t.Fatalf("expected staleness 3s, got %v", got)
	}
}

func TestCacheWindowIsCopy(t *testing.T) {
	c := NewCache(4)
	c.Record("ABC", 100, time.Now())
	w := c.Window("ABC")
	w[0].Price = 9999
	if got, _ := c.Last("ABC"); got.Price != 100 {
		t.Fatal("mutating the returned window must not affect the cache")
	}
}
