package eventstore

import (
	"math/rand"
	"testing"
)

func collectInstants(c *ChannelEventsStore, start, end uint64) []InstantEvent {
	var out []InstantEvent
	for ev := range c.QueryInstants(start, end) {
		out = append(out, ev)
	}
	return out
}

func TestInstantOrderingMonotone(t *testing.T) {
	c := NewChannelEventsStore()
	for i := uint64(0); i < 100; i++ {
		c.InsertInstant(i*10, uint16(i))
	}
	got := collectInstants(c, 0, 1000)
	for i := 1; i < len(got); i++ {
		if got[i].Tm < got[i-1].Tm {
			t.Fatalf("instants not ordered at %d: %d < %d", i, got[i].Tm, got[i-1].Tm)
		}
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 instants, got %d", len(got))
	}
}

func TestInstantOrderingOutOfOrder(t *testing.T) {
	c := NewChannelEventsStore()
	tms := []uint64{500, 100, 300, 200, 400, 100}
	for _, tm := range tms {
		c.InsertInstant(tm, 1)
	}
	got := collectInstants(c, 0, 1000)
	if len(got) != len(tms) {
		t.Fatalf("expected %d instants, got %d", len(tms), len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Tm < got[i-1].Tm {
			t.Fatalf("instants not sorted: %v", got)
		}
	}
}

func TestInstantOrderingRandomized(t *testing.T) {
	c := NewChannelEventsStore()
	r := rand.New(rand.NewSource(42))
	const n = 500
	want := make([]uint64, n)
	for i := 0; i < n; i++ {
		tm := uint64(r.Intn(1000))
		want[i] = tm
		c.InsertInstant(tm, 0)
	}
	got := collectInstants(c, 0, 1000)
	if len(got) != n {
		t.Fatalf("expected %d, got %d", n, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Tm < got[i-1].Tm {
			t.Fatalf("not sorted at %d", i)
		}
	}
}

func TestInstantQueryCompleteness(t *testing.T) {
	c := NewChannelEventsStore()
	for _, tm := range []uint64{0, 5, 10, 15, 20, 25} {
		c.InsertInstant(tm, 1)
	}
	got := collectInstants(c, 5, 20)
	want := []uint64{5, 10, 15}
	if len(got) != len(want) {
		t.Fatalf("got %v, want tms %v", got, want)
	}
	for i, ev := range got {
		if ev.Tm != want[i] {
			t.Fatalf("index %d: got %d want %d", i, ev.Tm, want[i])
		}
	}
}

func collectLocalRanges(c *ChannelEventsStore, start, end uint64) []RangeEvent[LocalExtra] {
	var out []RangeEvent[LocalExtra]
	for ev := range c.QueryLocalRanges(start, end) {
		out = append(out, ev)
	}
	return out
}

func TestRangeQueryCompleteness(t *testing.T) {
	c := NewChannelEventsStore()
	type rng struct{ start, end uint64 }
	ranges := []rng{
		{0, 100}, {10, 50}, {20, 30}, {150, 200}, {100, 100}, {99, 100},
	}
	for _, r := range ranges {
		c.InsertLocalRange(r.start, r.end, 1, NoneU16)
	}

	for _, w := range []struct{ s, e uint64 }{{0, 1000}, {0, 100}, {95, 105}, {99, 100}, {100, 101}} {
		got := collectLocalRanges(c, w.s, w.e)
		want := 0
		for _, r := range ranges {
			if r.start < w.e && r.end > w.s {
				want++
			}
		}
		if len(got) != want {
			t.Fatalf("window [%d,%d): got %d ranges, want %d", w.s, w.e, len(got), want)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Start < got[i-1].Start {
				t.Fatalf("ranges not ordered by start: %+v", got)
			}
		}
	}
}

func TestRangeQueryEdgePolicy(t *testing.T) {
	c := NewChannelEventsStore()
	// Zero-length range exactly at a boundary.
	c.InsertLocalRange(50, 50, 1, NoneU16)

	if got := collectLocalRanges(c, 0, 50); len(got) != 0 {
		t.Fatalf("zero-length range at query end must be excluded, got %v", got)
	}
	if got := collectLocalRanges(c, 50, 100); len(got) != 0 {
		t.Fatalf("zero-length range (end=start=50) has no duration past 50, should not overlap [50,100): got %v", got)
	}

	c2 := NewChannelEventsStore()
	c2.InsertLocalRange(50, 60, 1, NoneU16)
	if got := collectLocalRanges(c2, 0, 50); len(got) != 0 {
		t.Fatalf("range starting exactly at query end should be excluded, got %v", got)
	}
	if got := collectLocalRanges(c2, 50, 100); len(got) != 1 {
		t.Fatalf("range starting exactly at query start should be included, got %v", got)
	}
	if got := collectLocalRanges(c2, 10, 50); len(got) != 0 {
		t.Fatalf("range with start==query end must be excluded, got %v", got)
	}
}

func TestRangeSharedStartPreservesInsertionOrder(t *testing.T) {
	c := NewChannelEventsStore()
	c.InsertLocalRange(10, 20, 1, NoneU16)
	c.InsertLocalRange(10, 30, 2, NoneU16)
	c.InsertLocalRange(10, 25, 3, NoneU16)

	got := collectLocalRanges(c, 0, 100)
	if len(got) != 3 {
		t.Fatalf("expected 3 ranges, got %d", len(got))
	}
	wantOrder := []uint16{1, 2, 3}
	for i, ev := range got {
		if ev.NameID != wantOrder[i] {
			t.Fatalf("insertion order not preserved within shared start: got %v", got)
		}
	}
}

func TestCrossThreadRangeCarriesOrigin(t *testing.T) {
	c := NewChannelEventsStore()
	c.InsertCrossRange(5, 20, 1, NoneU16, 42)
	var got []RangeEvent[uint64]
	for ev := range c.QueryCrossRanges(0, 100) {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Extra != 42 {
		t.Fatalf("expected origin thread 42, got %+v", got)
	}
}
