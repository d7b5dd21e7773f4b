package eventstore

import (
	"testing"
	"time"
)

func TestConnectionTimestampsNoneBeforeAnyEvents(t *testing.T) {
	cs := NewConnectionStore()
	if _, _, _, ok := cs.ConnectionTimestamps(time.Now()); ok {
		t.Fatalf("expected no timestamps before any batch observed")
	}
}

func TestConnectionTimestampsBoundsAcrossBatches(t *testing.T) {
	cs := NewConnectionStore()
	base := time.Now()

	cs.ObserveBatchBounds(base, 100, 200)
	cs.ObserveBatchBounds(base.Add(time.Second), 50, 150)
	cs.ObserveBatchBounds(base.Add(2*time.Second), 180, 300)

	min, max, _, ok := cs.ConnectionTimestamps(base.Add(2 * time.Second))
	if !ok {
		t.Fatalf("expected timestamps present")
	}
	if min != 50 {
		t.Fatalf("min_tm = %d, want 50", min)
	}
	if max != 300 {
		t.Fatalf("max_tm = %d, want 300", max)
	}
}

func TestConnectionTimestampsExtrapolatesNow(t *testing.T) {
	cs := NewConnectionStore()
	base := time.Now()
	cs.ObserveBatchBounds(base, 1000, 1000)

	later := base.Add(500 * time.Millisecond)
	_, _, adjusted, ok := cs.ConnectionTimestamps(later)
	if !ok {
		t.Fatalf("expected timestamps present")
	}
	want := uint64(1000) + uint64(500*time.Millisecond)
	if adjusted != want {
		t.Fatalf("adjusted now = %d, want %d", adjusted, want)
	}
}

func TestChannelLazyCreationAndPersistence(t *testing.T) {
	cs := NewConnectionStore()
	id := Thread(7)
	ch := cs.Channel(id)
	ch.InsertInstant(10, 1)

	if cs.ChannelCount() != 1 {
		t.Fatalf("expected 1 channel, got %d", cs.ChannelCount())
	}
	// Re-fetching must return the same store (never recreated).
	same := cs.Channel(id)
	if same.Stats().Instants != 1 {
		t.Fatalf("channel store was not preserved across re-fetch")
	}
}

func TestUpdateChannelNameNoOpWhenIdentical(t *testing.T) {
	cs := NewConnectionStore()
	id := Thread(1)
	cs.UpdateChannelName(id, "main")
	cs.UpdateChannelName(id, "main")
	if cs.ChannelNames[id] != "main" {
		t.Fatalf("expected name to remain 'main'")
	}
}

func TestStatsSummedAcrossChannels(t *testing.T) {
	cs := NewConnectionStore()
	cs.Channel(Thread(1)).InsertInstant(1, 1)
	cs.Channel(Thread(1)).InsertInstant(2, 1)
	cs.Channel(Thread(2)).InsertLocalRange(1, 2, 1, NoneU16)

	stats := cs.Stats()
	if stats.Instants != 2 || stats.Ranges != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
