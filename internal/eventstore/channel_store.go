package eventstore

import (
	"iter"
	"sort"
)

// ChannelEventsStore holds every event recorded for one channel: instants in
// a flat ordered slice, and two independently indexed range storages for
// same-thread versus cross-thread ranges.
type ChannelEventsStore struct {
	EventNames map[uint16]string

	instants     []InstantEvent
	LocalRanges  RangeEventStorage[LocalExtra]
	CrossRanges  RangeEventStorage[uint64]
}

func NewChannelEventsStore() *ChannelEventsStore {
	return &ChannelEventsStore{EventNames: make(map[uint16]string)}
}

// InsertInstant appends on the monotone path (tm >= last.tm) or falls back
// to a binary-search insert for out-of-order arrivals. Both paths keep
// instants sorted by Tm with insertion order preserved among ties.
func (c *ChannelEventsStore) InsertInstant(tm uint64, nameID uint16) {
	ev := InstantEvent{Tm: tm, NameID: nameID}
	n := len(c.instants)
	if n == 0 || tm >= c.instants[n-1].Tm {
		c.instants = append(c.instants, ev)
		return
	}
	idx := sort.Search(n, func(i int) bool { return c.instants[i].Tm > tm })
	c.instants = append(c.instants, InstantEvent{})
	copy(c.instants[idx+1:], c.instants[idx:])
	c.instants[idx] = ev
}

// InsertLocalRange records a same-thread range in the local storage;
// InsertCrossRange records a range with its origin thread in the
// cross-thread storage.
func (c *ChannelEventsStore) InsertLocalRange(start, end uint64, nameID uint16, endNameID OptionalU16) int {
	return c.LocalRanges.Insert(start, end, nameID, endNameID, struct{}{})
}

func (c *ChannelEventsStore) InsertCrossRange(start, end uint64, nameID uint16, endNameID OptionalU16, originThread uint64) int {
	return c.CrossRanges.Insert(start, end, nameID, endNameID, originThread)
}

// QueryInstants yields every instant with Tm in [start, end), ascending.
func (c *ChannelEventsStore) QueryInstants(start, end uint64) iter.Seq[InstantEvent] {
	lo := sort.Search(len(c.instants), func(i int) bool { return c.instants[i].Tm >= start })
	hi := sort.Search(len(c.instants), func(i int) bool { return c.instants[i].Tm >= end })
	slice := c.instants[lo:hi]
	return func(yield func(InstantEvent) bool) {
		for _, ev := range slice {
			if !yield(ev) {
				return
			}
		}
	}
}

func (c *ChannelEventsStore) QueryLocalRanges(start, end uint64) iter.Seq[RangeEvent[LocalExtra]] {
	return c.LocalRanges.Query(start, end)
}

func (c *ChannelEventsStore) QueryCrossRanges(start, end uint64) iter.Seq[RangeEvent[uint64]] {
	return c.CrossRanges.Query(start, end)
}

func (c *ChannelEventsStore) Stats() StorageStats {
	return StorageStats{
		Instants: len(c.instants),
		Ranges:   c.LocalRanges.Len() + c.CrossRanges.Len(),
	}
}

// SetEventNames replaces the event-name map wholesale, per
// UpdateChannelEventNames semantics.
func (c *ChannelEventsStore) SetEventNames(names map[uint16]string) {
	c.EventNames = names
}
