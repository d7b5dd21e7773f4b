package eventstore

import (
	"iter"
	"sort"
)

// rangePayload is the stable slot table entry: everything about a range
// except its start time, which lives in the bucket key that indexes it.
type rangePayload[E any] struct {
	end       uint64
	nameID    uint16
	endNameID OptionalU16
	extra     E
}

type rangeBucket[E any] struct {
	start uint64
	slots []int // indices into payloads, arrival order preserved
}

// RangeEventStorage is a slab of range payloads plus an ordered start-time
// index, so that ranges sharing a start are kept in insertion order within
// their bucket while buckets themselves stay sorted by start.
type RangeEventStorage[E any] struct {
	payloads []rangePayload[E]
	buckets  []rangeBucket[E] // sorted ascending, unique by start
}

// Insert appends a new range and returns its slot id.
func (s *RangeEventStorage[E]) Insert(start, end uint64, nameID uint16, endNameID OptionalU16, extra E) int {
	id := len(s.payloads)
	s.payloads = append(s.payloads, rangePayload[E]{end: end, nameID: nameID, endNameID: endNameID, extra: extra})

	idx := sort.Search(len(s.buckets), func(i int) bool { return s.buckets[i].start >= start })
	if idx < len(s.buckets) && s.buckets[idx].start == start {
		s.buckets[idx].slots = append(s.buckets[idx].slots, id)
		return id
	}
	s.buckets = append(s.buckets, rangeBucket[E]{})
	copy(s.buckets[idx+1:], s.buckets[idx:])
	s.buckets[idx] = rangeBucket[E]{start: start, slots: []int{id}}
	return id
}

// Len returns the total number of ranges ever inserted.
func (s *RangeEventStorage[E]) Len() int { return len(s.payloads) }

// Query yields every range overlapping [start, end), ordered by start time
// (ties broken by insertion order). A range overlaps when start < end and
// its own end > the window's start — the half-open edge policy from
// spec.md §4.1: a zero-length range at the exact window end is excluded,
// and so is one at the exact window start, since its end is not > start.
func (s *RangeEventStorage[E]) Query(start, end uint64) iter.Seq[RangeEvent[E]] {
	return func(yield func(RangeEvent[E]) bool) {
		// All buckets with key < end form a prefix since buckets are sorted.
		hi := sort.Search(len(s.buckets), func(i int) bool { return s.buckets[i].start >= end })
		for _, b := range s.buckets[:hi] {
			for _, id := range b.slots {
				p := s.payloads[id]
				if p.end > start {
					ev := RangeEvent[E]{
						Start:     b.start,
						End:       p.end,
						NameID:    p.nameID,
						EndNameID: p.endNameID,
						Extra:     p.extra,
					}
					if !yield(ev) {
						return
					}
				}
			}
		}
	}
}
