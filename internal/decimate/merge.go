package decimate

import (
	"errors"
	"iter"

	"github.com/sparkles-gui/sparkles-backend/internal/eventstore"
)

// ErrMergeOrderViolated signals that the local and cross-thread range
// iterators, merged by start time, produced a non-monotone sequence. Both
// sources are individually sorted by construction; seeing this means a
// storage invariant was broken upstream. It is a bug, not a user error.
var ErrMergeOrderViolated = errors.New("decimate: range merge order violated")

// mergedRange is a range event tagged with which storage it came from; the
// tag decides the frame's local-vs-cross-thread section and, for cross
// events, whether the origin thread id trails the payload.
type mergedRange struct {
	eventstore.RangeEvent[uint64]
	IsCross bool
	Y       int
}

// mergeRanges interleaves local and cross-thread ranges in non-decreasing
// start order, local sorting before cross-thread on an exact tie.
func mergeRanges(
	local iter.Seq[eventstore.RangeEvent[eventstore.LocalExtra]],
	cross iter.Seq[eventstore.RangeEvent[uint64]],
) ([]mergedRange, error) {
	nextLocal, stopLocal := iter.Pull(local)
	defer stopLocal()
	nextCross, stopCross := iter.Pull(cross)
	defer stopCross()

	l, lok := nextLocal()
	c, cok := nextCross()

	var merged []mergedRange
	var lastStart uint64
	haveLast := false

	for lok || cok {
		var take mergedRange
		takeLocal := lok && (!cok || l.Start <= c.Start)
		if takeLocal {
			take = mergedRange{RangeEvent: eventstore.RangeEvent[uint64]{
				Start: l.Start, End: l.End, NameID: l.NameID, EndNameID: l.EndNameID,
			}}
			l, lok = nextLocal()
		} else {
			take = mergedRange{RangeEvent: c, IsCross: true}
			c, cok = nextCross()
		}

		if haveLast && take.Start < lastStart {
			return nil, ErrMergeOrderViolated
		}
		lastStart = take.Start
		haveLast = true
		merged = append(merged, take)
	}
	return merged, nil
}
