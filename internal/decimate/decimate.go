package decimate

import (
	"iter"

	"github.com/sparkles-gui/sparkles-backend/internal/eventstore"
)

// Decimator turns a channel's raw event streams, restricted to a query
// window, into the binary frame the browser renders plus the skip counts
// the session reports back to the client.
type Decimator struct{}

// Decimate consumes the three per-channel iterators (already windowed by
// the caller) and produces one frame. The window bounds set the skip
// threshold: skip_thr = (end-start) / ResolutionHint, so a wider window
// tolerates coarser thinning.
//
// Returns ErrMergeOrderViolated if the local/cross-thread range iterators
// are not individually sorted by start time — a storage bug, not a user
// error; callers should treat it as a per-request failure that does not
// take down the owning connection.
func (Decimator) Decimate(
	localRanges iter.Seq[eventstore.RangeEvent[eventstore.LocalExtra]],
	crossRanges iter.Seq[eventstore.RangeEvent[uint64]],
	instants iter.Seq[eventstore.InstantEvent],
	start, end uint64,
) ([]byte, eventstore.EventsSkipStats, error) {
	var skipThr uint64
	if end > start {
		skipThr = (end - start) / ResolutionHint
	}

	merged, err := mergeRanges(localRanges, crossRanges)
	if err != nil {
		return nil, eventstore.EventsSkipStats{}, err
	}

	keptRanges, rangeSkipper := decimateRanges(merged, skipThr)

	la := &laneAssigner{}
	for i := range keptRanges {
		keptRanges[i].Y = la.assign(keptRanges[i].Start, keptRanges[i].End)
	}
	instantY := la.instantLane()

	instantSlice := materializeInstants(instants)
	keptInstants, instantSkipper := decimateInstants(instantSlice, skipThr)

	laidOut := make([]laidOutInstant, len(keptInstants))
	for i, ev := range keptInstants {
		laidOut[i] = laidOutInstant{InstantEvent: ev, Y: instantY}
	}

	frame := encodeFrame(laidOut, keptRanges)
	stats := eventstore.EventsSkipStats{
		SkippedInstant: instantSkipper.skipped,
		TotalInstant:   instantSkipper.total,
		SkippedRange:   rangeSkipper.skipped,
		TotalRange:     rangeSkipper.total,
	}
	return frame, stats, nil
}

func materializeInstants(events iter.Seq[eventstore.InstantEvent]) []eventstore.InstantEvent {
	var out []eventstore.InstantEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

// decimateInstants applies the skip heuristic in stream order, measuring
// tm_diff from the previous *kept* instant (infinite on the first one), and
// unconditionally keeps the final instant of the window regardless of what
// the heuristic decided for it.
func decimateInstants(events []eventstore.InstantEvent, skipThr uint64) ([]eventstore.InstantEvent, *eventSkipper) {
	skipper := newEventSkipper(skipThr, MaxEvCnt, len(events))
	if len(events) == 0 {
		return nil, skipper
	}

	kept := make([]eventstore.InstantEvent, 0, len(events))
	var prevKeptTm uint64
	haveKept := false

	for i, ev := range events {
		var tmDiff uint64
		if !haveKept {
			tmDiff = ^uint64(0)
		} else {
			tmDiff = ev.Tm - prevKeptTm
		}
		keep := skipper.shouldKeepInstant(tmDiff)
		if i == len(events)-1 && !keep {
			keep = true
			skipper.undoLastSkip()
		}
		if keep {
			kept = append(kept, ev)
			prevKeptTm = ev.Tm
			haveKept = true
		}
	}
	return kept, skipper
}

// decimateRanges applies the skip heuristic to the merged local+cross
// stream as a single class, measuring start_distance from the previous
// kept range's start and each candidate's own duration.
func decimateRanges(merged []mergedRange, skipThr uint64) ([]mergedRange, *eventSkipper) {
	skipper := newEventSkipper(skipThr, MaxEvCnt, len(merged))
	if len(merged) == 0 {
		return nil, skipper
	}

	kept := make([]mergedRange, 0, len(merged))
	var prevKeptStart uint64
	haveKept := false

	for _, r := range merged {
		var startDistance uint64
		if !haveKept {
			startDistance = ^uint64(0)
		} else {
			startDistance = r.Start - prevKeptStart
		}
		duration := r.End - r.Start
		if skipper.shouldKeepRange(startDistance, duration) {
			kept = append(kept, r)
			prevKeptStart = r.Start
			haveKept = true
		}
	}
	return kept, skipper
}
