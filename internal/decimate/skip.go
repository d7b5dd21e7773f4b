// Package decimate reduces per-channel event streams down to a
// render-budgeted, lane-assigned, binary-encoded frame.
package decimate

// MaxEvCnt is the hard output cap per event class, per channel, per request.
const MaxEvCnt = 50_000

// ResolutionHint is the horizontal resolution (in render units) the skip
// threshold is derived from.
const ResolutionHint = 2000

// eventSkipper implements the two-class skip heuristic: a cycle of
// keep_cnt kept events followed by skip_cnt skipped ones, with any gap at
// or above skip_thr resetting the cycle and forcing a keep.
type eventSkipper struct {
	skipThr  uint64
	keepCnt  int
	skipCnt  int
	cycleLen int
	counter  int

	skipped int
	total   int
}

func newEventSkipper(skipThr uint64, maxEvents, totalEvents int) *eventSkipper {
	var keepCnt, skipCnt int
	switch {
	case totalEvents > maxEvents:
		skipCnt = (totalEvents + maxEvents - 1) / maxEvents // ceil division
		keepCnt = 1
	case totalEvents > 0:
		keepCnt = maxEvents / totalEvents
		skipCnt = 1
	default:
		keepCnt, skipCnt = 1, 1
	}
	return &eventSkipper{
		skipThr:  skipThr,
		keepCnt:  keepCnt,
		skipCnt:  skipCnt,
		cycleLen: keepCnt + skipCnt,
	}
}

// shouldKeepInstant decides whether to keep the current event given its
// time distance from the previous kept candidate.
func (s *eventSkipper) shouldKeepInstant(tmDiff uint64) bool {
	s.total++
	var keep bool
	if tmDiff >= s.skipThr {
		s.counter = 0
		keep = true
	} else {
		keep = s.counter < s.keepCnt
		s.counter = (s.counter + 1) % s.cycleLen
	}
	if !keep {
		s.skipped++
	}
	return keep
}

// shouldKeepRange decides whether to keep the current range given its
// start-time distance from the previous kept range and its own duration.
func (s *eventSkipper) shouldKeepRange(startDistance, duration uint64) bool {
	s.total++
	var keep bool
	if startDistance < s.skipThr && duration < s.skipThr {
		keep = s.counter < s.keepCnt
		s.counter = (s.counter + 1) % s.cycleLen
	} else {
		s.counter = 0
		keep = true
	}
	if !keep {
		s.skipped++
	}
	return keep
}

// undoLastSkip corrects the bookkeeping when a caller overrides a skip
// decision after the fact (used to force-keep the final instant of a
// window unconditionally, per the source's buffer-and-flush behavior).
func (s *eventSkipper) undoLastSkip() {
	if s.skipped > 0 {
		s.skipped--
	}
}
