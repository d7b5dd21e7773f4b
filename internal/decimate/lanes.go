package decimate

// maxLane is the highest addressable y-lane; assignment clamps to it once
// every lane is in use rather than growing without bound.
const maxLane = 255

type laneEntry struct {
	end uint64
	y   int
}

// laneAssigner assigns non-overlapping ranges to the lowest free y-lane,
// first-fit, reusing a lane as soon as its occupant ends at or before the
// new range's start. When every lane is occupied, new ranges clamp to the
// top lane and may visually overlap an existing occupant.
type laneAssigner struct {
	active []laneEntry
	used   [maxLane + 1]bool
	maxY   int
}

// assign returns the lane for a range [start, end), retiring any active
// lane whose occupant has already ended.
func (la *laneAssigner) assign(start, end uint64) int {
	kept := la.active[:0]
	for _, e := range la.active {
		if e.end <= start {
			la.used[e.y] = false
			continue
		}
		kept = append(kept, e)
	}
	la.active = kept

	y := 0
	for y < maxLane && la.used[y] {
		y++
	}
	la.used[y] = true
	la.active = append(la.active, laneEntry{end: end, y: y})
	if y > la.maxY {
		la.maxY = y
	}
	return y
}

// instantLane returns the single shared lane instants are drawn on: one
// above the highest range lane in use, clamped to maxLane.
func (la *laneAssigner) instantLane() int {
	y := la.maxY + 1
	if y > maxLane {
		y = maxLane
	}
	return y
}
