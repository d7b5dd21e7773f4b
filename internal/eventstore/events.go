package eventstore

// InstantEvent is a zero-duration event, ordered by Tm only.
type InstantEvent struct {
	Tm     uint64
	NameID uint16
}

// RangeEvent is an interval [Start, End) with a name and optional end-name.
// Extra carries struct{} for local ranges and uint64 (origin thread id) for
// cross-thread ranges.
type RangeEvent[E any] struct {
	Start     uint64
	End       uint64
	NameID    uint16
	EndNameID OptionalU16
	Extra     E
}

// LocalExtra is the Extra type for same-thread ranges.
type LocalExtra = struct{}

// StorageStats summarizes the event counts held by a store.
type StorageStats struct {
	Instants int `json:"instants"`
	Ranges   int `json:"ranges"`
}

func (s StorageStats) Add(other StorageStats) StorageStats {
	return StorageStats{
		Instants: s.Instants + other.Instants,
		Ranges:   s.Ranges + other.Ranges,
	}
}

// EventsSkipStats is the decimation trailer returned alongside a frame.
type EventsSkipStats struct {
	SkippedInstant int `json:"skipped_instant"`
	SkippedRange   int `json:"skipped_range"`
	TotalInstant   int `json:"total_instant"`
	TotalRange     int `json:"total_range"`
}
