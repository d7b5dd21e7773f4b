package decimate

import (
	"testing"

	"github.com/sparkles-gui/sparkles-backend/internal/eventstore"
)

func TestFrameRoundTripInstants(t *testing.T) {
	instants := []laidOutInstant{
		{InstantEvent: eventstore.InstantEvent{Tm: 10, NameID: 1}, Y: 3},
		{InstantEvent: eventstore.InstantEvent{Tm: 20, NameID: 2}, Y: 3},
	}
	frame := encodeFrame(instants, nil)

	got, local, cross, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(local) != 0 || len(cross) != 0 {
		t.Fatalf("expected no ranges, got local=%d cross=%d", len(local), len(cross))
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 instants, got %d", len(got))
	}
	if got[0].Tm != 10 || got[0].NameID != 1 || got[0].Y != 3 {
		t.Fatalf("unexpected instant[0]: %+v", got[0])
	}
	if got[1].Tm != 20 || got[1].NameID != 2 {
		t.Fatalf("unexpected instant[1]: %+v", got[1])
	}
}

func TestFrameRoundTripLocalRangeWithEndName(t *testing.T) {
	ranges := []mergedRange{
		{RangeEvent: eventstore.RangeEvent[uint64]{
			Start: 5, End: 15, NameID: 7, EndNameID: eventstore.SomeU16(9),
		}, Y: 2},
	}
	frame := encodeFrame(nil, ranges)

	_, local, cross, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(cross) != 0 {
		t.Fatalf("expected no cross ranges, got %d", len(cross))
	}
	if len(local) != 1 {
		t.Fatalf("expected 1 local range, got %d", len(local))
	}
	r := local[0]
	if r.Start != 5 || r.End != 15 || r.NameID != 7 || r.Y != 2 {
		t.Fatalf("unexpected range: %+v", r)
	}
	if !r.EndNameID.Present || r.EndNameID.Value != 9 {
		t.Fatalf("expected end_name_id=9, got %+v", r.EndNameID)
	}
}

func TestFrameRoundTripAbsentEndName(t *testing.T) {
	ranges := []mergedRange{
		{RangeEvent: eventstore.RangeEvent[uint64]{
			Start: 1, End: 2, NameID: 3, EndNameID: eventstore.NoneU16,
		}, Y: 0},
	}
	frame := encodeFrame(nil, ranges)

	_, local, _, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(local) != 1 || local[0].EndNameID.Present {
		t.Fatalf("expected absent end_name_id, got %+v", local)
	}
}

func TestFrameRoundTripCrossRangeCarriesOrigin(t *testing.T) {
	ranges := []mergedRange{
		{RangeEvent: eventstore.RangeEvent[uint64]{
			Start: 1, End: 2, NameID: 3, EndNameID: eventstore.NoneU16, Extra: 77,
		}, IsCross: true, Y: 5},
	}
	frame := encodeFrame(nil, ranges)

	_, local, cross, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(local) != 0 {
		t.Fatalf("expected no local ranges, got %d", len(local))
	}
	if len(cross) != 1 || cross[0].OriginThread != 77 || cross[0].Y != 5 {
		t.Fatalf("unexpected cross range: %+v", cross)
	}
}

func TestFrameSectionLengthsFrameFullRecord(t *testing.T) {
	instants := []laidOutInstant{
		{InstantEvent: eventstore.InstantEvent{Tm: 1, NameID: 1}, Y: 1},
		{InstantEvent: eventstore.InstantEvent{Tm: 2, NameID: 1}, Y: 1},
	}
	ranges := []mergedRange{
		{RangeEvent: eventstore.RangeEvent[uint64]{Start: 0, End: 5, NameID: 1, EndNameID: eventstore.NoneU16}, Y: 0},
		{RangeEvent: eventstore.RangeEvent[uint64]{Start: 0, End: 5, NameID: 1, EndNameID: eventstore.NoneU16, Extra: 3}, IsCross: true, Y: 1},
	}
	frame := encodeFrame(instants, ranges)

	wantLen := 4 + 2*11 + 4 + 20 + 4 + 28
	if len(frame) != wantLen {
		t.Fatalf("frame length = %d, want %d", len(frame), wantLen)
	}

	gotInstants, local, cross, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(gotInstants) != 2 || len(local) != 1 || len(cross) != 1 {
		t.Fatalf("unexpected section counts: instants=%d local=%d cross=%d", len(gotInstants), len(local), len(cross))
	}
}
