package decimate

import (
	"encoding/binary"

	"github.com/sparkles-gui/sparkles-backend/internal/eventstore"
)

// absentEndName is the single-byte sentinel written in place of a 2-byte
// end_name_id when the event carries none. No presence flag is written:
// DecodeFrame branches on the first byte, so a present end_name_id whose
// low byte is 0xFF (255, 511, ...) is read back as absent.
const absentEndName = 0xFF

type laidOutInstant struct {
	eventstore.InstantEvent
	Y int
}

// encodeFrame lays out a channel's decimated events as:
//
//	u32 instant_section_len, instant entries
//	u32 local_section_len,   local range entries
//	u32 cross_section_len,   cross-thread range entries
//
// Instant entry: u64 tm | u16 name_id | u8 y                    (11 bytes)
// Range entry:   u64 start | u64 end | u16 name_id |
//
//	end_name_id (u16, or single 0xFF if absent) | u8 y
//
// Cross entry: range entry + u64 origin_thread_id appended.
func encodeFrame(instants []laidOutInstant, ranges []mergedRange) []byte {
	instantBuf := make([]byte, 0, len(instants)*11)
	for _, ev := range instants {
		instantBuf = appendU64(instantBuf, ev.Tm)
		instantBuf = appendU16(instantBuf, ev.NameID)
		instantBuf = append(instantBuf, byte(ev.Y))
	}

	var localBuf, crossBuf []byte
	for _, r := range ranges {
		buf := appendRangeBody(nil, r)
		if r.IsCross {
			buf = appendU64(buf, r.Extra)
			crossBuf = append(crossBuf, buf...)
		} else {
			localBuf = append(localBuf, buf...)
		}
	}

	out := make([]byte, 0, 12+len(instantBuf)+len(localBuf)+len(crossBuf))
	out = appendU32(out, uint32(len(instantBuf)))
	out = append(out, instantBuf...)
	out = appendU32(out, uint32(len(localBuf)))
	out = append(out, localBuf...)
	out = appendU32(out, uint32(len(crossBuf)))
	out = append(out, crossBuf...)
	return out
}

func appendRangeBody(buf []byte, r mergedRange) []byte {
	buf = appendU64(buf, r.Start)
	buf = appendU64(buf, r.End)
	buf = appendU16(buf, r.NameID)
	if r.EndNameID.Present {
		buf = appendU16(buf, r.EndNameID.Value)
	} else {
		buf = append(buf, absentEndName)
	}
	buf = append(buf, byte(r.Y))
	return buf
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

// DecodedInstant and DecodedRange mirror the wire layout for tests that
// round-trip a frame back into structured values.
type DecodedInstant struct {
	Tm     uint64
	NameID uint16
	Y      uint8
}

type DecodedRange struct {
	Start, End   uint64
	NameID       uint16
	EndNameID    eventstore.OptionalU16
	Y            uint8
	OriginThread uint64
	IsCross      bool
}

// DecodeFrame is the inverse of encodeFrame, used only by tests to verify
// round-trip fidelity of the wire format.
func DecodeFrame(b []byte) (instants []DecodedInstant, local, cross []DecodedRange, err error) {
	r := &frameReader{buf: b}

	instantLen := r.u32()
	instantEnd := r.pos + int(instantLen)
	for r.pos < instantEnd {
		instants = append(instants, DecodedInstant{
			Tm:     r.u64(),
			NameID: r.u16(),
			Y:      r.u8(),
		})
	}

	localLen := r.u32()
	localEnd := r.pos + int(localLen)
	for r.pos < localEnd {
		local = append(local, r.rangeBody(false))
	}

	crossLen := r.u32()
	crossEnd := r.pos + int(crossLen)
	for r.pos < crossEnd {
		cross = append(cross, r.rangeBody(true))
	}

	if r.err != nil {
		return nil, nil, nil, r.err
	}
	return instants, local, cross, nil
}

type frameReader struct {
	buf []byte
	pos int
	err error
}

func (r *frameReader) need(n int) bool {
	if r.err != nil || r.pos+n > len(r.buf) {
		if r.err == nil {
			r.err = errShortFrame
		}
		return false
	}
	return true
}

func (r *frameReader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *frameReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *frameReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *frameReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *frameReader) rangeBody(isCross bool) DecodedRange {
	d := DecodedRange{IsCross: isCross}
	d.Start = r.u64()
	d.End = r.u64()
	d.NameID = r.u16()

	if !r.need(1) {
		return d
	}
	if r.buf[r.pos] == absentEndName {
		r.pos++
		d.EndNameID = eventstore.NoneU16
	} else {
		d.EndNameID = eventstore.SomeU16(r.u16())
	}

	d.Y = r.u8()
	if isCross {
		d.OriginThread = r.u64()
	}
	return d
}

var errShortFrame = shortFrameErr{}

type shortFrameErr struct{}

func (shortFrameErr) Error() string { return "decimate: frame truncated" }
