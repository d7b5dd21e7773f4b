package sparkles

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// writeExternalEventBatch encodes one opExternalEventBatch packet: extID,
// then a count-prefixed run of instant events, matching readExternalEventBatch.
func writeExternalEventBatch(buf *bytes.Buffer, extID uint32, tms []uint64, nameID uint16) {
	buf.WriteByte(opExternalEventBatch)
	putU32(buf, extID)
	putU32(buf, uint32(len(tms)))
	for _, tm := range tms {
		buf.WriteByte(byte(KindInstant))
		putU64(buf, tm)
		putU16(buf, nameID)
	}
}

func TestParseToEndDecodesExternalEventBatch(t *testing.T) {
	var buf bytes.Buffer
	writeExternalEventBatch(&buf, 3, []uint64{10, 20}, 7)

	parser := NewParser(FromReader(&buf))

	var gotExtID uint32
	var gotEvents []ParsedEvent
	err := parser.ParseToEnd(
		func(ThreadInfo, []ParsedEvent) { t.Fatal("unexpected thread-scoped batch") },
		func(ThreadInfo, EventNameUpdate) { t.Fatal("unexpected name update") },
		func(extID uint32, events []ParsedEvent) {
			gotExtID = extID
			gotEvents = events
		},
	)
	if err != nil {
		t.Fatalf("ParseToEnd: %v", err)
	}
	if gotExtID != 3 {
		t.Fatalf("got ext id %d, want 3", gotExtID)
	}
	if len(gotEvents) != 2 || gotEvents[0].Tm != 10 || gotEvents[1].Tm != 20 {
		t.Fatalf("unexpected events: %+v", gotEvents)
	}
	for _, ev := range gotEvents {
		if ev.Kind != KindInstant || ev.NameID != 7 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}
}

func TestParseToEndRejectsUnknownOpcode(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xEE})
	parser := NewParser(FromReader(buf))
	err := parser.ParseToEnd(
		func(ThreadInfo, []ParsedEvent) {},
		func(ThreadInfo, EventNameUpdate) {},
		func(uint32, []ParsedEvent) {},
	)
	if err == nil {
		t.Fatal("expected an error for an unknown opcode")
	}
}
