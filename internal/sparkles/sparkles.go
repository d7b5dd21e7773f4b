// Package sparkles is a minimal stand-in for the upstream tracing-wire
// decoder and parser: the real producer-side protocol (name interning,
// varint-packed timestamps, per-thread framing) is an external
// collaborator from this server's point of view, so this package documents
// and implements a simple, self-consistent wire format rather than
// reverse engineering one. A real producer library only needs to speak
// this format for the server to ingest it.
package sparkles

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Kind tags a decoded event as instant or range, and whether a range
// originated on a different thread than the one reporting it.
type Kind uint8

const (
	KindInstant Kind = iota
	KindLocalRange
	KindCrossRange
)

// ParsedEvent is one event read off the wire, already demultiplexed by
// thread ordinal. A ParsedEvent never spans more than one ThreadInfo.
type ParsedEvent struct {
	Kind         Kind
	Tm           uint64
	End          uint64 // only meaningful for range kinds
	NameID       uint16
	EndNameID    uint16
	HasEndName   bool
	OriginThread uint64 // only meaningful for KindCrossRange
}

// ThreadInfo accompanies a batch of events: the thread ordinal they belong
// to, and its human-readable name if the producer has assigned one.
type ThreadInfo struct {
	ThreadOrdID uint64
	ThreadName  string
	HasName     bool
}

// packet opcodes, one byte each, read in a loop until EOF or a read error.
const (
	opEventBatch         byte = 1
	opThreadName         byte = 2
	opEventNames         byte = 3
	opExternalEventBatch byte = 4
)

// PacketDecoder frames the raw byte stream from a producer connection into
// discrete packets. It owns no parsing logic beyond opcode dispatch.
type PacketDecoder struct {
	r *bufio.Reader
}

// FromReader wraps any stream-oriented source (TCP socket, trace file) as
// a PacketDecoder. Trace files and live sockets speak the identical wire
// format, so discovery doesn't need to special-case either source.
func FromReader(r io.Reader) *PacketDecoder {
	return &PacketDecoder{r: bufio.NewReaderSize(r, 64<<10)}
}

// EventNameUpdate carries newly-interned name ids for one thread.
type EventNameUpdate struct {
	ThreadOrdID uint64
	Names       map[uint16]string
}

// Parser turns a byte stream into callbacks, mirroring the upstream
// decoder's three observation points: new events, thread renames, and new
// interned event names.
type Parser struct {
	decoder *PacketDecoder
}

func NewParser(decoder *PacketDecoder) *Parser {
	return &Parser{decoder: decoder}
}

// ParseToEnd reads packets until the stream ends or a read error occurs,
// invoking onEvents for every thread-scoped event batch, onExternal for
// every external-channel event batch, and onNames whenever the producer
// interns new event names. It returns nil on a clean EOF.
func (p *Parser) ParseToEnd(
	onEvents func(thread ThreadInfo, events []ParsedEvent),
	onNames func(thread ThreadInfo, names EventNameUpdate),
	onExternal func(extID uint32, events []ParsedEvent),
) error {
	r := p.decoder.r
	for {
		op, err := r.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sparkles: read opcode: %w", err)
		}

		switch op {
		case opEventBatch:
			thread, events, err := readEventBatch(r)
			if err != nil {
				return err
			}
			onEvents(thread, events)
		case opThreadName:
			thread, err := readThreadName(r)
			if err != nil {
				return err
			}
			onEvents(thread, nil)
		case opEventNames:
			thread, update, err := readEventNames(r)
			if err != nil {
				return err
			}
			onNames(thread, update)
		case opExternalEventBatch:
			extID, events, err := readExternalEventBatch(r)
			if err != nil {
				return err
			}
			onExternal(extID, events)
		default:
			return fmt.Errorf("sparkles: unknown opcode %d", op)
		}
	}
}

func readThreadOrdAndName(r *bufio.Reader) (ThreadInfo, error) {
	var ordBuf [8]byte
	if _, err := io.ReadFull(r, ordBuf[:]); err != nil {
		return ThreadInfo{}, fmt.Errorf("sparkles: read thread ordinal: %w", err)
	}
	nameLen, err := r.ReadByte()
	if err != nil {
		return ThreadInfo{}, fmt.Errorf("sparkles: read name length: %w", err)
	}
	info := ThreadInfo{ThreadOrdID: binary.LittleEndian.Uint64(ordBuf[:])}
	if nameLen > 0 {
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return ThreadInfo{}, fmt.Errorf("sparkles: read thread name: %w", err)
		}
		info.ThreadName = string(name)
		info.HasName = true
	}
	return info, nil
}

func readThreadName(r *bufio.Reader) (ThreadInfo, error) {
	return readThreadOrdAndName(r)
}

func readEventBatch(r *bufio.Reader) (ThreadInfo, []ParsedEvent, error) {
	thread, err := readThreadOrdAndName(r)
	if err != nil {
		return ThreadInfo{}, nil, err
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return ThreadInfo{}, nil, fmt.Errorf("sparkles: read event count: %w", err)
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	events := make([]ParsedEvent, 0, count)
	for i := uint32(0); i < count; i++ {
		ev, err := readEvent(r)
		if err != nil {
			return ThreadInfo{}, nil, err
		}
		events = append(events, ev)
	}
	return thread, events, nil
}

// readExternalEventBatch mirrors readEventBatch's layout but keys the batch
// on a u32 external id in place of the thread ordinal/name pair, since an
// External(ext_id) channel has no owning thread to name.
func readExternalEventBatch(r *bufio.Reader) (uint32, []ParsedEvent, error) {
	var idBuf [4]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("sparkles: read external id: %w", err)
	}
	extID := binary.LittleEndian.Uint32(idBuf[:])

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("sparkles: read external event count: %w", err)
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	events := make([]ParsedEvent, 0, count)
	for i := uint32(0); i < count; i++ {
		ev, err := readEvent(r)
		if err != nil {
			return 0, nil, err
		}
		events = append(events, ev)
	}
	return extID, events, nil
}

func readEvent(r *bufio.Reader) (ParsedEvent, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return ParsedEvent{}, fmt.Errorf("sparkles: read event kind: %w", err)
	}

	var ev ParsedEvent
	ev.Kind = Kind(kindByte)

	ev.Tm, err = readU64(r)
	if err != nil {
		return ParsedEvent{}, err
	}
	ev.NameID, err = readU16(r)
	if err != nil {
		return ParsedEvent{}, err
	}

	if ev.Kind == KindInstant {
		return ev, nil
	}

	ev.End, err = readU64(r)
	if err != nil {
		return ParsedEvent{}, err
	}
	hasEndName, err := r.ReadByte()
	if err != nil {
		return ParsedEvent{}, fmt.Errorf("sparkles: read end-name flag: %w", err)
	}
	if hasEndName != 0 {
		ev.EndNameID, err = readU16(r)
		if err != nil {
			return ParsedEvent{}, err
		}
		ev.HasEndName = true
	}

	if ev.Kind == KindCrossRange {
		ev.OriginThread, err = readU64(r)
		if err != nil {
			return ParsedEvent{}, err
		}
	}
	return ev, nil
}

func readEventNames(r *bufio.Reader) (ThreadInfo, EventNameUpdate, error) {
	thread, err := readThreadOrdAndName(r)
	if err != nil {
		return ThreadInfo{}, EventNameUpdate{}, err
	}
	countByte, err := readU16(r)
	if err != nil {
		return ThreadInfo{}, EventNameUpdate{}, err
	}
	names := make(map[uint16]string, countByte)
	for i := uint16(0); i < countByte; i++ {
		id, err := readU16(r)
		if err != nil {
			return ThreadInfo{}, EventNameUpdate{}, err
		}
		nameLen, err := r.ReadByte()
		if err != nil {
			return ThreadInfo{}, EventNameUpdate{}, fmt.Errorf("sparkles: read event name length: %w", err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return ThreadInfo{}, EventNameUpdate{}, fmt.Errorf("sparkles: read event name: %w", err)
		}
		names[id] = string(name)
	}
	return thread, EventNameUpdate{ThreadOrdID: thread.ThreadOrdID, Names: names}, nil
}

func readU64(r *bufio.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("sparkles: read u64: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readU16(r *bufio.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("sparkles: read u16: %w", err)
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}
