package producer

import (
	"github.com/sparkles-gui/sparkles-backend/internal/eventstore"
	"github.com/sparkles-gui/sparkles-backend/internal/sparkles"
)

// Mailbox messages. Every request/reply pair mirrors the upstream
// WsToSparklesMessage enum: one struct per variant, reply channels
// embedded where the caller needs an answer.

// eventBatch is posted by the ProducerReader as events arrive off the wire.
type eventBatch struct {
	thread sparkles.ThreadInfo
	events []sparkles.ParsedEvent
}

// nameUpdate is posted by the ProducerReader when the producer interns new
// event names for a thread.
type nameUpdate struct {
	threadOrdID uint64
	names       map[uint16]string
}

// externalEventBatch targets the External(extID) channel instead of a
// thread, for events attributed to a source outside the producer's own
// threads (e.g. injected by a wrapper process). Unlike eventBatch, range
// events here canonicalize EndNameID == NameID to absent on ingestion.
type externalEventBatch struct {
	extID  uint32
	events []sparkles.ParsedEvent
}

// GetChannelNames asks for every known channel's display name.
type GetChannelNames struct {
	Reply chan map[eventstore.ChannelID]string
}

// SetChannelName renames a channel (client-initiated, distinct from the
// name updates a producer streams in on its own).
type SetChannelName struct {
	Channel eventstore.ChannelID
	Name    string
	Reply   chan struct{}
}

// GetEventNames asks for the interned event-name table of one channel.
type GetEventNames struct {
	Channel eventstore.ChannelID
	Reply   chan map[uint16]string
}

// GetStorageStats asks for the connection-wide event counts.
type GetStorageStats struct {
	Reply chan eventstore.StorageStats
}

// GetConnectionTimestamps asks for the extrapolated time bounds.
type GetConnectionTimestamps struct {
	Reply chan ConnectionTimestampsReply
}

type ConnectionTimestampsReply struct {
	Min, Max, Now uint64
	OK            bool
}

// ChannelFrame is one channel's decimated frame, delivered on
// RequestNewRange's Events channel.
type ChannelFrame struct {
	Channel eventstore.ChannelID
	Frame   []byte
	Stats   eventstore.EventsSkipStats
}

// RequestNewRange asks the actor to decimate every channel's events in
// [Start, End) and stream one ChannelFrame per non-empty channel back on
// Events, closing it when done. WsID keys the actor's pending-request
// queue: a second RequestNewRange with the same WsID silently replaces
// any request still waiting to be dispatched (last-write-wins per
// session). Events is a buffered channel whose capacity the caller picks
// (the WebSocket session uses 64): before dispatching, the actor checks that Events has at
// least as much free capacity as the store has channels; if not, the
// request is re-queued and retried on the next mailbox turn rather than
// blocking on a slow session.
type RequestNewRange struct {
	WsID       uint32
	Start, End uint64
	Events     chan ChannelFrame
}

// Disconnect marks the connection offline; its ConnectionStore is kept
// (channels persist for the lifetime of the ConnectionStore, per
// spec.md's connection lifecycle), and the actor drops further ingestion
// messages while it keeps answering queries; Run exits only when the
// mailbox is closed.
type Disconnect struct {
	Done chan struct{}
}
