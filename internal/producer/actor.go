// Package producer implements the per-producer-connection actor: one
// goroutine owns a ConnectionStore exclusively, consuming parsed-event
// messages from a ProducerReader and query messages from WebSocket
// sessions, all serialized through a single mailbox channel.
package producer

import (
	"time"

	"go.uber.org/zap"

	"github.com/sparkles-gui/sparkles-backend/internal/decimate"
	"github.com/sparkles-gui/sparkles-backend/internal/eventstore"
	"github.com/sparkles-gui/sparkles-backend/internal/metrics"
	"github.com/sparkles-gui/sparkles-backend/internal/sparkles"
)

func wallClock() time.Time { return time.Now() }

// mailboxCapacity matches the upstream's bounded mpsc size: enough to
// absorb a burst of events or queries without the sender blocking.
const mailboxCapacity = 64

// Actor owns one producer's ConnectionStore exclusively. All access goes
// through Mailbox; nothing outside this goroutine ever touches Store.
type Actor struct {
	ID      uint32
	Addr    string
	Mailbox chan any

	store      *eventstore.ConnectionStore
	online     bool
	pending    map[uint32]RequestNewRange
	pendingOrd []uint32
	log        *zap.Logger
	dec        decimate.Decimator
	metrics    *metrics.Registry
}

// New creates an actor with an empty store, ready to Run. metrics may be
// nil, in which case the actor simply skips recording observations.
func New(id uint32, addr string, log *zap.Logger, reg *metrics.Registry) *Actor {
	if reg != nil {
		reg.Connections.ProducerConnections.Inc()
	}
	return &Actor{
		ID:      id,
		Addr:    addr,
		Mailbox: make(chan any, mailboxCapacity),
		store:   eventstore.NewConnectionStore(),
		online:  true,
		pending: make(map[uint32]RequestNewRange),
		log:     log.With(zap.Uint32("producer_id", id), zap.String("addr", addr)),
		metrics: reg,
	}
}

// Run drains the mailbox until it's closed. It is meant to be the body of
// the actor's dedicated goroutine.
//
// Mailbox messages always take priority over pending range requests: a
// pending request is only dispatched once the mailbox has nothing else
// ready, which is what lets a later RequestNewRange for the same WsID
// replace an earlier one before it's ever acted on.
func (a *Actor) Run() {
	for {
		select {
		case msg, ok := <-a.Mailbox:
			if !ok {
				a.log.Debug("producer actor mailbox closed, exiting")
				return
			}
			a.handle(msg)
			continue
		default:
		}

		if len(a.pendingOrd) > 0 {
			a.drainOnePending()
			continue
		}

		msg, ok := <-a.Mailbox
		if !ok {
			a.log.Debug("producer actor mailbox closed, exiting")
			return
		}
		a.handle(msg)
	}
}

func (a *Actor) handle(msg any) {
	switch m := msg.(type) {
	case eventBatch:
		a.handleEventBatch(m)
	case externalEventBatch:
		a.handleExternalEventBatch(m)
	case nameUpdate:
		a.handleNameUpdate(m)
	case UpdateChannelName:
		a.store.UpdateChannelName(m.Channel, m.Name)
	case GetChannelNames:
		names := make(map[eventstore.ChannelID]string, len(a.store.ChannelNames))
		for k, v := range a.store.ChannelNames {
			names[k] = v
		}
		m.Reply <- names
	case SetChannelName:
		a.store.UpdateChannelName(m.Channel, m.Name)
		close(m.Reply)
	case GetEventNames:
		ch := a.store.Channel(m.Channel)
		names := make(map[uint16]string, len(ch.EventNames))
		for k, v := range ch.EventNames {
			names[k] = v
		}
		m.Reply <- names
	case GetStorageStats:
		m.Reply <- a.store.Stats()
	case GetConnectionTimestamps:
		min, max, now, ok := a.store.ConnectionTimestamps(wallClock())
		m.Reply <- ConnectionTimestampsReply{Min: min, Max: max, Now: now, OK: ok}
	case RequestNewRange:
		a.enqueueRequest(m)
	case Disconnect:
		if a.online && a.metrics != nil {
			a.metrics.Connections.ProducerConnections.Dec()
		}
		a.online = false
		a.log.Info("producer disconnected, data preserved")
		close(m.Done)
	default:
		a.log.Warn("unknown mailbox message", zap.String("type", "unrecognized"))
	}
}

func (a *Actor) handleEventBatch(m eventBatch) {
	if !a.online {
		return
	}
	ch := a.store.Channel(eventstore.Thread(m.thread.ThreadOrdID))
	if m.thread.HasName {
		a.store.UpdateChannelName(eventstore.Thread(m.thread.ThreadOrdID), m.thread.ThreadName)
	}

	var minTm, maxTm uint64
	haveBounds := false
	for _, ev := range m.events {
		applyParsedEvent(ch, ev)
		if !haveBounds || ev.Tm < minTm {
			minTm = ev.Tm
		}
		if !haveBounds || ev.Tm > maxTm {
			maxTm = ev.Tm
		}
		haveBounds = true
	}
	if haveBounds {
		a.store.ObserveBatchBounds(wallClock(), minTm, maxTm)
	}
	if a.metrics != nil && len(m.events) > 0 {
		a.metrics.Events.EventsIngested.Add(float64(len(m.events)))
	}
}

func (a *Actor) handleExternalEventBatch(m externalEventBatch) {
	if !a.online {
		return
	}
	ch := a.store.Channel(eventstore.External(m.extID))

	var minTm, maxTm uint64
	haveBounds := false
	for _, ev := range m.events {
		// External range events canonicalize end_name_id == name_id to
		// absent, per the ingestion contract.
		if ev.HasEndName && ev.Kind != sparkles.KindInstant && ev.EndNameID == ev.NameID {
			ev.HasEndName = false
		}
		applyParsedEvent(ch, ev)
		if !haveBounds || ev.Tm < minTm {
			minTm = ev.Tm
		}
		if !haveBounds || ev.Tm > maxTm {
			maxTm = ev.Tm
		}
		haveBounds = true
	}
	if haveBounds {
		a.store.ObserveBatchBounds(wallClock(), minTm, maxTm)
	}
	if a.metrics != nil && len(m.events) > 0 {
		a.metrics.Events.EventsIngested.Add(float64(len(m.events)))
	}
}

func applyParsedEvent(ch *eventstore.ChannelEventsStore, ev sparkles.ParsedEvent) {
	endName := eventstore.NoneU16
	if ev.HasEndName {
		endName = eventstore.SomeU16(ev.EndNameID)
	}
	switch ev.Kind {
	case sparkles.KindInstant:
		ch.InsertInstant(ev.Tm, ev.NameID)
	case sparkles.KindLocalRange:
		ch.InsertLocalRange(ev.Tm, ev.End, ev.NameID, endName)
	case sparkles.KindCrossRange:
		ch.InsertCrossRange(ev.Tm, ev.End, ev.NameID, endName, ev.OriginThread)
	}
}

func (a *Actor) handleNameUpdate(m nameUpdate) {
	if !a.online {
		return
	}
	ch := a.store.Channel(eventstore.Thread(m.threadOrdID))
	ch.SetEventNames(m.names)
}

// enqueueRequest implements last-write-wins per WsID: a second request
// under the same id silently replaces the first if it hasn't dispatched
// yet.
func (a *Actor) enqueueRequest(req RequestNewRange) {
	if _, exists := a.pending[req.WsID]; !exists {
		a.pendingOrd = append(a.pendingOrd, req.WsID)
	}
	a.pending[req.WsID] = req
}

// drainOnePending dispatches exactly one pending range request, in FIFO
// order by first enqueue, retrying later (without blocking the mailbox)
// when the request's reply channel doesn't have enough free capacity yet.
func (a *Actor) drainOnePending() {
	for len(a.pendingOrd) > 0 {
		wsID := a.pendingOrd[0]
		req, ok := a.pending[wsID]
		if !ok {
			a.pendingOrd = a.pendingOrd[1:]
			continue
		}

		channels := a.store.Channels()
		needed := len(channels)
		free := cap(req.Events) - len(req.Events)
		if free < needed {
			if a.metrics != nil {
				a.metrics.Events.PermitExhausted.Inc()
			}
			a.log.Warn("permit exhausted for range request, retrying next turn",
				zap.Error(ErrPermitExhausted),
				zap.Uint32("ws_id", wsID), zap.Int("needed", needed), zap.Int("free", free))
			return
		}

		a.pendingOrd = a.pendingOrd[1:]
		delete(a.pending, wsID)
		a.dispatchRequest(req, channels)
		return
	}
}

func (a *Actor) dispatchRequest(req RequestNewRange, channels []eventstore.ChannelID) {
	defer close(req.Events)
	if a.metrics != nil {
		a.metrics.Events.RangeRequests.Inc()
	}
	for _, id := range channels {
		a.decimateChannel(req, id)
	}
}

// decimateChannel runs the Decimator for one channel, recovering from a
// MergeOrderViolated panic so a corrupted single channel doesn't take the
// whole request (or the actor) down.
func (a *Actor) decimateChannel(req RequestNewRange, id eventstore.ChannelID) {
	defer func() {
		if r := recover(); r != nil {
			if a.metrics != nil {
				a.metrics.Events.DecimatorPanics.Inc()
			}
			a.log.Error("decimator invariant violation, dropping channel from response",
				zap.Stringer("channel", id), zap.Any("panic", r))
		}
	}()

	ch := a.store.Channel(id)
	frame, stats, err := a.dec.Decimate(
		ch.QueryLocalRanges(req.Start, req.End),
		ch.QueryCrossRanges(req.Start, req.End),
		ch.QueryInstants(req.Start, req.End),
		req.Start, req.End,
	)
	if err != nil {
		panic(err)
	}
	if stats.TotalInstant == 0 && stats.TotalRange == 0 {
		return
	}

	select {
	case req.Events <- ChannelFrame{Channel: id, Frame: frame, Stats: stats}:
		if a.metrics != nil {
			a.metrics.Events.FramesSent.Inc()
		}
	default:
		a.log.Warn("reply channel send would block despite reserved capacity, dropping frame",
			zap.Stringer("channel", id))
	}
}

// UpdateChannelName is the client-initiated channel rename path; distinct
// from nameUpdate, which the producer itself streams in.
type UpdateChannelName struct {
	Channel eventstore.ChannelID
	Name    string
}
