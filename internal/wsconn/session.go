// Package wsconn implements the browser-facing WebSocket protocol: one
// Session per connected browser tab, multiplexing client requests against
// the discovery snapshot and producer connections it's attached to.
package wsconn

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sparkles-gui/sparkles-backend/internal/discovery"
	"github.com/sparkles-gui/sparkles-backend/internal/metrics"
	"github.com/sparkles-gui/sparkles-backend/internal/producer"
	"github.com/sparkles-gui/sparkles-backend/internal/registry"
	"github.com/sparkles-gui/sparkles-backend/internal/wireproto"
)

// rangeRequestRate and rangeRequestBurst bound how often one session can
// issue RequestNewRange, so a single noisy browser tab can't starve its own
// pending-request slot with back-to-back decimator-heavy requests. Limits
// are per session; they don't coordinate across sessions.
const (
	rangeRequestRate  = 5
	rangeRequestBurst = 5
)

// Ticker cadences. Authoritative values, distinct from the original
// prototype's own 2s/100ms ws_connection.rs tickers.
const (
	discoverySnapshotInterval = 400 * time.Millisecond
	activeConnSnapshotInterval = 200 * time.Millisecond
	timestampSyncInterval     = 100 * time.Millisecond
)

// outboundFrame is one item on the write queue: either a JSON text frame
// or a raw binary frame. Header+binary-frame pairs are enqueued back to
// back from the single Session goroutine, and readLoop queues its pong
// replies here too, so writeLoop is the only writer on conn and frames
// never interleave byte-wise. A pong can still be queued between a header
// and its binary frame.
type outboundFrame struct {
	opcode  ws.OpCode
	payload []byte
}

// Session owns one browser WebSocket connection exclusively: nothing else
// ever writes to conn or reads from it.
type Session struct {
	id   uint32
	conn net.Conn
	reg  *registry.Registry
	mgr  *registry.Manager
	disc *discovery.Discovery
	log  *zap.Logger
	met  *metrics.Registry

	out chan outboundFrame

	// Range-reply state machine. A request's reply channel is only read
	// while waiting is true — the Go rendering of the original's
	// dummy-channel swap (a nil channel blocks forever in a select,
	// standing in for Rust's forced channel replacement).
	eventDataRx     chan producer.ChannelFrame
	waiting         bool
	activeReqConnID uint32
	msgID           uint32

	rangeLimiter *rate.Limiter
}

func NewSession(id uint32, conn net.Conn, reg *registry.Registry, mgr *registry.Manager, disc *discovery.Discovery, log *zap.Logger, met *metrics.Registry) *Session {
	return &Session{
		id:   id,
		conn: conn,
		reg:  reg,
		mgr:  mgr,
		disc: disc,
		log:  log.With(zap.Uint32("ws_id", id)),
		met:  met,
		out:  make(chan outboundFrame, 64),

		rangeLimiter: rate.NewLimiter(rangeRequestRate, rangeRequestBurst),
	}
}

// Run drives the session until ctx is canceled or the connection closes.
// It starts the write pump, then services the three tickers and inbound
// client messages until exit, always via the single calling goroutine —
// matching the original's tokio::select! loop in handle_socket.
func (s *Session) Run(ctx context.Context) {
	if s.met != nil {
		s.met.Connections.WsSessions.Inc()
		defer s.met.Connections.WsSessions.Dec()
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeLoop(connCtx)
	}()

	inbound := make(chan []byte, 16)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readLoop(connCtx, inbound)
	}()

	discoveryTicker := time.NewTicker(discoverySnapshotInterval)
	activeConnTicker := time.NewTicker(activeConnSnapshotInterval)
	timestampTicker := time.NewTicker(timestampSyncInterval)
	defer discoveryTicker.Stop()
	defer activeConnTicker.Stop()
	defer timestampTicker.Stop()

	for {
		select {
		case <-connCtx.Done():
			_ = s.conn.Close()
			<-writeDone
			return
		case <-readDone:
			cancel()
			_ = s.conn.Close()
			<-writeDone
			return
		case raw, ok := <-inbound:
			if !ok {
				continue
			}
			s.handleClientMessage(raw)
		case <-discoveryTicker.C:
			s.sendDiscoverySnapshot()
		case <-activeConnTicker.C:
			s.sendActiveConnections()
		case <-timestampTicker.C:
			s.sendTimestampSync()
		case frame, ok := <-s.eventDataRxOrNil():
			if !ok {
				// Reply channel closed: the request finished. Swap back
				// to idle and tell the client.
				s.waiting = false
				s.eventDataRx = nil
				s.send(wireproto.EventsFinishedMessage(s.activeReqConnID, s.msgID))
				continue
			}
			s.sendChannelFrame(frame)
		}
	}
}

// eventDataRxOrNil returns the live reply channel while waiting, or nil
// (which blocks forever in a select) when idle — the Go rendering of the
// original's dummy-channel swap.
func (s *Session) eventDataRxOrNil() chan producer.ChannelFrame {
	if !s.waiting {
		return nil
	}
	return s.eventDataRx
}

func (s *Session) readLoop(ctx context.Context, inbound chan<- []byte) {
	defer close(inbound)
	reader := wsutil.NewReader(s.conn, ws.StateServerSide)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		head, err := reader.NextFrame()
		if err != nil {
			return
		}
		switch head.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			s.enqueue(outboundFrame{opcode: ws.OpPong})
		case ws.OpText:
			payload := make([]byte, head.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return
			}
			select {
			case inbound <- payload:
			case <-ctx.Done():
				return
			}
		default:
			if _, err := io.CopyN(io.Discard, reader, int64(head.Length)); err != nil {
				return
			}
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-s.out:
			if !ok {
				return
			}
			if err := wsutil.WriteServerMessage(s.conn, f.opcode, f.payload); err != nil {
				s.log.Debug("write error, closing session", zap.Error(err))
				return
			}
		}
	}
}

func (s *Session) send(msg wireproto.ServerMessage) {
	b, err := wireproto.Marshal(msg)
	if err != nil {
		s.log.Error("marshal server message", zap.Error(err))
		return
	}
	s.enqueue(outboundFrame{opcode: ws.OpText, payload: b})
}

func (s *Session) enqueue(f outboundFrame) {
	select {
	case s.out <- f:
	default:
		s.log.Warn("outbound queue full, dropping frame")
	}
}

