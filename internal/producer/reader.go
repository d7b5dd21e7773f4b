package producer

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/sparkles-gui/sparkles-backend/internal/sparkles"
)

// Reader owns a blocking read loop over one producer's byte stream (a live
// socket or a trace file) and forwards parsed events into an Actor's
// mailbox. It runs on its own goroutine so a slow or stalled producer never
// blocks the actor or any other connection.
type Reader struct {
	mailbox chan any
	log     *zap.Logger
}

// NewReader wires a Reader to post into mailbox, which must be the same
// channel the owning Actor drains in Run.
func NewReader(mailbox chan any, log *zap.Logger) *Reader {
	return &Reader{mailbox: mailbox, log: log}
}

// Run parses src to completion, posting eventBatch/nameUpdate messages as
// they arrive. It returns when the stream ends (clean EOF) or a read error
// occurs; callers should follow it with a Disconnect mailbox message
// regardless of the returned error, since the actor must transition to
// Disconnected either way.
func (r *Reader) Run(src io.Reader) error {
	parser := sparkles.NewParser(sparkles.FromReader(src))
	err := parser.ParseToEnd(
		func(thread sparkles.ThreadInfo, events []sparkles.ParsedEvent) {
			if len(events) == 0 && !thread.HasName {
				return
			}
			r.post(eventBatch{thread: thread, events: events})
		},
		func(thread sparkles.ThreadInfo, update sparkles.EventNameUpdate) {
			r.post(nameUpdate{threadOrdID: thread.ThreadOrdID, names: update.Names})
		},
		func(extID uint32, events []sparkles.ParsedEvent) {
			r.post(externalEventBatch{extID: extID, events: events})
		},
	)
	if err != nil && !errors.Is(err, io.EOF) {
		r.log.Warn("producer stream ended with error", zap.Error(err))
		return err
	}
	return nil
}

// post drops the message if the mailbox has been closed, recovering from
// the send panic instead of crashing the reader goroutine. The Actor never
// closes its own mailbox; a send to an open but full mailbox blocks.
func (r *Reader) post(msg any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Debug("dropped message to closed mailbox", zap.Any("panic", rec))
		}
	}()
	r.mailbox <- msg
}
