// Package registry tracks every known producer connection (online or
// disconnected) and every open browser session, and arbitrates new
// connection attempts so two sessions never double-connect to the same
// address.
package registry

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

// ProducerHandle is everything the registry and a WebSocket session need
// to address one producer connection without reaching into its Actor.
type ProducerHandle struct {
	ID      uint32
	Addr    string
	Mailbox chan any
	Online  bool
}

// Registry is the single source of truth for "what producers exist" and
// "which addresses are already connected". All access is mutex-guarded;
// it holds no goroutine of its own (unlike the per-producer Actor).
type Registry struct {
	mu         sync.Mutex
	producers  map[uint32]*ProducerHandle
	byAddr     map[string]uint32
	nextID     uint32
	nextWsID   uint32
	log        *zap.Logger
}

func New(log *zap.Logger) *Registry {
	return &Registry{
		producers: make(map[uint32]*ProducerHandle),
		byAddr:    make(map[string]uint32),
		log:       log,
	}
}

// ErrAlreadyConnected is returned by Connect when addr already has an
// online producer connection, matching the original's duplicate-address
// guard in the connection manager's Connect handler.
type ErrAlreadyConnected struct{ Addr string }

func (e ErrAlreadyConnected) Error() string {
	return fmt.Sprintf("registry: already connected to %s", e.Addr)
}

// ErrAlreadyConnectedGroup is returned when addr isn't itself connected but
// shares a discovery group (another address the same producer process has
// beaconed from) with one that is, per spec.md §4.4 step 2.
type ErrAlreadyConnectedGroup struct{ Addr string }

func (e ErrAlreadyConnectedGroup) Error() string {
	return "Already connected to this client"
}

// Reserve allocates a producer id and registers addr as connected before
// the caller has even dialed, closing the race window between the
// duplicate check and the dial. If the dial subsequently fails, the
// caller must call Release to free the slot.
func (r *Registry) Reserve(addr string) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.byAddr[addr]; ok {
		if h := r.producers[existingID]; h != nil && h.Online {
			return 0, ErrAlreadyConnected{Addr: addr}
		}
	}

	r.nextID++
	id := r.nextID
	handle := &ProducerHandle{ID: id, Addr: addr, Mailbox: make(chan any, 64), Online: true}
	r.producers[id] = handle
	r.byAddr[addr] = id
	return id, nil
}

// Release discards a reservation that never became a live connection
// (dial failure before the Actor ever started).
func (r *Registry) Release(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.producers[id]; ok {
		delete(r.byAddr, h.Addr)
		delete(r.producers, id)
	}
}

// adoptMailbox swaps in the Actor's own mailbox channel for a producer
// that was Reserve'd with a placeholder, so Send and the Actor's Run loop
// operate on the same channel.
func (r *Registry) adoptMailbox(id uint32, mailbox chan any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.producers[id]; ok {
		h.Mailbox = mailbox
	}
}

// Mailbox returns the producer's mailbox channel for the given id, or nil
// if no such producer was ever registered.
func (r *Registry) Mailbox(id uint32) chan any {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.producers[id]
	if !ok {
		return nil
	}
	return h.Mailbox
}

// MarkDisconnected flips a producer's Online flag; it stays in the
// registry (and its channel's history stays in its ConnectionStore) so
// later queries against it keep working.
func (r *Registry) MarkDisconnected(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.producers[id]; ok {
		h.Online = false
	}
}

// IsConnected reports whether addr currently has an online producer,
// used by discovery to annotate its snapshot.
func (r *Registry) IsConnected(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byAddr[addr]
	if !ok {
		return false
	}
	return r.producers[id].Online
}

// Snapshot returns every known producer handle, online or not, for
// building an ActiveConnections reply.
func (r *Registry) Snapshot() []ProducerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProducerHandle, 0, len(r.producers))
	for _, h := range r.producers {
		out = append(out, *h)
	}
	return out
}

// NextWsID allocates a new browser-session id.
func (r *Registry) NextWsID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextWsID++
	return r.nextWsID
}

// Send posts msg to a producer's mailbox without blocking the caller
// forever: if the mailbox is somehow gone (closed, retired), the message
// is dropped and logged rather than panicking the caller.
func (r *Registry) Send(id uint32, msg any) bool {
	mailbox := r.Mailbox(id)
	if mailbox == nil {
		r.log.Warn("send to unknown producer", zap.Uint32("producer_id", id))
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("send to closed producer mailbox", zap.Uint32("producer_id", id))
		}
	}()
	mailbox <- msg
	return true
}

// ResolveAddr normalizes a user-supplied address into the canonical
// host:port form used as the registry's dedup key, the way Connect
// requests are keyed on SocketAddr upstream.
func ResolveAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("registry: invalid address %q: %w", addr, err)
	}
	return net.JoinHostPort(host, port), nil
}
