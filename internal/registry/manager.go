package registry

import (
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sparkles-gui/sparkles-backend/internal/discovery"
	"github.com/sparkles-gui/sparkles-backend/internal/metrics"
	"github.com/sparkles-gui/sparkles-backend/internal/producer"
)

// Manager owns the side effects of turning a connect request into a live
// producer: dialing the address (or opening a trace file), spawning the
// Actor and Reader goroutines, and registering the result. It mirrors the
// original's connection manager, which does the same three things in
// response to WsControlMessage::Connect.
type Manager struct {
	reg     *Registry
	log     *zap.Logger
	metrics *metrics.Registry
	disc    Discoverer
}

// Discoverer is the subset of *discovery.Discovery the Manager needs to
// evaluate group-based connect conflicts; narrowed to an interface so tests
// can supply a fixed snapshot instead of running real multicast/fsnotify.
type Discoverer interface {
	Snapshot() discovery.Snapshot
}

// NewManager wires a Manager to reg and, optionally, disc: disc lets
// ConnectTCP reject an address that shares a discovery group with an
// already-connected one, even when the two addresses differ exactly. disc
// may be nil (tests that don't exercise discovery), in which case only the
// exact-address duplicate check in Reserve applies.
func NewManager(reg *Registry, log *zap.Logger, metricsReg *metrics.Registry, disc Discoverer) *Manager {
	return &Manager{reg: reg, log: log, metrics: metricsReg, disc: disc}
}

// dialTimeout bounds how long a Connect request waits on a producer that
// never answers, so one bad address can't hang a browser session.
const dialTimeout = 3 * time.Second

// ConnectTCP dials addr, and on success starts the producer's Actor and
// Reader and registers it. Returns the allocated producer id.
func (m *Manager) ConnectTCP(addr string) (uint32, error) {
	canonical, err := ResolveAddr(addr)
	if err != nil {
		return 0, err
	}

	if err := m.checkGroupConflict(canonical); err != nil {
		return 0, err
	}

	id, err := m.reg.Reserve(canonical)
	if err != nil {
		return 0, err
	}

	conn, err := net.DialTimeout("tcp", canonical, dialTimeout)
	if err != nil {
		m.reg.Release(id)
		return 0, fmt.Errorf("registry: dial %s: %w", canonical, err)
	}

	m.spawn(id, canonical, conn)
	return id, nil
}

// checkGroupConflict rejects addr if it shares a discovery group with an
// address that already has an online producer — even though addr itself
// has never been seen before. A discovery group is every address the same
// producer process has beaconed from (multiple interfaces), so connecting
// to one address while another in its group is already active would just
// open a second connection to the same client.
func (m *Manager) checkGroupConflict(addr string) error {
	if m.disc == nil {
		return nil
	}
	for _, client := range m.disc.Snapshot().Clients {
		if !groupContains(client.Addresses, addr) {
			continue
		}
		for _, other := range client.Addresses {
			if m.reg.IsConnected(other) {
				return ErrAlreadyConnectedGroup{Addr: addr}
			}
		}
	}
	return nil
}

func groupContains(addrs []string, addr string) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// ConnectFile attaches to a trace file discovered under the watched trace
// directory, reusing the same Actor/Reader plumbing as a live socket since
// both sides of the wire speak the identical sparkles format.
func (m *Manager) ConnectFile(path string) (uint32, error) {
	id, err := m.reg.Reserve("file:" + path)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		m.reg.Release(id)
		return 0, fmt.Errorf("registry: open %s: %w", path, err)
	}

	m.spawn(id, "file:"+path, f)
	return id, nil
}

func (m *Manager) spawn(id uint32, addr string, conn interface {
	Read(p []byte) (int, error)
}) {
	actorLog := m.log.With(zap.Uint32("producer_id", id))
	actor := producer.New(id, addr, actorLog, m.metrics)
	// Replace the bookkeeping-only mailbox Reserve allocated with the
	// Actor's own, so Registry.Send and the Actor agree on one channel.
	m.reg.adoptMailbox(id, actor.Mailbox)

	reader := producer.NewReader(actor.Mailbox, actorLog)

	go actor.Run()
	go func() {
		if err := reader.Run(conn); err != nil {
			actorLog.Warn("producer reader exited with error", zap.Error(err))
		} else {
			actorLog.Info("producer stream ended", zap.Error(producer.ErrProducerChannelClosed))
		}
		done := make(chan struct{})
		actor.Mailbox <- producer.Disconnect{Done: done}
		<-done
		m.reg.MarkDisconnected(id)
		if closer, ok := conn.(interface{ Close() error }); ok {
			closer.Close()
		}
	}()
}

// Disconnect takes a producer offline at a browser session's request: the
// actor stops ingesting and the registry marks the id disconnected. The
// socket or file is not closed here; the reader goroutine closes it when
// its stream ends.
func (m *Manager) Disconnect(id uint32) {
	done := make(chan struct{})
	if m.reg.Send(id, producer.Disconnect{Done: done}) {
		<-done
	}
	m.reg.MarkDisconnected(id)
}
