package wsconn

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sparkles-gui/sparkles-backend/internal/discovery"
	"github.com/sparkles-gui/sparkles-backend/internal/registry"
	"github.com/sparkles-gui/sparkles-backend/internal/wireproto"
)

func newTestSession(t *testing.T) (*Session, *registry.Registry, *registry.Manager) {
	t.Helper()
	reg := registry.New(zap.NewNop())
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })
	disc := discovery.New("239.0.0.1:0", t.TempDir(), zap.NewNop(), nil)
	mgr := registry.NewManager(reg, zap.NewNop(), nil, disc)
	sess := NewSession(1, serverConn, reg, mgr, disc, zap.NewNop(), nil)
	return sess, reg, mgr
}

// registerLiveProducer attaches a real Actor via Manager.ConnectTCP against
// a listener that accepts but never writes or closes, so the reader blocks
// on its first Read indefinitely and the producer stays online with an
// empty store for the lifetime of the test.
func registerLiveProducer(t *testing.T, mgr *registry.Manager) uint32 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { conn.Close() })
	}()

	id, err := mgr.ConnectTCP(ln.Addr().String())
	if err != nil {
		t.Fatalf("connect tcp: %v", err)
	}
	return id
}

func TestSessionRequestNewRangeRejectsWhenAlreadyWaiting(t *testing.T) {
	sess, _, mgr := newTestSession(t)
	id := registerLiveProducer(t, mgr)

	req := &wireproto.RequestNewRangeRequest{ConnID: id, Start: 0, End: 100}
	sess.handleRequestNewRange(req)
	if !sess.waiting {
		t.Fatal("first request should have entered Waiting")
	}

	drained := make(chan outboundFrame, 1)
	go func() {
		select {
		case f := <-sess.out:
			drained <- f
		case <-time.After(time.Second):
		}
	}()
	sess.handleRequestNewRange(req)

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("expected a connect_error frame for the busy session")
	}
}

func TestSessionRequestNewRangeIsRateLimited(t *testing.T) {
	sess, _, mgr := newTestSession(t)
	id := registerLiveProducer(t, mgr)
	sess.rangeLimiter.SetBurst(1)

	req := &wireproto.RequestNewRangeRequest{ConnID: id, Start: 0, End: 100}
	sess.handleRequestNewRange(req)
	if !sess.waiting {
		t.Fatal("first request should have been accepted")
	}

	// Bypass the Waiting gate manually so this isolates rate-limiting
	// behavior specifically, rather than the (already covered) busy-reject path.
	sess.waiting = false
	sess.handleRequestNewRange(req)
	if sess.waiting {
		t.Fatal("second back-to-back request should have been rate limited")
	}
}

func TestSessionBuildActiveConnectionInfoQueriesProducer(t *testing.T) {
	sess, reg, mgr := newTestSession(t)
	id := registerLiveProducer(t, mgr)

	var h registry.ProducerHandle
	for _, candidate := range reg.Snapshot() {
		if candidate.ID == id {
			h = candidate
		}
	}
	if h.ID != id {
		t.Fatalf("producer %d not found in snapshot", id)
	}

	info := sess.buildActiveConnectionInfo(h)
	if info.ID != id {
		t.Fatalf("unexpected info: %+v", info)
	}
	if !info.Online {
		t.Fatalf("expected producer to still be online: %+v", info)
	}
	if info.Stats.Instants != 0 || info.Stats.Ranges != 0 {
		t.Fatalf("expected empty stats for a fresh producer: %+v", info.Stats)
	}
}

func TestSessionSendDiscoverySnapshotEnqueuesFrame(t *testing.T) {
	sess, _, _ := newTestSession(t)

	drained := make(chan outboundFrame, 1)
	go func() {
		select {
		case f := <-sess.out:
			drained <- f
		case <-time.After(time.Second):
		}
	}()

	sess.sendDiscoverySnapshot()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("expected a discovered_clients frame to be enqueued")
	}
}
