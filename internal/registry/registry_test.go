package registry

import (
	"testing"

	"go.uber.org/zap"
)

func TestReserveRejectsDuplicateOnlineAddress(t *testing.T) {
	r := New(zap.NewNop())

	id, err := r.Reserve("127.0.0.1:9000")
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := r.Reserve("127.0.0.1:9000"); err == nil {
		t.Fatal("expected duplicate reserve to fail while still online")
	}

	r.MarkDisconnected(id)
	if _, err := r.Reserve("127.0.0.1:9000"); err != nil {
		t.Fatalf("reserve after disconnect should succeed, got %v", err)
	}
}

func TestReleaseFreesTheAddressSlot(t *testing.T) {
	r := New(zap.NewNop())

	id, err := r.Reserve("127.0.0.1:9001")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	r.Release(id)

	if _, err := r.Reserve("127.0.0.1:9001"); err != nil {
		t.Fatalf("reserve after release should succeed, got %v", err)
	}
}

func TestSendToUnknownProducerReturnsFalse(t *testing.T) {
	r := New(zap.NewNop())
	if r.Send(999, struct{}{}) {
		t.Fatal("expected Send to an unregistered producer id to fail")
	}
}

func TestSnapshotReflectsDisconnectState(t *testing.T) {
	r := New(zap.NewNop())
	id, _ := r.Reserve("127.0.0.1:9002")
	r.MarkDisconnected(id)

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Online {
		t.Fatalf("expected one disconnected handle, got %+v", snap)
	}
}

func TestNextWsIDIsMonotoneAndUnique(t *testing.T) {
	r := New(zap.NewNop())
	seen := make(map[uint32]bool)
	for i := 0; i < 5; i++ {
		id := r.NextWsID()
		if seen[id] {
			t.Fatalf("duplicate ws id %d", id)
		}
		seen[id] = true
	}
}

func TestResolveAddrRejectsMissingPort(t *testing.T) {
	if _, err := ResolveAddr("127.0.0.1"); err == nil {
		t.Fatal("expected an error for an address with no port")
	}
}
