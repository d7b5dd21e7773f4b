package registry

import (
	"testing"

	"go.uber.org/zap"

	"github.com/sparkles-gui/sparkles-backend/internal/discovery"
)

// fakeDiscoverer returns a fixed Snapshot, letting tests exercise
// group-based connect conflicts without a real multicast listener.
type fakeDiscoverer struct {
	snap discovery.Snapshot
}

func (f fakeDiscoverer) Snapshot() discovery.Snapshot { return f.snap }

func TestConnectTCPRejectsOtherAddressInSameDiscoveryGroup(t *testing.T) {
	reg := New(zap.NewNop())
	disc := fakeDiscoverer{snap: discovery.Snapshot{
		Clients: []discovery.Client{{Addresses: []string{"127.0.0.1:7000", "10.0.0.5:7000"}}},
	}}
	mgr := NewManager(reg, zap.NewNop(), nil, disc)

	// Mark the group's other address as already connected without
	// actually dialing it.
	if _, err := reg.Reserve("10.0.0.5:7000"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := mgr.ConnectTCP("127.0.0.1:7000"); err == nil {
		t.Fatal("expected a group conflict error")
	} else if err.Error() != "Already connected to this client" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConnectTCPAllowsAddressOutsideAnyActiveGroup(t *testing.T) {
	reg := New(zap.NewNop())
	disc := fakeDiscoverer{snap: discovery.Snapshot{
		Clients: []discovery.Client{{Addresses: []string{"127.0.0.1:7000", "10.0.0.5:7000"}}},
	}}
	mgr := NewManager(reg, zap.NewNop(), nil, disc)

	if err := mgr.checkGroupConflict("127.0.0.1:7000"); err != nil {
		t.Fatalf("expected no conflict before either group address connects, got %v", err)
	}
}

func TestConnectTCPWithNilDiscovererSkipsGroupCheck(t *testing.T) {
	reg := New(zap.NewNop())
	mgr := NewManager(reg, zap.NewNop(), nil, nil)

	if err := mgr.checkGroupConflict("127.0.0.1:7000"); err != nil {
		t.Fatalf("expected nil Discoverer to skip the group check, got %v", err)
	}
}
