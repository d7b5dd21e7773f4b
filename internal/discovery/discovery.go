// Package discovery finds tracing producers two ways: a UDP multicast
// beacon producers advertise themselves on, and a watched directory of
// *.sprk trace files. Both feed into one snapshot the WebSocket session
// polls and forwards to the browser.
package discovery

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/sparkles-gui/sparkles-backend/internal/metrics"
)

// beaconTTL is how long a multicast beacon keeps its address in the
// discovered set without a fresh sighting.
const beaconTTL = 5 * time.Second

// pollInterval matches the original prototype's discovery loop: sleep in
// short increments, re-checking for shutdown each time, rather than one
// long sleep.
const pollInterval = 100 * time.Millisecond

// Client is one discovered producer process, represented as every address
// it has beaconed from (a process may be reachable on more than one
// interface) — the upstream discovery crate's `Vec<Vec<SocketAddr>>`
// grouping, here keyed by beacon source IP.
type Client struct {
	Addresses []string
}

// Snapshot is the current discovered state: live multicast clients plus
// trace files sitting in the watched directory.
type Snapshot struct {
	Clients []Client
	Files   []string
}

type beaconSighting struct {
	addrs   map[string]struct{}
	lastSeen time.Time
}

// Discovery owns both discovery sources and the last snapshot taken, so
// repeated polls can detect "nothing changed" and skip logging, matching
// the original's discovered_clients != clients_prev behavior.
type Discovery struct {
	multicastAddr string
	traceDir      string
	log           *zap.Logger
	metrics       *metrics.Registry

	mu       sync.Mutex
	beacons  map[string]*beaconSighting // keyed by source IP
	files    map[string]struct{}
	lastSnap Snapshot
}

// New creates a Discovery. metricsReg may be nil, in which case snapshot
// changes simply aren't counted.
func New(multicastAddr, traceDir string, log *zap.Logger, metricsReg *metrics.Registry) *Discovery {
	return &Discovery{
		multicastAddr: multicastAddr,
		traceDir:      traceDir,
		log:           log,
		metrics:       metricsReg,
		beacons:       make(map[string]*beaconSighting),
		files:         make(map[string]struct{}),
	}
}

// Run starts both discovery sources and blocks until ctx is canceled. It
// spawns the multicast listener and the trace-directory watcher as
// sub-goroutines and itself runs the poll loop that ages out stale
// beacons and logs on change.
func (d *Discovery) Run(ctx context.Context) error {
	if err := d.scanTraceDir(); err != nil {
		d.log.Warn("initial trace directory scan failed", zap.Error(err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(d.traceDir); err != nil {
			d.log.Warn("watch trace directory", zap.String("dir", d.traceDir), zap.Error(err))
		}
		go d.watchTraceDir(ctx, watcher)
	} else {
		d.log.Warn("fsnotify watcher unavailable, trace files won't update live", zap.Error(err))
	}

	go d.listenMulticast(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.ageOutBeacons()
			d.logOnChange()
		}
	}
}

func (d *Discovery) watchTraceDir(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.log.Warn("trace directory watch error", zap.Error(err))
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != ".sprk" {
				continue
			}
			d.mu.Lock()
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(d.files, ev.Name)
			default:
				d.files[ev.Name] = struct{}{}
			}
			d.mu.Unlock()
		}
	}
}

func (d *Discovery) scanTraceDir() error {
	entries, err := os.ReadDir(d.traceDir)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sprk" {
			continue
		}
		d.files[filepath.Join(d.traceDir, e.Name())] = struct{}{}
	}
	return nil
}

// listenMulticast joins multicastAddr and records a beaconing address
// every time a packet arrives. The beacon payload is the producer's own
// TCP listen address as a UTF-8 string (host:port).
func (d *Discovery) listenMulticast(ctx context.Context) {
	udpAddr, err := net.ResolveUDPAddr("udp", d.multicastAddr)
	if err != nil {
		d.log.Error("resolve multicast address", zap.String("addr", d.multicastAddr), zap.Error(err))
		return
	}
	conn, err := net.ListenMulticastUDP("udp", nil, udpAddr)
	if err != nil {
		d.log.Error("join multicast group", zap.String("addr", d.multicastAddr), zap.Error(err))
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 1500)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Warn("multicast read error", zap.Error(err))
			continue
		}
		d.recordBeacon(src.IP.String(), string(buf[:n]))
	}
}

func (d *Discovery) recordBeacon(sourceIP, advertisedAddr string) {
	if advertisedAddr == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.beacons[sourceIP]
	if !ok {
		s = &beaconSighting{addrs: make(map[string]struct{})}
		d.beacons[sourceIP] = s
	}
	s.addrs[advertisedAddr] = struct{}{}
	s.lastSeen = time.Now()
}

func (d *Discovery) ageOutBeacons() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for ip, s := range d.beacons {
		if now.Sub(s.lastSeen) > beaconTTL {
			delete(d.beacons, ip)
		}
	}
}

// Snapshot returns the current discovered state, without any
// connected-to-a-producer annotation — callers cross-reference against
// the connection registry to fill that in.
func (d *Discovery) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	clients := make([]Client, 0, len(d.beacons))
	for _, s := range d.beacons {
		addrs := make([]string, 0, len(s.addrs))
		for a := range s.addrs {
			addrs = append(addrs, a)
		}
		sort.Strings(addrs)
		clients = append(clients, Client{Addresses: addrs})
	}
	sort.Slice(clients, func(i, j int) bool {
		if len(clients[i].Addresses) == 0 || len(clients[j].Addresses) == 0 {
			return len(clients[i].Addresses) > len(clients[j].Addresses)
		}
		return clients[i].Addresses[0] < clients[j].Addresses[0]
	})

	files := make([]string, 0, len(d.files))
	for f := range d.files {
		files = append(files, f)
	}
	sort.Strings(files)

	return Snapshot{Clients: clients, Files: files}
}

// logOnChange takes a fresh snapshot and logs it only if it differs from
// the last one taken, matching the original discovery task's
// discovered_clients != clients_prev guard.
func (d *Discovery) logOnChange() {
	snap := d.Snapshot()
	d.mu.Lock()
	changed := !reflect.DeepEqual(snap, d.lastSnap)
	d.lastSnap = snap
	d.mu.Unlock()
	if changed {
		if d.metrics != nil {
			d.metrics.Events.DiscoveryChanges.Inc()
		}
		d.log.Info("discovery snapshot changed",
			zap.Int("clients", len(snap.Clients)), zap.Int("files", len(snap.Files)))
	}
}
