package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// sampleInterval matches the cadence the teacher's resource-guard sampler
// uses for cpu.Percent's own measurement window.
const sampleInterval = time.Second

// Health is the snapshot served at /health: enough to tell a human or a
// liveness probe the process is up and not pegged.
type Health struct {
	Status     string  `json:"status"`
	CPUPercent float64 `json:"cpu_percent"`
	HeapMB     float64 `json:"heap_mb"`
	Goroutines int     `json:"goroutines"`
}

// SystemSampler periodically refreshes CPU/memory readings into the
// Registry's gauges and a cached Health snapshot for the /health endpoint.
type SystemSampler struct {
	reg *Registry

	mu     sync.RWMutex
	health Health
}

func NewSystemSampler(reg *Registry) *SystemSampler {
	return &SystemSampler{reg: reg, health: Health{Status: "ok"}}
}

// Run samples until ctx is canceled. Meant to be the body of its own
// goroutine, started once at process startup.
func (s *SystemSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *SystemSampler) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	heapMB := float64(mem.HeapAlloc) / 1024 / 1024
	goroutines := runtime.NumGoroutine()

	cpuPercent := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	s.mu.Lock()
	s.health = Health{Status: "ok", CPUPercent: cpuPercent, HeapMB: heapMB, Goroutines: goroutines}
	s.mu.Unlock()

	if s.reg != nil {
		s.reg.System.CPUPercent.Set(cpuPercent)
		s.reg.System.MemHeapMB.Set(heapMB)
		s.reg.System.Goroutines.Set(float64(goroutines))
	}
}

// Health returns the most recent sample. Safe to call concurrently with Run.
func (s *SystemSampler) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}
