package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuMetric = "/sched/cpu:seconds"

// resourceTracker samples process CPU and memory so handler stat snapshots
// can report what the pipeline workers are costing the host.
type resourceTracker struct {
	mu         sync.Mutex
	samples    []metrics.Sample
	prevCPU    float64
	prevSample time.Time
	numCPU     float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: cpuMetric}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

// Snapshot reads the current usage. CPU percent is computed against the
// previous call, so the first snapshot of a tracker always reports zero.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = []metrics.Sample{{Name: cpuMetric}}
	}
	metrics.Read(r.samples)

	now := time.Now()
	cpuPercent := 0.0
	if sample := r.samples[0]; sample.Value.Kind() == metrics.KindFloat64 {
		cpuSeconds := sample.Value.Float64()
		cpuPercent = r.cpuPercentLocked(cpuSeconds, now)
		r.prevCPU = cpuSeconds
	}
	r.prevSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}

func (r *resourceTracker) cpuPercentLocked(cpuSeconds float64, now time.Time) float64 {
	if r.prevSample.IsZero() || r.numCPU <= 0 {
		return 0
	}
	wall := now.Sub(r.prevSample).Seconds()
	if wall <= 0 {
		return 0
	}
	return (cpuSeconds - r.prevCPU) / wall / r.numCPU * 100
}
