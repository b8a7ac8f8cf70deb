package metrics

import (
	"sync"
	"time"
)

// latencyBounds covers both regimes this service sees: engine checks are
// in-process and land well under a millisecond, while operations that
// forward to an external balance ledger pay an HTTP round trip.
var latencyBounds = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
}

// HistogramBucket is one cumulative bucket: the count of observations at or
// under Le seconds.
type HistogramBucket struct {
	Le    float64
	Count int64
}

// Histogram accumulates latency observations into fixed cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	name   string
	counts []int64
	sum    float64
	count  int64
}

func NewHistogram(name string) *Histogram {
	return &Histogram{name: name, counts: make([]int64, len(latencyBounds))}
}

func (h *Histogram) Observe(d time.Duration) {
	sec := d.Seconds()
	h.mu.Lock()
	h.sum += sec
	h.count++
	for i, le := range latencyBounds {
		if sec <= le {
			h.counts[i]++
		}
	}
	h.mu.Unlock()
}

// Percentile estimates the p-th percentile (0.0-1.0) as the upper bound of
// the first bucket containing that rank. With no observations it returns 0.
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return percentileLocked(h.counts, h.count, p)
}

func percentileLocked(counts []int64, total int64, p float64) float64 {
	if total == 0 {
		return 0
	}
	rank := int64(p * float64(total))
	for i, c := range counts {
		if c >= rank {
			return latencyBounds[i]
		}
	}
	return latencyBounds[len(latencyBounds)-1]
}

// HistogramSnapshot is a consistent copy of one histogram, with the standard
// quantiles pre-computed for exposition.
type HistogramSnapshot struct {
	Name    string
	Buckets []HistogramBucket
	Sum     float64
	Count   int64
	P50     float64
	P95     float64
	P99     float64
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	buckets := make([]HistogramBucket, len(latencyBounds))
	for i, le := range latencyBounds {
		buckets[i] = HistogramBucket{Le: le, Count: h.counts[i]}
	}
	return HistogramSnapshot{
		Name:    h.name,
		Buckets: buckets,
		Sum:     h.sum,
		Count:   h.count,
		P50:     percentileLocked(h.counts, h.count, 0.50),
		P95:     percentileLocked(h.counts, h.count, 0.95),
		P99:     percentileLocked(h.counts, h.count, 0.99),
	}
}

// HistogramRegistry keeps one histogram per observed endpoint.
type HistogramRegistry struct {
	mu         sync.RWMutex
	histograms map[string]*Histogram
}

func NewHistogramRegistry() *HistogramRegistry {
	return &HistogramRegistry{histograms: map[string]*Histogram{}}
}

func (r *HistogramRegistry) Get(name string) *Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h
	}
	h = NewHistogram(name)
	r.histograms[name] = h
	return h
}

func (r *HistogramRegistry) ObserveDuration(name string, d time.Duration) {
	r.Get(name).Observe(d)
}

func (r *HistogramRegistry) Snapshots() []HistogramSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HistogramSnapshot, 0, len(r.histograms))
	for _, h := range r.histograms {
		out = append(out, h.Snapshot())
	}
	return out
}
