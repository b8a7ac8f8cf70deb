package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type Registry struct {
	mu              sync.RWMutex
	endpoint        map[string]*EndpointStat
	operation       map[string]int64
	reason          map[string]int64
	gauges          map[string]float64
	ledgerMovements int64
	engineLatency   EngineLatencyStat
	Histograms      *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type EngineLatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt     string                  `json:"generated_at"`
	Endpoints       map[string]EndpointStat `json:"endpoints"`
	Operations      map[string]int64        `json:"operations"`
	Reasons         map[string]int64        `json:"reasons"`
	Gauges          map[string]float64      `json:"gauges"`
	LedgerMovements int64                   `json:"ledger_movements_total"`
	EngineLatencyMS EngineLatencyStat       `json:"engine_latency_ms"`
	Histograms      []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:   map[string]*EndpointStat{},
		operation:  map[string]int64{},
		reason:     map[string]int64{},
		gauges:     map[string]float64{},
		Histograms: NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncOperation counts one engine decision keyed by operation kind and outcome
// ("MINT|APPLIED", "TRANSFER|DENIED").
func (r *Registry) IncOperation(kind, outcome string) {
	kind = strings.TrimSpace(kind)
	outcome = strings.TrimSpace(outcome)
	if kind == "" {
		return
	}
	if outcome == "" {
		outcome = "UNKNOWN"
	}
	key := kind + "|" + outcome
	r.mu.Lock()
	r.operation[key]++
	r.mu.Unlock()
}

func (r *Registry) IncReason(reason string) {
	if reason == "" {
		return
	}
	r.mu.Lock()
	r.reason[reason]++
	r.mu.Unlock()
}

func (r *Registry) IncLedgerMovement() {
	r.mu.Lock()
	r.ledgerMovements++
	r.mu.Unlock()
}

func (r *Registry) ObserveEngineLatency(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engineLatency.Count++
	r.engineLatency.TotalMS += ms
	r.engineLatency.LastMS = ms
	if ms > r.engineLatency.MaxMS {
		r.engineLatency.MaxMS = ms
	}
	r.engineLatency.AvgMS = float64(r.engineLatency.TotalMS) / float64(r.engineLatency.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		Endpoints:       make(map[string]EndpointStat, len(r.endpoint)),
		Operations:      make(map[string]int64, len(r.operation)),
		Reasons:         make(map[string]int64, len(r.reason)),
		Gauges:          make(map[string]float64, len(r.gauges)),
		LedgerMovements: r.ledgerMovements,
		EngineLatencyMS: r.engineLatency,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.operation {
		out.Operations[k] = v
	}
	for k, v := range r.reason {
		out.Reasons[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP sightcoin_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE sightcoin_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "sightcoin_endpoint_count{endpoint=%q} %d\n", ep, stat.Count)
		}
		b.WriteString("# HELP sightcoin_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE sightcoin_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "sightcoin_endpoint_error_count{endpoint=%q} %d\n", ep, stat.ErrorCount)
		}
		b.WriteString("# HELP sightcoin_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE sightcoin_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "sightcoin_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, stat.AverageMillis)
		}
		b.WriteString("# HELP sightcoin_endpoint_max_millis endpoint max latency in milliseconds\n")
		b.WriteString("# TYPE sightcoin_endpoint_max_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "sightcoin_endpoint_max_millis{endpoint=%q} %d\n", ep, stat.MaxMillis)
		}
		b.WriteString("# HELP sightcoin_operation_total engine decisions by operation and outcome\n")
		b.WriteString("# TYPE sightcoin_operation_total counter\n")
		for _, key := range SortedKeys(snap.Operations) {
			parts := strings.SplitN(key, "|", 2)
			kind := parts[0]
			outcome := "UNKNOWN"
			if len(parts) == 2 {
				outcome = parts[1]
			}
			fmt.Fprintf(b, "sightcoin_operation_total{operation=%q,outcome=%q} %d\n", kind, outcome, snap.Operations[key])
		}
		b.WriteString("# HELP sightcoin_denial_reason_total denied operations by reason code\n")
		b.WriteString("# TYPE sightcoin_denial_reason_total counter\n")
		for _, reason := range SortedKeys(snap.Reasons) {
			fmt.Fprintf(b, "sightcoin_denial_reason_total{reason=%q} %d\n", reason, snap.Reasons[reason])
		}
		b.WriteString("# HELP sightcoin_gauge operational gauge metrics\n")
		b.WriteString("# TYPE sightcoin_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "sightcoin_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		b.WriteString("# HELP sightcoin_ledger_movements_total ledger movement notifications consumed\n")
		b.WriteString("# TYPE sightcoin_ledger_movements_total counter\n")
		fmt.Fprintf(b, "sightcoin_ledger_movements_total %d\n", snap.LedgerMovements)
		b.WriteString("# HELP sightcoin_engine_latency_ms policy engine latency in ms\n")
		b.WriteString("# TYPE sightcoin_engine_latency_ms gauge\n")
		fmt.Fprintf(b, "sightcoin_engine_latency_ms{stat=%q} %d\n", "last", snap.EngineLatencyMS.LastMS)
		fmt.Fprintf(b, "sightcoin_engine_latency_ms{stat=%q} %.3f\n", "avg", snap.EngineLatencyMS.AvgMS)
		fmt.Fprintf(b, "sightcoin_engine_latency_ms{stat=%q} %d\n", "max", snap.EngineLatencyMS.MaxMS)
		for _, h := range snap.Histograms {
			b.WriteString("# HELP sightcoin_latency_seconds latency histogram\n")
			b.WriteString("# TYPE sightcoin_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "sightcoin_latency_seconds_bucket{endpoint=%q,le=\"%g\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "sightcoin_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "sightcoin_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "sightcoin_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "sightcoin_latency_p50_seconds{endpoint=%q} %.6f\n", h.Name, h.P50)
			fmt.Fprintf(b, "sightcoin_latency_p95_seconds{endpoint=%q} %.6f\n", h.Name, h.P95)
			fmt.Fprintf(b, "sightcoin_latency_p99_seconds{endpoint=%q} %.6f\n", h.Name, h.P99)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
