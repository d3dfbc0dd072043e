package monitor

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"challenge-core/internal/challenge"
)

// Cycle results recorded by Telemetry.
const (
	resultOK            = "ok"
	resultAccountError  = "account_error"
	resultRulesError    = "rules_error"
	resultProviderError = "provider_error"
	resultPersistError  = "persistence_error"
	resultTerminal      = "terminal"
	resultCancelled     = "cancelled"
)

// Telemetry holds the registry's Prometheus collectors.
type Telemetry struct {
	activeMonitors prometheus.Gauge
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	violations     *prometheus.CounterVec
	transitions    *prometheus.CounterVec
}

// NewTelemetry registers the collectors on reg. A nil reg leaves them
// unregistered, which tests use.
func NewTelemetry(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		activeMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "challenge",
			Name:      "active_monitors",
			Help:      "Accounts with a running observation loop.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge",
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "challenge",
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of a poll cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge",
			Name:      "violations_total",
			Help:      "Rule violations recorded.",
		}, []string{"rule", "severity"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions applied, by target status.",
		}, []string{"to"}),
	}
	if reg != nil {
		reg.MustRegister(t.activeMonitors, t.cycles, t.cycleDuration, t.violations, t.transitions)
	}
	return t
}

func (t *Telemetry) setActive(n int) {
	t.activeMonitors.Set(float64(n))
}

func (t *Telemetry) cycle(result string, took time.Duration) {
	t.cycles.WithLabelValues(result).Inc()
	t.cycleDuration.Observe(took.Seconds())
}

func (t *Telemetry) violation(v challenge.Violation) {
	t.violations.WithLabelValues(v.Rule, string(v.Severity)).Inc()
}

func (t *Telemetry) transition(to challenge.Status) {
	t.transitions.WithLabelValues(string(to)).Inc()
}

// Snapshot is a point-in-time view of the process for the health endpoint.
type Snapshot struct {
	ActiveMonitors int       `json:"active_monitors"`
	Accounts       []string  `json:"accounts"`
	GoroutineCount int       `json:"goroutine_count"`
	HeapAlloc      uint64    `json:"heap_alloc_bytes"`
	HeapSys        uint64    `json:"heap_sys_bytes"`
	Timestamp      time.Time `json:"timestamp"`
}

// Snapshot reports the running monitors along with runtime memory figures.
func (r *Registry) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	ids := r.Active()
	return Snapshot{
		ActiveMonitors: len(ids),
		Accounts:       ids,
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      mem.HeapAlloc,
		HeapSys:        mem.HeapSys,
		Timestamp:      time.Now(),
	}
}
