package main

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc/codes"
)

// Исход одного CreateOrder.
type outcome string

const (
	outcomeCreated      outcome = "created"
	outcomeInsufficient outcome = "insufficient_stock"
	outcomeFailed       outcome = "failed"
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// tally считает исходы и коды ответов. Квантили латентности считает prometheus.Summary,
// который нигде не регистрируется и живёт только в рамках прогона.
type tally struct {
	mu       sync.Mutex
	outcomes map[outcome]int64
	codes    map[string]int64
	min      time.Duration
	max      time.Duration
	latency  prometheus.Summary
}

func newTally() *tally {
	return &tally{
		outcomes: make(map[outcome]int64),
		codes:    make(map[string]int64),
		latency: prometheus.NewSummary(prometheus.SummaryOpts{
			Name:       "loadtest_create_order_latency_ms",
			Help:       "CreateOrder latency observed by the load generator.",
			Objectives: map[float64]float64{0.5: 0.01, 0.95: 0.005, 0.99: 0.001},
			MaxAge:     24 * time.Hour,
		}),
	}
}

func (t *tally) observe(result outcome, code codes.Code, latency time.Duration) {
	t.latency.Observe(millis(latency))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes[result]++
	t.codes[code.String()]++
	if t.min == 0 || latency < t.min {
		t.min = latency
	}
	t.max = max(t.max, latency)
}

func (t *tally) count(result outcome) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcomes[result]
}

func (t *tally) codeCounts() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int64, len(t.codes))
	for code, n := range t.codes {
		out[code] = n
	}
	return out
}

func (t *tally) summary() latencySummary {
	var metric dto.Metric
	if err := t.latency.Write(&metric); err != nil {
		return latencySummary{}
	}
	s := metric.GetSummary()
	if s.GetSampleCount() == 0 {
		return latencySummary{}
	}

	t.mu.Lock()
	out := latencySummary{Min: millis(t.min), Max: millis(t.max)}
	t.mu.Unlock()

	out.Avg = s.GetSampleSum() / float64(s.GetSampleCount())
	for _, q := range s.GetQuantile() {
		switch q.GetQuantile() {
		case 0.5:
			out.P50 = q.GetValue()
		case 0.95:
			out.P95 = q.GetValue()
		case 0.99:
			out.P99 = q.GetValue()
		}
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
