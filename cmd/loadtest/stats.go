package main

import (
	"math"
	"slices"
	"sync"
	"time"
)

const (
	stepScenario = "scenario"

	outcomeTransport     = "transport_error"
	outcomeReplayMissing = "replay_missing"
)

type latency struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

// summarize считает перцентили с линейной интерполяцией между соседними отсчётами.
func summarize(samples []float64) latency {
	if len(samples) == 0 {
		return latency{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latency{
		Min: sorted[0],
		Avg: sum / float64(len(sorted)),
		P50: quantile(sorted, 0.50),
		P95: quantile(sorted, 0.95),
		P99: quantile(sorted, 0.99),
		Max: sorted[len(sorted)-1],
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

type stepStats struct {
	ok       int64
	failed   int64
	outcomes map[string]int64
	millis   []float64
}

// stats собирает результаты шагов сценария со всех воркеров.
type stats struct {
	mu    sync.Mutex
	steps map[string]*stepStats
}

func newStats() *stats {
	return &stats{steps: make(map[string]*stepStats)}
}

// observe учитывает шаг; outcome: HTTP-код строкой или один из outcome*.
func (s *stats) observe(step string, took time.Duration, outcome string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.steps[step]
	if st == nil {
		st = &stepStats{outcomes: make(map[string]int64)}
		s.steps[step] = st
	}
	if ok {
		st.ok++
	} else {
		st.failed++
	}
	st.outcomes[outcome]++
	st.millis = append(st.millis, float64(took.Microseconds())/1000)
}

func (s *stats) report(mode loadMode, started time.Time, elapsed time.Duration) report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := report{
		Mode:            mode,
		StartedAt:       started.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Steps:           make(map[string]stepReport, len(s.steps)),
	}
	for name, st := range s.steps {
		calls := st.ok + st.failed
		sr := stepReport{
			Calls:     calls,
			OK:        st.ok,
			Failed:    st.failed,
			ErrorRate: share(st.failed, calls),
			Outcomes:  make(map[string]int64, len(st.outcomes)),
			LatencyMs: summarize(st.millis),
		}
		for outcome, n := range st.outcomes {
			sr.Outcomes[outcome] = n
		}
		r.Steps[name] = sr
	}
	if sc, ok := r.Steps[stepScenario]; ok {
		r.Orders, r.Failed, r.ErrorRate = sc.Calls, sc.Failed, sc.ErrorRate
	}
	if elapsed > 0 {
		r.OrdersPerSecond = float64(r.Orders) / elapsed.Seconds()
	}
	return r
}

func share(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
