package ocr

import (
	"sort"
	"sync"
	"time"
)

type sample struct {
	timestamp  time.Time
	durationMs int64
	failed     bool
}

// StatsSnapshot aggregates one engine's recent recognition latencies.
type StatsSnapshot struct {
	Count    int     `json:"count"`
	Failures int     `json:"failures"`
	MinMs    int64   `json:"min_ms"`
	MaxMs    int64   `json:"max_ms"`
	AvgMs    float64 `json:"avg_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
}

// Stats tracks per-engine recognition latencies within a rolling window.
type Stats struct {
	mu      sync.Mutex
	samples map[string][]sample
	maxAge  time.Duration
}

func NewStats(maxAge time.Duration) *Stats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Stats{
		samples: make(map[string][]sample),
		maxAge:  maxAge,
	}
}

func (s *Stats) Record(engine string, d time.Duration, failed bool) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples[engine] = append(s.samples[engine], sample{
		timestamp:  now,
		durationMs: ms,
		failed:     failed,
	})
}

// Snapshot returns one aggregate per engine seen within the window.
func (s *Stats) Snapshot() map[string]StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	out := make(map[string]StatsSnapshot, len(s.samples))
	for engine, samples := range s.samples {
		out[engine] = summarize(samples)
	}
	return out
}

func summarize(samples []sample) StatsSnapshot {
	values := make([]int64, 0, len(samples))
	var sum int64
	var failures int
	for _, sm := range samples {
		values = append(values, sm.durationMs)
		sum += sm.durationMs
		if sm.failed {
			failures++
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return StatsSnapshot{
		Count:    len(values),
		Failures: failures,
		MinMs:    values[0],
		MaxMs:    values[len(values)-1],
		AvgMs:    float64(sum) / float64(len(values)),
		P50Ms:    percentile(values, 50),
		P95Ms:    percentile(values, 95),
		P99Ms:    percentile(values, 99),
	}
}

func (s *Stats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	for engine, samples := range s.samples {
		writeIdx := 0
		for _, sm := range samples {
			if !sm.timestamp.Before(cutoff) {
				samples[writeIdx] = sm
				writeIdx++
			}
		}
		if writeIdx == 0 {
			delete(s.samples, engine)
			continue
		}
		s.samples[engine] = samples[:writeIdx]
	}
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}
