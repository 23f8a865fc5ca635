// Package latency collects per-session latency samples and persists them
// as JSON metric records.
package latency

import (
	"fmt"
	"math"
	"slices"
)

// Stage identifies which hand-off a latency sample measures.
type Stage string

const (
	StageSTT      Stage = "stt"
	StageAI       Stage = "ai"
	StageTTS      Stage = "tts"
	StageEndToEnd Stage = "end_to_end"
)

// Stages lists every stage in reporting order.
var Stages = []Stage{StageSTT, StageAI, StageTTS, StageEndToEnd}

// Metric types written to the metrics store.
const (
	MetricInteraction  = "interaction"
	MetricInterruption = "interruption"
	MetricError        = "error"
)

// MetricType returns the persisted metric type for latency samples.
func (s Stage) MetricType() string {
	if s == StageEndToEnd {
		return "e2e_latency"
	}
	return string(s) + "_latency"
}

// ParseStage validates a stage name.
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown latency stage %q", name)
}

// stageForMetric maps a persisted metric type back to its stage.
func stageForMetric(metricType string) (Stage, bool) {
	for _, s := range Stages {
		if s.MetricType() == metricType {
			return s, true
		}
	}
	return "", false
}

// Stats summarizes latency samples in milliseconds.
type Stats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Summarize computes Stats. Percentiles use the nearest-rank rule
// sorted[min(floor(p*n), n-1)].
func Summarize(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return Stats{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	idx := min(int(math.Floor(p*float64(n))), n-1)
	return sorted[idx]
}
