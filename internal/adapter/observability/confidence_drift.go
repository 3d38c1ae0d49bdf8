package observability

import (
	"log/slog"
	"sync"
)

// ConfidenceDriftMonitor watches the rolling mean of classification
// confidence per model. The first full window of samples calibrates the
// baseline; afterwards the absolute distance between the rolling mean and
// the baseline is exported and a drift beyond the threshold is logged.
// Sustained drift usually means the model roster or the document mix
// changed underneath the prompt.
type ConfidenceDriftMonitor struct {
	mu        sync.Mutex
	window    int
	threshold float64
	baselines map[string]float64
	recent    map[string][]float64
}

// NewConfidenceDriftMonitor creates a monitor. Non-positive arguments fall
// back to a 20 sample window and a 0.15 threshold.
func NewConfidenceDriftMonitor(window int, threshold float64) *ConfidenceDriftMonitor {
	if window <= 0 {
		window = 20
	}
	if threshold <= 0 {
		threshold = 0.15
	}
	return &ConfidenceDriftMonitor{
		window:    window,
		threshold: threshold,
		baselines: make(map[string]float64),
		recent:    make(map[string][]float64),
	}
}

// Record adds one confidence sample for model and returns the current
// drift, which is zero until the baseline has been calibrated.
func (m *ConfidenceDriftMonitor) Record(model string, confidence float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := append(m.recent[model], confidence)
	if len(samples) > m.window {
		samples = samples[1:]
	}
	m.recent[model] = samples

	if len(samples) < m.window {
		return 0
	}

	avg := mean(samples)
	baseline, calibrated := m.baselines[model]
	if !calibrated {
		m.baselines[model] = avg
		slog.Info("classification confidence baseline calibrated",
			slog.String("model", model),
			slog.Float64("baseline", avg),
			slog.Int("window", m.window))
		return 0
	}

	drift := avg - baseline
	if drift < 0 {
		drift = -drift
	}
	ClassificationConfidenceDrift.WithLabelValues(model).Set(drift)
	if drift > m.threshold {
		slog.Warn("classification confidence drift detected",
			slog.String("model", model),
			slog.Float64("drift", drift),
			slog.Float64("baseline", baseline),
			slog.Float64("rolling_mean", avg),
			slog.Float64("threshold", m.threshold))
	}
	return drift
}

// Baseline returns the calibrated baseline for model, if any.
func (m *ConfidenceDriftMonitor) Baseline(model string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.baselines[model]
	return b, ok
}

// Reset discards all calibration and samples.
func (m *ConfidenceDriftMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines = make(map[string]float64)
	m.recent = make(map[string][]float64)
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}
