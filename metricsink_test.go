package veritas

import "sync"

// recordingMetricSink is a MetricSink fake used across tests to prove the
// MetricSink wiring is live: Self-Optimizing, AME, Self-Healing, and the
// Router all report through it rather than leaving it unreferenced.
type recordingMetricSink struct {
	mu      sync.Mutex
	metrics map[string][]float64
	events  map[string]int
}

func newRecordingMetricSink() *recordingMetricSink {
	return &recordingMetricSink{
		metrics: make(map[string][]float64),
		events:  make(map[string]int),
	}
}

func (r *recordingMetricSink) ObserveMetric(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = append(r.metrics[name], value)
}

func (r *recordingMetricSink) ObserveEvent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[name]++
}

var _ MetricSink = (*recordingMetricSink)(nil)
