// Package metrics defines the metrics recording interface used by the
// payment engine, with prometheus and noop implementations.
package metrics

import "time"

// Recorder receives payment engine metrics.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// NoopRecorder discards all metrics. It is the default when no recorder is
// injected.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
