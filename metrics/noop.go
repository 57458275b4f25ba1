package metrics

import "time"

type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

// Track counts one event and records its latency since start under the same outcome.
func Track(r Recorder, name string, start time.Time, outcome string) {
	labels := map[string]string{"outcome": outcome}
	r.IncCounter(name, labels)
	r.ObserveLatency(name, time.Since(start), labels)
}
