package metrics

import "time"

// Recorder receives client events. Labels are free-form; recorders pick
// the ones they index on.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event names
const (
	EventConnect      = "connect"
	EventRefresh      = "refresh"
	EventSubmit       = "submit"
	EventConfirmation = "confirmation"
	EventReload       = "reload"
)

// Outcome label values
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeStale    = "stale"
	OutcomeRejected = "rejected"
)
