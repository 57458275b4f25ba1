package chai

import (
	"time"

	"github.com/vitwit/chai/logger"
	"github.com/vitwit/chai/metrics"
	"github.com/vitwit/chai/submission"
)

type Option func(*App)

func WithLogger(l logger.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(a *App) {
		a.metrics = metrics.OrNoop(r)
	}
}

// WithConfirmationTimeout overrides confirmation_timeout from the config.
func WithConfirmationTimeout(t time.Duration) Option {
	return func(a *App) {
		a.timeout = t
	}
}

// WithPollInterval overrides poll_interval from the config.
func WithPollInterval(d time.Duration) Option {
	return func(a *App) {
		a.pollInterval = d
	}
}

// WithTransitionObserver receives every submission state change.
func WithTransitionObserver(fn submission.Observer) Option {
	return func(a *App) {
		a.observer = fn
	}
}

// WithAutoReconnect controls whether an account change reconnects on its
// own. It is on by default.
func WithAutoReconnect(on bool) Option {
	return func(a *App) {
		a.autoReconnect = on
	}
}
