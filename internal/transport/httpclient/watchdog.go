package httpclient

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/progressive-loader/internal/metrics"
)

// ErrIdleTimeout is the cancellation cause when no bytes arrive within the
// configured idle timeout.
var ErrIdleTimeout = errors.New("transfer idle timeout")

// watchdog cancels its context when Kick is not called within timeout.
type watchdog struct {
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(parent context.Context, timeout time.Duration) (context.Context, *watchdog) {
	ctx, cancel := context.WithCancelCause(parent)
	wd := &watchdog{cancel: cancel, timeout: timeout}
	if timeout > 0 {
		wd.timer = time.AfterFunc(timeout, func() {
			metrics.ObserveIdleTimeout()
			cancel(ErrIdleTimeout)
		})
	}
	return ctx, wd
}

// Kick postpones the timeout.
func (wd *watchdog) Kick() {
	if wd.timer != nil {
		wd.timer.Reset(wd.timeout)
	}
}

// Stop releases the timer and the context.
func (wd *watchdog) Stop() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
	wd.cancel(nil)
}
