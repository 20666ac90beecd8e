package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// withTimeout bounds one operation with a deadline. On expiry it returns a
// *TimeoutError immediately; the operation keeps running in the background
// and its eventual outcome is logged, never surfaced, so a slow flush cannot
// raise an unhandled error after the caller has moved on.
func withTimeout(ctx context.Context, timeout time.Duration, name string, op func(context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		go func() {
			if err := <-done; err != nil {
				logrus.WithError(err).WithField("operation", name).Warn("Timed-out operation finished late with error")
			} else {
				logrus.WithField("operation", name).Debug("Timed-out operation finished late")
			}
		}()
		return &TimeoutError{Operation: name, Timeout: timeout}
	}
}
