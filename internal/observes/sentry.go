// Package observes wires optional crash reporting for the daemon.
package observes

import (
	"github.com/getsentry/sentry-go"
)

// SentryOptions configures the optional Sentry client.
type SentryOptions struct {
	Dsn         string
	Name        string
	Release     string
	Environment string
}

// InitSentry registers the Sentry client. A nil/empty DSN skips initialization.
func InitSentry(opt *SentryOptions) error {
	if opt == nil || opt.Dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              opt.Dsn,
		AttachStacktrace: true,
		TracesSampleRate: 1.0,
		ServerName:       opt.Name,
		Release:          opt.Release,
		Environment:      opt.Environment,
	})
}

// Recover reports a panic to Sentry (if configured) and returns true when it
// suppressed one, so callers can log and keep running instead of crashing.
func Recover() (recovered bool, value any) {
	if r := recover(); r != nil {
		sentry.CurrentHub().Recover(r)
		return true, r
	}
	return false, nil
}

// CaptureError reports a non-fatal error to Sentry (if configured).
func CaptureError(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}
