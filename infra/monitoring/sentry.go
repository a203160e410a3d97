// Package monitoring backs core/monitoring with Sentry.
package monitoring

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/evsim/config"
	coremon "github.com/kilianp07/evsim/core/monitoring"
)

// NewSentryMonitor initializes Sentry using the provided configuration and
// returns a Monitor implementation. Every event carries the component tag.
func NewSentryMonitor(cfg config.SentryConfig, component string) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return &sentryMonitor{component: component}, nil
}

type sentryMonitor struct {
	component string
}

func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", s.component)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func (s *sentryMonitor) Recover() {
	if r := recover(); r != nil {
		s.RecoverValue(r)
		sentry.Flush(2 * time.Second)
		panic(r)
	}
}

// RecoverValue reports a panic value recovered elsewhere.
func (s *sentryMonitor) RecoverValue(r any) {
	sentry.CurrentHub().Recover(r)
}

func (s *sentryMonitor) Flush(timeout time.Duration) { sentry.Flush(timeout) }
