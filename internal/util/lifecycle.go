// Package util holds small concurrency helpers; RunLifecycle is used by the
// broker package.
package util

import (
	"sync"

	"go.uber.org/zap"
)

// RunLifecycle guards a component's start/stop transitions so repeated or
// out-of-order calls are safe no-ops instead of double-starting a worker or
// panicking on a double-close.
type RunLifecycle struct {
	name    string
	logger  *zap.Logger
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewRunLifecycle returns a lifecycle guard labelled name for log lines.
func NewRunLifecycle(name string, logger *zap.Logger) *RunLifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunLifecycle{name: name, logger: logger}
}

// Start runs fn exactly once across the lifetime of this guard. A second
// call is a logged no-op.
func (l *RunLifecycle) Start(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		l.logger.Info("lifecycle already started, ignoring", zap.String("name", l.name))
		return nil
	}
	l.started = true
	return fn()
}

// Stop runs fn exactly once, and only if Start has already run. A second
// call, or a call before Start, is a logged no-op.
func (l *RunLifecycle) Stop(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started || l.stopped {
		l.logger.Info("lifecycle not running, ignoring stop", zap.String("name", l.name))
		return
	}
	l.stopped = true
	fn()
}

// Running reports whether Start has completed and Stop has not.
func (l *RunLifecycle) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started && !l.stopped
}
