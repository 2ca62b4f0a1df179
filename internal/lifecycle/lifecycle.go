// Package lifecycle models bounded, awaitable start/stop for background
// services: explicit state transitions with wait-with-timeout primitives
// instead of blocking constructors or fire-and-forget goroutines.
package lifecycle

import (
	"errors"
	"sync"
	"time"
)

// State of a managed service.
type State int32

const (
	Starting State = iota
	Running
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Terminated:
		return "TERMINATED"
	}
	return "UNKNOWN"
}

// ErrWaitTimeout is returned when an Await* call exceeds its deadline.
var ErrWaitTimeout = errors.New("lifecycle: timed out waiting for state")

// ErrTerminatedEarly is returned by AwaitRunning when the service terminated
// without ever reaching Running.
var ErrTerminatedEarly = errors.New("lifecycle: terminated before running")

// Lifecycle tracks one service's state. The zero value is not usable; use New.
type Lifecycle struct {
	mu         sync.Mutex
	state      State
	running    chan struct{}
	terminated chan struct{}
}

// New returns a lifecycle in the Starting state.
func New() *Lifecycle {
	return &Lifecycle{
		state:      Starting,
		running:    make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// MarkRunning transitions Starting -> Running. Later calls are no-ops.
func (l *Lifecycle) MarkRunning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Starting {
		return
	}
	l.state = Running
	close(l.running)
}

// MarkStopping transitions to Stopping unless already terminated.
func (l *Lifecycle) MarkStopping() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Terminated || l.state == Stopping {
		return
	}
	l.state = Stopping
}

// MarkTerminated transitions to Terminated. Idempotent. A service that
// terminates without running unblocks AwaitRunning waiters with an error.
func (l *Lifecycle) MarkTerminated() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Terminated {
		return
	}
	l.state = Terminated
	close(l.terminated)
}

// AwaitRunning blocks until the service is Running, or fails with
// ErrTerminatedEarly or ErrWaitTimeout.
func (l *Lifecycle) AwaitRunning(timeout time.Duration) error {
	// Settled transitions win over an already-expired timer.
	select {
	case <-l.running:
		return nil
	case <-l.terminated:
		return ErrTerminatedEarly
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.running:
		return nil
	case <-l.terminated:
		return ErrTerminatedEarly
	case <-timer.C:
		return ErrWaitTimeout
	}
}

// AwaitTerminated blocks until the service is Terminated, or fails with
// ErrWaitTimeout.
func (l *Lifecycle) AwaitTerminated(timeout time.Duration) error {
	select {
	case <-l.terminated:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.terminated:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	}
}
