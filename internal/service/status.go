package service

import (
	"sync"
	"time"
)

// State represents the lifecycle state of a service
type State string

const (
	StatusStopped  State = "stopped"
	StatusStarting State = "starting"
	StatusRunning  State = "running"
	StatusStopping State = "stopping"
	StatusError    State = "error"
)

// Status tracks the lifecycle state of a single service
type Status struct {
	Name      string
	StartedAt time.Time

	mu    sync.RWMutex
	state State
	err   error
}

// NewStatus creates a status record for a service
func NewStatus(name string) *Status {
	return &Status{
		Name:  name,
		state: StatusStopped,
	}
}

// SetState transitions the service to a new state
func (s *Status) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
	if state == StatusRunning {
		s.StartedAt = time.Now()
		s.err = nil
	}
}

// SetError marks the service as failed
func (s *Status) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StatusError
	s.err = err
}

// GetState returns the current state
func (s *Status) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GetError returns the last error, if any
func (s *Status) GetError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// IsRunning reports whether the service is currently running
func (s *Status) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StatusRunning
}

// GetUptime returns how long the service has been running, or zero if stopped
func (s *Status) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StatusRunning || s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
