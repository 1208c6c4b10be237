package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xplab/imagery-node/internal/logger"
)

// Service represents a service that can be started and stopped
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// Manager manages the lifecycle of all services
type Manager struct {
	logger   *logger.Logger
	services []Service
	statuses map[string]*Status
}

// NewManager creates a new service manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:   log,
		statuses: make(map[string]*Status),
	}
}

// Register registers a service with the manager. Services are started in
// registration order and stopped in reverse order.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
	m.statuses[svc.Name()] = NewStatus(svc.Name())
}

// Start starts all registered services in order. The first failure aborts
// the startup and stops the services already started.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting services", "count", len(m.services))

	for i, svc := range m.services {
		status := m.statuses[svc.Name()]
		status.SetState(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.logger.Error("Service failed to start", "service", svc.Name(), "error", err)
			m.stopServices(ctx, i)
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}

		status.SetState(StatusRunning)
		m.logger.Info("Service started", "service", svc.Name())
	}

	return nil
}

// Shutdown gracefully stops all services in reverse start order
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down services", "count", len(m.services))

	done := make(chan struct{})
	go func() {
		m.stopServices(ctx, len(m.services))
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All services stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// stopServices stops the first n registered services, last started first
func (m *Manager) stopServices(ctx context.Context, n int) {
	for i := n - 1; i >= 0; i-- {
		svc := m.services[i]
		status := m.statuses[svc.Name()]

		status.SetState(StatusStopping)
		m.logger.Info("Stopping service", "service", svc.Name())

		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := svc.Stop(stopCtx); err != nil {
			status.SetError(err)
			m.logger.Error("Error stopping service", "service", svc.Name(), "error", err)
		} else {
			status.SetState(StatusStopped)
			m.logger.Info("Service stopped", "service", svc.Name())
		}
		cancel()
	}
}

// GetStatus returns the status record of a named service
func (m *Manager) GetStatus(name string) *Status {
	return m.statuses[name]
}
