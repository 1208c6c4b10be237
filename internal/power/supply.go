package power

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/xplab/imagery-node/internal/config"
	"github.com/xplab/imagery-node/internal/logger"
)

// Supply holds the programmable power supply's serial port open for the
// lifetime of the node. The node issues no supply commands itself; the
// device is an owned resource whose settings the coordinator manages out of
// band.
type Supply struct {
	logger *logger.Logger
	cfg    config.PowerConfig

	mu   sync.Mutex
	port serial.Port
}

// NewSupply creates the power supply resource
func NewSupply(cfg config.PowerConfig, log *logger.Logger) *Supply {
	return &Supply{logger: log, cfg: cfg}
}

// Name returns the service name
func (s *Supply) Name() string {
	return "power-supply"
}

// Start opens the serial port
func (s *Supply) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("Power supply disabled")
		return nil
	}

	port, err := serial.Open(s.cfg.Device, &serial.Mode{BaudRate: s.cfg.Baud})
	if err != nil {
		return fmt.Errorf("failed to open power supply on %s: %w", s.cfg.Device, err)
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()

	s.logger.Info("Power supply opened", "device", s.cfg.Device, "baud", s.cfg.Baud)
	return nil
}

// Stop closes the serial port
func (s *Supply) Stop(ctx context.Context) error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}

	if err := port.Close(); err != nil {
		return fmt.Errorf("failed to close power supply: %w", err)
	}
	s.logger.Info("Power supply closed", "device", s.cfg.Device)
	return nil
}

// IsOpen reports whether the port is currently held
func (s *Supply) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}
