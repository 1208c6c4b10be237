package camera

import (
	"context"
	"errors"
	"fmt"

	"github.com/xplab/imagery-node/internal/config"
	"github.com/xplab/imagery-node/internal/logger"
)

// ErrInvalidParameter indicates a rejected camera setting
var ErrInvalidParameter = errors.New("invalid parameter")

// ErrNotSupported indicates a setting the backend cannot apply
var ErrNotSupported = errors.New("not supported by camera backend")

// ErrClosed indicates the camera has been released
var ErrClosed = errors.New("camera closed")

// Camera is a frame source with a small control surface. Capture and the
// setting accessors may be called from different goroutines; implementations
// serialize them on the device handle.
type Camera interface {
	// Capture grabs a single JPEG-encoded frame.
	Capture(ctx context.Context) ([]byte, error)

	// AWBMode returns the current auto-white-balance mode.
	AWBMode() string
	// SetAWBMode sets the auto-white-balance mode ("off" or "auto").
	SetAWBMode(mode string) error

	// Brightness returns the current brightness (0-100).
	Brightness() int
	// SetBrightness sets the brightness (0-100).
	SetBrightness(value int) error

	// Close releases the camera device.
	Close() error
}

// New creates the camera backend selected by configuration
func New(cfg config.CameraConfig, log *logger.Logger) (Camera, error) {
	switch cfg.Backend {
	case "rpicam":
		return NewRpicam(cfg, log)
	case "rtsp":
		return NewRTSP(cfg, log)
	case "synthetic":
		return NewSynthetic(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown camera backend: %s", cfg.Backend)
	}
}

// validateAWBMode checks an auto-white-balance mode against the supported set
func validateAWBMode(mode string) error {
	switch mode {
	case "off", "auto":
		return nil
	default:
		return fmt.Errorf("%w: invalid AWB mode %q", ErrInvalidParameter, mode)
	}
}

// validateBrightness checks a brightness value against the 0-100 range
func validateBrightness(value int) error {
	if value < 0 || value > 100 {
		return fmt.Errorf("%w: brightness %d out of range 0-100", ErrInvalidParameter, value)
	}
	return nil
}
