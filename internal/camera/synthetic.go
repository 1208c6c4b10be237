package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/xplab/imagery-node/internal/config"
	"github.com/xplab/imagery-node/internal/logger"
)

// Synthetic generates placeholder frames for development hosts without a
// camera attached. It honors the full control surface so the command
// endpoints behave the same as against real hardware.
type Synthetic struct {
	logger *logger.Logger

	mu         sync.Mutex
	width      int
	height     int
	awbMode    string
	brightness int
	closed     bool
}

// NewSynthetic creates the synthetic camera backend
func NewSynthetic(cfg config.CameraConfig, log *logger.Logger) *Synthetic {
	awbMode := cfg.AWBMode
	if validateAWBMode(awbMode) != nil {
		awbMode = "auto"
	}

	return &Synthetic{
		logger:     log,
		width:      cfg.Width,
		height:     cfg.Height,
		awbMode:    awbMode,
		brightness: 50,
	}
}

// Capture encodes a generated test pattern as JPEG
func (c *Synthetic) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	shade := byte(time.Now().Unix() % 256)
	level := byte(c.brightness * 255 / 100)

	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			offset := y*img.Stride + x*4
			img.Pix[offset] = shade
			img.Pix[offset+1] = byte((x * 255) / c.width)
			img.Pix[offset+2] = level
			img.Pix[offset+3] = 255
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	return buf.Bytes(), nil
}

// AWBMode returns the current auto-white-balance mode
func (c *Synthetic) AWBMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awbMode
}

// SetAWBMode sets the auto-white-balance mode
func (c *Synthetic) SetAWBMode(mode string) error {
	if err := validateAWBMode(mode); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.awbMode = mode
	return nil
}

// Brightness returns the current brightness
func (c *Synthetic) Brightness() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brightness
}

// SetBrightness sets the brightness
func (c *Synthetic) SetBrightness(value int) error {
	if err := validateBrightness(value); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.brightness = value
	return nil
}

// Close releases the camera
func (c *Synthetic) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
