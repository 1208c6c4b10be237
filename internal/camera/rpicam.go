package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/xplab/imagery-node/internal/config"
	"github.com/xplab/imagery-node/internal/logger"
)

// Rpicam captures stills through rpicam-still/libcamera-still. Every capture
// is one process invocation writing JPEG bytes to stdout, so the applied
// settings are whatever the struct holds at capture time.
type Rpicam struct {
	logger  *logger.Logger
	cmdName string

	// mu serializes capture against setting changes on the device handle
	mu         sync.Mutex
	width      int
	height     int
	rotation   int
	awbMode    string
	brightness int
	closed     bool
}

// NewRpicam creates the Raspberry Pi still-capture backend
func NewRpicam(cfg config.CameraConfig, log *logger.Logger) (*Rpicam, error) {
	cmdName := "rpicam-still"
	if _, err := exec.LookPath(cmdName); err != nil {
		cmdName = "libcamera-still"
		if _, err := exec.LookPath(cmdName); err != nil {
			return nil, fmt.Errorf("neither rpicam-still nor libcamera-still found")
		}
	}

	if err := validateAWBMode(cfg.AWBMode); err != nil {
		return nil, err
	}

	log.Info("Camera backend ready",
		"backend", "rpicam",
		"command", cmdName,
		"width", cfg.Width,
		"height", cfg.Height,
		"rotation", cfg.Rotation,
	)

	return &Rpicam{
		logger:     log,
		cmdName:    cmdName,
		width:      cfg.Width,
		height:     cfg.Height,
		rotation:   cfg.Rotation,
		awbMode:    cfg.AWBMode,
		brightness: 50,
	}, nil
}

// Capture grabs a single JPEG frame from the camera
func (c *Rpicam) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	args := []string{
		"--width", strconv.Itoa(c.width),
		"--height", strconv.Itoa(c.height),
		"--rotation", strconv.Itoa(c.rotation),
		"--brightness", rpicamBrightness(c.brightness),
		"--nopreview",
		"--immediate",
		"--encoding", "jpg",
		"--output", "-",
	}
	if c.awbMode == "auto" {
		args = append(args, "--awb", "auto")
	} else {
		// rpicam-apps have no "off" mode; fixed unity gains disable AWB
		args = append(args, "--awbgains", "1.0,1.0")
	}

	cmd := exec.CommandContext(ctx, c.cmdName, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w, stderr: %s", c.cmdName, err, stderr.String())
	}

	data := stdout.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("%s produced no frame data", c.cmdName)
	}

	return data, nil
}

// AWBMode returns the current auto-white-balance mode
func (c *Rpicam) AWBMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awbMode
}

// SetAWBMode sets the auto-white-balance mode
func (c *Rpicam) SetAWBMode(mode string) error {
	if err := validateAWBMode(mode); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.awbMode = mode
	return nil
}

// Brightness returns the current brightness
func (c *Rpicam) Brightness() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brightness
}

// SetBrightness sets the brightness
func (c *Rpicam) SetBrightness(value int) error {
	if err := validateBrightness(value); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.brightness = value
	return nil
}

// Close releases the camera
func (c *Rpicam) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// rpicamBrightness maps the 0-100 brightness scale onto the -1.0..1.0 scale
// rpicam-apps expect.
func rpicamBrightness(value int) string {
	return strconv.FormatFloat(float64(value-50)/50.0, 'f', 2, 64)
}
