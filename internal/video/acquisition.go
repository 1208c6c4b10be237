package video

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xplab/imagery-node/internal/camera"
	"github.com/xplab/imagery-node/internal/logger"
)

// Acquisition owns the camera and refreshes the frame cache as fast as the
// device delivers. A capture error is fatal: the device cannot be trusted
// afterwards, so the loop releases the camera and reports the error for
// process shutdown instead of retrying.
type Acquisition struct {
	logger *logger.Logger
	camera camera.Camera
	cache  *Cache

	// OnFatal receives the capture error that terminated the loop. Set
	// before Start.
	OnFatal func(error)

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewAcquisition creates the acquisition service
func NewAcquisition(cam camera.Camera, cache *Cache, log *logger.Logger) *Acquisition {
	return &Acquisition{
		logger: log,
		camera: cam,
		cache:  cache,
	}
}

// Name returns the service name
func (a *Acquisition) Name() string {
	return "frame-acquisition"
}

// Start launches the free-running capture loop
func (a *Acquisition) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("acquisition already running")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	go a.run(loopCtx)

	a.logger.Info("Frame acquisition started")
	return nil
}

// Stop signals the loop and waits for the camera to be released
func (a *Acquisition) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.closeCamera()
	a.logger.Info("Frame acquisition stopped")
	return nil
}

// run captures frames until stopped or the device faults
func (a *Acquisition) run(ctx context.Context) {
	defer close(a.done)

	for {
		if ctx.Err() != nil {
			return
		}

		capturedAt := time.Now()
		data, err := a.camera.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Stop raced the capture call; not a device fault.
				return
			}
			a.logger.Error("Camera capture failed, releasing device", "error", err)
			a.closeCamera()
			if a.OnFatal != nil {
				a.OnFatal(fmt.Errorf("camera capture failed: %w", err))
			}
			return
		}

		a.cache.Put(&Frame{Data: data, CapturedAt: capturedAt})
	}
}

// closeCamera releases the camera device exactly once
func (a *Acquisition) closeCamera() {
	a.closeOnce.Do(func() {
		if err := a.camera.Close(); err != nil {
			a.logger.Error("Error closing camera", "error", err)
		}
	})
}
