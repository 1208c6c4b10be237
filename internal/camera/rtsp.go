package camera

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/pion/rtp"

	"github.com/xplab/imagery-node/internal/config"
	"github.com/xplab/imagery-node/internal/logger"
)

// RTSP captures frames from a network camera stream. The stream free-runs in
// the background; Capture hands out the next access unit that arrives after
// the call, so a caller never sees a frame older than its request.
type RTSP struct {
	logger   *logger.Logger
	url      string
	username string
	password string
	timeout  time.Duration

	mu        sync.Mutex
	client    *gortsplib.Client
	connected bool
	closed    bool
	notify    chan []byte

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRTSP creates the RTSP camera backend and starts the stream reader
func NewRTSP(cfg config.CameraConfig, log *logger.Logger) (*RTSP, error) {
	ctx, cancel := context.WithCancel(context.Background())

	c := &RTSP{
		logger:   log,
		url:      cfg.RTSP.URL,
		username: cfg.RTSP.Username,
		password: cfg.RTSP.Password,
		timeout:  cfg.RTSP.Timeout,
		notify:   make(chan []byte, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	go c.run()

	return c, nil
}

// run manages the stream connection lifecycle with reconnects
func (c *RTSP) run() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			if err := c.connect(); err != nil {
				c.logger.Error("RTSP connection failed", "url", c.url, "error", err)
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}

			// Block until the stream drops, then reconnect
			c.mu.Lock()
			client := c.client
			c.mu.Unlock()
			if client != nil {
				if err := client.Wait(); err != nil {
					c.logger.Error("RTSP stream error", "url", c.url, "error", err)
				}
			}
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
		}
	}
}

// connect establishes the RTSP session and wires the packet handler
func (c *RTSP) connect() error {
	c.logger.Info("Connecting to RTSP stream", "url", c.url)

	u, err := base.ParseURL(c.url)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if c.username != "" && c.password != "" && u.User == nil {
		u.User = url.UserPassword(c.username, c.password)
	}

	client := &gortsplib.Client{ReadTimeout: c.timeout}

	desc, _, err := client.Describe(u)
	if err != nil {
		return fmt.Errorf("failed to describe stream: %w", err)
	}

	var h264Format *format.H264
	var h264Media *description.Media
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if h264, ok := forma.(*format.H264); ok {
				h264Format = h264
				h264Media = media
				break
			}
		}
		if h264Format != nil {
			break
		}
	}
	if h264Format == nil {
		return fmt.Errorf("H.264 format not found in stream")
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return fmt.Errorf("failed to setup stream: %w", err)
	}

	decoder := &rtph264.Decoder{}
	if err := decoder.Init(); err != nil {
		return fmt.Errorf("failed to init decoder: %w", err)
	}

	client.OnPacketRTP(h264Media, h264Format, func(pkt *rtp.Packet) {
		nalus, err := decoder.Decode(pkt)
		if err != nil {
			return
		}

		var frame []byte
		for _, nalu := range nalus {
			frame = append(frame, nalu...)
		}
		if len(frame) == 0 {
			return
		}

		// Replace a pending frame rather than blocking the packet handler
		select {
		case c.notify <- frame:
		default:
			select {
			case <-c.notify:
			default:
			}
			select {
			case c.notify <- frame:
			default:
			}
		}
	})

	if _, err := client.Play(nil); err != nil {
		return fmt.Errorf("failed to play stream: %w", err)
	}

	if err := c.install(client); err != nil {
		// Close raced the connect; the session must not outlive the backend
		client.Close()
		return err
	}

	c.logger.Info("RTSP stream connected", "url", c.url)
	return nil
}

// install publishes a connected session, unless the backend was closed while
// the session was being established
func (c *RTSP) install(client *gortsplib.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.client = client
	c.connected = true
	return nil
}

// Capture waits for the next access unit from the stream
func (c *RTSP) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	select {
	case frame := <-c.notify:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	}
}

// AWBMode returns the fixed mode of the backend. RTSP cameras manage white
// balance on-device.
func (c *RTSP) AWBMode() string {
	return "auto"
}

// SetAWBMode rejects modes the backend cannot apply
func (c *RTSP) SetAWBMode(mode string) error {
	if err := validateAWBMode(mode); err != nil {
		return err
	}
	return fmt.Errorf("%w: AWB control", ErrNotSupported)
}

// Brightness returns the fixed midpoint brightness
func (c *RTSP) Brightness() int {
	return 50
}

// SetBrightness rejects values the backend cannot apply
func (c *RTSP) SetBrightness(value int) error {
	if err := validateBrightness(value); err != nil {
		return err
	}
	return fmt.Errorf("%w: brightness control", ErrNotSupported)
}

// Close tears down the stream session
func (c *RTSP) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.connected = false
	return nil
}
