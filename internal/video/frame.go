package video

import (
	"sync"
	"time"
)

// Frame is one captured image: opaque JPEG bytes plus the capture instant.
// Frames are immutable once created.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Cache is a single-slot holder for the most recent frame. One writer (the
// acquisition loop) and any number of readers; readers always observe a whole
// frame, never a partial write.
type Cache struct {
	mu     sync.RWMutex
	latest *Frame
}

// NewCache creates an empty frame cache
func NewCache() *Cache {
	return &Cache{}
}

// Put installs a new latest frame, discarding the previous one
func (c *Cache) Put(frame *Frame) {
	c.mu.Lock()
	c.latest = frame
	c.mu.Unlock()
}

// Get returns the latest frame, or false if no frame has been captured yet
func (c *Cache) Get() (*Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.latest == nil {
		return nil, false
	}
	return c.latest, true
}
