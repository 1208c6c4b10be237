package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xplab/imagery-node/internal/camera"
	"github.com/xplab/imagery-node/internal/config"
	"github.com/xplab/imagery-node/internal/logger"
	"github.com/xplab/imagery-node/internal/schedule"
	"github.com/xplab/imagery-node/internal/state"
	"github.com/xplab/imagery-node/internal/video"
)

// UploadRecorder persists upload attempts triggered by commands
type UploadRecorder interface {
	RecordUpload(rec state.UploadRecord) error
}

// HistoryReader reads recent upload history for the status endpoint
type HistoryReader interface {
	RecentUploads(limit int) ([]state.UploadRecord, error)
}

// Server is the command server: the node's single inbound entry point. The
// legacy coordinator protocol lives on "/" (commands encoded in the query
// string); camera control and operational status live under /api.
type Server struct {
	config     *config.ServerConfig
	logger     *logger.Logger
	router     *gin.Engine
	httpServer *http.Server

	camera    camera.Camera
	cache     *video.Cache
	uploader  schedule.Uploader
	scheduler *schedule.Scheduler
	recorder  UploadRecorder
	history   HistoryReader
	startTime time.Time
}

// NewServer creates the command server
func NewServer(
	cfg *config.ServerConfig,
	cam camera.Camera,
	cache *video.Cache,
	uploader schedule.Uploader,
	scheduler *schedule.Scheduler,
	recorder UploadRecorder,
	history HistoryReader,
	log *logger.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	s := &Server{
		config:    cfg,
		logger:    log,
		router:    router,
		camera:    cam,
		cache:     cache,
		uploader:  uploader,
		scheduler: scheduler,
		recorder:  recorder,
		history:   history,
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

// Name returns the service name
func (s *Server) Name() string {
	return "command-server"
}

// Start starts the HTTP listener
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: post_image blocks on the synchronous upload
	}

	go func() {
		s.logger.Info("Command server listening", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Command server error", "error", err, "address", addr)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops accepting commands and drains in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping command server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up the command route and the API routes
func (s *Server) setupRoutes() {
	// Legacy coordinator protocol
	s.router.GET("/", s.handleCommand)
	s.router.HEAD("/", s.handleHead)

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)

		cam := api.Group("/camera")
		{
			cam.GET("/awb_mode", s.handleAWBMode)
			cam.GET("/brightness", s.handleBrightness)
		}
	}
}

// ginLogger creates a Gin middleware for request logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
