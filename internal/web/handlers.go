package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xplab/imagery-node/internal/protocol"
	"github.com/xplab/imagery-node/internal/schedule"
	"github.com/xplab/imagery-node/internal/state"
	"github.com/xplab/imagery-node/internal/upload"
)

// handleCommand dispatches a coordinator command. The contract is plain
// text over a 200 response: the body carries the result or the error
// description, never an HTTP status.
func (s *Server) handleCommand(c *gin.Context) {
	cmd, err := protocol.ParseQuery(c.Request.URL.RawQuery)
	if err != nil {
		s.logger.Warn("Rejected malformed command", "error", err, "query", c.Request.URL.RawQuery)
		c.String(http.StatusOK, err.Error())
		return
	}

	switch cmd.Name {
	case "post_image":
		s.handlePostImage(c, cmd)
	case "run_capturejob":
		s.handleRunCaptureJob(c, cmd)
	default:
		s.logger.Warn("Unknown command", "command", cmd.Name)
		c.String(http.StatusOK, "no result")
	}
}

// handlePostImage uploads the current cached frame immediately and relays
// the aggregator's response text back to the coordinator
func (s *Server) handlePostImage(c *gin.Context, cmd *protocol.Command) {
	if err := cmd.Require("is_cal_image", "voltage", "xp_id"); err != nil {
		c.String(http.StatusOK, err.Error())
		return
	}

	frame, ok := s.cache.Get()
	if !ok {
		s.logger.Warn("post_image requested before first frame")
		c.String(http.StatusOK, "no frame available")
		return
	}

	meta := upload.Metadata{
		IsCalImage: cmd.Bool("is_cal_image"),
		Fields: map[string]string{
			"voltage": cmd.Get("voltage"),
			"xp_id":   cmd.Get("xp_id"),
		},
	}

	outcome, err := s.uploader.Upload(context.Background(), frame, meta)
	s.recordCommandUpload(frame.CapturedAt, outcome, err)

	if err != nil {
		var uploadErr *upload.Error
		if errors.As(err, &uploadErr) {
			c.String(http.StatusOK, uploadErr.Body)
			return
		}
		c.String(http.StatusOK, err.Error())
		return
	}

	c.String(http.StatusOK, outcome.Body)
}

// handleRunCaptureJob accepts a capture job and acknowledges immediately;
// the job runs in the background
func (s *Server) handleRunCaptureJob(c *gin.Context, cmd *protocol.Command) {
	if err := cmd.Require("duration", "interval", "startup_delay", "voltage", "xp_id", "cj_id"); err != nil {
		c.String(http.StatusOK, err.Error())
		return
	}

	duration, err := cmd.Float("duration")
	if err != nil {
		c.String(http.StatusOK, err.Error())
		return
	}
	interval, err := cmd.Float("interval")
	if err != nil {
		c.String(http.StatusOK, err.Error())
		return
	}
	startupDelay, err := cmd.Float("startup_delay")
	if err != nil {
		c.String(http.StatusOK, err.Error())
		return
	}

	job, err := s.scheduler.StartJob(schedule.Spec{
		Duration:     secondsToDuration(duration),
		Interval:     secondsToDuration(interval),
		StartupDelay: secondsToDuration(startupDelay),
		Voltage:      cmd.Get("voltage"),
		Experiment:   cmd.Get("xp_id"),
		CaptureJob:   cmd.Get("cj_id"),
	})
	if err != nil {
		c.String(http.StatusOK, err.Error())
		return
	}

	ack := schedule.Ack{JobID: job.ID, TargetCount: len(job.Targets)}
	c.String(http.StatusOK, ack.String())
}

// handleHead answers coordinator liveness probes
func (s *Server) handleHead(c *gin.Context) {
	c.Header("Content-Type", "text/html")
	c.Status(http.StatusOK)
}

// handleHealth returns basic liveness information
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
	})
}

// handleStatus reports the running job, frame freshness and recent uploads
func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"uptime": time.Since(s.startTime).String(),
	}

	if frame, ok := s.cache.Get(); ok {
		status["frame_age"] = time.Since(frame.CapturedAt).String()
		status["frame_bytes"] = len(frame.Data)
	} else {
		status["frame_age"] = nil
	}

	if job, running := s.scheduler.Current(); running {
		status["job"] = gin.H{
			"id":       job.ID,
			"cj_id":    job.Spec.CaptureJob,
			"xp_id":    job.Spec.Experiment,
			"targets":  len(job.Targets),
			"uploaded": job.Uploaded(),
		}
	} else {
		status["job"] = nil
	}

	if s.history != nil {
		records, err := s.history.RecentUploads(20)
		if err != nil {
			s.logger.Error("Failed to read upload history", "error", err)
		} else {
			uploads := make([]gin.H, 0, len(records))
			for _, rec := range records {
				uploads = append(uploads, gin.H{
					"filename":    rec.Filename,
					"job_id":      rec.JobID,
					"ok":          rec.OK,
					"status_code": rec.StatusCode,
					"created_at":  rec.CreatedAt,
				})
			}
			status["recent_uploads"] = uploads
		}
	}

	c.JSON(http.StatusOK, status)
}

// handleAWBMode reads the white balance mode, or sets it when ?mode= is
// present
func (s *Server) handleAWBMode(c *gin.Context) {
	if mode, ok := c.GetQuery("mode"); ok {
		if err := s.camera.SetAWBMode(mode); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Info("White balance mode changed", "mode", mode)
	}
	c.JSON(http.StatusOK, gin.H{"awb_mode": s.camera.AWBMode()})
}

// handleBrightness reads the brightness level, or sets it when ?value= is
// present
func (s *Server) handleBrightness(c *gin.Context) {
	if raw, ok := c.GetQuery("value"); ok {
		value, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("brightness must be an integer: %q", raw)})
			return
		}
		if err := s.camera.SetBrightness(value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Info("Brightness changed", "value", value)
	}
	c.JSON(http.StatusOK, gin.H{"brightness": s.camera.Brightness()})
}

// recordCommandUpload persists a command-triggered upload attempt with no
// owning job
func (s *Server) recordCommandUpload(capturedAt time.Time, outcome *upload.Outcome, uploadErr error) {
	if s.recorder == nil {
		return
	}

	rec := state.UploadRecord{
		ID:        uuid.NewString(),
		CaptureAt: capturedAt,
		OK:        uploadErr == nil,
	}
	if outcome != nil {
		rec.Filename = outcome.Filename
		rec.StatusCode = outcome.StatusCode
		rec.Elapsed = outcome.Elapsed
	}

	if err := s.recorder.RecordUpload(rec); err != nil {
		s.logger.Error("Failed to record upload", "error", err)
	}
}

// secondsToDuration converts a fractional seconds value from the wire
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
