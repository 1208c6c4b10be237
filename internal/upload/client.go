package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/xplab/imagery-node/internal/logger"
	"github.com/xplab/imagery-node/internal/video"
)

const captureTimeFormat = "2006-01-02-15:04:05"

// Metadata describes one upload: the calibration flag plus passthrough
// fields (voltage, xp_id) forwarded verbatim to the aggregator.
type Metadata struct {
	IsCalImage bool
	Fields     map[string]string
}

// Outcome reports the result of a single upload attempt
type Outcome struct {
	Filename   string
	StatusCode int
	Body       string
	Elapsed    time.Duration
}

// Error is an upload rejected by the aggregator
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("aggregator returned status %d: %s", e.StatusCode, e.Body)
}

// Client posts frames to the remote aggregator. Uploads are never retried:
// a capture job's timing fidelity outranks delivery of any single frame, so
// failures are reported to the caller and nothing more.
type Client struct {
	aggregatorURL string
	httpClient    *http.Client
	logger        *logger.Logger
}

// ClientConfig contains upload client configuration
type ClientConfig struct {
	AggregatorURL string
	Timeout       time.Duration
}

// NewClient creates an upload client
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		aggregatorURL: cfg.AggregatorURL,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        log,
	}
}

// Upload posts one frame with its metadata as multipart/form-data. On a
// non-success status the outcome is returned alongside the error so callers
// can surface the aggregator's response text.
func (c *Client) Upload(ctx context.Context, frame *video.Frame, meta Metadata) (*Outcome, error) {
	filename := fmt.Sprintf("%s_%d.jpg",
		frame.CapturedAt.Format(captureTimeFormat),
		time.Now().Unix(),
	)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile(filename, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(frame.Data); err != nil {
		return nil, fmt.Errorf("failed to write frame data: %w", err)
	}

	fields := map[string]string{
		"filename":     filename,
		"capture_time": strconv.FormatInt(frame.CapturedAt.Unix(), 10),
		"is_cal_image": formatBool(meta.IsCalImage),
	}
	for key, value := range meta.Fields {
		fields[key] = value
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.aggregatorURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debug("Posting frame", "filename", filename, "url", c.aggregatorURL)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregator response: %w", err)
	}

	outcome := &Outcome{
		Filename:   filename,
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		Elapsed:    elapsed,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return outcome, &Error{StatusCode: resp.StatusCode, Body: outcome.Body}
	}

	c.logger.Info("Frame uploaded",
		"filename", filename,
		"status", resp.StatusCode,
		"elapsed", elapsed,
	)
	return outcome, nil
}

// formatBool renders the calibration flag the way the aggregator expects
func formatBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
