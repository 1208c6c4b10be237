package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xplab/imagery-node/internal/logger"
	"github.com/xplab/imagery-node/internal/state"
	"github.com/xplab/imagery-node/internal/upload"
	"github.com/xplab/imagery-node/internal/video"
)

// Uploader posts one frame with metadata to the aggregator
type Uploader interface {
	Upload(ctx context.Context, frame *video.Frame, meta upload.Metadata) (*upload.Outcome, error)
}

// Recorder persists job and upload history
type Recorder interface {
	RecordJob(job state.JobRecord) error
	FinishJob(jobID, status string) error
	RecordUpload(rec state.UploadRecord) error
}

// Job is one running (or finished) capture job. Each job carries its own
// identity and cancellation, so a superseded job can never be confused with
// its replacement.
type Job struct {
	ID      string
	Spec    Spec
	Targets []time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	reason   string
	uploaded int
}

// Uploaded returns how many uploads this job has attempted
func (j *Job) Uploaded() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.uploaded
}

// markUploaded counts one attempted upload
func (j *Job) markUploaded() {
	j.mu.Lock()
	j.uploaded++
	j.mu.Unlock()
}

// setReason records the terminal status for a cancelled job; first caller
// wins.
func (j *Job) setReason(reason string) {
	j.mu.Lock()
	if j.reason == "" {
		j.reason = reason
	}
	j.mu.Unlock()
}

func (j *Job) terminalReason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.reason == "" {
		return state.JobStatusCompleted
	}
	return j.reason
}

// Scheduler runs at most one capture job at a time. Starting a new job
// supersedes the current one: the old job's cancellation fires before the
// new job is installed, so uploads attributable to the old job stop.
type Scheduler struct {
	logger   *logger.Logger
	cache    *video.Cache
	uploader Uploader
	recorder Recorder

	mu      sync.Mutex
	current *Job
}

// NewScheduler creates a capture job scheduler
func NewScheduler(cache *video.Cache, uploader Uploader, recorder Recorder, log *logger.Logger) *Scheduler {
	return &Scheduler{
		logger:   log,
		cache:    cache,
		uploader: uploader,
		recorder: recorder,
	}
}

// Name returns the service name
func (s *Scheduler) Name() string {
	return "capture-scheduler"
}

// Start satisfies the service interface; jobs are started on demand
func (s *Scheduler) Start(ctx context.Context) error {
	return nil
}

// Stop cancels any running job and waits for its loop to exit. In-flight
// uploads are not interrupted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	job := s.current
	s.mu.Unlock()

	if job == nil {
		return nil
	}

	job.setReason(state.JobStatusStopped)
	job.cancel()

	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartJob derives the target sequence for a spec, supersedes any running
// job and launches the new one in the background.
func (s *Scheduler) StartJob(spec Spec) (*Job, error) {
	targets, err := Targets(time.Now(), spec)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:      uuid.NewString(),
		Spec:    spec,
		Targets: targets,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	prior := s.current
	if prior != nil {
		prior.setReason(state.JobStatusSuperseded)
		prior.cancel()
	}
	s.current = job
	s.mu.Unlock()

	if prior != nil {
		s.logger.Info("Superseding running capture job", "prior_job_id", prior.ID)
	}

	if err := s.recorder.RecordJob(state.JobRecord{
		ID:          job.ID,
		CaptureJob:  spec.CaptureJob,
		Experiment:  spec.Experiment,
		TargetCount: len(targets),
		Status:      state.JobStatusRunning,
		StartedAt:   time.Now(),
	}); err != nil {
		s.logger.Error("Failed to record capture job", "error", err, "job_id", job.ID)
	}

	s.logger.Info("Starting capture job",
		"job_id", job.ID,
		"cj_id", spec.CaptureJob,
		"xp_id", spec.Experiment,
		"targets", len(targets),
		"interval", spec.Interval,
	)

	go s.run(jobCtx, job)

	return job, nil
}

// Current returns the running job, if any
func (s *Scheduler) Current() (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, false
	}
	select {
	case <-s.current.done:
		return nil, false
	default:
		return s.current, true
	}
}

// run walks the target sequence, uploading the cached frame at each instant
func (s *Scheduler) run(ctx context.Context, job *Job) {
	defer close(job.done)
	defer func() {
		status := job.terminalReason()
		if err := s.recorder.FinishJob(job.ID, status); err != nil {
			s.logger.Error("Failed to finish capture job", "error", err, "job_id", job.ID)
		}
		s.logger.Info("Capture job finished", "job_id", job.ID, "status", status)
	}()

	for _, target := range job.Targets {
		if err := sleepUntil(ctx, target); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.fire(job, target)
	}
}

// fire performs one scheduled upload slot
func (s *Scheduler) fire(job *Job, target time.Time) {
	frame, ok := s.cache.Get()
	if !ok {
		s.logger.Warn("No frame available for scheduled upload, skipping slot",
			"job_id", job.ID, "target", target)
		return
	}

	job.markUploaded()

	meta := upload.Metadata{
		IsCalImage: false,
		Fields: map[string]string{
			"voltage": job.Spec.Voltage,
			"xp_id":   job.Spec.Experiment,
		},
	}

	// The job's cancellation must never abort an upload already in flight;
	// the client's own timeout bounds it instead.
	outcome, err := s.uploader.Upload(context.Background(), frame, meta)
	if err != nil {
		// No retry: the next slot matters more than this frame
		s.logger.Error("Scheduled upload failed", "error", err, "job_id", job.ID, "target", target)
	}

	s.recordUpload(job.ID, frame, outcome, err)
}

func (s *Scheduler) recordUpload(jobID string, frame *video.Frame, outcome *upload.Outcome, uploadErr error) {
	rec := state.UploadRecord{
		ID:        uuid.NewString(),
		JobID:     jobID,
		CaptureAt: frame.CapturedAt,
		OK:        uploadErr == nil,
	}
	if outcome != nil {
		rec.Filename = outcome.Filename
		rec.StatusCode = outcome.StatusCode
		rec.Elapsed = outcome.Elapsed
	}

	if err := s.recorder.RecordUpload(rec); err != nil {
		s.logger.Error("Failed to record upload", "error", err, "job_id", jobID)
	}
}

// sleepUntil suspends until the wall clock reaches the target instant. The
// remaining time is recomputed after every wake-up, which guards against
// timer granularity and clock adjustments. A target already in the past
// returns immediately.
func sleepUntil(ctx context.Context, target time.Time) error {
	for {
		remaining := time.Until(target)
		if remaining <= 0 {
			return nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Ack is the acknowledgement returned to the coordinator when a job is
// accepted
type Ack struct {
	JobID       string
	TargetCount int
}

func (a Ack) String() string {
	return fmt.Sprintf("accepted %s targets=%d", a.JobID, a.TargetCount)
}
