package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplab/imagery-node/internal/logger"
	"github.com/xplab/imagery-node/internal/state"
	"github.com/xplab/imagery-node/internal/upload"
	"github.com/xplab/imagery-node/internal/video"
)

type uploadCall struct {
	meta upload.Metadata
	at   time.Time
}

type fakeUploader struct {
	mu    sync.Mutex
	calls []uploadCall
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, frame *video.Frame, meta upload.Metadata) (*upload.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, uploadCall{meta: meta, at: time.Now()})
	if f.err != nil {
		return nil, f.err
	}
	return &upload.Outcome{Filename: "test.jpg", StatusCode: 200, Body: "ok"}, nil
}

func (f *fakeUploader) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	times := make([]time.Time, len(f.calls))
	for i, c := range f.calls {
		times[i] = c.at
	}
	return times
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecorder struct {
	mu      sync.Mutex
	jobs    map[string]string // job ID -> last status
	uploads []state.UploadRecord
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{jobs: make(map[string]string)}
}

func (f *fakeRecorder) RecordJob(job state.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job.Status
	return nil
}

func (f *fakeRecorder) FinishJob(jobID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = status
	return nil
}

func (f *fakeRecorder) RecordUpload(rec state.UploadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, rec)
	return nil
}

func (f *fakeRecorder) jobStatus(jobID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID]
}

func (f *fakeRecorder) uploadsForJob(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, rec := range f.uploads {
		if rec.JobID == jobID {
			count++
		}
	}
	return count
}

func setupScheduler(t *testing.T) (*Scheduler, *video.Cache, *fakeUploader, *fakeRecorder) {
	t.Helper()

	cache := video.NewCache()
	uploader := &fakeUploader{}
	recorder := newFakeRecorder()
	scheduler := NewScheduler(cache, uploader, recorder, logger.NewNop())
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = scheduler.Stop(stopCtx)
	})
	return scheduler, cache, uploader, recorder
}

func putFrame(cache *video.Cache) {
	cache.Put(&video.Frame{Data: []byte("jpeg"), CapturedAt: time.Now()})
}

func TestScheduler_RunsAllTargets(t *testing.T) {
	scheduler, cache, uploader, recorder := setupScheduler(t)
	putFrame(cache)

	job, err := scheduler.StartJob(Spec{
		Duration:   200 * time.Millisecond,
		Interval:   100 * time.Millisecond,
		Experiment: "1",
		Voltage:    "5",
		CaptureJob: "1",
	})
	require.NoError(t, err)
	require.Len(t, job.Targets, 3)

	select {
	case <-job.done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}

	assert.Equal(t, 3, uploader.count())
	assert.Equal(t, 3, recorder.uploadsForJob(job.ID))
	assert.Equal(t, state.JobStatusCompleted, recorder.jobStatus(job.ID))

	for _, call := range uploader.calls {
		assert.False(t, call.meta.IsCalImage)
		assert.Equal(t, "1", call.meta.Fields["xp_id"])
		assert.Equal(t, "5", call.meta.Fields["voltage"])
	}
}

func TestScheduler_HonorsTargetSpacing(t *testing.T) {
	scheduler, cache, uploader, _ := setupScheduler(t)
	putFrame(cache)

	start := time.Now()
	job, err := scheduler.StartJob(Spec{
		Duration: 300 * time.Millisecond,
		Interval: 150 * time.Millisecond,
	})
	require.NoError(t, err)

	<-job.done

	times := uploader.callTimes()
	require.Len(t, times, 3)
	// Each slot fires at or after its target, within scheduling tolerance
	for i, at := range times {
		target := start.Add(time.Duration(i) * 150 * time.Millisecond)
		assert.True(t, !at.Before(target.Add(-10*time.Millisecond)),
			"slot %d fired at %v before target %v", i, at, target)
		assert.WithinDuration(t, target, at, 100*time.Millisecond)
	}
}

func TestScheduler_ReplacementStopsSupersededJob(t *testing.T) {
	scheduler, cache, _, recorder := setupScheduler(t)
	putFrame(cache)

	first, err := scheduler.StartJob(Spec{
		Duration:     10 * time.Second,
		Interval:     50 * time.Millisecond,
		CaptureJob:   "1",
		StartupDelay: 0,
	})
	require.NoError(t, err)

	// Let the first job attempt a few uploads
	require.Eventually(t, func() bool {
		return recorder.uploadsForJob(first.ID) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	second, err := scheduler.StartJob(Spec{
		Duration:   200 * time.Millisecond,
		Interval:   100 * time.Millisecond,
		CaptureJob: "2",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	select {
	case <-first.done:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded job did not stop")
	}
	assert.Equal(t, state.JobStatusSuperseded, recorder.jobStatus(first.ID))

	// After replacement, uploads attributable to the first job stop growing
	countAtReplacement := recorder.uploadsForJob(first.ID)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, countAtReplacement, recorder.uploadsForJob(first.ID))

	<-second.done
	assert.Equal(t, state.JobStatusCompleted, recorder.jobStatus(second.ID))
	assert.Equal(t, 3, recorder.uploadsForJob(second.ID))
}

func TestScheduler_SkipsSlotsWithoutFrame(t *testing.T) {
	scheduler, _, uploader, recorder := setupScheduler(t)

	job, err := scheduler.StartJob(Spec{
		Duration: 100 * time.Millisecond,
		Interval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	<-job.done

	assert.Equal(t, 0, uploader.count())
	assert.Equal(t, 0, recorder.uploadsForJob(job.ID))
	assert.Equal(t, state.JobStatusCompleted, recorder.jobStatus(job.ID))
}

func TestScheduler_MissedSlotsFireOncePerTarget(t *testing.T) {
	scheduler, cache, uploader, _ := setupScheduler(t)
	putFrame(cache)

	// All targets already in the past: each fires immediately, exactly once
	job, err := scheduler.StartJob(Spec{
		Duration:     200 * time.Millisecond,
		Interval:     100 * time.Millisecond,
		StartupDelay: -time.Second,
	})
	require.NoError(t, err)

	<-job.done
	assert.Equal(t, 3, uploader.count())
}

func TestScheduler_UploadFailureDoesNotAbortJob(t *testing.T) {
	scheduler, cache, uploader, recorder := setupScheduler(t)
	putFrame(cache)
	uploader.err = errors.New("aggregator unreachable")

	job, err := scheduler.StartJob(Spec{
		Duration: 100 * time.Millisecond,
		Interval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	<-job.done

	// All slots attempted despite failures, all recorded as not OK
	assert.Equal(t, 3, uploader.count())
	require.Equal(t, 3, recorder.uploadsForJob(job.ID))
	recorder.mu.Lock()
	for _, rec := range recorder.uploads {
		assert.False(t, rec.OK)
	}
	recorder.mu.Unlock()
	assert.Equal(t, state.JobStatusCompleted, recorder.jobStatus(job.ID))
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	scheduler, cache, _, recorder := setupScheduler(t)
	putFrame(cache)

	job, err := scheduler.StartJob(Spec{
		Duration: 10 * time.Second,
		Interval: time.Second,
	})
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(stopCtx))

	assert.Equal(t, state.JobStatusStopped, recorder.jobStatus(job.ID))

	_, running := scheduler.Current()
	assert.False(t, running)
}

func TestScheduler_Current(t *testing.T) {
	scheduler, cache, _, _ := setupScheduler(t)
	putFrame(cache)

	_, running := scheduler.Current()
	assert.False(t, running)

	job, err := scheduler.StartJob(Spec{
		Duration: 10 * time.Second,
		Interval: time.Second,
	})
	require.NoError(t, err)

	current, running := scheduler.Current()
	require.True(t, running)
	assert.Equal(t, job.ID, current.ID)
}

func TestSleepUntil_PastTargetReturnsImmediately(t *testing.T) {
	start := time.Now()
	err := sleepUntil(context.Background(), start.Add(-time.Second))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestSleepUntil_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := sleepUntil(ctx, time.Now().Add(10*time.Second))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAck_String(t *testing.T) {
	ack := Ack{JobID: "abc", TargetCount: 31}
	assert.Equal(t, "accepted abc targets=31", ack.String())
}
