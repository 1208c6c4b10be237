package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplab/imagery-node/internal/logger"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "node.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndFinishJob(t *testing.T) {
	store := setupTestStore(t)

	jobID := uuid.NewString()
	require.NoError(t, store.RecordJob(JobRecord{
		ID:          jobID,
		CaptureJob:  "42",
		Experiment:  "7",
		TargetCount: 31,
		Status:      JobStatusRunning,
		StartedAt:   time.Now(),
	}))

	require.NoError(t, store.FinishJob(jobID, JobStatusCompleted))
}

func TestStore_RecordAndListUploads(t *testing.T) {
	store := setupTestStore(t)

	first := UploadRecord{
		ID:         uuid.NewString(),
		Filename:   "2014-07-22-15:04:05_1406041445.jpg",
		CaptureAt:  time.Now().Add(-2 * time.Second),
		StatusCode: 200,
		OK:         true,
		Elapsed:    120 * time.Millisecond,
		CreatedAt:  time.Now().Add(-time.Minute),
	}
	second := UploadRecord{
		ID:         uuid.NewString(),
		JobID:      "job-1",
		Filename:   "2014-07-22-15:04:06_1406041446.jpg",
		CaptureAt:  time.Now().Add(-time.Second),
		StatusCode: 500,
		OK:         false,
		Elapsed:    80 * time.Millisecond,
		CreatedAt:  time.Now(),
	}

	require.NoError(t, store.RecordUpload(first))
	require.NoError(t, store.RecordUpload(second))

	records, err := store.RecentUploads(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, "job-1", records[0].JobID)
	assert.False(t, records[0].OK)
	assert.Equal(t, 80*time.Millisecond, records[0].Elapsed)
	assert.Equal(t, first.ID, records[1].ID)
	assert.True(t, records[1].OK)
}

func TestStore_CountJobUploads(t *testing.T) {
	store := setupTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordUpload(UploadRecord{
			ID:        uuid.NewString(),
			JobID:     "job-a",
			Filename:  "f.jpg",
			CaptureAt: time.Now(),
			OK:        true,
		}))
	}
	require.NoError(t, store.RecordUpload(UploadRecord{
		ID:        uuid.NewString(),
		JobID:     "job-b",
		Filename:  "f.jpg",
		CaptureAt: time.Now(),
		OK:        true,
	}))

	count, err := store.CountJobUploads("job-a")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStore_PruneUploads(t *testing.T) {
	store := setupTestStore(t)

	old := UploadRecord{
		ID:        uuid.NewString(),
		Filename:  "old.jpg",
		CaptureAt: time.Now(),
		OK:        true,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	fresh := UploadRecord{
		ID:        uuid.NewString(),
		Filename:  "fresh.jpg",
		CaptureAt: time.Now(),
		OK:        true,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.RecordUpload(old))
	require.NoError(t, store.RecordUpload(fresh))

	removed, err := store.PruneUploads(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	records, err := store.RecentUploads(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, fresh.ID, records[0].ID)
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	store := setupTestStore(t)
	janitor := NewJanitor(store, "not a schedule", 7, logger.NewNop())

	assert.Error(t, janitor.Start(context.Background()))
}

func TestJanitor_StartStop(t *testing.T) {
	store := setupTestStore(t)
	janitor := NewJanitor(store, "0 3 * * *", 7, logger.NewNop())

	require.NoError(t, janitor.Start(context.Background()))
	require.NoError(t, janitor.Stop(context.Background()))
}
