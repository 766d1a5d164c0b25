package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/pkg/models"
)

func newTestJobStore(t *testing.T) *JobStore {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewJobStore(db)
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job, err := s.Create(ctx, models.CreateJobRequest{
		Platform:  models.PlatformTwitter,
		Action:    models.ActionPost,
		Content:   "hello",
		AccountID: "acct-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.StatusPending, job.Status)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, models.PlatformTwitter, got.Platform)
	assert.Nil(t, got.Error)
}

func TestCreateRejectsReplyWithoutTarget(t *testing.T) {
	s := newTestJobStore(t)

	_, err := s.Create(context.Background(), models.CreateJobRequest{
		Platform:  models.PlatformTwitter,
		Action:    models.ActionReply,
		Content:   "nice post",
		AccountID: "acct-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targetUrl")
}

func TestCreateRejectsUnknownPlatform(t *testing.T) {
	s := newTestJobStore(t)

	_, err := s.Create(context.Background(), models.CreateJobRequest{
		Platform:  "myspace",
		Action:    models.ActionPost,
		Content:   "hi",
		AccountID: "acct-1",
	})
	assert.Error(t, err)
}

func TestJobLifecycleTransitions(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job, err := s.Create(ctx, models.CreateJobRequest{
		Platform:  models.PlatformLinkedIn,
		Action:    models.ActionPost,
		Content:   "announcement",
		AccountID: "acct-2",
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessing(ctx, job.ID))
	// second claim must fail: the job already left pending
	assert.Error(t, s.MarkProcessing(ctx, job.ID))

	require.NoError(t, s.Complete(ctx, job.ID, "https://linkedin.com/feed/update/123", 4*time.Second))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "https://linkedin.com/feed/update/123", got.PostURL)
	assert.Equal(t, 4*time.Second, got.ExecutionTime)
	assert.NotNil(t, got.CompletedAt)
}

func TestFailRecordsErrorCode(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job, err := s.Create(ctx, models.CreateJobRequest{
		Platform:  models.PlatformTwitter,
		Action:    models.ActionPost,
		Content:   "hello",
		AccountID: "acct-1",
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessing(ctx, job.ID))
	require.NoError(t, s.Fail(ctx, job.ID, "SessionExpired", "cookie login redirected to login page", time.Second))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "SessionExpired", got.Error.Code)
}

func TestCancelOnlyNonTerminal(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job, err := s.Create(ctx, models.CreateJobRequest{
		Platform:  models.PlatformThreads,
		Action:    models.ActionPost,
		Content:   "hello",
		AccountID: "acct-3",
	})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, job.ID))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	// cancelling a terminal job is rejected
	err = s.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestTerminalStateIsNeverOverwritten(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job, err := s.Create(ctx, models.CreateJobRequest{
		Platform:  models.PlatformTwitter,
		Action:    models.ActionPost,
		Content:   "hello",
		AccountID: "acct-1",
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessing(ctx, job.ID))
	require.NoError(t, s.Cancel(ctx, job.ID))

	// a straggler outcome landing after cancellation is a no-op
	require.NoError(t, s.Fail(ctx, job.ID, "Timeout", "extension did not answer", time.Second))
	require.NoError(t, s.Complete(ctx, job.ID, "https://x.com/u/status/9", time.Second))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Nil(t, got.Error)
	assert.Empty(t, got.PostURL)
}

func TestGetMissingJob(t *testing.T) {
	s := newTestJobStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestStats(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	mk := func() *models.Job {
		job, err := s.Create(ctx, models.CreateJobRequest{
			Platform:  models.PlatformTwitter,
			Action:    models.ActionPost,
			Content:   "x",
			AccountID: "acct-1",
		})
		require.NoError(t, err)
		return job
	}

	done := mk()
	failed := mk()
	mk() // stays pending

	require.NoError(t, s.MarkProcessing(ctx, done.ID))
	require.NoError(t, s.Complete(ctx, done.ID, "https://x.com/u/status/1", time.Second))
	require.NoError(t, s.MarkProcessing(ctx, failed.ID))
	require.NoError(t, s.Fail(ctx, failed.ID, "AutomationFailure", "post button never appeared", time.Second))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Processing)
	assert.Equal(t, 3, stats.TotalToday)
	assert.Equal(t, 1, stats.SuccessToday)
	assert.Equal(t, 1, stats.FailedToday)
}
