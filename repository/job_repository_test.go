package repository

import (
	"testing"
	"time"

	"TextTune/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	conn := testDB(t)
	userID := seedUser(t, conn)
	repo := NewSQLiteJobRepository(conn)

	job := seedJob(t, conn, userID)

	loaded, err := repo.FindByIDForUser(job.ID, userID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, model.JobStatusQueued, loaded.Status)
	assert.Equal(t, 0.0, loaded.Progress)
	assert.Equal(t, 10.0, loaded.Params.Duration)
	assert.Nil(t, loaded.FinishedAt)

	require.NoError(t, repo.MarkRunning(job.ID, userID, 0.05))
	require.NoError(t, repo.SetProgress(job.ID, userID, 0.4))

	loaded, err = repo.FindByIDForUser(job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, loaded.Status)
	assert.Equal(t, 0.4, loaded.Progress)

	finished := time.Now().UTC()
	require.NoError(t, repo.MarkFailed(job.ID, userID, finished, "space_quota", "quota exhausted"))

	loaded, err = repo.FindByIDForUser(job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, loaded.Status)
	assert.Equal(t, 1.0, loaded.Progress)
	assert.Equal(t, "space_quota", loaded.ErrorCode)
	assert.Equal(t, "quota exhausted", loaded.Error)
	require.NotNil(t, loaded.FinishedAt)
	assert.Empty(t, loaded.ResultTrackID)
}

func TestJobOwnershipScoping(t *testing.T) {
	conn := testDB(t)
	owner := seedUser(t, conn)
	stranger := seedUser(t, conn)
	repo := NewSQLiteJobRepository(conn)

	job := seedJob(t, conn, owner)

	// 他人查询视同不存在
	loaded, err := repo.FindByIDForUser(job.ID, stranger)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// 他人更新不生效
	require.NoError(t, repo.SetProgress(job.ID, stranger, 0.9))
	loaded, err = repo.FindByIDForUser(job.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, 0.0, loaded.Progress)
}

func TestSetProgressIgnoredOnTerminalJob(t *testing.T) {
	conn := testDB(t)
	userID := seedUser(t, conn)
	repo := NewSQLiteJobRepository(conn)
	job := seedJob(t, conn, userID)

	// 排队中的任务不接受tick
	require.NoError(t, repo.SetProgress(job.ID, userID, 0.3))
	loaded, err := repo.FindByIDForUser(job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, loaded.Progress)

	require.NoError(t, repo.MarkRunning(job.ID, userID, 0.05))
	require.NoError(t, repo.MarkFailed(job.ID, userID, time.Now().UTC(), "render_error", "boom"))

	// 终态后迟到的tick不能把progress拉回1以下
	require.NoError(t, repo.SetProgress(job.ID, userID, 0.6))
	loaded, err = repo.FindByIDForUser(job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, loaded.Status)
	assert.Equal(t, 1.0, loaded.Progress)
}

func TestMarkFailedDefaultsErrorCode(t *testing.T) {
	conn := testDB(t)
	userID := seedUser(t, conn)
	repo := NewSQLiteJobRepository(conn)
	job := seedJob(t, conn, userID)

	require.NoError(t, repo.MarkFailed(job.ID, userID, time.Now().UTC(), "", "something broke"))
	loaded, err := repo.FindByIDForUser(job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "render_error", loaded.ErrorCode)
}

func TestFailInterruptedSweepsNonTerminalJobs(t *testing.T) {
	conn := testDB(t)
	userID := seedUser(t, conn)
	repo := NewSQLiteJobRepository(conn)

	queued := seedJob(t, conn, userID)
	running := seedJob(t, conn, userID)
	require.NoError(t, repo.MarkRunning(running.ID, userID, 0.05))
	failed := seedJob(t, conn, userID)
	require.NoError(t, repo.MarkFailed(failed.ID, userID, time.Now().UTC(), "space_quota", "kept"))

	swept, err := repo.FailInterrupted(time.Now().UTC(), "server restarted")
	require.NoError(t, err)
	assert.Equal(t, int64(2), swept)

	for _, id := range []string{queued.ID, running.ID} {
		loaded, err := repo.FindByIDForUser(id, userID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, loaded.Status)
		assert.Equal(t, "render_error", loaded.ErrorCode)
	}

	// 已终态的任务不受影响
	loaded, err := repo.FindByIDForUser(failed.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "space_quota", loaded.ErrorCode)
}
