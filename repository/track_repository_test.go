package repository

import (
	"testing"
	"time"

	"TextTune/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndLinkToJobCommitsAtomically(t *testing.T) {
	conn := testDB(t)
	userID := seedUser(t, conn)
	job := seedJob(t, conn, userID)

	jobRepo := NewSQLiteJobRepository(conn)
	require.NoError(t, jobRepo.MarkRunning(job.ID, userID, 0.5))

	trackRepo := NewSQLiteTrackRepository(conn)
	finished := time.Now().UTC()
	track := &model.Track{
		ID:                 uuid.NewString(),
		UserID:             userID,
		JobID:              job.ID,
		Duration:           10,
		SampleRate:         44100,
		Format:             "wav",
		StorageKeyOriginal: "/tmp/a.wav",
		CreatedAt:          finished,
		PromptRaw:          job.PromptRaw,
		Params:             job.Params,
	}
	require.NoError(t, trackRepo.InsertAndLinkToJob(track, JobCompletion{
		JobID:      job.ID,
		UserID:     userID,
		FinishedAt: finished,
		AudioURL:   "/v1/stream/" + track.ID,
	}))

	// 任务终态与曲目同事务落库
	loadedJob, err := jobRepo.FindByIDForUser(job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSucceeded, loadedJob.Status)
	assert.Equal(t, 1.0, loadedJob.Progress)
	assert.Equal(t, track.ID, loadedJob.ResultTrackID)
	assert.Equal(t, "/v1/stream/"+track.ID, loadedJob.AudioURL)
	assert.Empty(t, loadedJob.Error)
	require.NotNil(t, loadedJob.FinishedAt)

	loadedTrack, err := trackRepo.FindByIDForUser(track.ID, userID)
	require.NoError(t, err)
	require.NotNil(t, loadedTrack)
	assert.Equal(t, job.ID, loadedTrack.JobID)
	assert.Equal(t, "wav", loadedTrack.Format)
}

func TestInsertAndLinkToJobRollsBackWhenJobMissing(t *testing.T) {
	conn := testDB(t)
	userID := seedUser(t, conn)
	trackRepo := NewSQLiteTrackRepository(conn)

	track := &model.Track{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Duration:           10,
		Format:             "wav",
		StorageKeyOriginal: "/tmp/a.wav",
		CreatedAt:          time.Now().UTC(),
	}
	err := trackRepo.InsertAndLinkToJob(track, JobCompletion{
		JobID:      uuid.NewString(), // 不存在的任务
		UserID:     userID,
		FinishedAt: time.Now().UTC(),
		AudioURL:   "/v1/stream/" + track.ID,
	})
	require.ErrorIs(t, err, ErrJobNotLinked)

	// 整个事务回滚，曲目不应存在
	loaded, findErr := trackRepo.FindByIDForUser(track.ID, userID)
	require.NoError(t, findErr)
	assert.Nil(t, loaded)
}

func TestInsertAndLinkToJobRejectsForeignJob(t *testing.T) {
	conn := testDB(t)
	owner := seedUser(t, conn)
	stranger := seedUser(t, conn)
	job := seedJob(t, conn, owner)

	trackRepo := NewSQLiteTrackRepository(conn)
	track := &model.Track{
		ID:                 uuid.NewString(),
		UserID:             stranger,
		Duration:           10,
		Format:             "wav",
		StorageKeyOriginal: "/tmp/a.wav",
		CreatedAt:          time.Now().UTC(),
	}
	// 任务属于owner，以stranger身份提交必须失败
	err := trackRepo.InsertAndLinkToJob(track, JobCompletion{
		JobID:      job.ID,
		UserID:     stranger,
		FinishedAt: time.Now().UTC(),
		AudioURL:   "/v1/stream/" + track.ID,
	})
	require.ErrorIs(t, err, ErrJobNotLinked)
}

func TestListByUserNewestFirst(t *testing.T) {
	conn := testDB(t)
	userID := seedUser(t, conn)
	trackRepo := NewSQLiteTrackRepository(conn)

	first := seedTrack(t, conn, userID)
	time.Sleep(5 * time.Millisecond)
	second := seedTrack(t, conn, userID)

	tracks, err := trackRepo.ListByUser(userID, 10)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, second.ID, tracks[0].ID)
	assert.Equal(t, first.ID, tracks[1].ID)

	limited, err := trackRepo.ListByUser(userID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)
}

func TestDeleteByIDForUserScoped(t *testing.T) {
	conn := testDB(t)
	owner := seedUser(t, conn)
	stranger := seedUser(t, conn)
	trackRepo := NewSQLiteTrackRepository(conn)

	track := seedTrack(t, conn, owner)

	// 他人删除无效
	deleted, err := trackRepo.DeleteByIDForUser(track.ID, stranger)
	require.NoError(t, err)
	assert.Nil(t, deleted)

	deleted, err = trackRepo.DeleteByIDForUser(track.ID, owner)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, track.StorageKeyOriginal, deleted.StorageKeyOriginal)

	gone, err := trackRepo.FindByIDForUser(track.ID, owner)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
