package repository

import (
	"database/sql"
	"testing"
	"time"

	"TextTune/db"
	"TextTune/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// testDB 打开内存库并初始化schema
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	_, err = conn.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(conn))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func seedUser(t *testing.T, conn *sql.DB) string {
	t.Helper()
	repo := NewSQLiteUserRepository(conn)
	user := &model.User{
		Username:     "user-" + uuid.NewString()[:8],
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "x",
	}
	require.NoError(t, repo.CreateUser(user))
	return user.ID
}

func seedJob(t *testing.T, conn *sql.DB, userID string) *model.GenerationJob {
	t.Helper()
	repo := NewSQLiteJobRepository(conn)
	job := &model.GenerationJob{
		ID:             uuid.NewString(),
		UserID:         userID,
		PromptRaw:      "ambient pads",
		PromptExpanded: "ambient pads, instrumental, clean mix, mastered, no vocals",
		Params:         model.GenerationParams{Duration: 10, SampleRate: 44100},
	}
	require.NoError(t, repo.Create(job))
	return job
}

func seedTrack(t *testing.T, conn *sql.DB, userID string) *model.Track {
	t.Helper()
	job := seedJob(t, conn, userID)
	repo := NewSQLiteTrackRepository(conn)
	track := &model.Track{
		ID:                 uuid.NewString(),
		UserID:             userID,
		JobID:              job.ID,
		Duration:           10,
		SampleRate:         44100,
		Format:             "wav",
		StorageKeyOriginal: "/tmp/" + uuid.NewString() + ".wav",
		CreatedAt:          time.Now().UTC(),
		PromptRaw:          job.PromptRaw,
		PromptExpanded:     job.PromptExpanded,
		Params:             job.Params,
	}
	require.NoError(t, repo.InsertAndLinkToJob(track, JobCompletion{
		JobID:      job.ID,
		UserID:     userID,
		FinishedAt: time.Now().UTC(),
		AudioURL:   "/v1/stream/" + track.ID,
	}))
	return track
}
