package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"TextTune/model"
)

// ErrJobNotLinked is returned when the success commit cannot find the job row
// it is supposed to terminate. The surrounding transaction is rolled back, so
// neither the track insert nor the job update survives.
var ErrJobNotLinked = errors.New("job update affected no rows")

// JobCompletion carries the job-side fields of the atomic success commit.
type JobCompletion struct {
	JobID      string
	UserID     string
	FinishedAt time.Time
	AudioURL   string
}

// TrackRepository defines the track data operations.
type TrackRepository interface {
	InsertAndLinkToJob(track *model.Track, link JobCompletion) error
	FindByIDForUser(id, userID string) (*model.Track, error)
	ListByUser(userID string, limit int) ([]*model.Track, error)
	DeleteByIDForUser(id, userID string) (*model.Track, error)
}

// sqliteTrackRepository implements TrackRepository for SQLite.
type sqliteTrackRepository struct {
	DB *sql.DB
}

// NewSQLiteTrackRepository creates a new instance of sqliteTrackRepository.
func NewSQLiteTrackRepository(db *sql.DB) TrackRepository {
	return &sqliteTrackRepository{DB: db}
}

// InsertAndLinkToJob 在同一事务中写入track并把job置为succeeded。
// job侧更新影响0行（任务被删除或归属不符）时整体回滚，绝不留下孤儿track。
func (r *sqliteTrackRepository) InsertAndLinkToJob(track *model.Track, link JobCompletion) error {
	params, err := marshalParams(track.Params)
	if err != nil {
		return err
	}
	if track.CreatedAt.IsZero() {
		track.CreatedAt = time.Now().UTC()
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for InsertAndLinkToJob: %w", err)
	}
	defer tx.Rollback()

	insertQuery := `INSERT INTO tracks
		(id, user_id, job_id, duration, samplerate, bitrate, format,
		 storage_key_original, storage_key_mp3, public, created_at,
		 prompt_raw, prompt_expanded, params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.Exec(insertQuery,
		track.ID, track.UserID, nullString(track.JobID), track.Duration, track.SampleRate,
		nullInt(track.Bitrate), track.Format, track.StorageKeyOriginal,
		nullString(track.StorageKeyMP3), boolToInt(track.Public), track.CreatedAt,
		track.PromptRaw, track.PromptExpanded, params)
	if err != nil {
		return fmt.Errorf("failed to insert track %s: %w", track.ID, err)
	}

	updateQuery := `UPDATE generation_jobs
		SET status = ?, progress = 1, finished_at = ?,
		    error_code = NULL, error = NULL,
		    result_track_id = ?, audio_url = ?
		WHERE id = ? AND user_id = ?`
	res, err := tx.Exec(updateQuery,
		string(model.JobStatusSucceeded), link.FinishedAt, track.ID, link.AudioURL,
		link.JobID, link.UserID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", link.JobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for job %s: %w", link.JobID, err)
	}
	if affected == 0 {
		return ErrJobNotLinked
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit InsertAndLinkToJob for job %s: %w", link.JobID, err)
	}
	return nil
}

const trackColumns = `id, user_id, job_id, duration, samplerate, bitrate, format,
	storage_key_original, storage_key_mp3, public, created_at,
	prompt_raw, prompt_expanded, params`

type trackScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrack(row trackScanner) (*model.Track, error) {
	track := &model.Track{}
	var jobID, mp3Key, params sql.NullString
	var bitrate sql.NullInt64
	var public int
	err := row.Scan(&track.ID, &track.UserID, &jobID, &track.Duration, &track.SampleRate,
		&bitrate, &track.Format, &track.StorageKeyOriginal, &mp3Key, &public,
		&track.CreatedAt, &track.PromptRaw, &track.PromptExpanded, &params)
	if err != nil {
		return nil, err
	}
	track.JobID = jobID.String
	track.StorageKeyMP3 = mp3Key.String
	track.Bitrate = int(bitrate.Int64)
	track.Public = public != 0
	track.Params = unmarshalParams(params)
	return track, nil
}

// FindByIDForUser retrieves a track owned by the given user.
// Returns (nil, nil) when no such pair exists.
func (r *sqliteTrackRepository) FindByIDForUser(id, userID string) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ? AND user_id = ?`
	track, err := scanTrack(r.DB.QueryRow(query, id, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan track %s: %w", id, err)
	}
	return track, nil
}

// ListByUser returns the user's tracks, newest first.
func (r *sqliteTrackRepository) ListByUser(userID string, limit int) ([]*model.Track, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + trackColumns + ` FROM tracks
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.DB.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks for user %s: %w", userID, err)
	}
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in ListByUser: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in ListByUser: %w", err)
	}
	return tracks, nil
}

// DeleteByIDForUser removes a track row and returns the deleted record so the
// caller can best-effort remove the stored audio object.
// Returns (nil, nil) when no such pair exists.
func (r *sqliteTrackRepository) DeleteByIDForUser(id, userID string) (*model.Track, error) {
	track, err := r.FindByIDForUser(id, userID)
	if err != nil || track == nil {
		return nil, err
	}
	if _, err := r.DB.Exec(`DELETE FROM tracks WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return nil, fmt.Errorf("failed to delete track %s: %w", id, err)
	}
	return track, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
