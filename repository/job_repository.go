package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"TextTune/model"
)

// JobRepository defines the durable lifecycle operations for generation jobs.
// Every read and update is scoped by (id, user_id); a mismatched pair behaves
// like a missing row, never a cross-user leak. Terminal success is written by
// TrackRepository.InsertAndLinkToJob so the track insert and the job update
// share one transaction.
type JobRepository interface {
	Create(job *model.GenerationJob) error
	FindByIDForUser(id, userID string) (*model.GenerationJob, error)
	MarkRunning(id, userID string, progress float64) error
	SetProgress(id, userID string, progress float64) error
	MarkFailed(id, userID string, finishedAt time.Time, errorCode, errMsg string) error
	FailInterrupted(finishedAt time.Time, errMsg string) (int64, error)
}

// sqliteJobRepository implements JobRepository for SQLite.
type sqliteJobRepository struct {
	DB *sql.DB
}

// NewSQLiteJobRepository creates a new instance of sqliteJobRepository.
func NewSQLiteJobRepository(db *sql.DB) JobRepository {
	return &sqliteJobRepository{DB: db}
}

// marshalParams serializes job parameters into the params JSON column.
func marshalParams(p model.GenerationParams) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}
	return string(data), nil
}

// unmarshalParams is lenient: a corrupt column yields zero params, not an error.
func unmarshalParams(raw sql.NullString) model.GenerationParams {
	var p model.GenerationParams
	if raw.Valid && raw.String != "" {
		_ = json.Unmarshal([]byte(raw.String), &p)
	}
	return p
}

// Create inserts a freshly submitted job in its initial state.
func (r *sqliteJobRepository) Create(job *model.GenerationJob) error {
	params, err := marshalParams(job.Params)
	if err != nil {
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}

	query := `INSERT INTO generation_jobs
		(id, user_id, prompt_raw, prompt_expanded, params, status, progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.DB.Exec(query,
		job.ID, job.UserID, job.PromptRaw, job.PromptExpanded, params,
		string(job.Status), job.Progress, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute Create for job %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `id, user_id, prompt_raw, prompt_expanded, params, status, progress,
	created_at, finished_at, error_code, error, result_track_id, audio_url`

func scanJob(row *sql.Row) (*model.GenerationJob, error) {
	job := &model.GenerationJob{}
	var params, errorCode, errMsg, trackID, audioURL sql.NullString
	var status string
	var finishedAt sql.NullTime
	err := row.Scan(&job.ID, &job.UserID, &job.PromptRaw, &job.PromptExpanded, &params,
		&status, &job.Progress, &job.CreatedAt, &finishedAt,
		&errorCode, &errMsg, &trackID, &audioURL)
	if err != nil {
		return nil, err
	}
	job.Params = unmarshalParams(params)
	job.Status = model.JobStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	job.ErrorCode = errorCode.String
	job.Error = errMsg.String
	job.ResultTrackID = trackID.String
	job.AudioURL = audioURL.String
	return job, nil
}

// FindByIDForUser retrieves a job owned by the given user.
// Returns (nil, nil) when no such pair exists.
func (r *sqliteJobRepository) FindByIDForUser(id, userID string) (*model.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = ? AND user_id = ?`
	job, err := scanJob(r.DB.QueryRow(query, id, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan job %s: %w", id, err)
	}
	return job, nil
}

// MarkRunning transitions a job to running with its initial progress. Idempotent.
func (r *sqliteJobRepository) MarkRunning(id, userID string, progress float64) error {
	query := `UPDATE generation_jobs SET status = ?, progress = ? WHERE id = ? AND user_id = ?`
	if _, err := r.DB.Exec(query, string(model.JobStatusRunning), progress, id, userID); err != nil {
		return fmt.Errorf("failed to execute MarkRunning for job %s: %w", id, err)
	}
	return nil
}

// SetProgress persists a progress estimate tick. Only running jobs accept
// ticks; a tick racing a terminal transition becomes a no-op.
func (r *sqliteJobRepository) SetProgress(id, userID string, progress float64) error {
	query := `UPDATE generation_jobs SET progress = ? WHERE id = ? AND user_id = ? AND status = ?`
	if _, err := r.DB.Exec(query, progress, id, userID, model.JobStatusRunning); err != nil {
		return fmt.Errorf("failed to execute SetProgress for job %s: %w", id, err)
	}
	return nil
}

// FailInterrupted terminates every non-terminal job. The in-process queue does
// not survive a restart, so leftover queued/running rows are swept to failed
// at startup.
func (r *sqliteJobRepository) FailInterrupted(finishedAt time.Time, errMsg string) (int64, error) {
	query := `UPDATE generation_jobs
		SET status = ?, progress = 1, finished_at = ?, error_code = 'render_error', error = ?
		WHERE status IN (?, ?)`
	res, err := r.DB.Exec(query, string(model.JobStatusFailed), finishedAt, errMsg,
		string(model.JobStatusQueued), string(model.JobStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to execute FailInterrupted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// MarkFailed terminates a job with an error. No track row is ever written here.
func (r *sqliteJobRepository) MarkFailed(id, userID string, finishedAt time.Time, errorCode, errMsg string) error {
	if errorCode == "" {
		errorCode = "render_error"
	}
	query := `UPDATE generation_jobs
		SET status = ?, progress = 1, finished_at = ?, error_code = ?, error = ?
		WHERE id = ? AND user_id = ?`
	if _, err := r.DB.Exec(query, string(model.JobStatusFailed), finishedAt, errorCode, errMsg, id, userID); err != nil {
		return fmt.Errorf("failed to execute MarkFailed for job %s: %w", id, err)
	}
	return nil
}
