package model

import "time"

// JobStatus 表示生成任务的生命周期状态
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// GenerationParams are the audio parameters a job was submitted with.
// They are immutable after job creation and stored as a JSON column.
type GenerationParams struct {
	Duration   float64 `json:"duration"`   // seconds
	SampleRate int     `json:"samplerate"` // Hz
	Seed       *int64  `json:"seed"`
	Quality    string  `json:"quality"`
}

// GenerationJob is one requested text-to-audio rendering task.
//
// 不变式：result_track_id 仅在 succeeded 时存在，error 仅在 failed 时存在，
// 其余状态二者皆空。progress 在 running 期间单调不减，终态恒为 1。
type GenerationJob struct {
	ID             string           `json:"job_id"`
	UserID         string           `json:"-"`
	PromptRaw      string           `json:"prompt_raw"`
	PromptExpanded string           `json:"prompt_expanded"`
	Params         GenerationParams `json:"params"`
	Status         JobStatus        `json:"status"`
	Progress       float64          `json:"progress"`
	CreatedAt      time.Time        `json:"created_at"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	ErrorCode      string           `json:"error_code,omitempty"`
	Error          string           `json:"error,omitempty"`
	ResultTrackID  string           `json:"track_id,omitempty"`
	AudioURL       string           `json:"audio_url,omitempty"`
}
