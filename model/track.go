package model

import (
	"strings"
	"time"
)

// Track represents a persisted audio artifact produced by a succeeded job.
// A track row is only ever created inside the same transaction that marks
// its job succeeded, so a track existing implies a succeeded job points at it.
type Track struct {
	ID                 string           `json:"id"`
	UserID             string           `json:"-"`
	JobID              string           `json:"job_id,omitempty"` // weak back-reference, may outlive job cleanup
	Duration           float64          `json:"duration"`
	SampleRate         int              `json:"samplerate"`
	Bitrate            int              `json:"bitrate,omitempty"`
	Format             string           `json:"format"`
	StorageKeyOriginal string           `json:"-"` // path of the primary stored audio object
	StorageKeyMP3      string           `json:"-"` // optional transcoded copy
	Public             bool             `json:"public"`
	CreatedAt          time.Time        `json:"created_at"`
	PromptRaw          string           `json:"prompt_raw"`
	PromptExpanded     string           `json:"prompt_expanded"`
	Params             GenerationParams `json:"params"`
}

// PromptTitle derives a display title from the prompts, falling back to a
// short id fragment.
func (t *Track) PromptTitle() string {
	raw := strings.TrimSpace(t.PromptRaw)
	if raw == "" {
		raw = strings.TrimSpace(t.PromptExpanded)
	}
	if raw != "" {
		return raw
	}
	idPart := t.ID
	if len(idPart) > 8 {
		idPart = idPart[:8]
	}
	if idPart == "" {
		idPart = "track"
	}
	return "track #" + idPart
}

// ContentTypeForFormat maps an audio format tag to its MIME type.
func ContentTypeForFormat(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	case "ogg", "oga":
		return "audio/ogg"
	default:
		return "audio/wav"
	}
}
