package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"TextTune/config"
)

// 渲染失败默认错误码；配额类失败单独分类，便于前端给出可操作的提示
const (
	CodeRenderError = "render_error"
	CodeSpaceQuota  = "space_quota"
)

// RenderRequest carries everything a backend needs to produce one audio file.
type RenderRequest struct {
	Prompt         string  // expanded prompt, backend-facing
	Duration       float64 // seconds, already clamped at submission
	SampleRate     int     // Hz, backends clamp to their own supported range
	Seed           *int64
	OutDir         string // destination directory, scoped to the owning user
	FilenamePrefix string
}

// RenderResult describes the audio file a backend wrote to durable storage.
type RenderResult struct {
	FilePath    string
	Format      string // wav, mp3, flac, ogg
	ContentType string
	ModelID     string
}

// RenderBackend turns a prompt plus parameters into an audio file. Exactly one
// concrete backend is configured per deployment and injected into the
// scheduler; there is no per-request switching.
type RenderBackend interface {
	Name() string
	Render(ctx context.Context, req RenderRequest) (*RenderResult, error)
}

// BackendError is a render failure with a machine-readable code.
type BackendError struct {
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	return e.Message
}

// ErrorCode extracts the code of a backend error, defaulting to render_error.
func ErrorCode(err error) string {
	if be, ok := err.(*BackendError); ok && be.Code != "" {
		return be.Code
	}
	return CodeRenderError
}

// NewBackendFromConfig selects the rendering backend once at startup.
// Priority: managed Space, hosted inference endpoint, local synthesizer.
func NewBackendFromConfig(cfg *config.Config) RenderBackend {
	if cfg.HFSpaceID != "" {
		return NewSpaceBackend(cfg.HFSpaceID, cfg.HFAPIToken)
	}
	if cfg.HFAPIToken != "" {
		return NewInferenceBackend(cfg.HFModelID, cfg.HFInferenceEndpoint, cfg.HFAPIToken)
	}
	return NewSynthBackend()
}

// clampSampleRate normalizes a requested sample rate to the 8k-48k range the
// backends support, defaulting invalid values to 44100.
func clampSampleRate(rate int) int {
	if rate <= 0 {
		return 44100
	}
	if rate < 8000 {
		return 8000
	}
	if rate > 48000 {
		return 48000
	}
	return rate
}

// extensionFromContentType maps a response content type to a file extension.
func extensionFromContentType(contentType string) string {
	lowered := strings.ToLower(contentType)
	switch {
	case strings.Contains(lowered, "wav"):
		return "wav"
	case strings.Contains(lowered, "mpeg"):
		return "mp3"
	case strings.Contains(lowered, "flac"):
		return "flac"
	case strings.Contains(lowered, "ogg"):
		return "ogg"
	default:
		return "mp3"
	}
}

// writeAudioFile persists raw audio bytes under the request's output directory.
func writeAudioFile(req RenderRequest, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(req.OutDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	prefix := req.FilenamePrefix
	if prefix == "" {
		prefix = "track"
	}
	filePath := filepath.Join(req.OutDir, prefix+"."+ext)
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}
	return filePath, nil
}
