package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"TextTune/logger"
)

const hfRouterTemplate = "https://router.huggingface.co/hf-inference/models/%s"

// 瞬时失败（模型加载中/限流）重试上限
const maxInferenceRetries = 3

// InferenceBackend renders audio through a hosted Hugging Face inference
// endpoint with a single synchronous HTTP call. Transient-unavailable
// responses (503 model loading, 429 rate limit) are retried with exponential
// backoff, honoring the server's estimated_time hint when present.
type InferenceBackend struct {
	modelID string
	apiURL  string
	token   string
	client  *http.Client

	// sleep is stubbed in tests to avoid real backoff waits. It must return
	// early with the context error when the render deadline hits mid-backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewInferenceBackend creates the hosted-inference backend. An empty endpoint
// resolves to the public router URL for the model.
func NewInferenceBackend(modelID, endpoint, token string) *InferenceBackend {
	apiURL := endpoint
	if apiURL == "" {
		apiURL = fmt.Sprintf(hfRouterTemplate, modelID)
	}
	return &InferenceBackend{
		modelID: modelID,
		apiURL:  apiURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Minute},
		sleep:   contextSleep,
	}
}

func (b *InferenceBackend) Name() string { return "huggingface-inference" }

type inferenceParameters struct {
	SecondsTotal    float64 `json:"seconds_total"`
	AudioEndSeconds float64 `json:"audio_end_seconds"`
	SampleRate      int     `json:"sample_rate"`
	Seed            *int64  `json:"seed,omitempty"`
}

type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
	Options    struct {
		WaitForModel bool `json:"wait_for_model"`
	} `json:"options"`
}

// Render performs the inference call and writes the returned audio bytes.
func (b *InferenceBackend) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	if b.token == "" {
		return nil, &BackendError{Code: CodeRenderError, Message: "HF_API_TOKEN is required to call the inference API"}
	}

	seconds := req.Duration
	if seconds <= 0 {
		seconds = 12
	}
	body := inferenceRequest{
		Inputs: req.Prompt,
		Parameters: inferenceParameters{
			SecondsTotal:    seconds,
			AudioEndSeconds: seconds,
			SampleRate:      clampSampleRate(req.SampleRate),
			Seed:            req.Seed,
		},
	}
	body.Options.WaitForModel = true
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	resp, err := b.requestWithRetry(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &BackendError{
			Code:    CodeRenderError,
			Message: fmt.Sprintf("inference failed via %s: %d %s", b.apiURL, resp.StatusCode, string(detail)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read inference response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	ext := extensionFromContentType(contentType)

	filePath, err := writeAudioFile(req, ext, data)
	if err != nil {
		return nil, err
	}

	return &RenderResult{
		FilePath:    filePath,
		Format:      ext,
		ContentType: contentType,
		ModelID:     b.modelID,
	}, nil
}

// requestWithRetry posts the payload, backing off on 503/429 up to the retry
// ceiling. Other status codes are returned to the caller immediately.
func (b *InferenceBackend) requestWithRetry(ctx context.Context, payload []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to build inference request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+b.token)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/octet-stream, audio/*, */*")

		resp, err := b.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("inference request failed: %w", err)
		}

		if resp.StatusCode != http.StatusServiceUnavailable && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		if attempt >= maxInferenceRetries {
			return resp, nil
		}

		wait := 1500 * time.Millisecond << uint(attempt)
		// 尽量遵循服务端给出的预计等待时间
		var hint struct {
			EstimatedTime float64 `json:"estimated_time"`
		}
		if body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil {
			if json.Unmarshal(body, &hint) == nil && hint.EstimatedTime > 0 {
				suggested := time.Duration(hint.EstimatedTime * float64(time.Second))
				if suggested > wait {
					wait = suggested
				}
			}
		}
		resp.Body.Close()

		logger.Warn("inference backend busy, retrying",
			logger.Int("attempt", attempt+1),
			logger.Int("status", resp.StatusCode),
			logger.Duration("wait", wait),
		)

		// 等待期间渲染超时要立刻让出唯一的工作槽位
		if err := b.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}
