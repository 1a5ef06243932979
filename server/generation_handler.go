package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"TextTune/cache"
	"TextTune/core/generation"
	"TextTune/logger"
	"TextTune/model"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type createGenerationRequest struct {
	Prompt     string  `json:"prompt"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"samplerate"`
	Seed       *int64  `json:"seed"`
	Quality    string  `json:"quality"`
}

// CreateGenerationHandler 提交一个文本生成音频任务
//
// 提交路径同步完成校验、翻译、扩写和入库；渲染本身交给调度器排队。
func (h *APIHandler) CreateGenerationHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	var req createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body")
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, codeInvalidPrompt, "Prompt must not be empty")
		return
	}
	if h.policy.Violates(prompt) {
		logger.Warn("prompt rejected by content policy", logger.String("userId", userID))
		writeError(w, http.StatusBadRequest, codeBlockedPrompt, "Prompt contains disallowed content")
		return
	}

	duration := req.Duration
	if duration <= 0 {
		duration = h.cfg.DefaultDurationSeconds
	}
	if duration < 1 {
		duration = 1
	}
	if duration > h.cfg.MaxDurationSeconds {
		// 客户端需要max来提示合法范围
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"code":  codeDurationTooLong,
			"error": "Requested duration exceeds the maximum",
			"max":   h.cfg.MaxDurationSeconds,
		})
		return
	}

	// 韩文提示词先翻译再扩写；翻译失败时降级为原文
	translated := h.translator.Translate(r.Context(), prompt)
	expanded := generation.ExpandPrompt(translated)

	job := &model.GenerationJob{
		ID:             uuid.New().String(),
		UserID:         userID,
		PromptRaw:      prompt,
		PromptExpanded: expanded,
		Params: model.GenerationParams{
			Duration:   duration,
			SampleRate: req.SampleRate,
			Seed:       req.Seed,
			Quality:    req.Quality,
		},
		Status:   model.JobStatusQueued,
		Progress: 0,
	}
	if err := h.jobRepo.Create(job); err != nil {
		logger.Error("failed to persist job", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to create generation job")
		return
	}

	if err := h.scheduler.Enqueue(job); err != nil {
		if errors.Is(err, generation.ErrSchedulerStopped) {
			writeError(w, http.StatusServiceUnavailable, codeSchedulerStopped, "Server is shutting down")
			return
		}
		logger.Error("failed to enqueue job", logger.String("jobId", job.ID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to enqueue generation job")
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// GetGenerationHandler 查询任务状态，运行中优先使用进度缓存的较新值
func (h *APIHandler) GetGenerationHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	jobID := mux.Vars(r)["jobId"]
	job, err := h.jobRepo.FindByIDForUser(jobID, userID)
	if err != nil {
		logger.Error("failed to load job", logger.String("jobId", jobID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "Job not found")
		return
	}

	if job.Status == model.JobStatusRunning {
		if cached, ok := cache.GetJobProgress(r.Context(), job.ID); ok && cached > job.Progress {
			job.Progress = cached
		}
	}

	writeJSON(w, http.StatusOK, job)
}
