package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"TextTune/config"
	"TextTune/core/audio"
	"TextTune/core/auth"
	"TextTune/core/generation"
	"TextTune/core/translate"
	"TextTune/logger"
	"TextTune/repository"
	"TextTune/storage"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	jobRepo      repository.JobRepository
	trackRepo    repository.TrackRepository
	userRepo     repository.UserRepository
	playlistRepo repository.PlaylistRepository
	scheduler    *generation.Scheduler
	policy       *generation.PolicyFilter
	translator   *translate.Translator
	backend      audio.RenderBackend
	archive      *storage.Archive
	hub          *ProgressHub
	cfg          *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	jobRepo repository.JobRepository,
	trackRepo repository.TrackRepository,
	userRepo repository.UserRepository,
	playlistRepo repository.PlaylistRepository,
	scheduler *generation.Scheduler,
	policy *generation.PolicyFilter,
	translator *translate.Translator,
	backend audio.RenderBackend,
	archive *storage.Archive,
	hub *ProgressHub,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		jobRepo:      jobRepo,
		trackRepo:    trackRepo,
		userRepo:     userRepo,
		playlistRepo: playlistRepo,
		scheduler:    scheduler,
		policy:       policy,
		translator:   translator,
		backend:      backend,
		archive:      archive,
		hub:          hub,
		cfg:          cfg,
	}
}

// 稳定错误码：客户端据此分支，消息文本可变
const (
	codeInvalidPrompt    = "invalid_prompt"
	codeBlockedPrompt    = "blocked_prompt"
	codeDurationTooLong  = "duration_too_long"
	codeNotFound         = "not_found"
	codeUnauthorized     = "unauthorized"
	codeInvalidRequest   = "invalid_request"
	codeInternalError    = "internal_error"
	codeSchedulerStopped = "server_shutting_down"
)

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// writeJSON serializes a success payload.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Error("failed to encode response", logger.ErrorField(err))
		}
	}
}

// writeError serializes a stable error code plus a human-readable message.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Error: message})
}

// AuthMiddleware 验证Bearer token并把用户身份写入请求上下文
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Get the Authorization header
		token := ""
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			// Check if the header has the correct format
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "Invalid authorization header format")
				return
			}
			token = parts[1]
		} else {
			// 浏览器的WebSocket API无法带自定义header，放行query参数token
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Authorization header is required")
			return
		}

		// Parse and validate the token
		claims, err := auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Invalid token")
			return
		}

		// Add user info to the request context
		ctx := context.WithValue(r.Context(), userIDContextKey, claims.UserID)
		ctx = context.WithValue(ctx, emailContextKey, claims.Email)

		// Call the next handler with the updated context
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

type contextKey string

const (
	userIDContextKey contextKey = "userID"
	emailContextKey  contextKey = "email"
)

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetEmailFromContext extracts the email from the request context
func GetEmailFromContext(ctx context.Context) (string, error) {
	email, ok := ctx.Value(emailContextKey).(string)
	if !ok {
		return "", fmt.Errorf("email not found in context")
	}
	return email, nil
}
