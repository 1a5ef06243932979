package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"TextTune/core/auth"
	"TextTune/logger"
	"TextTune/model"

	"github.com/google/uuid"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// RegisterHandler 用户注册
func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest,
			"username, email and a password of at least 6 characters are required")
		return
	}

	if existing, err := h.userRepo.GetUserByEmail(req.Email); err != nil {
		logger.Error("failed to look up user by email", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to register")
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, codeInvalidRequest, "Email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("failed to hash password", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to register")
		return
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := h.userRepo.CreateUser(user); err != nil {
		logger.Error("failed to create user", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to register")
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		logger.Error("failed to generate token", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to register")
		return
	}

	logger.Info("user registered", logger.String("userId", user.ID))
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

// LoginHandler 用户登录
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.userRepo.GetUserByEmail(req.Email)
	if err != nil {
		logger.Error("failed to look up user by email", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to log in")
		return
	}
	// 未注册与密码错误返回同一错误，避免账号枚举
	if user == nil || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Invalid email or password")
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		logger.Error("failed to generate token", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to log in")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// DevLoginHandler 仅凭email换取token，方便本地开发。需显式开启 ALLOW_DEV_LOGIN。
func (h *APIHandler) DevLoginHandler(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.AllowDevLogin {
		writeError(w, http.StatusNotFound, codeNotFound, "Not found")
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "A valid email is required")
		return
	}

	user, err := h.userRepo.FindOrCreateByEmail(req.Email)
	if err != nil {
		logger.Error("failed to find or create dev user", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to log in")
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		logger.Error("failed to generate token", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to log in")
		return
	}

	logger.Info("dev login issued", logger.String("userId", user.ID))
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// MeHandler 返回当前登录用户
func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	user, err := h.userRepo.GetUserByID(userID)
	if err != nil {
		logger.Error("failed to load user", logger.String("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
