package server

import (
	"net/http"
	"os"
	"strconv"

	"TextTune/logger"
	"TextTune/model"

	"github.com/gorilla/mux"
)

// trackResponse decorates a track with its derived display title and the
// serving URLs the web app consumes.
type trackResponse struct {
	*model.Track
	Title       string `json:"title"`
	AudioURL    string `json:"audio_url"`
	DownloadURL string `json:"download_url"`
}

func newTrackResponse(t *model.Track) trackResponse {
	return trackResponse{
		Track:       t,
		Title:       t.PromptTitle(),
		AudioURL:    "/v1/stream/" + t.ID,
		DownloadURL: "/v1/download/" + t.ID,
	}
}

// GetLibraryHandler 返回用户的音频库，按创建时间倒序
func (h *APIHandler) GetLibraryHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	tracks, err := h.trackRepo.ListByUser(userID, limit)
	if err != nil {
		logger.Error("failed to list library tracks", logger.String("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load library")
		return
	}

	items := make([]trackResponse, 0, len(tracks))
	for _, t := range tracks {
		items = append(items, newTrackResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tracks": items})
}

// GetTrackHandler 返回单曲元数据
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	trackID := mux.Vars(r)["trackId"]
	track, err := h.trackRepo.FindByIDForUser(trackID, userID)
	if err != nil {
		logger.Error("failed to load track", logger.String("trackId", trackID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load track")
		return
	}
	if track == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "Track not found")
		return
	}
	writeJSON(w, http.StatusOK, newTrackResponse(track))
}

// DeleteTrackHandler 从库中删除曲目：先删行，再尽力清理磁盘文件和归档副本
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	trackID := mux.Vars(r)["trackId"]
	track, err := h.trackRepo.DeleteByIDForUser(trackID, userID)
	if err != nil {
		logger.Error("failed to delete track", logger.String("trackId", trackID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to delete track")
		return
	}
	if track == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "Track not found")
		return
	}

	if track.StorageKeyOriginal != "" {
		if err := os.Remove(track.StorageKeyOriginal); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove audio file",
				logger.String("path", track.StorageKeyOriginal),
				logger.ErrorField(err))
		}
	}
	if h.archive != nil {
		h.archive.RemoveTrack(r.Context(), userID, track.ID, track.Format)
	}

	logger.Info("track deleted", logger.String("trackId", trackID), logger.String("userId", userID))
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "id": trackID})
}
