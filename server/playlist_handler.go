package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"TextTune/logger"

	"github.com/gorilla/mux"
)

// CreatePlaylistHandler 创建播放列表
func (h *APIHandler) CreatePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Playlist title must not be empty")
		return
	}

	playlist, err := h.playlistRepo.Create(userID, req.Title)
	if err != nil {
		logger.Error("failed to create playlist", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to create playlist")
		return
	}
	writeJSON(w, http.StatusCreated, playlist)
}

// ListPlaylistsHandler 列出用户的播放列表
func (h *APIHandler) ListPlaylistsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	playlists, err := h.playlistRepo.ListByUser(userID)
	if err != nil {
		logger.Error("failed to list playlists", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load playlists")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"playlists": playlists})
}

// GetPlaylistHandler 返回播放列表及其按位置排序的曲目
func (h *APIHandler) GetPlaylistHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	playlistID := mux.Vars(r)["playlistId"]
	playlist, err := h.playlistRepo.FindByIDForUser(playlistID, userID)
	if err != nil {
		logger.Error("failed to load playlist", logger.String("playlistId", playlistID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load playlist")
		return
	}
	if playlist == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "Playlist not found")
		return
	}

	entries, err := h.playlistRepo.ListTracks(userID, playlistID)
	if err != nil {
		logger.Error("failed to load playlist tracks", logger.String("playlistId", playlistID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load playlist tracks")
		return
	}

	tracks := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		tracks = append(tracks, map[string]interface{}{
			"position": entry.Position,
			"track":    newTrackResponse(&entry.Track),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"playlist": playlist,
		"tracks":   tracks,
	})
}

// DeletePlaylistHandler 删除播放列表（级联清空关联行）
func (h *APIHandler) DeletePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	playlistID := mux.Vars(r)["playlistId"]
	deleted, err := h.playlistRepo.DeleteByIDForUser(playlistID, userID)
	if err != nil {
		logger.Error("failed to delete playlist", logger.String("playlistId", playlistID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to delete playlist")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, codeNotFound, "Playlist not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "id": playlistID})
}

// AddPlaylistTrackHandler 把库中的曲目追加到播放列表尾部
func (h *APIHandler) AddPlaylistTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	playlistID := mux.Vars(r)["playlistId"]
	var req struct {
		TrackID string `json:"track_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "track_id is required")
		return
	}

	playlist, err := h.playlistRepo.FindByIDForUser(playlistID, userID)
	if err != nil {
		logger.Error("failed to load playlist", logger.String("playlistId", playlistID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to add track to playlist")
		return
	}
	if playlist == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "Playlist not found")
		return
	}

	added, err := h.playlistRepo.AddTrack(userID, playlistID, req.TrackID)
	if err != nil {
		logger.Error("failed to add track to playlist",
			logger.String("playlistId", playlistID),
			logger.String("trackId", req.TrackID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to add track to playlist")
		return
	}
	// added为false表示曲目已在列表中
	writeJSON(w, http.StatusOK, map[string]interface{}{"added": added})
}

// RemovePlaylistTrackHandler 从播放列表移除曲目
func (h *APIHandler) RemovePlaylistTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	vars := mux.Vars(r)
	removed, err := h.playlistRepo.RemoveTrack(userID, vars["playlistId"], vars["trackId"])
	if err != nil {
		logger.Error("failed to remove track from playlist", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to remove track from playlist")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, codeNotFound, "Playlist or track not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": true})
}
