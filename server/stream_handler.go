package server

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"

	"TextTune/logger"
	"TextTune/model"

	"github.com/gorilla/mux"
)

// loadTrackFile resolves an owned track and opens its audio file.
func (h *APIHandler) loadTrackFile(w http.ResponseWriter, r *http.Request) (*model.Track, *os.File, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return nil, nil, false
	}

	trackID := mux.Vars(r)["trackId"]
	track, err := h.trackRepo.FindByIDForUser(trackID, userID)
	if err != nil {
		logger.Error("failed to load track for streaming",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load track")
		return nil, nil, false
	}
	if track == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "Track not found")
		return nil, nil, false
	}

	file, err := os.Open(track.StorageKeyOriginal)
	if err != nil {
		logger.Error("audio file missing for track",
			logger.String("trackId", trackID),
			logger.String("path", track.StorageKeyOriginal),
			logger.ErrorField(err))
		writeError(w, http.StatusNotFound, codeNotFound, "Audio file not found")
		return nil, nil, false
	}
	return track, file, true
}

// StreamHandler serves a track's audio with Range support. ServeContent
// handles 206 partial responses and 416 for unsatisfiable ranges.
// URL: /v1/stream/{trackId}
func (h *APIHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	track, file, ok := h.loadTrackFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to stat audio file")
		return
	}

	w.Header().Set("Content-Type", model.ContentTypeForFormat(track.Format))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, "", info.ModTime(), file)
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]+`)

// downloadFilename turns the display title into a safe attachment filename.
func downloadFilename(track *model.Track) string {
	base := strings.TrimSpace(track.PromptTitle())
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")
	if len(base) > 60 {
		base = base[:60]
	}
	if base == "" {
		base = track.ID
	}
	return base + "." + track.Format
}

// DownloadHandler serves the same bytes as StreamHandler but as an attachment.
// URL: /v1/download/{trackId}
func (h *APIHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	track, file, ok := h.loadTrackFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to stat audio file")
		return
	}

	w.Header().Set("Content-Type", model.ContentTypeForFormat(track.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadFilename(track)))
	http.ServeContent(w, r, "", info.ModTime(), file)
}
