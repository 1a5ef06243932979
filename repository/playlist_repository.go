package repository

import (
	"database/sql"
	"fmt"
	"time"

	"TextTune/model"

	"github.com/google/uuid"
)

// PlaylistRepository defines playlist data operations, all scoped to an owner.
type PlaylistRepository interface {
	Create(userID, title string) (*model.Playlist, error)
	ListByUser(userID string) ([]*model.Playlist, error)
	FindByIDForUser(id, userID string) (*model.Playlist, error)
	DeleteByIDForUser(id, userID string) (bool, error)
	AddTrack(userID, playlistID, trackID string) (bool, error)
	RemoveTrack(userID, playlistID, trackID string) (bool, error)
	ListTracks(userID, playlistID string) ([]*model.PlaylistTrack, error)
}

// sqlitePlaylistRepository implements PlaylistRepository for SQLite.
type sqlitePlaylistRepository struct {
	DB *sql.DB
}

// NewSQLitePlaylistRepository creates a new instance of sqlitePlaylistRepository.
func NewSQLitePlaylistRepository(db *sql.DB) PlaylistRepository {
	return &sqlitePlaylistRepository{DB: db}
}

func (r *sqlitePlaylistRepository) Create(userID, title string) (*model.Playlist, error) {
	if title == "" {
		title = "New Playlist"
	}
	pl := &model.Playlist{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	query := `INSERT INTO playlists (id, user_id, title, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.DB.Exec(query, pl.ID, pl.UserID, pl.Title, pl.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to execute Create playlist: %w", err)
	}
	return pl, nil
}

func (r *sqlitePlaylistRepository) ListByUser(userID string) ([]*model.Playlist, error) {
	query := `SELECT id, user_id, title, created_at FROM playlists
		WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.DB.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists for user %s: %w", userID, err)
	}
	defer rows.Close()

	playlists := make([]*model.Playlist, 0)
	for rows.Next() {
		pl := &model.Playlist{}
		if err := rows.Scan(&pl.ID, &pl.UserID, &pl.Title, &pl.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playlist in ListByUser: %w", err)
		}
		playlists = append(playlists, pl)
	}
	return playlists, rows.Err()
}

func (r *sqlitePlaylistRepository) FindByIDForUser(id, userID string) (*model.Playlist, error) {
	query := `SELECT id, user_id, title, created_at FROM playlists WHERE id = ? AND user_id = ?`
	pl := &model.Playlist{}
	err := r.DB.QueryRow(query, id, userID).Scan(&pl.ID, &pl.UserID, &pl.Title, &pl.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan playlist %s: %w", id, err)
	}
	return pl, nil
}

func (r *sqlitePlaylistRepository) DeleteByIDForUser(id, userID string) (bool, error) {
	res, err := r.DB.Exec(`DELETE FROM playlists WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete playlist %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for playlist %s: %w", id, err)
	}
	return affected > 0, nil
}

// AddTrack appends a track at the end of the playlist. Returns false when the
// playlist does not belong to the user. Re-adding an existing track is a no-op.
func (r *sqlitePlaylistRepository) AddTrack(userID, playlistID, trackID string) (bool, error) {
	pl, err := r.FindByIDForUser(playlistID, userID)
	if err != nil || pl == nil {
		return false, err
	}

	var maxPos int
	err = r.DB.QueryRow(`SELECT COALESCE(MAX(pos), 0) FROM playlist_tracks WHERE playlist_id = ?`,
		playlistID).Scan(&maxPos)
	if err != nil {
		return false, fmt.Errorf("failed to read max position for playlist %s: %w", playlistID, err)
	}

	query := `INSERT OR IGNORE INTO playlist_tracks (playlist_id, track_id, pos, added_at)
		VALUES (?, ?, ?, ?)`
	res, err := r.DB.Exec(query, playlistID, trackID, maxPos+1, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to add track %s to playlist %s: %w", trackID, playlistID, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *sqlitePlaylistRepository) RemoveTrack(userID, playlistID, trackID string) (bool, error) {
	pl, err := r.FindByIDForUser(playlistID, userID)
	if err != nil || pl == nil {
		return false, err
	}
	res, err := r.DB.Exec(`DELETE FROM playlist_tracks WHERE playlist_id = ? AND track_id = ?`,
		playlistID, trackID)
	if err != nil {
		return false, fmt.Errorf("failed to remove track %s from playlist %s: %w", trackID, playlistID, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListTracks returns the playlist's tracks in playback order. Only tracks still
// owned by the user are included.
func (r *sqlitePlaylistRepository) ListTracks(userID, playlistID string) ([]*model.PlaylistTrack, error) {
	query := `SELECT t.id, t.user_id, t.job_id, t.duration, t.samplerate, t.bitrate,
			t.format, t.storage_key_original, t.storage_key_mp3, t.public, t.created_at,
			t.prompt_raw, t.prompt_expanded, t.params, pt.pos
		FROM playlist_tracks pt
		JOIN tracks t ON t.id = pt.track_id
		WHERE pt.playlist_id = ? AND t.user_id = ?
		ORDER BY pt.pos ASC, pt.added_at ASC`
	rows, err := r.DB.Query(query, playlistID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks for playlist %s: %w", playlistID, err)
	}
	defer rows.Close()

	tracks := make([]*model.PlaylistTrack, 0)
	for rows.Next() {
		pt := &model.PlaylistTrack{}
		var jobID, mp3Key, params sql.NullString
		var bitrate sql.NullInt64
		var public int
		err := rows.Scan(&pt.ID, &pt.UserID, &jobID, &pt.Duration, &pt.SampleRate, &bitrate,
			&pt.Format, &pt.StorageKeyOriginal, &mp3Key, &public, &pt.CreatedAt,
			&pt.PromptRaw, &pt.PromptExpanded, &params, &pt.Position)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in ListTracks: %w", err)
		}
		pt.JobID = jobID.String
		pt.StorageKeyMP3 = mp3Key.String
		pt.Bitrate = int(bitrate.Int64)
		pt.Public = public != 0
		pt.Params = unmarshalParams(params)
		tracks = append(tracks, pt)
	}
	return tracks, rows.Err()
}
