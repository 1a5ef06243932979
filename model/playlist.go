package model

import "time"

// Playlist is a named, ordered collection of a user's tracks.
type Playlist struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// PlaylistTrack is a track joined with its position inside a playlist.
type PlaylistTrack struct {
	Track
	Position int `json:"playlist_pos"`
}
