package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"TextTune/config"

	_ "modernc.org/sqlite" // SQLite driver
)

var DB *sql.DB

// ConnectDB opens the SQLite database file, creating its directory if needed.
func ConnectDB(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	var err error
	DB, err = sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	// modernc.org/sqlite 同一连接内才能保证事务语义，写入端串行化
	DB.SetMaxOpenConns(1)

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := DB.Exec(pragma); err != nil {
			DB.Close()
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist.
func InitDB() error {
	return InitSchema(DB)
}

// InitSchema applies the schema to the given handle. Split out so tests can
// run it against an in-memory database.
func InitSchema(conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		plan TEXT DEFAULT 'free',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS generation_jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		prompt_raw TEXT,
		prompt_expanded TEXT,
		params TEXT,
		status TEXT NOT NULL,
		progress REAL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		error_code TEXT,
		error TEXT,
		result_track_id TEXT,
		audio_url TEXT,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tracks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		job_id TEXT,
		duration REAL,
		samplerate INTEGER,
		bitrate INTEGER,
		format TEXT,
		storage_key_original TEXT NOT NULL,
		storage_key_mp3 TEXT,
		public INTEGER DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		prompt_raw TEXT,
		prompt_expanded TEXT,
		params TEXT,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (job_id) REFERENCES generation_jobs(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS playlists (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS playlist_tracks (
		playlist_id TEXT NOT NULL,
		track_id TEXT NOT NULL,
		pos INTEGER NOT NULL,
		added_at TIMESTAMP NOT NULL,
		PRIMARY KEY (playlist_id, track_id),
		FOREIGN KEY (playlist_id) REFERENCES playlists(id) ON DELETE CASCADE,
		FOREIGN KEY (track_id) REFERENCES tracks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_user_created_at ON generation_jobs(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_tracks_user_created_at ON tracks(user_id, created_at DESC);
	`

	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	log.Println("Database schema initialized successfully (or already exists).")
	return nil
}
