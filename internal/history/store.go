// Package history stores per-channel chat logs in SQLite. The default
// in-memory database keeps history for the process lifetime only.
package history

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MemoryPath selects a non-persistent database.
const MemoryPath = ":memory:"

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	dsn := path
	if path == MemoryPath {
		// A plain :memory: DSN gives every pooled connection its own
		// empty database; a shared cache keeps them on one.
		dsn = "file::memory:?cache=shared"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Append records one serialized chat event at the end of a channel's log.
func (s *Store) Append(channelID string, payload json.RawMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (channel_id, payload, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		channelID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("appending chat message: %w", err)
	}
	return nil
}

// History returns a channel's chat events in insertion order.
func (s *Store) History(channelID string) ([]json.RawMessage, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM chat_messages WHERE channel_id = ? ORDER BY id ASC`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chat history: %w", err)
	}
	defer rows.Close()

	messages := make([]json.RawMessage, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		messages = append(messages, json.RawMessage(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat history: %w", err)
	}

	return messages, nil
}

// DropChannel discards a deleted channel's log.
func (s *Store) DropChannel(channelID string) error {
	_, err := s.db.Exec(`DELETE FROM chat_messages WHERE channel_id = ?`, channelID)
	if err != nil {
		return fmt.Errorf("dropping chat history: %w", err)
	}
	return nil
}

func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) Close() error {
	return s.db.Close()
}
