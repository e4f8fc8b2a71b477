package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/singer-io/tap-gemini/internal/config"
)

// PostgreSQLStore implements Store using PostgreSQL, one row per stream
type PostgreSQLStore struct {
	db *sql.DB
}

// NewPostgreSQLStore creates a new PostgreSQL state store instance
func NewPostgreSQLStore(cfg config.StateConfig) (*PostgreSQLStore, error) {
	if cfg.PostgresURI == "" {
		return nil, fmt.Errorf("POSTGRES_URI is required for the postgresql state store")
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgreSQLStore{db: db}
	if err := store.ensureSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

// ensureSchema creates the state table if it doesn't exist
func (p *PostgreSQLStore) ensureSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS tap_state (
			stream_id TEXT PRIMARY KEY,
			bookmarks JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create state table: %w", err)
	}
	return nil
}

// Load reads every stream's bookmark row.
func (p *PostgreSQLStore) Load(ctx context.Context) (*State, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT stream_id, bookmarks FROM tap_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query state table: %w", err)
	}
	defer rows.Close()

	bookmarks := make(map[string]map[string]string)
	for rows.Next() {
		var streamID string
		var raw []byte
		if err := rows.Scan(&streamID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}

		var streamBookmarks map[string]string
		if err := json.Unmarshal(raw, &streamBookmarks); err != nil {
			return nil, fmt.Errorf("invalid bookmarks for stream %s: %w", streamID, err)
		}
		bookmarks[streamID] = streamBookmarks
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate state rows: %w", err)
	}

	return FromBookmarks(bookmarks), nil
}

// Save upserts one row per stream.
func (p *PostgreSQLStore) Save(ctx context.Context, s *State) error {
	for streamID, streamBookmarks := range s.Snapshot() {
		raw, err := json.Marshal(streamBookmarks)
		if err != nil {
			return fmt.Errorf("failed to encode bookmarks for stream %s: %w", streamID, err)
		}

		_, err = p.db.ExecContext(ctx, `
			INSERT INTO tap_state (stream_id, bookmarks, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (stream_id)
			DO UPDATE SET bookmarks = EXCLUDED.bookmarks, updated_at = now()`,
			streamID, raw)
		if err != nil {
			return fmt.Errorf("failed to store state for stream %s: %w", streamID, err)
		}
	}
	return nil
}

// Close closes the database connection
func (p *PostgreSQLStore) Close() error {
	return p.db.Close()
}
