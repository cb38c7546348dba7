package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the tts_cache table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS tts_cache (
    key              TEXT PRIMARY KEY,
    original_text    TEXT NOT NULL,
    voice_identity   TEXT NOT NULL,
    tone_snapshot    TEXT NOT NULL,
    audio_url        TEXT NOT NULL,
    file_name        TEXT NOT NULL,
    file_size_bytes  BIGINT NOT NULL,
    mime_type        TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tts_cache_last_accessed ON tts_cache(last_accessed_at);
`

const entryColumns = `key, original_text, voice_identity, tone_snapshot, audio_url,
		       file_name, file_size_bytes, mime_type, created_at, last_accessed_at`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a core.CacheStore backed by a PostgreSQL table.
type PostgresStore struct {
	db DB
}

var _ core.CacheStore = (*PostgresStore)(nil)

// NewPostgresStore creates a store on db. Call [PostgresStore.Migrate] before use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tts_cache table and index if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("cache: migrate: %w", err)
	}

	return nil
}

// Lookup returns the entry for key or core.ErrNotFound.
func (s *PostgresStore) Lookup(ctx context.Context, key string) (*core.CacheEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM tts_cache WHERE key = $1`

	entry, err := scanEntry(s.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("cache entry %q: %w", key, core.ErrNotFound)
		}

		return nil, fmt.Errorf("cache: lookup %q: %w", key, err)
	}

	return entry, nil
}

// Save inserts entry. On a key conflict the existing row is kept and returned.
func (s *PostgresStore) Save(ctx context.Context, entry core.CacheEntry) (*core.CacheEntry, error) {
	if entry.Key == "" {
		return nil, ErrEmptyKey
	}

	const query = `
		INSERT INTO tts_cache (
			key, original_text, voice_identity, tone_snapshot, audio_url,
			file_name, file_size_bytes, mime_type, created_at, last_accessed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (key) DO NOTHING`

	tag, err := s.db.Exec(ctx, query,
		entry.Key, entry.OriginalText, entry.VoiceIdentity, entry.ToneSnapshot, entry.AudioURL,
		entry.FileName, entry.FileSizeBytes, entry.MimeType, entry.CreatedAt, entry.LastAccessedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("cache: save %q: %w", entry.Key, err)
	}

	if tag.RowsAffected() == 0 {
		return s.Lookup(ctx, entry.Key)
	}

	return &entry, nil
}

// Touch moves last_accessed_at forward to accessedAt.
func (s *PostgresStore) Touch(ctx context.Context, key string, accessedAt time.Time) error {
	const query = `
		UPDATE tts_cache
		SET last_accessed_at = GREATEST(last_accessed_at, $2)
		WHERE key = $1`

	tag, err := s.db.Exec(ctx, query, key, accessedAt)
	if err != nil {
		return fmt.Errorf("cache: touch %q: %w", key, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cache entry %q: %w", key, core.ErrNotFound)
	}

	return nil
}

// FindStaleSince returns entries last accessed before threshold, oldest first.
func (s *PostgresStore) FindStaleSince(ctx context.Context, threshold time.Time) ([]core.CacheEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM tts_cache
		WHERE last_accessed_at < $1
		ORDER BY last_accessed_at, key`

	rows, err := s.db.Query(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("cache: find stale: %w", err)
	}
	defer rows.Close()

	var stale []core.CacheEntry

	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("cache: find stale scan: %w", scanErr)
		}

		stale = append(stale, *entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("cache: find stale rows: %w", err)
	}

	return stale, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM tts_cache WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}

	return nil
}

// DeleteBatch removes all keys in one statement.
func (s *PostgresStore) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := s.db.Exec(ctx, `DELETE FROM tts_cache WHERE key = ANY($1)`, keys)
	if err != nil {
		return fmt.Errorf("cache: delete batch of %d: %w", len(keys), err)
	}

	return nil
}

// Count returns the number of rows in tts_cache.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int

	err := s.db.QueryRow(ctx, `SELECT count(*) FROM tts_cache`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}

	return count, nil
}

func scanEntry(row pgx.Row) (*core.CacheEntry, error) {
	var entry core.CacheEntry

	err := row.Scan(
		&entry.Key, &entry.OriginalText, &entry.VoiceIdentity, &entry.ToneSnapshot, &entry.AudioURL,
		&entry.FileName, &entry.FileSizeBytes, &entry.MimeType, &entry.CreatedAt, &entry.LastAccessedAt,
	)
	if err != nil {
		return nil, err
	}

	return &entry, nil
}
