// Package transcript records the bot's conversation turns for later review.
// It is write-only: nothing read back from it influences the dialog.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Direction tells who authored a transcript entry.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Entry is one recorded message.
type Entry struct {
	ChatID    int64
	Direction Direction
	Text      string
	CreatedAt time.Time
}

// Recorder persists transcript entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// PostgresRecorder stores entries in the relay_transcript table.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder wraps an open database handle.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// OpenPostgres connects to dsn, checks the connection and creates the table
// if needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRecorder, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping transcript db: %w", err)
	}

	rec := NewPostgresRecorder(db)
	if err := rec.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return rec, nil
}

// EnsureSchema creates the transcript table.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS relay_transcript (
			id         BIGSERIAL PRIMARY KEY,
			chat_id    BIGINT      NOT NULL,
			direction  TEXT        NOT NULL,
			text       TEXT        NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create transcript table: %w", err)
	}
	return nil
}

// Record inserts one entry. A zero CreatedAt is replaced by the current time.
func (r *PostgresRecorder) Record(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relay_transcript (chat_id, direction, text, created_at)
		VALUES ($1, $2, $3, $4)
	`,
		entry.ChatID,
		string(entry.Direction),
		entry.Text,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transcript entry: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (r *PostgresRecorder) Close() error {
	return r.db.Close()
}
