package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite. Records are stored as JSON
// documents keyed by (learner_id, lesson_id).
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL lets readers of one key proceed while another key is being written.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db: db,
		retry: shared.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   50 * time.Millisecond,
			Retryable:   shared.IsSQLiteConflictError,
		},
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

var _ Repository = (*SQLiteStore)(nil)

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chain_contexts (
		learner_id TEXT NOT NULL,
		lesson_id TEXT NOT NULL,
		chain_id TEXT NOT NULL,
		history_len INTEGER NOT NULL DEFAULT 0,
		context_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (learner_id, lesson_id)
	);

	CREATE TABLE IF NOT EXISTS lesson_progress (
		learner_id TEXT NOT NULL,
		lesson_id TEXT NOT NULL,
		state TEXT NOT NULL,
		progress_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (learner_id, lesson_id)
	);
	CREATE INDEX IF NOT EXISTS idx_lesson_progress_state ON lesson_progress(learner_id, state);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// LoadContext retrieves the chain context for key.
func (s *SQLiteStore) LoadContext(ctx context.Context, key domain.Key) (*domain.ChainContext, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT context_json FROM chain_contexts WHERE learner_id = ? AND lesson_id = ?`,
		key.LearnerID, key.LessonID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chain context: %w", err)
	}

	var c domain.ChainContext
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode chain context %s: %w", key, err)
	}
	return &c, nil
}

// SaveContext upserts the chain context.
func (s *SQLiteStore) SaveContext(ctx context.Context, c *domain.ChainContext) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode chain context: %w", err)
	}

	query := `
	INSERT INTO chain_contexts (learner_id, lesson_id, chain_id, history_len, context_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(learner_id, lesson_id) DO UPDATE SET
		chain_id = excluded.chain_id,
		history_len = excluded.history_len,
		context_json = excluded.context_json,
		updated_at = excluded.updated_at`

	return shared.WithRetry(ctx, "save chain context", s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			c.Key.LearnerID, c.Key.LessonID, c.ChainID, len(c.History), string(raw),
			c.CreatedAt.Unix(), c.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert chain context: %w", err)
		}
		return nil
	})
}

// DeleteContext removes the chain context for key.
func (s *SQLiteStore) DeleteContext(ctx context.Context, key domain.Key) error {
	return shared.WithRetry(ctx, "delete chain context", s.retry, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM chain_contexts WHERE learner_id = ? AND lesson_id = ?`,
			key.LearnerID, key.LessonID)
		if err != nil {
			return fmt.Errorf("delete chain context: %w", err)
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			slog.Debug("DeleteContext affected 0 rows", "learner_id", key.LearnerID, "lesson_id", key.LessonID)
		}
		return nil
	})
}

// LoadProgress retrieves lesson progress for key.
func (s *SQLiteStore) LoadProgress(ctx context.Context, key domain.Key) (*domain.LessonProgress, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT progress_json FROM lesson_progress WHERE learner_id = ? AND lesson_id = ?`,
		key.LearnerID, key.LessonID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lesson progress: %w", err)
	}
	return decodeProgress(raw)
}

// SaveProgress upserts lesson progress.
func (s *SQLiteStore) SaveProgress(ctx context.Context, p *domain.LessonProgress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode lesson progress: %w", err)
	}

	query := `
	INSERT INTO lesson_progress (learner_id, lesson_id, state, progress_json, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(learner_id, lesson_id) DO UPDATE SET
		state = excluded.state,
		progress_json = excluded.progress_json,
		updated_at = excluded.updated_at`

	return shared.WithRetry(ctx, "save lesson progress", s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			p.Key.LearnerID, p.Key.LessonID, string(p.State), string(raw), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("upsert lesson progress: %w", err)
		}
		return nil
	})
}

// ListProgress returns all progress rows of a learner.
func (s *SQLiteStore) ListProgress(ctx context.Context, learnerID string) ([]*domain.LessonProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT progress_json FROM lesson_progress WHERE learner_id = ? ORDER BY lesson_id`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("query lesson progress: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close lesson progress rows", "error", closeErr)
		}
	}()

	var out []*domain.LessonProgress
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan lesson progress row: %w", err)
		}
		p, err := decodeProgress(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lesson progress: %w", err)
	}
	return out, nil
}

func decodeProgress(raw string) (*domain.LessonProgress, error) {
	var p domain.LessonProgress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode lesson progress: %w", err)
	}
	return &p, nil
}
