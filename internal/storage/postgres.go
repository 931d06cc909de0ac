package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("not found")

type PostgresStorage struct {
	pool *pgxpool.Pool
}

// New PostgreSQL storage instance; applies pending migrations from migrationsDir
func NewPostgresStorage(ctx context.Context, databaseURL, migrationsDir string) (*PostgresStorage, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")

	if err := runMigrations(databaseURL, migrationsDir); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// migrationsURL turns a directory into a file:// source URL (works on Windows too)
func migrationsURL(dir string) (string, error) {
	path, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get migrations path: %w", err)
	}

	if runtime.GOOS == "windows" {
		u := &url.URL{
			Scheme: "file",
			Path:   filepath.ToSlash(path),
		}
		return u.String(), nil
	}
	return fmt.Sprintf("file://%s", path), nil
}

func withMigrator(databaseURL, migrationsDir string, fn func(m *migrate.Migrate) error) error {
	source, err := migrationsURL(migrationsDir)
	if err != nil {
		return err
	}

	connConfig, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	db := stdlib.OpenDB(*connConfig)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	logger.Info("Running migrations", zap.String("path", source))
	return fn(m)
}

func runMigrations(databaseURL, migrationsDir string) error {
	return withMigrator(databaseURL, migrationsDir, func(m *migrate.Migrate) error {
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("No new migrations to apply")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("Migrations applied successfully")
		return nil
	})
}

// Drops all tables and re-runs migrations (for development)
func ResetMigrations(databaseURL, migrationsDir string) error {
	logger.Warn("Resetting database - this will drop all data!")

	return withMigrator(databaseURL, migrationsDir, func(m *migrate.Migrate) error {
		if err := m.Drop(); err != nil {
			return fmt.Errorf("failed to drop database: %w", err)
		}
		logger.Info("Database dropped successfully")

		// Drop removes the migrations table too, so the instance starts from scratch
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations after reset: %w", err)
		}
		logger.Info("Database reset and migrations applied successfully")
		return nil
	})
}

// Closes the database connection pool
func (s *PostgresStorage) Close() {
	s.pool.Close()
}

// SaveSegment inserts a transcript segment; re-saving the same id is a no-op
func (s *PostgresStorage) SaveSegment(ctx context.Context, meetingID string, seg model.Segment) error {
	query := `
		INSERT INTO segments (
			id, meeting_id, chunk_id, start_time, end_time, text, speaker_id, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	var speakerID *string
	if seg.SpeakerID != "" {
		speakerID = &seg.SpeakerID
	}

	_, err := s.pool.Exec(ctx, query,
		seg.ID,
		meetingID,
		seg.ChunkID,
		seg.StartTime,
		seg.EndTime,
		seg.Text,
		speakerID,
		seg.Confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to save segment: %w", err)
	}

	return nil
}

// UpsertSpeaker stores the speaker or refreshes its label and statistics
func (s *PostgresStorage) UpsertSpeaker(ctx context.Context, meetingID string, sp model.Speaker) error {
	query := `
		INSERT INTO speakers (
			meeting_id, id, label, color, segment_count, total_speaking_time
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (meeting_id, id) DO UPDATE SET
			label = EXCLUDED.label,
			color = EXCLUDED.color,
			segment_count = EXCLUDED.segment_count,
			total_speaking_time = EXCLUDED.total_speaking_time,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		meetingID,
		sp.ID,
		sp.Label,
		sp.Color,
		sp.SegmentCount,
		sp.TotalSpeakingTime,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert speaker: %w", err)
	}

	return nil
}

// SaveChunkFailure records a chunk that exhausted its retries
func (s *PostgresStorage) SaveChunkFailure(ctx context.Context, meetingID, chunkID, errText string) error {
	query := `
		INSERT INTO chunk_failures (meeting_id, chunk_id, error_text)
		VALUES ($1, $2, $3)
		ON CONFLICT (meeting_id, chunk_id) DO UPDATE SET
			error_text = EXCLUDED.error_text,
			created_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, meetingID, chunkID, errText); err != nil {
		return fmt.Errorf("failed to save chunk failure: %w", err)
	}

	return nil
}

// ListSegments returns the meeting transcript in timeline order
func (s *PostgresStorage) ListSegments(ctx context.Context, meetingID string) ([]model.Segment, error) {
	query := `
		SELECT id, chunk_id, start_time, end_time, text, COALESCE(speaker_id, ''), confidence
		FROM segments
		WHERE meeting_id = $1
		ORDER BY start_time ASC, created_at ASC`

	rows, err := s.pool.Query(ctx, query, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []model.Segment
	for rows.Next() {
		var seg model.Segment
		err := rows.Scan(
			&seg.ID,
			&seg.ChunkID,
			&seg.StartTime,
			&seg.EndTime,
			&seg.Text,
			&seg.SpeakerID,
			&seg.Confidence,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", err)
	}

	return segments, nil
}

// ListSpeakers returns the meeting speakers in creation order
func (s *PostgresStorage) ListSpeakers(ctx context.Context, meetingID string) ([]model.Speaker, error) {
	query := `
		SELECT id, label, color, segment_count, total_speaking_time
		FROM speakers
		WHERE meeting_id = $1
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list speakers: %w", err)
	}
	defer rows.Close()

	var speakers []model.Speaker
	for rows.Next() {
		var sp model.Speaker
		if err := rows.Scan(&sp.ID, &sp.Label, &sp.Color, &sp.SegmentCount, &sp.TotalSpeakingTime); err != nil {
			return nil, fmt.Errorf("failed to scan speaker: %w", err)
		}
		speakers = append(speakers, sp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate speakers: %w", err)
	}

	return speakers, nil
}

// GetSpeaker retrieves one speaker of a meeting
func (s *PostgresStorage) GetSpeaker(ctx context.Context, meetingID, id string) (*model.Speaker, error) {
	query := `
		SELECT id, label, color, segment_count, total_speaking_time
		FROM speakers
		WHERE meeting_id = $1 AND id = $2`

	var sp model.Speaker
	err := s.pool.QueryRow(ctx, query, meetingID, id).
		Scan(&sp.ID, &sp.Label, &sp.Color, &sp.SegmentCount, &sp.TotalSpeakingTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("speaker %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get speaker: %w", err)
	}

	return &sp, nil
}
