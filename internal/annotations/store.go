// Package annotations persists user-drawn image annotations in SQLite.
package annotations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound indicates the requested annotation does not exist.
var ErrNotFound = errors.New("annotation not found")

// Annotation is a labeled rectangle on an image, in normalized [0,1]
// coordinates relative to the full-resolution image.
type Annotation struct {
	ID        int64     `json:"id"`
	ImageID   string    `json:"image_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	Label     string    `json:"label"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a SQLite-backed annotation repository.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the database at path and applies pending
// migrations.
func NewStore(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open annotation db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping annotation db: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("annotation store initialized")

	return s, nil
}

func (s *Store) runMigrations() error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts the annotation and fills in its ID and timestamps.
func (s *Store) Create(ctx context.Context, a *Annotation) error {
	now := time.Now().UTC()

	query := `INSERT INTO annotations (image_id, x, y, width, height, label, text, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query, a.ImageID, a.X, a.Y, a.Width, a.Height, a.Label, a.Text, now, now)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("annotation id: %w", err)
	}

	a.ID = id
	a.CreatedAt = now
	a.UpdatedAt = now

	s.logger.Debug().Int64("id", id).Str("image", a.ImageID).Msg("annotation created")

	return nil
}

// Get returns a single annotation by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Annotation, error) {
	query := `SELECT id, image_id, x, y, width, height, label, text, created_at, updated_at
	FROM annotations WHERE id = ?`

	a, err := scanAnnotation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query annotation: %w", err)
	}

	return a, nil
}

// ListByImage returns all annotations for an image, oldest first.
func (s *Store) ListByImage(ctx context.Context, imageID string) ([]*Annotation, error) {
	query := `SELECT id, image_id, x, y, width, height, label, text, created_at, updated_at
	FROM annotations WHERE image_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, imageID)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()

	list := []*Annotation{}
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}

	return list, nil
}

// Update overwrites the geometry and text of an existing annotation.
func (s *Store) Update(ctx context.Context, a *Annotation) error {
	now := time.Now().UTC()

	query := `UPDATE annotations
	SET x = ?, y = ?, width = ?, height = ?, label = ?, text = ?, updated_at = ?
	WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query, a.X, a.Y, a.Width, a.Height, a.Label, a.Text, now, a.ID)
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	a.UpdatedAt = now

	return nil
}

// Delete removes a single annotation.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteByImage removes every annotation attached to an image and reports
// how many were removed.
func (s *Store) DeleteByImage(ctx context.Context, imageID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE image_id = ?`, imageID)
	if err != nil {
		return 0, fmt.Errorf("delete annotations: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete annotations: %w", err)
	}

	s.logger.Debug().Str("image", imageID).Int64("count", n).Msg("annotations deleted")

	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (*Annotation, error) {
	var a Annotation
	err := row.Scan(&a.ID, &a.ImageID, &a.X, &a.Y, &a.Width, &a.Height, &a.Label, &a.Text, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
