// Package filters stores named conditions in PostgreSQL so clients can search
// with a saved filter instead of repeating the condition text.
package filters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/builder"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/postgres"
)

// Schema creates the saved_filters table.
const Schema = `CREATE TABLE IF NOT EXISTS saved_filters (
    name        TEXT PRIMARY KEY,
    index_name  TEXT NOT NULL DEFAULT '',
    condition   TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)

// Filter is a named condition, optionally pinned to an index.
type Filter struct {
	Name        string    `json:"name"`
	Index       string    `json:"index,omitempty"`
	Condition   string    `json:"condition"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the name and that the condition compiles.
func (f *Filter) Validate() error {
	if !namePattern.MatchString(f.Name) {
		return fmt.Errorf("%w: filter name %q must be 1-128 letters, digits, '_', '.' or '-'",
			apperrors.ErrInvalidInput, f.Name)
	}
	if _, err := builder.Compile(f.Condition); err != nil {
		return fmt.Errorf("filter %s: %w", f.Name, err)
	}
	return nil
}

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "filter-store"),
	}
}

// Migrate creates the table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.EnsureSchema(ctx, Schema)
}

// Create validates and inserts f. A taken name returns ErrFilterExists.
func (s *Store) Create(ctx context.Context, f *Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	err := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO saved_filters (name, index_name, condition, description)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		f.Name, f.Index, f.Condition, f.Description,
	).Scan(&f.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", apperrors.ErrFilterExists, f.Name)
	}
	if err != nil {
		return fmt.Errorf("creating filter %s: %w", f.Name, err)
	}
	s.logger.Info("filter created", "name", f.Name, "index", f.Index)
	return nil
}

func (s *Store) Get(ctx context.Context, name string) (*Filter, error) {
	var f Filter
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT name, index_name, condition, description, created_at
		 FROM saved_filters WHERE name = $1`,
		name,
	).Scan(&f.Name, &f.Index, &f.Condition, &f.Description, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrFilterNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("querying filter %s: %w", name, err)
	}
	return &f, nil
}

// List returns every filter ordered by name.
func (s *Store) List(ctx context.Context) ([]Filter, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT name, index_name, condition, description, created_at
		 FROM saved_filters ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing filters: %w", err)
	}
	defer rows.Close()

	filters := make([]Filter, 0)
	for rows.Next() {
		var f Filter
		if err := rows.Scan(&f.Name, &f.Index, &f.Condition, &f.Description, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning filter row: %w", err)
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

func (s *Store) Delete(ctx context.Context, name string) error {
	result, err := s.db.DB.ExecContext(ctx, `DELETE FROM saved_filters WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("deleting filter %s: %w", name, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrFilterNotFound, name)
	}
	s.logger.Info("filter deleted", "name", name)
	return nil
}

// Combine joins a saved condition and a request condition with "and". Each
// side is parenthesized so its own conjunction stays inside its group.
func Combine(saved, condition string) string {
	saved, condition = strings.TrimSpace(saved), strings.TrimSpace(condition)
	switch {
	case saved == "":
		return condition
	case condition == "":
		return saved
	}
	return "(" + saved + ") and (" + condition + ")"
}
