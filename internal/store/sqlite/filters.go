package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"crypto-screenerv1/internal/model"
)

// CreateFilter inserts a filter and returns it with ID and timestamps set.
func (s *Store) CreateFilter(ctx context.Context, f *model.Filter) error {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO filters (name, type, enabled, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.Name, string(f.Type), boolInt(f.Enabled), string(f.Config), now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("create filter %q: %w", f.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create filter %q: last id: %w", f.Name, err)
	}
	f.ID = id
	f.CreatedAt = now
	f.UpdatedAt = now
	return nil
}

// UpdateFilter rewrites name, type, enabled and config of an existing row.
func (s *Store) UpdateFilter(ctx context.Context, f *model.Filter) error {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, `
		UPDATE filters SET name = ?, type = ?, enabled = ?, config_json = ?, updated_at = ?
		WHERE id = ?
	`, f.Name, string(f.Type), boolInt(f.Enabled), string(f.Config), now.Unix(), f.ID)
	if err != nil {
		return fmt.Errorf("update filter %d: %w", f.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	f.UpdatedAt = now
	return nil
}

// SetFilterEnabled toggles a filter without touching its config.
func (s *Store) SetFilterEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE filters SET enabled = ?, updated_at = ? WHERE id = ?
	`, boolInt(enabled), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("toggle filter %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteFilter removes a filter row. Triggers referencing it are kept;
// they carry the name copied at emission time.
func (s *Store) DeleteFilter(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete filter %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Filter reads one filter by id. Returns sql.ErrNoRows when absent.
func (s *Store) Filter(ctx context.Context, id int64) (*model.Filter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, enabled, config_json, created_at, updated_at
		FROM filters WHERE id = ?
	`, id)
	return scanFilter(row)
}

// ListFilters returns all filters ordered by id.
func (s *Store) ListFilters(ctx context.Context) ([]model.Filter, error) {
	return s.queryFilters(ctx, `
		SELECT id, name, type, enabled, config_json, created_at, updated_at
		FROM filters ORDER BY id
	`)
}

// ActiveFilters returns enabled filters only, the set the engine evaluates.
func (s *Store) ActiveFilters(ctx context.Context) ([]model.Filter, error) {
	return s.queryFilters(ctx, `
		SELECT id, name, type, enabled, config_json, created_at, updated_at
		FROM filters WHERE enabled = 1 ORDER BY id
	`)
}

func (s *Store) queryFilters(ctx context.Context, query string) ([]model.Filter, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query filters: %w", err)
	}
	defer rows.Close()

	var out []model.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFilter(row rowScanner) (*model.Filter, error) {
	var f model.Filter
	var ftype, cfg string
	var enabled int
	var createdAt, updatedAt int64
	if err := row.Scan(&f.ID, &f.Name, &ftype, &enabled, &cfg, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan filter: %w", err)
	}
	f.Type = model.FilterType(ftype)
	f.Enabled = enabled != 0
	f.Config = json.RawMessage(cfg)
	f.CreatedAt = time.Unix(createdAt, 0).UTC()
	f.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &f, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
