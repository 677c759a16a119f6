package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"crypto-screenerv1/internal/model"
)

// SaveTrigger appends one trigger row atomically and sets t.ID.
func (s *Store) SaveTrigger(ctx context.Context, t *model.Trigger) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO triggers (filter_id, filter_name, filter_type, symbol, market, triggered_at, data_json, notified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.FilterID, t.FilterName, string(t.FilterType), t.Symbol, string(t.Market),
		t.TriggeredAt, string(t.Data.JSON()), boolInt(t.Notified))
	if err != nil {
		return fmt.Errorf("save trigger filter=%d %s: %w", t.FilterID, t.Symbol, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("save trigger: last id: %w", err)
	}
	t.ID = id
	return nil
}

// SetTriggerNotified flips the notified flag after a delivery attempt.
func (s *Store) SetTriggerNotified(ctx context.Context, id int64, notified bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE triggers SET notified = ? WHERE id = ?`, boolInt(notified), id)
	if err != nil {
		return fmt.Errorf("set trigger %d notified: %w", id, err)
	}
	return nil
}

// CheckCooldown reports whether a (filter, symbol, market) tuple may fire
// at now: true iff no trigger row exists with triggered_at strictly after
// now - cooldownMinutes*60. The boundary itself is allowed.
func (s *Store) CheckCooldown(ctx context.Context, filterID int64, symbol string, market model.Market, cooldownMinutes int, now int64) (bool, error) {
	cutoff := now - int64(cooldownMinutes)*60
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM triggers
		WHERE filter_id = ? AND symbol = ? AND market = ? AND triggered_at > ?
	`, filterID, symbol, string(market), cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check cooldown filter=%d %s: %w", filterID, symbol, err)
	}
	return n == 0, nil
}

// TriggerQuery narrows ListTriggers. Zero values mean "no constraint".
type TriggerQuery struct {
	FilterID int64
	Symbol   string
	Market   model.Market
	From     int64 // triggered_at >= From
	To       int64 // triggered_at <= To
	Limit    int   // clamped to 1..1000, default 100
	Offset   int
}

// ListTriggers returns trigger rows newest-first.
func (s *Store) ListTriggers(ctx context.Context, q TriggerQuery) ([]model.Trigger, error) {
	var where []string
	var args []any
	if q.FilterID > 0 {
		where = append(where, "filter_id = ?")
		args = append(args, q.FilterID)
	}
	if q.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, q.Symbol)
	}
	if q.Market != "" {
		where = append(where, "market = ?")
		args = append(args, string(q.Market))
	}
	if q.From > 0 {
		where = append(where, "triggered_at >= ?")
		args = append(args, q.From)
	}
	if q.To > 0 {
		where = append(where, "triggered_at <= ?")
		args = append(args, q.To)
	}

	query := `SELECT id, filter_id, filter_name, filter_type, symbol, market, triggered_at, data_json, notified FROM triggers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY triggered_at DESC, id DESC LIMIT ? OFFSET ?"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var out []model.Trigger
	for rows.Next() {
		var t model.Trigger
		var ftype, mkt, data string
		var notified int
		if err := rows.Scan(&t.ID, &t.FilterID, &t.FilterName, &ftype, &t.Symbol, &mkt,
			&t.TriggeredAt, &data, &notified); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		t.FilterType = model.FilterType(ftype)
		t.Market = model.Market(mkt)
		t.Notified = notified != 0
		if err := json.Unmarshal([]byte(data), &t.Data); err != nil {
			return nil, fmt.Errorf("decode trigger %d data: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentMarks returns the trigger marks for one pair since a cutoff,
// ascending. Used to rebuild the cache mark ring at startup.
func (s *Store) RecentMarks(ctx context.Context, symbol string, market model.Market, since int64) ([]model.TriggerMark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT triggered_at, filter_name, filter_type FROM triggers
		WHERE symbol = ? AND market = ? AND triggered_at >= ?
		ORDER BY triggered_at ASC
	`, symbol, string(market), since)
	if err != nil {
		return nil, fmt.Errorf("query marks %s %s: %w", symbol, market, err)
	}
	defer rows.Close()

	var out []model.TriggerMark
	for rows.Next() {
		var m model.TriggerMark
		var ftype string
		if err := rows.Scan(&m.Time, &m.FilterName, &ftype); err != nil {
			return nil, err
		}
		m.FilterType = model.FilterType(ftype)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountEntry is one row of a grouped trigger count.
type CountEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// TriggerStats aggregates trigger counts for the stats endpoint.
type TriggerStats struct {
	Today    int64        `json:"today"`
	Week     int64        `json:"week"`
	Month    int64        `json:"month"`
	ByFilter []CountEntry `json:"by_filter"`
	BySymbol []CountEntry `json:"by_symbol"`
}

// Stats computes today/week/month counts plus top-10 breakdowns by filter
// name and by symbol over the trailing 30 days.
func (s *Store) Stats(ctx context.Context, now time.Time) (*TriggerStats, error) {
	dayStart := now.UTC().Truncate(24 * time.Hour).Unix()
	weekStart := now.Add(-7 * 24 * time.Hour).Unix()
	monthStart := now.Add(-30 * 24 * time.Hour).Unix()

	var st TriggerStats
	count := func(since int64, dst *int64) error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM triggers WHERE triggered_at >= ?`, since).Scan(dst)
	}
	if err := count(dayStart, &st.Today); err != nil {
		return nil, fmt.Errorf("stats today: %w", err)
	}
	if err := count(weekStart, &st.Week); err != nil {
		return nil, fmt.Errorf("stats week: %w", err)
	}
	if err := count(monthStart, &st.Month); err != nil {
		return nil, fmt.Errorf("stats month: %w", err)
	}

	grouped := func(column string) ([]CountEntry, error) {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s, COUNT(1) AS n FROM triggers
			WHERE triggered_at >= ?
			GROUP BY %s ORDER BY n DESC LIMIT 10
		`, column, column), monthStart)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []CountEntry
		for rows.Next() {
			var e CountEntry
			if err := rows.Scan(&e.Key, &e.Count); err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, rows.Err()
	}

	var err error
	if st.ByFilter, err = grouped("filter_name"); err != nil {
		return nil, fmt.Errorf("stats by filter: %w", err)
	}
	if st.BySymbol, err = grouped("symbol"); err != nil {
		return nil, fmt.Errorf("stats by symbol: %w", err)
	}
	return &st, nil
}
