package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"crypto-screenerv1/internal/model"
)

// SaveTicker upserts the 24h rollup for a pair.
func (s *Store) SaveTicker(ctx context.Context, t *model.Ticker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tickers (symbol, market, volume_24h, last_price, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.Symbol, string(t.Market), t.Volume24h, t.LastPrice, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save ticker %s %s: %w", t.Symbol, t.Market, err)
	}
	return nil
}

// SaveTickers upserts a snapshot batch in one transaction.
func (s *Store) SaveTickers(ctx context.Context, tickers []model.Ticker) error {
	if len(tickers) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ticker batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO tickers (symbol, market, volume_24h, last_price, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare ticker batch: %w", err)
	}
	defer stmt.Close()

	for i := range tickers {
		t := &tickers[i]
		if _, err := stmt.ExecContext(ctx, t.Symbol, string(t.Market), t.Volume24h, t.LastPrice, t.UpdatedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert ticker %s: %w", t.Symbol, err)
		}
	}
	return tx.Commit()
}

// Ticker reads the rollup for one pair. Returns nil when absent.
func (s *Store) Ticker(ctx context.Context, symbol string, market model.Market) (*model.Ticker, error) {
	var t model.Ticker
	var mkt string
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, market, volume_24h, last_price, updated_at
		FROM tickers WHERE symbol = ? AND market = ?
	`, symbol, string(market)).Scan(&t.Symbol, &mkt, &t.Volume24h, &t.LastPrice, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ticker %s %s: %w", symbol, market, err)
	}
	t.Market = model.Market(mkt)
	return &t, nil
}

// Symbols returns the distinct pairs present in the tickers table for a
// market, ordered by 24h volume descending.
func (s *Store) Symbols(ctx context.Context, market model.Market) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol FROM tickers WHERE market = ? ORDER BY volume_24h DESC
	`, string(market))
	if err != nil {
		return nil, fmt.Errorf("query symbols %s: %w", market, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
