package sqlite

import (
	"context"
	"fmt"

	"crypto-screenerv1/internal/model"
)

// SaveCandle upserts one candle keyed by (symbol, market, timestamp).
// Re-applying the same candle is a no-op.
func (s *Store) SaveCandle(ctx context.Context, c *model.Candle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, market, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Symbol, string(c.Market), c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("save candle %s %s @%d: %w", c.Symbol, c.Market, c.Timestamp, err)
	}
	return nil
}

// SaveCandles upserts a batch in a single transaction. Used by warm-up and
// gap backfill.
func (s *Store) SaveCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candle batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, market, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare candle batch: %w", err)
	}
	defer stmt.Close()

	for i := range candles {
		c := &candles[i]
		if _, err := stmt.ExecContext(ctx, c.Symbol, string(c.Market), c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert candle %s @%d: %w", c.Symbol, c.Timestamp, err)
		}
	}
	return tx.Commit()
}

// Candles returns the last windowMinutes closed candles for the pair,
// ascending by timestamp. May return fewer rows than requested; callers
// treat a short window as inconclusive.
func (s *Store) Candles(ctx context.Context, symbol string, market model.Market, windowMinutes int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, market, timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND market = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, symbol, string(market), windowMinutes)
	if err != nil {
		return nil, fmt.Errorf("query candles %s %s: %w", symbol, market, err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var mkt string
		if err := rows.Scan(&c.Symbol, &mkt, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Market = model.Market(mkt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Flip the DESC read into ascending replay order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LastCandleTS returns the newest stored candle timestamp for the pair, or
// 0 when none exist.
func (s *Store) LastCandleTS(ctx context.Context, symbol string, market model.Market) (int64, error) {
	var ts *int64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM candles WHERE symbol = ? AND market = ?`,
		symbol, string(market)).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("last candle ts %s %s: %w", symbol, market, err)
	}
	if ts == nil {
		return 0, nil
	}
	return *ts, nil
}
