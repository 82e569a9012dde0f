package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"signal-enginev1/internal/model"
)

// Reader provides read access to the bars database for warm starts and
// offline replay. Implements model.HistoryReader.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars returns bars for (symbol, tf) with start_ms > afterMS, ascending.
// A positive limit keeps only the newest limit bars, still returned ascending
// so they feed the merge path in order.
func (r *Reader) ReadBars(symbol string, tf model.Timeframe, afterMS int64, limit int) ([]model.Bar, error) {
	query := `
		SELECT start_ms, open, high, low, close, volume, COALESCE(vwap, 0), COALESCE(trade_count, 0)
		FROM bars
		WHERE symbol = ? AND tf = ? AND start_ms > ?
		ORDER BY start_ms ASC
	`
	args := []any{symbol, int(tf), afterMS}
	if limit > 0 {
		query = `
			SELECT * FROM (
				SELECT start_ms, open, high, low, close, volume, COALESCE(vwap, 0), COALESCE(trade_count, 0)
				FROM bars
				WHERE symbol = ? AND tf = ? AND start_ms > ?
				ORDER BY start_ms DESC
				LIMIT ?
			) ORDER BY start_ms ASC
		`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.StartMS, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.VWAP, &b.TradeCount); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Symbols lists the distinct symbols stored for a timeframe, sorted.
func (r *Reader) Symbols(tf model.Timeframe) ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM bars WHERE tf = ? ORDER BY symbol ASC`, int(tf))
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite scan symbols: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
