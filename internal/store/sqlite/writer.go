// Package sqlite persists merged bar series for warm starts and offline
// replay. A single writer goroutine owns the database; reads go through a
// separate Reader with its own connections.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"signal-enginev1/internal/model"
)

const (
	defaultBatchSize  = 200
	defaultFlushDelay = 250 * time.Millisecond
)

// WriterConfig configures the bar writer.
type WriterConfig struct {
	DBPath     string        // e.g. "data/bars.db"
	BatchSize  int           // bars per transaction, default 200
	FlushDelay time.Duration // max time a bar waits unflushed, default 250ms
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// Implements model.HistoryWriter.
type Writer struct {
	db         *sql.DB
	batchSize  int
	flushDelay time.Duration
}

// New opens (or creates) the database in WAL mode and ensures the schema.
func New(cfg WriterConfig) (*Writer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = defaultFlushDelay
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer connection; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, batchSize: cfg.BatchSize, flushDelay: cfg.FlushDelay}, nil
}

// DB returns the underlying handle for liveness checks.
func (w *Writer) DB() *sql.DB { return w.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol      TEXT    NOT NULL,
			tf          INTEGER NOT NULL,
			start_ms    INTEGER NOT NULL,
			open        REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			close       REAL    NOT NULL,
			volume      INTEGER NOT NULL,
			vwap        REAL,
			trade_count INTEGER,
			PRIMARY KEY (symbol, tf, start_ms)
		);
	`)
	return err
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every BatchSize bars OR every FlushDelay, whichever comes first.
// Blocks until ctx is cancelled or barCh is closed; pending bars are flushed
// on the way out.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.SymbolBar) {
	batch := make([]model.SymbolBar, 0, w.batchSize)
	timer := time.NewTimer(w.flushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d bars in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case sb, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, sb)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(w.flushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.flushDelay)
		}
	}
}

// insertBatch upserts a batch in one transaction. Revisions of a stored bar
// replace the row, mirroring the engine's equal-start merge.
func (w *Writer) insertBatch(bars []model.SymbolBar) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, tf, start_ms, open, high, low, close, volume, vwap, trade_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, sb := range bars {
		b := sb.Bar
		_, err := stmt.Exec(sb.Symbol, int(sb.TF), b.StartMS, b.Open, b.High, b.Low, b.Close, b.Volume, b.VWAP, b.TradeCount)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
