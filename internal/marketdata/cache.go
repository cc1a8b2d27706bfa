package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// DefaultCacheMaxAge bounds how long a download with an open end is
// trusted before upstream is asked again for newer bars.
const DefaultCacheMaxAge = 12 * time.Hour

// Cache is a SQLite backed read-through cache in front of another
// Source. A symbol is served locally once a download covering the
// requested range has been stored.
type Cache struct {
	upstream Source
	// MaxAge applies to downloads that ran up to "now"; closed ranges
	// never expire.
	MaxAge time.Duration

	mu sync.Mutex
	db *sql.DB
}

func NewCache(path string, upstream Source) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureCacheSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Cache{upstream: upstream, MaxAge: DefaultCacheMaxAge, db: db}, nil
}

func ensureCacheSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT NOT NULL,
			ts INTEGER NOT NULL,
			open TEXT NOT NULL,
			high TEXT NOT NULL,
			low TEXT NOT NULL,
			close TEXT NOT NULL,
			volume TEXT NOT NULL,
			PRIMARY KEY (symbol, ts)
		);`,
		`CREATE TABLE IF NOT EXISTS coverage (
			symbol TEXT PRIMARY KEY,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			fetched_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Cache) Name() string {
	if c.upstream == nil {
		return "cache"
	}
	return "cache:" + c.upstream.Name()
}

func (c *Cache) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	symbol = strings.ToUpper(symbol)
	covered, err := c.covers(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if covered || c.upstream == nil {
		log.Debug().Str("symbol", symbol).Msg("serving history from cache")
		return c.Get(ctx, symbol, start, end)
	}

	bars, err := c.upstream.GetHistory(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if err := c.Put(ctx, symbol, bars); err != nil {
		return nil, err
	}
	if err := c.markCovered(ctx, symbol, start, end); err != nil {
		return nil, err
	}
	return bars, nil
}

// Put upserts bars for symbol.
func (c *Cache) Put(ctx context.Context, symbol string, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, ts) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx, strings.ToUpper(symbol), bar.Time.UnixMilli(),
			bar.Open.String(), bar.High.String(), bar.Low.String(), bar.Last.String(), bar.Volume.String()); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Get returns cached bars without consulting the upstream source.
func (c *Cache) Get(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	query := `SELECT ts, open, high, low, close, volume FROM bars WHERE symbol = ?`
	args := []any{strings.ToUpper(symbol)}
	if !start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, start.UnixMilli())
	}
	if !end.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, end.UnixMilli())
	}
	query += ` ORDER BY ts ASC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var ts int64
		var open, high, low, last, volume string
		if err := rows.Scan(&ts, &open, &high, &low, &last, &volume); err != nil {
			return nil, err
		}
		bar := Bar{Time: time.UnixMilli(ts).UTC()}
		for _, col := range []struct {
			raw string
			dst *decimal.Decimal
		}{{open, &bar.Open}, {high, &bar.High}, {low, &bar.Low}, {last, &bar.Last}, {volume, &bar.Volume}} {
			if *col.dst, err = decimal.NewFromString(col.raw); err != nil {
				return nil, err
			}
		}
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

func (c *Cache) covers(ctx context.Context, symbol string, start, end time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var from, to, fetchedAt int64
	err := c.db.QueryRowContext(ctx, `SELECT start_ts, end_ts, fetched_at FROM coverage WHERE symbol = ?`, symbol).
		Scan(&from, &to, &fetchedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	startOK := from == 0 || (!start.IsZero() && from <= start.UnixMilli())
	var endOK bool
	if to == 0 {
		endOK = time.Since(time.UnixMilli(fetchedAt)) < c.MaxAge
	} else {
		endOK = !end.IsZero() && to >= end.UnixMilli()
	}
	return startOK && endOK, nil
}

func (c *Cache) markCovered(ctx context.Context, symbol string, start, end time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO coverage (symbol, start_ts, end_ts, fetched_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
		    start_ts=excluded.start_ts,
		    end_ts=excluded.end_ts,
		    fetched_at=excluded.fetched_at`,
		symbol, unixMilliOrZero(start), unixMilliOrZero(end), time.Now().UnixMilli())
	return err
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
