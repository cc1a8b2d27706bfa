// Package store persists finished backtest runs and their fills in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"huginn/internal/backtest"
	. "huginn/internal/common"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("run not found")

// RunSummary is the row listed for each stored run.
type RunSummary struct {
	ID        string           `json:"id"`
	Strategy  string           `json:"strategy"`
	Symbols   []string         `json:"symbols"`
	StartedAt time.Time        `json:"started_at"`
	Metrics   backtest.Metrics `json:"metrics"`
}

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates (or reopens) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			symbols_json TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			starting_cash TEXT NOT NULL,
			total_pnl TEXT NOT NULL,
			total_return REAL NOT NULL,
			max_drawdown REAL NOT NULL,
			sharpe_ratio REAL NOT NULL,
			num_trades INTEGER NOT NULL,
			metrics_json TEXT NOT NULL,
			result_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fills (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price TEXT NOT NULL,
			ts INTEGER NOT NULL,
			realized_pnl TEXT NOT NULL,
			cash_flow TEXT NOT NULL,
			fee TEXT NOT NULL,
			liquidity TEXT NOT NULL,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a result and its trade log in one transaction. Saving the
// same run twice replaces it.
func (s *Store) SaveRun(ctx context.Context, result backtest.Result) error {
	if result.ID == "" {
		return NewValidationError("id", "run id must not be empty")
	}
	symbols, err := json.Marshal(result.Symbols)
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(result.Metrics)
	if err != nil {
		return err
	}
	// Trades live in the fills table.
	body := result
	body.Trades = nil
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fills WHERE run_id = ?`, result.ID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(id, strategy, symbols_json, started_at, duration_ms, starting_cash, total_pnl,
		 total_return, max_drawdown, sharpe_ratio, num_trades, metrics_json, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.Strategy,
		string(symbols),
		result.StartedAt.UnixMilli(),
		result.Duration.Milliseconds(),
		result.Risk.StartingCash.String(),
		result.Metrics.TotalPnL.String(),
		result.Metrics.TotalReturn,
		result.Metrics.MaxDrawdown,
		result.Metrics.SharpeRatio,
		result.Metrics.NumTrades,
		string(metrics),
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", result.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fills
		(run_id, seq, order_id, symbol, side, quantity, price, ts, realized_pnl, cash_flow, fee, liquidity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, fill := range result.Trades {
		_, err := stmt.ExecContext(ctx,
			result.ID, i,
			fill.OrderID,
			fill.Symbol,
			fill.Side.String(),
			fill.FilledQuantity,
			fill.FillPrice.String(),
			fill.Timestamp.UnixMilli(),
			fill.RealizedPnL.String(),
			fill.CashFlow.String(),
			fill.Fee.String(),
			fill.Liquidity.String(),
		)
		if err != nil {
			return fmt.Errorf("insert fill %d of run %s: %w", i, result.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Debug().Str("run", result.ID).Int("fills", len(result.Trades)).Msg("run saved")
	return nil
}

// GetRun loads a run with its trade log.
func (s *Store) GetRun(ctx context.Context, id string) (backtest.Result, error) {
	s.mu.Lock()
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT result_json FROM runs WHERE id = ?`, id).Scan(&raw)
	s.mu.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return backtest.Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return backtest.Result{}, err
	}

	var result backtest.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return backtest.Result{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	result.Trades, err = s.Fills(ctx, id)
	if err != nil {
		return backtest.Result{}, err
	}
	return result, nil
}

// ListRuns returns the most recent runs first. A non-positive limit
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, strategy, symbols_json, started_at, metrics_json
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]RunSummary, 0)
	for rows.Next() {
		var (
			run       RunSummary
			symbols   string
			startedAt int64
			metrics   string
		)
		if err := rows.Scan(&run.ID, &run.Strategy, &symbols, &startedAt, &metrics); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(symbols), &run.Symbols); err != nil {
			return nil, fmt.Errorf("decode symbols of run %s: %w", run.ID, err)
		}
		if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics of run %s: %w", run.ID, err)
		}
		run.StartedAt = time.UnixMilli(startedAt).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Fills returns a run's trade log in execution order. An unknown run
// yields ErrNotFound.
func (s *Store) Fills(ctx context.Context, runID string) ([]ExecutionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT order_id, symbol, side, quantity, price, ts,
		realized_pnl, cash_flow, fee, liquidity FROM fills WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fills := make([]ExecutionReport, 0)
	for rows.Next() {
		var (
			fill                           ExecutionReport
			side, liquidity                string
			price, realized, cashFlow, fee string
			ts                             int64
		)
		if err := rows.Scan(&fill.OrderID, &fill.Symbol, &side, &fill.FilledQuantity, &price, &ts,
			&realized, &cashFlow, &fee, &liquidity); err != nil {
			return nil, err
		}
		if fill.Side, err = ParseSide(side); err != nil {
			return nil, err
		}
		if fill.Liquidity, err = ParseLiquidity(liquidity); err != nil {
			return nil, err
		}
		for _, field := range []struct {
			dst *decimal.Decimal
			raw string
		}{
			{&fill.FillPrice, price},
			{&fill.RealizedPnL, realized},
			{&fill.CashFlow, cashFlow},
			{&fill.Fee, fee},
		} {
			if *field.dst, err = decimal.NewFromString(field.raw); err != nil {
				return nil, fmt.Errorf("decode fill of run %s: %w", runID, err)
			}
		}
		fill.Owner = runID
		fill.Timestamp = time.UnixMilli(ts).UTC()
		fills = append(fills, fill)
	}
	return fills, rows.Err()
}
