package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

const lastPositionIDKey = "last_position_id"

// SQLiteStore persists state in a SQLite database. Unsigned 128 and 256 bit
// values are stored as decimal TEXT; tick indices are INTEGER so they order
// as signed numbers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates it.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pools (
		id BLOB PRIMARY KEY,
		asset0 BLOB NOT NULL,
		asset1 BLOB NOT NULL,
		tick_spacing INTEGER NOT NULL,
		fee_rate TEXT NOT NULL,
		tick_index INTEGER NOT NULL,
		sqrt_price TEXT NOT NULL,
		volume0 TEXT NOT NULL DEFAULT '0',
		volume1 TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS ticks (
		pool_id BLOB NOT NULL,
		tick_index INTEGER NOT NULL,
		fee_growth0 TEXT NOT NULL,
		fee_growth1 TEXT NOT NULL,
		total_liquidity TEXT NOT NULL,
		PRIMARY KEY (pool_id, tick_index),
		FOREIGN KEY (pool_id) REFERENCES pools(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY,
		pool_id BLOB NOT NULL,
		owner BLOB NOT NULL,
		liquidity TEXT NOT NULL,
		lower_tick_index INTEGER NOT NULL,
		upper_tick_index INTEGER NOT NULL,
		fee_snapshots TEXT NOT NULL,
		FOREIGN KEY (pool_id) REFERENCES pools(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_positions_owner ON positions(owner, id);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func parseUint128(text string) (uint128.Uint128, error) {
	v, err := uint128.FromString(text)
	if err != nil {
		return uint128.Zero, fmt.Errorf("store: invalid uint128 %q: %w", text, err)
	}
	return v, nil
}

func scanPool(row rowScanner) (clpool.PoolState, error) {
	var (
		p                clpool.PoolState
		spacing          int64
		volume0, volume1 string
	)
	p.SqrtPrice = new(uint256.Int)
	err := row.Scan(&p.ID, &p.Key.Asset0, &p.Key.Asset1, &spacing, &p.Key.FeeRate, &p.TickIndex, p.SqrtPrice, &volume0, &volume1)
	if err != nil {
		return clpool.PoolState{}, err
	}
	if spacing < 0 || spacing > math.MaxUint16 {
		return clpool.PoolState{}, fmt.Errorf("store: tick spacing %d out of range", spacing)
	}
	p.Key.TickSpacing = uint16(spacing)
	if p.Volume[0], err = parseUint128(volume0); err != nil {
		return clpool.PoolState{}, err
	}
	if p.Volume[1], err = parseUint128(volume1); err != nil {
		return clpool.PoolState{}, err
	}
	return p, nil
}

const poolColumns = `id, asset0, asset1, tick_spacing, fee_rate, tick_index, sqrt_price, volume0, volume1`

func (s *SQLiteStore) Pool(ctx context.Context, id clpool.PoolID) (clpool.PoolState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = ?`, id)
	p, err := scanPool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return clpool.PoolState{}, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) Pools(ctx context.Context) ([]clpool.PoolState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []clpool.PoolState
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanTick(row rowScanner) (clpool.TickInfo, error) {
	var (
		t         clpool.TickInfo
		liquidity string
	)
	if err := row.Scan(&t.Index, &t.FeeGrowth0, &t.FeeGrowth1, &liquidity); err != nil {
		return clpool.TickInfo{}, err
	}
	var err error
	t.TotalLiquidity, err = parseUint128(liquidity)
	return t, err
}

func (s *SQLiteStore) Tick(ctx context.Context, pool clpool.PoolID, index int32) (clpool.TickInfo, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tick_index, fee_growth0, fee_growth1, total_liquidity FROM ticks WHERE pool_id = ? AND tick_index = ?`,
		pool, index)
	t, err := scanTick(row)
	if errors.Is(err, sql.ErrNoRows) {
		return clpool.TickInfo{}, false, nil
	}
	if err != nil {
		return clpool.TickInfo{}, false, err
	}
	return t, true, nil
}

func (s *SQLiteStore) Ticks(ctx context.Context, pool clpool.PoolID, startAfter *int32, limit int) ([]clpool.TickInfo, error) {
	after := int64(math.MinInt64)
	if startAfter != nil {
		after = int64(*startAfter)
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick_index, fee_growth0, fee_growth1, total_liquidity FROM ticks
		WHERE pool_id = ? AND tick_index > ? ORDER BY tick_index LIMIT ?`,
		pool, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []clpool.TickInfo
	for rows.Next() {
		t, err := scanTick(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const positionColumns = `id, pool_id, owner, liquidity, lower_tick_index, upper_tick_index, fee_snapshots`

func scanPosition(row rowScanner) (clpool.Position, error) {
	var (
		p                    clpool.Position
		id                   int64
		liquidity, snapshots string
	)
	if err := row.Scan(&id, &p.PoolID, &p.Owner, &liquidity, &p.Lower, &p.Upper, &snapshots); err != nil {
		return clpool.Position{}, err
	}
	p.ID = uint64(id)
	var err error
	if p.Liquidity, err = parseUint128(liquidity); err != nil {
		return clpool.Position{}, err
	}
	if err := json.Unmarshal([]byte(snapshots), &p.FeeSnapshots); err != nil {
		return clpool.Position{}, fmt.Errorf("store: position %d fee snapshots: %w", p.ID, err)
	}
	return p, nil
}

func (s *SQLiteStore) Position(ctx context.Context, id uint64) (clpool.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, int64(id))
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return clpool.Position{}, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) Positions(ctx context.Context, owner common.Address, startAfter *uint64, limit int) ([]clpool.Position, error) {
	after := int64(-1)
	if startAfter != nil {
		// ids are stored as INTEGER; none can follow one past its range
		if *startAfter > math.MaxInt64 {
			return nil, nil
		}
		after = int64(*startAfter)
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE owner = ? AND id > ? ORDER BY id LIMIT ?`,
		owner, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []clpool.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LastPositionID(ctx context.Context) (uint64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, lastPositionIDKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return uint64(v), err
}

// Apply writes b in one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, b Batch) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, p := range b.Pools {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO pools (`+poolColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				tick_index = excluded.tick_index,
				sqrt_price = excluded.sqrt_price,
				volume0 = excluded.volume0,
				volume1 = excluded.volume1`,
			p.ID, p.Key.Asset0, p.Key.Asset1, int64(p.Key.TickSpacing), p.Key.FeeRate,
			p.TickIndex, p.SqrtPrice, p.Volume[0].String(), p.Volume[1].String(),
		); err != nil {
			return fmt.Errorf("save pool %s: %w", p.ID, err)
		}
	}

	for _, rec := range b.Ticks {
		t := rec.Tick
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO ticks (pool_id, tick_index, fee_growth0, fee_growth1, total_liquidity) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (pool_id, tick_index) DO UPDATE SET
				fee_growth0 = excluded.fee_growth0,
				fee_growth1 = excluded.fee_growth1,
				total_liquidity = excluded.total_liquidity`,
			rec.Pool, t.Index, t.FeeGrowth0, t.FeeGrowth1, t.TotalLiquidity.String(),
		); err != nil {
			return fmt.Errorf("save tick %d: %w", t.Index, err)
		}
	}

	for _, p := range b.Positions {
		if p.ID > math.MaxInt64 {
			return fmt.Errorf("save position %d: id out of range", p.ID)
		}
		var snapshots []byte
		if snapshots, err = json.Marshal(p.FeeSnapshots); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO positions (`+positionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				owner = excluded.owner,
				liquidity = excluded.liquidity,
				fee_snapshots = excluded.fee_snapshots`,
			int64(p.ID), p.PoolID, p.Owner, p.Liquidity.String(), p.Lower, p.Upper, string(snapshots),
		); err != nil {
			return fmt.Errorf("save position %d: %w", p.ID, err)
		}
	}

	for _, id := range b.DeletedPositions {
		if _, err = tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, int64(id)); err != nil {
			return fmt.Errorf("delete position %d: %w", id, err)
		}
	}

	if b.LastPositionID != nil {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
			lastPositionIDKey, int64(*b.LastPositionID),
		); err != nil {
			return fmt.Errorf("save last position id: %w", err)
		}
	}

	return tx.Commit()
}
