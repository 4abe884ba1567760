// Package store persists the engine's per-instance state: the local
// orderbook, the running grid configuration, and the two small
// bookkeeping tables used to survive a restart mid-placement or
// mid-sale (spec.md's four logical tables, all keyed by userref).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
)

// Store is the persistence port the engine and strategy depend on.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	UpsertOrder(ctx context.Context, order domain.Order) error
	DeleteOrder(ctx context.Context, userref int64, txid string) error
	GetOrder(ctx context.Context, userref int64, txid string) (*domain.Order, error)
	ListOrders(ctx context.Context, userref int64, side domain.Side, status domain.Status) ([]domain.Order, error)
	ListAllOrders(ctx context.Context, userref int64) ([]domain.Order, error)

	GetConfiguration(ctx context.Context, userref int64) (*domain.Configuration, error)
	SaveConfiguration(ctx context.Context, cfg domain.Configuration) error

	AddPendingTxid(ctx context.Context, userref int64, txid string) error
	RemovePendingTxid(ctx context.Context, userref int64, txid string) error
	ListPendingTxids(ctx context.Context, userref int64) ([]string, error)

	AddUnsoldBuyTxid(ctx context.Context, userref int64, txid string, sellPrice decimal.Decimal) error
	RemoveUnsoldBuyTxid(ctx context.Context, userref int64, txid string) error
	ListUnsoldBuyTxids(ctx context.Context, userref int64) ([]domain.UnsoldBuyTxid, error)
}

// SQLiteStore is the Store implementation backed by a local SQLite file,
// adapted from the teacher's state store: WAL mode and serializable
// transactions for crash safety, but four relational tables instead of
// a single JSON blob, since the engine needs to query and mutate
// individual orders and bookkeeping rows rather than round-trip one
// opaque state object.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and, on first use, creates) the SQLite database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS orderbook (
	txid       TEXT PRIMARY KEY,
	userref    INTEGER NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	price      TEXT NOT NULL,
	volume     TEXT NOT NULL,
	vol_exec   TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orderbook_userref ON orderbook(userref);

CREATE TABLE IF NOT EXISTS configuration (
	userref                            INTEGER PRIMARY KEY,
	amount_per_grid                    TEXT NOT NULL,
	interval                           TEXT NOT NULL,
	price_of_highest_buy               TEXT NOT NULL,
	vol_of_unfilled_remaining          TEXT NOT NULL,
	vol_of_unfilled_remaining_max_price TEXT NOT NULL,
	last_price_time                    INTEGER NOT NULL,
	last_notification_time             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_txids (
	userref INTEGER NOT NULL,
	txid    TEXT NOT NULL,
	PRIMARY KEY (userref, txid)
);

CREATE TABLE IF NOT EXISTS unsold_buy_txids (
	userref    INTEGER NOT NULL,
	txid       TEXT NOT NULL,
	sell_price TEXT NOT NULL,
	PRIMARY KEY (userref, txid)
);
`

// Init creates the schema if it does not already exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertOrder inserts or replaces the order keyed by its txid.
func (s *SQLiteStore) UpsertOrder(ctx context.Context, order domain.Order) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO orderbook (txid, userref, symbol, side, price, volume, vol_exec, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.TXID, order.Userref, order.Symbol, string(order.Side),
			order.Price.String(), order.Volume.String(), order.VolumeExecuted.String(),
			string(order.Status), order.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to upsert order %s: %w", order.TXID, err)
		}
		return nil
	})
}

// DeleteOrder removes an order from the local orderbook.
func (s *SQLiteStore) DeleteOrder(ctx context.Context, userref int64, txid string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM orderbook WHERE userref = ? AND txid = ?`, userref, txid)
		if err != nil {
			return fmt.Errorf("failed to delete order %s: %w", txid, err)
		}
		return nil
	})
}

// GetOrder returns a single order, or nil if it is not in the orderbook.
func (s *SQLiteStore) GetOrder(ctx context.Context, userref int64, txid string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT txid, userref, symbol, side, price, volume, vol_exec, status, created_at
		FROM orderbook WHERE userref = ? AND txid = ?`, userref, txid)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", txid, err)
	}
	return order, nil
}

// ListOrders returns orders matching side and status for userref. An
// empty side or status matches any value for that column.
func (s *SQLiteStore) ListOrders(ctx context.Context, userref int64, side domain.Side, status domain.Status) ([]domain.Order, error) {
	query := `SELECT txid, userref, symbol, side, price, volume, vol_exec, status, created_at FROM orderbook WHERE userref = ?`
	args := []interface{}{userref}
	if side != "" {
		query += " AND side = ?"
		args = append(args, string(side))
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY price ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListAllOrders returns every order in the local orderbook for userref.
func (s *SQLiteStore) ListAllOrders(ctx context.Context, userref int64) ([]domain.Order, error) {
	return s.ListOrders(ctx, userref, "", "")
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	var side, status, price, volume, volExec string
	var createdAt int64
	if err := row.Scan(&o.TXID, &o.Userref, &o.Symbol, &side, &price, &volume, &volExec, &status, &createdAt); err != nil {
		return nil, err
	}
	return decodeOrder(&o, side, status, price, volume, volExec, createdAt)
}

func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, status, price, volume, volExec string
		var createdAt int64
		if err := rows.Scan(&o.TXID, &o.Userref, &o.Symbol, &side, &price, &volume, &volExec, &status, &createdAt); err != nil {
			return nil, err
		}
		decoded, err := decodeOrder(&o, side, status, price, volume, volExec, createdAt)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *decoded)
	}
	return orders, rows.Err()
}

func decodeOrder(o *domain.Order, side, status, price, volume, volExec string, createdAt int64) (*domain.Order, error) {
	o.Side = domain.Side(side)
	o.Status = domain.Status(status)
	o.CreatedAt = time.Unix(createdAt, 0).UTC()

	var err error
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	if o.Volume, err = decimal.NewFromString(volume); err != nil {
		return nil, fmt.Errorf("invalid stored volume %q: %w", volume, err)
	}
	if o.VolumeExecuted, err = decimal.NewFromString(volExec); err != nil {
		return nil, fmt.Errorf("invalid stored vol_exec %q: %w", volExec, err)
	}
	return o, nil
}

// GetConfiguration returns the running grid configuration for userref,
// or nil if none has been persisted yet.
func (s *SQLiteStore) GetConfiguration(ctx context.Context, userref int64) (*domain.Configuration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT userref, amount_per_grid, interval, price_of_highest_buy,
		       vol_of_unfilled_remaining, vol_of_unfilled_remaining_max_price,
		       last_price_time, last_notification_time
		FROM configuration WHERE userref = ?`, userref)

	var cfg domain.Configuration
	var amountPerGrid, interval, priceOfHighestBuy, volUnfilled, volUnfilledMaxPrice string
	var lastPriceTime, lastNotificationTime int64

	err := row.Scan(&cfg.Userref, &amountPerGrid, &interval, &priceOfHighestBuy,
		&volUnfilled, &volUnfilledMaxPrice, &lastPriceTime, &lastNotificationTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration for userref %d: %w", userref, err)
	}

	for _, field := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&cfg.AmountPerGrid, amountPerGrid},
		{&cfg.Interval, interval},
		{&cfg.PriceOfHighestBuy, priceOfHighestBuy},
		{&cfg.VolOfUnfilledRemaining, volUnfilled},
		{&cfg.VolOfUnfilledRemainingMaxPrice, volUnfilledMaxPrice},
	} {
		v, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid stored decimal %q: %w", field.raw, err)
		}
		*field.dst = v
	}

	cfg.LastPriceTime = time.Unix(lastPriceTime, 0).UTC()
	cfg.LastNotificationTime = time.Unix(lastNotificationTime, 0).UTC()
	return &cfg, nil
}

// SaveConfiguration upserts the running grid configuration.
func (s *SQLiteStore) SaveConfiguration(ctx context.Context, cfg domain.Configuration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO configuration
				(userref, amount_per_grid, interval, price_of_highest_buy,
				 vol_of_unfilled_remaining, vol_of_unfilled_remaining_max_price,
				 last_price_time, last_notification_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			cfg.Userref, cfg.AmountPerGrid.String(), cfg.Interval.String(), cfg.PriceOfHighestBuy.String(),
			cfg.VolOfUnfilledRemaining.String(), cfg.VolOfUnfilledRemainingMaxPrice.String(),
			cfg.LastPriceTime.Unix(), cfg.LastNotificationTime.Unix())
		if err != nil {
			return fmt.Errorf("failed to save configuration for userref %d: %w", cfg.Userref, err)
		}
		return nil
	})
}

// AddPendingTxid records a txid whose placement confirmation has not yet
// arrived, so a restart can reconcile it rather than lose track of it.
func (s *SQLiteStore) AddPendingTxid(ctx context.Context, userref int64, txid string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO pending_txids (userref, txid) VALUES (?, ?)`, userref, txid)
		if err != nil {
			return fmt.Errorf("failed to add pending txid %s: %w", txid, err)
		}
		return nil
	})
}

// RemovePendingTxid clears a txid once its placement has been confirmed.
func (s *SQLiteStore) RemovePendingTxid(ctx context.Context, userref int64, txid string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM pending_txids WHERE userref = ? AND txid = ?`, userref, txid)
		if err != nil {
			return fmt.Errorf("failed to remove pending txid %s: %w", txid, err)
		}
		return nil
	})
}

// ListPendingTxids returns every unconfirmed txid for userref.
func (s *SQLiteStore) ListPendingTxids(ctx context.Context, userref int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT txid FROM pending_txids WHERE userref = ?`, userref)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending txids: %w", err)
	}
	defer rows.Close()

	var txids []string
	for rows.Next() {
		var txid string
		if err := rows.Scan(&txid); err != nil {
			return nil, err
		}
		txids = append(txids, txid)
	}
	return txids, rows.Err()
}

// AddUnsoldBuyTxid records a filled buy whose counter-order sell is still
// owed, along with the price that sell must be placed at.
func (s *SQLiteStore) AddUnsoldBuyTxid(ctx context.Context, userref int64, txid string, sellPrice decimal.Decimal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO unsold_buy_txids (userref, txid, sell_price) VALUES (?, ?, ?)`,
			userref, txid, sellPrice.String())
		if err != nil {
			return fmt.Errorf("failed to add unsold buy txid %s: %w", txid, err)
		}
		return nil
	})
}

// RemoveUnsoldBuyTxid clears a txid once its counter-order sell has been placed.
func (s *SQLiteStore) RemoveUnsoldBuyTxid(ctx context.Context, userref int64, txid string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM unsold_buy_txids WHERE userref = ? AND txid = ?`, userref, txid)
		if err != nil {
			return fmt.Errorf("failed to remove unsold buy txid %s: %w", txid, err)
		}
		return nil
	})
}

// ListUnsoldBuyTxids returns every outstanding unsold-buy record for userref.
func (s *SQLiteStore) ListUnsoldBuyTxids(ctx context.Context, userref int64) ([]domain.UnsoldBuyTxid, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT userref, txid, sell_price FROM unsold_buy_txids WHERE userref = ?`, userref)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsold buy txids: %w", err)
	}
	defer rows.Close()

	var out []domain.UnsoldBuyTxid
	for rows.Next() {
		var u domain.UnsoldBuyTxid
		var sellPrice string
		if err := rows.Scan(&u.Userref, &u.TXID, &sellPrice); err != nil {
			return nil, err
		}
		v, err := decimal.NewFromString(sellPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid stored sell_price %q: %w", sellPrice, err)
		}
		u.SellPrice = v
		out = append(out, u)
	}
	return out, rows.Err()
}
