package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"

	"github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the position, trade and order repositories and the
// nonce store using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/kraken_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serialises writers; engines share this repository.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		opened_at TIMESTAMP NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		UNIQUE (strategy_id, pair)
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		position_id INTEGER NULL,
		close_reason TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		txid TEXT PRIMARY KEY,
		client_order_id TEXT NOT NULL DEFAULT '',
		strategy_id TEXT NOT NULL DEFAULT '',
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nonces (
		key_id TEXT PRIMARY KEY,
		nonce INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trade_history_pair_exit_time ON trade_history (pair, exit_time);
	CREATE INDEX IF NOT EXISTS idx_orders_client_order_id ON orders (client_order_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// --- PositionRepository Implementation ---

// Create saves a new position and returns its assigned ID. A second open
// position for the same strategy and pair fails with ports.ErrDuplicateEntry.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (strategy_id, pair, side, quantity, entry_price, stop_loss, take_profit, opened_at, order_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		pos.StrategyID, pos.Pair, string(pos.Side), pos.Quantity, pos.EntryPrice, pos.StopLoss, pos.TakeProfit, pos.OpenedAt, pos.OrderID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("position for %s/%s: %w", pos.StrategyID, pos.Pair, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert position for pair %s: %w", pos.Pair, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Pair, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "strategyID": pos.StrategyID, "pair": pos.Pair})
	return id, nil
}

// Update modifies an existing position based on its ID.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET quantity = ?, entry_price = ?, stop_loss = ?, take_profit = ?, order_id = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		pos.Quantity, pos.EntryPrice, pos.StopLoss, pos.TakeProfit, pos.OrderID, pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "pair": pos.Pair, "quantity": pos.Quantity})
	return nil
}

// Delete removes a closed position.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete position ID %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for delete position ID %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for delete: %w", id, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position deleted", map[string]interface{}{"positionID": id})
	return nil
}

const positionColumns = `id, strategy_id, pair, side, quantity, entry_price, stop_loss, take_profit, opened_at, order_id`

// FindByID retrieves a position by its unique ID, nil when absent.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position by ID %d: %w", id, err)
	}
	return pos, nil
}

// FindOpenByStrategy returns the open positions of one strategy instance.
func (r *Repository) FindOpenByStrategy(ctx context.Context, strategyID string) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE strategy_id = ? ORDER BY pair`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for strategy %s: %w", strategyID, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindOpenByStrategy: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- TradeRepository Implementation ---

const tradeColumns = `id, strategy_id, pair, side, entry_price, exit_price, quantity, pnl, entry_time, exit_time, position_id, close_reason`

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (strategy_id, pair, side, entry_price, exit_price, quantity, pnl,
	                           entry_time, exit_time, position_id, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var positionID sql.NullInt64
	if trade.PositionID != 0 {
		positionID = sql.NullInt64{Int64: trade.PositionID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		trade.StrategyID, trade.Pair, string(trade.Side), trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.PNL,
		trade.EntryTime, trade.ExitTime, positionID, string(trade.CloseReason))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for pair %s: %w", trade.Pair, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Pair, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "pair": trade.Pair, "pnl": trade.PNL})
	return id, nil
}

// FindByPair retrieves the most recent trades for a pair, up to a limit.
func (r *Repository) FindByPair(ctx context.Context, pair string, limit int) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trade_history WHERE pair = ? ORDER BY exit_time DESC, id DESC LIMIT ?`, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for pair %s: %w", pair, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// FindAllTrades retrieves all trades ordered by exit time.
func (r *Repository) FindAllTrades(ctx context.Context) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trade_history ORDER BY exit_time ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// GetTotalProfit sums the PNL of all recorded trades.
func (r *Repository) GetTotalProfit(ctx context.Context) (float64, error) {
	var total float64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(pnl), 0) FROM trade_history`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to calculate total profit: %w", err)
	}
	return total, nil
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// --- OrderRepository Implementation ---

// SaveOrder inserts or updates the journal entry of an order.
func (r *Repository) SaveOrder(ctx context.Context, order *domain.Order) error {
	const query = `
	INSERT INTO orders (txid, client_order_id, strategy_id, pair, side, order_type, quantity, price, status, opened_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(txid) DO UPDATE SET status = excluded.status, price = excluded.price, updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		order.ID, order.ClientOrderID, order.StrategyID, order.Pair, string(order.Side), string(order.Type),
		order.Quantity, order.Price, string(order.Status), order.OpenedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", order.ID, err)
	}
	r.logger.Debug(ctx, "Order saved", map[string]interface{}{"txid": order.ID, "status": order.Status})
	return nil
}

// FindOrder returns a journaled order, nil when absent.
func (r *Repository) FindOrder(ctx context.Context, txid string) (*domain.Order, error) {
	const query = `
	SELECT txid, client_order_id, strategy_id, pair, side, order_type, quantity, price, status, opened_at
	FROM orders WHERE txid = ?`

	o := &domain.Order{}
	var side, orderType, status string
	err := r.db.QueryRowContext(ctx, query, txid).Scan(
		&o.ID, &o.ClientOrderID, &o.StrategyID, &o.Pair, &side, &orderType, &o.Quantity, &o.Price, &status, &o.OpenedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query order %s: %w", txid, err)
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// --- NonceStore Implementation ---

// LoadNonce returns the recorded nonce high-water mark, 0 when none.
func (r *Repository) LoadNonce(ctx context.Context, keyID string) (int64, error) {
	var nonce int64
	err := r.db.QueryRowContext(ctx, `SELECT nonce FROM nonces WHERE key_id = ?`, keyID).Scan(&nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load nonce: %w", err)
	}
	return nonce, nil
}

// StoreNonce records nonce unless a greater value is already stored.
func (r *Repository) StoreNonce(ctx context.Context, keyID string, nonce int64) error {
	const query = `
	INSERT INTO nonces (key_id, nonce) VALUES (?, ?)
	ON CONFLICT(key_id) DO UPDATE SET nonce = MAX(nonce, excluded.nonce)`

	if _, err := r.db.ExecContext(ctx, query, keyID, nonce); err != nil {
		return fmt.Errorf("failed to store nonce: %w", err)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side string
	err := s.Scan(
		&p.ID, &p.StrategyID, &p.Pair, &side, &p.Quantity, &p.EntryPrice,
		&p.StopLoss, &p.TakeProfit, &p.OpenedAt, &p.OrderID)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Side = domain.PositionSide(side)
	return p, nil
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var side string
	var positionID sql.NullInt64
	var closeReason sql.NullString
	err := s.Scan(
		&th.ID, &th.StrategyID, &th.Pair, &side, &th.EntryPrice, &th.ExitPrice, &th.Quantity, &th.PNL,
		&th.EntryTime, &th.ExitTime, &positionID, &closeReason)
	if err != nil {
		return nil, err
	}
	th.Side = domain.PositionSide(side)
	if positionID.Valid {
		th.PositionID = positionID.Int64
	}
	if closeReason.Valid && closeReason.String != "" {
		th.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		th.CloseReason = domain.CloseReasonUnknown
	}
	return th, nil
}
