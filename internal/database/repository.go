package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Query limits enforced by the gateway regardless of what callers ask for.
const (
	MaxOpenPositionsLimit = 500
	MaxPendingOrdersLimit = 1000
	MaxDayStartLimit      = 100
)

// Repository is the engine's only port to the ledger. Reads are plain SQL;
// every mutation goes through one of the atomic stored procedures.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a ledger connectivity check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// READS
// ============================================================================

// OpenPositions returns every open position, oldest first.
func (r *Repository) OpenPositions(ctx context.Context, limit int) ([]Position, error) {
	if limit <= 0 || limit > MaxOpenPositionsLimit {
		limit = MaxOpenPositionsLimit
	}
	query := `
		SELECT id, account_id, user_id, symbol, direction, margin_mode,
		       quantity, original_quantity, leverage, entry_price,
		       COALESCE(liquidation_price, 0), isolated_margin, trade_fees,
		       status, COALESCE(close_reason, ''), COALESCE(exit_price, 0),
		       exit_timestamp, realized_pnl, entry_timestamp
		FROM positions
		WHERE status = 'open'
		ORDER BY entry_timestamp
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(
			&p.ID, &p.AccountID, &p.UserID, &p.Symbol, &p.Direction, &p.MarginMode,
			&p.Quantity, &p.OriginalQuantity, &p.Leverage, &p.EntryPrice,
			&p.LiquidationPrice, &p.IsolatedMargin, &p.TradeFees,
			&p.Status, &p.CloseReason, &p.ExitPrice,
			&p.ExitTimestamp, &p.RealizedPnL, &p.EntryTimestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// PendingSLTPOrders returns every pending order linked to a position, i.e.
// the stop-loss and take-profit book the matcher evaluates each tick.
func (r *Repository) PendingSLTPOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 || limit > MaxPendingOrdersLimit {
		limit = MaxPendingOrdersLimit
	}
	query := `
		SELECT id, account_id, user_id, position_id, symbol, order_type,
		       direction, quantity, leverage, price, stop_price,
		       filled_quantity, status, created_at
		FROM orders
		WHERE position_id IS NOT NULL AND status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.AccountID, &o.UserID, &o.PositionID, &o.Symbol, &o.OrderType,
			&o.Direction, &o.Quantity, &o.Leverage, &o.Price, &o.StopPrice,
			&o.FilledQty, &o.Status, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// AccountsByID returns the accounts for the given ids.
func (r *Repository) AccountsByID(ctx context.Context, ids []string) ([]Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, user_id, starting_balance, available_margin, total_margin_required,
		       net_worth, realized_pnl, total_pnl, account_status,
		       COALESCE(breach_reason, ''), COALESCE(day_start_balance, 0),
		       COALESCE(day_start_equity, 0), COALESCE(day_start_date::text, ''),
		       current_phase, created_at, updated_at
		FROM accounts
		WHERE id = ANY($1)
	`
	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

// StaleDayStartAccounts returns active accounts whose daily anchor has not
// been snapshotted for the given UTC day yet.
func (r *Repository) StaleDayStartAccounts(ctx context.Context, todayUTC string, limit int) ([]Account, error) {
	if limit <= 0 || limit > MaxDayStartLimit {
		limit = MaxDayStartLimit
	}
	query := `
		SELECT id, user_id, starting_balance, available_margin, total_margin_required,
		       net_worth, realized_pnl, total_pnl, account_status,
		       COALESCE(breach_reason, ''), COALESCE(day_start_balance, 0),
		       COALESCE(day_start_equity, 0), COALESCE(day_start_date::text, ''),
		       current_phase, created_at, updated_at
		FROM accounts
		WHERE account_status IN ('active', 'funded', 'passed')
		  AND (day_start_date IS NULL OR day_start_date <> $1::date)
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, todayUTC, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale day-start accounts: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

// FallbackPrices reads the ledger's price_cache rows for the given symbols.
func (r *Repository) FallbackPrices(ctx context.Context, symbols []string) ([]PriceRow, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	query := `
		SELECT symbol, current_price, current_bid, current_ask, last_updated
		FROM price_cache
		WHERE symbol = ANY($1)
	`
	rows, err := r.db.Pool.Query(ctx, query, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to query price cache: %w", err)
	}
	defer rows.Close()

	var prices []PriceRow
	for rows.Next() {
		var p PriceRow
		if err := rows.Scan(&p.Symbol, &p.CurrentPrice, &p.CurrentBid, &p.CurrentAsk, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// NonStreamingSymbols returns the active instruments the streaming feed does
// not carry; these are served by the fallback loader instead.
func (r *Repository) NonStreamingSymbols(ctx context.Context, streamingSymbols []string) ([]string, error) {
	query := `
		SELECT symbol FROM instruments
		WHERE is_active AND NOT (symbol = ANY($1))
		ORDER BY symbol
	`
	rows, err := r.db.Pool.Query(ctx, query, streamingSymbols)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// ============================================================================
// WRITES (atomic RPCs + the guarded day-start snapshot)
// ============================================================================

// SnapshotDayStart writes the daily drawdown anchor for one account. The
// date condition makes it idempotent: concurrent runs or restarts can never
// double-snapshot a single UTC day. Returns whether a row was written.
func (r *Repository) SnapshotDayStart(ctx context.Context, accountID string, equity decimal.Decimal, todayUTC string) (bool, error) {
	query := `
		UPDATE accounts SET
			day_start_balance = $2,
			day_start_equity = $2,
			day_start_date = $3::date,
			updated_at = NOW()
		WHERE id = $1
		  AND (day_start_date IS NULL OR day_start_date <> $3::date)
	`
	tag, err := r.db.Pool.Exec(ctx, query, accountID, equity, todayUTC)
	if err != nil {
		return false, fmt.Errorf("failed to snapshot day start: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PlaceMarketOrderParams mirrors the place_market_order signature.
type PlaceMarketOrderParams struct {
	AccountID        string
	UserID           string
	Symbol           string
	Direction        string
	MarginMode       string
	Quantity         decimal.Decimal
	Leverage         decimal.Decimal
	ExecPrice        decimal.Decimal
	Margin           decimal.Decimal
	Fee              decimal.Decimal
	LiquidationPrice decimal.Decimal
	InstrumentConfig json.RawMessage
	InstrumentPrice  decimal.Decimal
	SLPrice          decimal.NullDecimal
	TPPrice          decimal.NullDecimal
}

// PlaceMarketOrder opens a position in one transaction under the account
// row lock. The engine itself never places orders; the RPC lives here
// because the engine's invariants depend on its exact semantics.
func (r *Repository) PlaceMarketOrder(ctx context.Context, p PlaceMarketOrderParams) (json.RawMessage, error) {
	query := `SELECT place_market_order($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	var result json.RawMessage
	err := r.db.Pool.QueryRow(ctx, query,
		p.AccountID, p.UserID, p.Symbol, p.Direction, p.MarginMode,
		p.Quantity, p.Leverage, p.ExecPrice, p.Margin, p.Fee,
		p.LiquidationPrice, p.InstrumentConfig, p.InstrumentPrice,
		p.SLPrice, p.TPPrice,
	).Scan(&result)
	if err != nil {
		return nil, mapRPCError("place_market_order", err)
	}
	return result, nil
}

// ClosePositionParams mirrors the close_position_atomic signature.
type ClosePositionParams struct {
	PositionID       string
	AccountID        string
	ExitPrice        decimal.Decimal
	ExitTimestamp    time.Time
	RealizedPnL      decimal.Decimal
	CloseFee         decimal.Decimal
	ExistingFees     decimal.Decimal
	IsolatedMargin   decimal.Decimal
	CloseReason      string
	TriggeredOrderID string // empty when no SL/TP order fired
	Symbol           string
	Direction        string
	Quantity         decimal.Decimal
}

// ClosePositionAtomic closes a position in one transaction under the
// account row lock. Returns ErrPositionNotOpen when the position was
// already closed by another path.
func (r *Repository) ClosePositionAtomic(ctx context.Context, p ClosePositionParams) error {
	query := `SELECT close_position_atomic($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	var triggeredOrderID *string
	if p.TriggeredOrderID != "" {
		triggeredOrderID = &p.TriggeredOrderID
	}
	_, err := r.db.Pool.Exec(ctx, query,
		p.PositionID, p.AccountID, p.ExitPrice, p.ExitTimestamp,
		p.RealizedPnL, p.CloseFee, p.ExistingFees, p.IsolatedMargin,
		p.CloseReason, triggeredOrderID, p.Symbol, p.Direction, p.Quantity,
	)
	return mapRPCError("close_position_atomic", err)
}

// BreachAccountAtomic transitions an account to the terminal breached state.
func (r *Repository) BreachAccountAtomic(ctx context.Context, accountID, reason string) error {
	query := `SELECT breach_account_atomic($1, $2)`
	_, err := r.db.Pool.Exec(ctx, query, accountID, reason)
	return mapRPCError("breach_account_atomic", err)
}

// ============================================================================
// SCAN HELPERS
// ============================================================================

type accountRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAccounts(rows accountRows) ([]Account, error) {
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.StartingBalance, &a.AvailableMargin, &a.TotalMarginRequired,
			&a.NetWorth, &a.RealizedPnL, &a.TotalPnL, &a.Status,
			&a.BreachReason, &a.DayStartBalance, &a.DayStartEquity, &a.DayStartDate,
			&a.CurrentPhase, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
