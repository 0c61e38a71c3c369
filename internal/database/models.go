package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account status values. breached and closed are terminal for the engine.
const (
	AccountStatusActive   = "active"
	AccountStatusFunded   = "funded"
	AccountStatusPassed   = "passed"
	AccountStatusBreached = "breached"
	AccountStatusClosed   = "closed"
)

// Position directions
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// Position status values
const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Close reasons recorded on positions
const (
	CloseReasonManual      = "manual"
	CloseReasonStopLoss    = "sl"
	CloseReasonTakeProfit  = "tp"
	CloseReasonLiquidation = "liquidation"
	CloseReasonAdminForce  = "admin_force"
)

// Order types
const (
	OrderTypeMarket    = "market"
	OrderTypeLimit     = "limit"
	OrderTypeStop      = "stop"
	OrderTypeStopLimit = "stop_limit"
)

// Order status values
const (
	OrderStatusPending   = "pending"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// Account is a trader's ledger row. starting_balance never mutates;
// net_worth is the realized balance and excludes open-position PnL.
type Account struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	StartingBalance     decimal.Decimal `json:"starting_balance"`
	AvailableMargin     decimal.Decimal `json:"available_margin"`
	TotalMarginRequired decimal.Decimal `json:"total_margin_required"`
	NetWorth            decimal.Decimal `json:"net_worth"`
	RealizedPnL         decimal.Decimal `json:"realized_pnl"`
	TotalPnL            decimal.Decimal `json:"total_pnl"`
	Status              string          `json:"account_status"`
	BreachReason        string          `json:"breach_reason,omitempty"`
	DayStartBalance     decimal.Decimal `json:"day_start_balance"`
	DayStartEquity      decimal.Decimal `json:"day_start_equity"`
	DayStartDate        string          `json:"day_start_date,omitempty"` // UTC calendar day, "2006-01-02"; empty when never snapshotted
	CurrentPhase        string          `json:"current_phase"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the engine must never mutate this account again.
func (a Account) IsTerminal() bool {
	return a.Status == AccountStatusBreached || a.Status == AccountStatusClosed
}

// Position is one leveraged CFD position. Created only by place_market_order,
// closed only by close_position_atomic, never deleted.
type Position struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	UserID           string          `json:"user_id"`
	Symbol           string          `json:"symbol"`
	Direction        string          `json:"direction"`
	MarginMode       string          `json:"margin_mode"`
	Quantity         decimal.Decimal `json:"quantity"`
	OriginalQuantity decimal.Decimal `json:"original_quantity"`
	Leverage         decimal.Decimal `json:"leverage"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	IsolatedMargin   decimal.Decimal `json:"isolated_margin"`
	TradeFees        decimal.Decimal `json:"trade_fees"`
	Status           string          `json:"status"`
	CloseReason      string          `json:"close_reason,omitempty"`
	ExitPrice        decimal.Decimal `json:"exit_price"`
	ExitTimestamp    *time.Time      `json:"exit_timestamp,omitempty"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	EntryTimestamp   time.Time       `json:"entry_timestamp"`
}

// Order is an order row. SL/TP orders reference their parent position and
// carry the direction opposite to it; the matcher derives the trigger side
// from the parent, not from this field.
type Order struct {
	ID         string              `json:"id"`
	AccountID  string              `json:"account_id"`
	UserID     string              `json:"user_id"`
	PositionID string              `json:"position_id,omitempty"` // empty when not linked to a position
	Symbol     string              `json:"symbol"`
	OrderType  string              `json:"order_type"`
	Direction  string              `json:"direction"`
	Quantity   decimal.Decimal     `json:"quantity"`
	Leverage   decimal.Decimal     `json:"leverage"`
	Price      decimal.NullDecimal `json:"price,omitempty"`      // trigger for limit (TP) orders
	StopPrice  decimal.NullDecimal `json:"stop_price,omitempty"` // trigger for stop (SL) orders
	FilledQty  decimal.Decimal     `json:"filled_quantity"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Instrument is the tradeable contract definition. Read-only for the engine.
type Instrument struct {
	Symbol           string          `json:"symbol"`
	QuoteCurrency    string          `json:"quote_currency"`
	TickSize         decimal.Decimal `json:"tick_size"`
	LotSize          decimal.Decimal `json:"lot_size"`
	PriceDecimals    int             `json:"price_decimals"`
	QuantityDecimals int             `json:"quantity_decimals"`
	MaxLeverage      decimal.Decimal `json:"max_leverage"`
	MinOrderSize     decimal.Decimal `json:"min_order_size"`
	IsActive         bool            `json:"is_active"`
}

// PriceRow is one row of the ledger's price_cache table, the fallback
// source for symbols the streaming feed does not carry.
type PriceRow struct {
	Symbol       string          `json:"symbol"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	CurrentBid   decimal.Decimal `json:"current_bid"`
	CurrentAsk   decimal.Decimal `json:"current_ask"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// Activity is one append-only audit entry.
type Activity struct {
	ID        int64           `json:"id"`
	AccountID string          `json:"account_id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Sub       string          `json:"sub"`
	Timestamp time.Time       `json:"ts"`
	PnL       decimal.Decimal `json:"pnl"`
}

// EquityPoint is one append-only equity history row.
type EquityPoint struct {
	ID        int64           `json:"id"`
	AccountID string          `json:"account_id"`
	Timestamp time.Time       `json:"ts"`
	Equity    decimal.Decimal `json:"equity"`
	PnL       decimal.Decimal `json:"pnl"`
}
