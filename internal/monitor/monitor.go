package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"propfirm-risk-engine/internal/database"
	"propfirm-risk-engine/internal/events"
	"propfirm-risk-engine/internal/pricecache"
)

// Risk thresholds. Margin levels are percentages, drawdown limits are
// fractions of the reference balance.
var (
	marginCallLevel      = decimal.NewFromInt(100)
	stopOutLevel         = decimal.NewFromInt(50)
	absoluteDrawdownMax  = decimal.RequireFromString("0.10")
	dailyDrawdownMax     = decimal.RequireFromString("0.05")
	closeFeeRate         = decimal.RequireFromString("0.0007") // 0.07% taker
	oneHundred           = decimal.NewFromInt(100)
	dailyFloorMultiplier = decimal.NewFromInt(1).Sub(dailyDrawdownMax)
)

const dailyResetEvery = 60 * time.Second

// Ledger is the monitor's port to the relational store. Reads return row
// snapshots valid for one tick; every mutation is a single atomic RPC.
type Ledger interface {
	OpenPositions(ctx context.Context, limit int) ([]database.Position, error)
	PendingSLTPOrders(ctx context.Context, limit int) ([]database.Order, error)
	AccountsByID(ctx context.Context, ids []string) ([]database.Account, error)
	StaleDayStartAccounts(ctx context.Context, todayUTC string, limit int) ([]database.Account, error)
	SnapshotDayStart(ctx context.Context, accountID string, equity decimal.Decimal, todayUTC string) (bool, error)
	ClosePositionAtomic(ctx context.Context, p database.ClosePositionParams) error
	BreachAccountAtomic(ctx context.Context, accountID, reason string) error
	FallbackPrices(ctx context.Context, symbols []string) ([]database.PriceRow, error)
	NonStreamingSymbols(ctx context.Context, streamingSymbols []string) ([]string, error)
}

// Config holds the monitor's dependencies and tuning.
type Config struct {
	Ledger   Ledger
	Cache    *pricecache.Cache
	EventBus *events.EventBus

	Interval   time.Duration // tick period, default 1s
	StaleAfter time.Duration // price staleness threshold, default 30s

	// FallbackSymbols are served from the ledger's price_cache table.
	// Empty means derive at startup from active instruments not covered
	// by the streaming feed.
	FallbackSymbols []string
}

// Monitor runs the risk loop: SL/TP matching, margin-level enforcement,
// drawdown breaches and the daily anchor reset. It holds no mutable ledger
// state beyond a single tick.
type Monitor struct {
	ledger   Ledger
	cache    *pricecache.Cache
	eventBus *events.EventBus
	logger   zerolog.Logger

	interval        time.Duration
	staleAfter      time.Duration
	fallbackSymbols []string

	lastDailyReset time.Time
	now            func() time.Time

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
}

// New creates a monitor. It does not start ticking.
func New(cfg Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}

	return &Monitor{
		ledger:          cfg.Ledger,
		cache:           cfg.Cache,
		eventBus:        cfg.EventBus,
		logger:          log.With().Str("component", "monitor").Logger(),
		interval:        interval,
		staleAfter:      staleAfter,
		fallbackSymbols: cfg.FallbackSymbols,
		now:             time.Now,
		stopChan:        make(chan struct{}),
	}
}

// Start resolves the fallback symbol list and launches the tick loop.
func (m *Monitor) Start(ctx context.Context, streamingSymbols []string) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.mu.Unlock()

	if len(m.fallbackSymbols) == 0 {
		symbols, err := m.ledger.NonStreamingSymbols(ctx, streamingSymbols)
		if err != nil {
			m.logger.Warn().Err(err).Msg("could not derive fallback symbols, fallback loader idle")
		} else {
			m.fallbackSymbols = symbols
		}
	}
	m.logger.Info().
		Dur("interval", m.interval).
		Strs("fallback_symbols", m.fallbackSymbols).
		Msg("monitor started")

	go m.loop(ctx)
}

// Stop ends the tick loop after the current tick.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isRunning {
		return
	}
	m.isRunning = false
	close(m.stopChan)
	m.logger.Info().Msg("monitor stopped")
}

// loop runs ticks back to back. A tick that exceeds its period is followed
// immediately by the next one; ticks never overlap.
func (m *Monitor) loop(ctx context.Context) {
	for {
		start := m.now()
		m.RunTick(ctx)

		sleep := m.interval - m.now().Sub(start)
		if sleep < 0 {
			sleep = 0
		}

		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// RunTick executes one pass: daily reset, fallback prices, SL/TP matching,
// then per-account margin and drawdown checks. Any ledger failure skips the
// affected step or account; the next tick re-evaluates from scratch.
func (m *Monitor) RunTick(ctx context.Context) {
	if m.now().Sub(m.lastDailyReset) >= dailyResetEvery {
		m.lastDailyReset = m.now()
		m.runDailyReset(ctx)
	}

	m.refreshFallbackPrices(ctx)

	positions, err := m.ledger.OpenPositions(ctx, database.MaxOpenPositionsLimit)
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not fetch open positions")
		return
	}
	if len(positions) == 0 {
		return
	}

	orders, err := m.ledger.PendingSLTPOrders(ctx, database.MaxPendingOrdersLimit)
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not fetch pending orders")
	} else {
		m.matchSLTP(ctx, positions, orders)
	}

	// Re-read: the SL/TP phase may have closed positions, and the margin
	// math must see post-close account rows.
	positions, err = m.ledger.OpenPositions(ctx, database.MaxOpenPositionsLimit)
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not re-fetch open positions")
		return
	}
	if len(positions) == 0 {
		return
	}

	byAccount := make(map[string][]database.Position)
	for _, p := range positions {
		byAccount[p.AccountID] = append(byAccount[p.AccountID], p)
	}
	ids := make([]string, 0, len(byAccount))
	for id := range byAccount {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	accounts, err := m.ledger.AccountsByID(ctx, ids)
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not fetch accounts")
		return
	}

	for _, acct := range accounts {
		if acct.IsTerminal() {
			continue
		}
		acctPositions := byAccount[acct.ID]

		if m.checkMarginLevel(ctx, acct, acctPositions) {
			// Stop-out fired; drawdown re-evaluates next tick against
			// the updated ledger.
			continue
		}
		m.checkDrawdown(ctx, acct, acctPositions)
	}
}

// today returns the current UTC calendar day.
func (m *Monitor) today() string {
	return m.now().UTC().Format("2006-01-02")
}

// exitPrice returns the closing side of the symbol's tick: bid for a long,
// ask for a short. Missing or stale ticks yield false; no financial
// decision may be made for the position this tick.
func (m *Monitor) exitPrice(p database.Position) (decimal.Decimal, bool) {
	tick, ok := m.cache.Get(p.Symbol)
	if !ok || !tick.Fresh(m.now(), m.staleAfter) {
		return decimal.Decimal{}, false
	}
	if p.Direction == database.DirectionLong {
		return tick.Bid, true
	}
	return tick.Ask, true
}

// unrealizedPnL is the mark-to-market PnL of an open position at the given
// exit price.
func unrealizedPnL(p database.Position, exit decimal.Decimal) decimal.Decimal {
	var diff decimal.Decimal
	if p.Direction == database.DirectionLong {
		diff = exit.Sub(p.EntryPrice)
	} else {
		diff = p.EntryPrice.Sub(exit)
	}
	return diff.Mul(p.Quantity).Mul(p.Leverage)
}

// accountEquity computes equity = net_worth + sum of unrealized PnL over
// the positions with a fresh tick. perPosition maps position id to its
// unrealized PnL; positions without a fresh tick are counted in stale and
// excluded from the sum.
func (m *Monitor) accountEquity(acct database.Account, positions []database.Position) (equity decimal.Decimal, perPosition map[string]decimal.Decimal, stale int) {
	equity = acct.NetWorth
	perPosition = make(map[string]decimal.Decimal, len(positions))

	for _, p := range positions {
		exit, ok := m.exitPrice(p)
		if !ok {
			stale++
			continue
		}
		pnl := unrealizedPnL(p, exit)
		perPosition[p.ID] = pnl
		equity = equity.Add(pnl)
	}
	return equity, perPosition, stale
}
