package monitor

import (
	"context"

	"github.com/shopspring/decimal"

	"propfirm-risk-engine/internal/database"
)

// checkMarginLevel enforces the 100% margin-call and 50% stop-out
// thresholds for one account. It returns true when a stop-out fired, in
// which case the caller must skip the drawdown check until the next tick
// sees the updated ledger.
func (m *Monitor) checkMarginLevel(ctx context.Context, acct database.Account, positions []database.Position) bool {
	marginUsed := acct.TotalMarginRequired
	if !marginUsed.IsPositive() {
		return false
	}

	equity, perPosition, _ := m.accountEquity(acct, positions)
	marginLevel := equity.Div(marginUsed).Mul(oneHundred)

	if marginLevel.LessThanOrEqual(stopOutLevel) {
		worst, pnl, ok := worstPosition(positions, perPosition)
		if !ok {
			// Every position is stale; prices are unknown, so no
			// liquidation. Re-evaluate when the feed recovers.
			m.logger.Warn().
				Str("account_id", acct.ID).
				Str("margin_level", marginLevel.String()).
				Msg("stop-out level reached but all prices stale, deferring")
			return false
		}

		exit, ok := m.exitPrice(worst)
		if !ok {
			return false
		}

		m.logger.Warn().
			Str("account_id", acct.ID).
			Str("margin_level", marginLevel.String()).
			Str("position_id", worst.ID).
			Str("symbol", worst.Symbol).
			Str("pnl", pnl.String()).
			Msg("stop-out: liquidating worst position")

		if err := m.closePosition(ctx, worst, exit, database.CloseReasonLiquidation, ""); err != nil {
			m.logger.Error().Err(err).
				Str("account_id", acct.ID).
				Str("position_id", worst.ID).
				Msg("stop-out close failed, retrying next tick")
		} else {
			m.eventBus.PublishStopOut(acct.ID, worst.ID, worst.Symbol, marginLevel, pnl)
		}
		return true
	}

	if marginLevel.LessThanOrEqual(marginCallLevel) {
		m.logger.Warn().
			Str("account_id", acct.ID).
			Str("margin_level", marginLevel.String()).
			Str("equity", equity.String()).
			Msg("margin call")
		m.eventBus.PublishMarginCall(acct.ID, marginLevel, equity)
	}

	return false
}

// worstPosition picks the position to liquidate at stop-out: the most
// negative unrealized PnL, then the highest isolated margin, then the
// lowest id. Positions without a fresh tick are not candidates.
func worstPosition(positions []database.Position, perPosition map[string]decimal.Decimal) (database.Position, decimal.Decimal, bool) {
	var (
		worst    database.Position
		worstPnL decimal.Decimal
		found    bool
	)

	for _, p := range positions {
		pnl, ok := perPosition[p.ID]
		if !ok {
			continue
		}
		if !found {
			worst, worstPnL, found = p, pnl, true
			continue
		}
		switch {
		case pnl.LessThan(worstPnL):
			worst, worstPnL = p, pnl
		case pnl.Equal(worstPnL) && p.IsolatedMargin.GreaterThan(worst.IsolatedMargin):
			worst, worstPnL = p, pnl
		case pnl.Equal(worstPnL) && p.IsolatedMargin.Equal(worst.IsolatedMargin) && p.ID < worst.ID:
			worst, worstPnL = p, pnl
		}
	}
	return worst, worstPnL, found
}
