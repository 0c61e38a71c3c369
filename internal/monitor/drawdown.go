package monitor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"propfirm-risk-engine/internal/database"
)

// checkDrawdown evaluates the absolute (10% of starting balance) and daily
// (5% from the UTC-day anchor) drawdown limits for one account and runs the
// breach procedure when a limit is crossed. When both limits are crossed in
// the same tick the absolute one names the breach.
func (m *Monitor) checkDrawdown(ctx context.Context, acct database.Account, positions []database.Position) {
	equity, _, stale := m.accountEquity(acct, positions)

	reason := ""

	// Absolute drawdown. A zero starting balance never breaches.
	if acct.StartingBalance.IsPositive() {
		drawdown := acct.StartingBalance.Sub(equity).Div(acct.StartingBalance)
		if drawdown.GreaterThanOrEqual(absoluteDrawdownMax) {
			reason = fmt.Sprintf(
				"Max drawdown reached: equity %s is down %s%% from starting balance %s (limit 10%%)",
				equity.StringFixed(2),
				drawdown.Mul(oneHundred).StringFixed(2),
				acct.StartingBalance.StringFixed(2),
			)
		}
	}

	// Daily drawdown, only when the anchor belongs to today's UTC day.
	if reason == "" && acct.DayStartDate == m.today() {
		anchor := decimal.Max(acct.DayStartBalance, acct.DayStartEquity)
		if anchor.IsPositive() {
			floor := anchor.Mul(dailyFloorMultiplier)
			if equity.LessThanOrEqual(floor) {
				reason = fmt.Sprintf(
					"Daily drawdown reached: equity %s fell below the daily floor %s (5%% of day-start %s)",
					equity.StringFixed(2),
					floor.StringFixed(2),
					anchor.StringFixed(2),
				)
			}
		}
	}

	if reason == "" {
		return
	}

	// A breached account must end its breach tick with zero open
	// positions, and closing at stale prices is forbidden. If any price
	// is unknown the whole breach waits for a later tick.
	if stale > 0 {
		m.logger.Warn().
			Str("account_id", acct.ID).
			Int("stale_positions", stale).
			Str("reason", reason).
			Msg("drawdown limit crossed but prices stale, deferring breach")
		return
	}

	m.breachAccount(ctx, acct, positions, reason, equity)
}

// breachAccount closes every open position of the account, then transitions
// it to the terminal breached state. Any failure aborts mid-way; the next
// tick re-detects the drawdown and resumes.
func (m *Monitor) breachAccount(ctx context.Context, acct database.Account, positions []database.Position, reason string, equity decimal.Decimal) {
	m.logger.Warn().
		Str("account_id", acct.ID).
		Str("equity", equity.String()).
		Str("reason", reason).
		Int("open_positions", len(positions)).
		Msg("breaching account")

	for _, p := range positions {
		exit, ok := m.exitPrice(p)
		if !ok {
			m.logger.Warn().
				Str("account_id", acct.ID).
				Str("position_id", p.ID).
				Msg("price went stale mid-breach, deferring")
			return
		}
		if err := m.closePosition(ctx, p, exit, database.CloseReasonLiquidation, ""); err != nil {
			m.logger.Error().Err(err).
				Str("account_id", acct.ID).
				Str("position_id", p.ID).
				Msg("breach close failed, deferring")
			return
		}
	}

	if err := m.ledger.BreachAccountAtomic(ctx, acct.ID, reason); err != nil {
		m.logger.Error().Err(err).
			Str("account_id", acct.ID).
			Msg("breach_account_atomic failed")
		return
	}

	m.logger.Warn().
		Str("account_id", acct.ID).
		Str("reason", reason).
		Msg("account breached")
	m.eventBus.PublishAccountBreached(acct.ID, reason, equity)
}
