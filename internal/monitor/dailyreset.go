package monitor

import (
	"context"

	"propfirm-risk-engine/internal/database"
)

// runDailyReset snapshots the daily drawdown anchor for every active
// account whose day_start_date is not today's UTC day. The anchor is the
// realized net worth, the conservative choice when open positions do not
// dominate the account. The ledger-side date condition makes the snapshot
// idempotent across concurrent runs and restarts.
func (m *Monitor) runDailyReset(ctx context.Context) {
	today := m.today()

	accounts, err := m.ledger.StaleDayStartAccounts(ctx, today, database.MaxDayStartLimit)
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not fetch accounts for daily reset")
		return
	}
	if len(accounts) == 0 {
		return
	}

	reset := 0
	for _, acct := range accounts {
		anchor := acct.NetWorth
		written, err := m.ledger.SnapshotDayStart(ctx, acct.ID, anchor, today)
		if err != nil {
			m.logger.Warn().Err(err).
				Str("account_id", acct.ID).
				Msg("day-start snapshot failed")
			continue
		}
		if !written {
			// Another engine instance won the race for this day.
			continue
		}
		reset++
		m.eventBus.PublishDailyReset(acct.ID, today, anchor)
	}

	if reset > 0 {
		m.logger.Info().
			Str("day", today).
			Int("accounts", reset).
			Msg("daily anchors reset")
	}
}
