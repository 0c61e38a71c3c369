package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"propfirm-risk-engine/internal/database"
)

// closePosition composes exit price, realized PnL and close fee from a
// position snapshot and invokes close_position_atomic. A position that was
// already closed by another path (manual close, a concurrent trigger) is a
// benign race: logged and swallowed.
func (m *Monitor) closePosition(ctx context.Context, p database.Position, exitPrice decimal.Decimal, reason, triggeredOrderID string) error {
	realizedPnL := unrealizedPnL(p, exitPrice)
	closeFee := exitPrice.Mul(p.Quantity).Mul(closeFeeRate)

	err := m.ledger.ClosePositionAtomic(ctx, database.ClosePositionParams{
		PositionID:       p.ID,
		AccountID:        p.AccountID,
		ExitPrice:        exitPrice,
		ExitTimestamp:    m.now().UTC(),
		RealizedPnL:      realizedPnL,
		CloseFee:         closeFee,
		ExistingFees:     p.TradeFees,
		IsolatedMargin:   p.IsolatedMargin,
		CloseReason:      reason,
		TriggeredOrderID: triggeredOrderID,
		Symbol:           p.Symbol,
		Direction:        p.Direction,
		Quantity:         p.Quantity,
	})
	if errors.Is(err, database.ErrPositionNotOpen) {
		m.logger.Debug().
			Str("position_id", p.ID).
			Str("reason", reason).
			Msg("position already closed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("close position %s: %w", p.ID, err)
	}

	m.logger.Info().
		Str("position_id", p.ID).
		Str("account_id", p.AccountID).
		Str("symbol", p.Symbol).
		Str("direction", p.Direction).
		Str("reason", reason).
		Str("exit_price", exitPrice.String()).
		Str("pnl", realizedPnL.String()).
		Msg("position closed")

	m.eventBus.PublishPositionClosed(p.AccountID, p.ID, p.Symbol, p.Direction, reason, exitPrice, realizedPnL)
	return nil
}
