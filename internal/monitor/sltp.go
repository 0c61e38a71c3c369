package monitor

import (
	"context"

	"github.com/shopspring/decimal"

	"propfirm-risk-engine/internal/database"
)

// matchSLTP evaluates every pending SL/TP order against the same-tick
// position set and closes the positions whose triggers fired. When both the
// SL and the TP of one position could trigger in the same tick (a price
// gap), the SL wins; the atomic RPC guarantees only the first close lands.
func (m *Monitor) matchSLTP(ctx context.Context, positions []database.Position, orders []database.Order) {
	posByID := make(map[string]database.Position, len(positions))
	for _, p := range positions {
		posByID[p.ID] = p
	}

	type firing struct {
		order  database.Order
		reason string
		exit   decimal.Decimal
	}
	winners := make(map[string]firing) // position id -> winning trigger

	for _, o := range orders {
		p, ok := posByID[o.PositionID]
		if !ok {
			continue
		}
		exit, ok := m.exitPrice(p)
		if !ok {
			continue
		}
		reason, fire := evaluateTrigger(p, o, exit)
		if !fire {
			continue
		}
		if prev, ok := winners[p.ID]; ok {
			if prev.reason == database.CloseReasonStopLoss || reason != database.CloseReasonStopLoss {
				continue
			}
		}
		winners[p.ID] = firing{order: o, reason: reason, exit: exit}
	}

	for positionID, f := range winners {
		p := posByID[positionID]
		if err := m.closePosition(ctx, p, f.exit, f.reason, f.order.ID); err != nil {
			m.logger.Warn().Err(err).
				Str("position_id", positionID).
				Str("order_id", f.order.ID).
				Msg("trigger close failed")
		}
	}
}

// evaluateTrigger decides whether one pending order fires at the exit
// price of its parent position. A stop order is a stop-loss, a limit order
// a take-profit; the trigger side derives from the parent's direction, not
// from the order's (inverted) direction field.
func evaluateTrigger(p database.Position, o database.Order, exit decimal.Decimal) (string, bool) {
	long := p.Direction == database.DirectionLong

	switch o.OrderType {
	case database.OrderTypeStop:
		if !o.StopPrice.Valid {
			return "", false
		}
		stop := o.StopPrice.Decimal
		if long && exit.LessThanOrEqual(stop) {
			return database.CloseReasonStopLoss, true
		}
		if !long && exit.GreaterThanOrEqual(stop) {
			return database.CloseReasonStopLoss, true
		}

	case database.OrderTypeLimit:
		if !o.Price.Valid {
			return "", false
		}
		limit := o.Price.Decimal
		if long && exit.GreaterThanOrEqual(limit) {
			return database.CloseReasonTakeProfit, true
		}
		if !long && exit.LessThanOrEqual(limit) {
			return database.CloseReasonTakeProfit, true
		}
	}

	return "", false
}
