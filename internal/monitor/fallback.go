package monitor

import (
	"context"
)

// refreshFallbackPrices pulls the ledger's price_cache rows for the symbols
// the streaming feed does not carry and upserts them into the in-memory
// cache. The row's last_updated is kept as the tick timestamp, so a stale
// table row stays a stale tick.
func (m *Monitor) refreshFallbackPrices(ctx context.Context) {
	if len(m.fallbackSymbols) == 0 {
		return
	}

	rows, err := m.ledger.FallbackPrices(ctx, m.fallbackSymbols)
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not load fallback prices")
		return
	}

	for _, row := range rows {
		bid, ask := row.CurrentBid, row.CurrentAsk
		if bid.IsZero() {
			bid = row.CurrentPrice
		}
		if ask.IsZero() {
			ask = row.CurrentPrice
		}
		last := row.CurrentPrice
		if err := m.cache.Set(row.Symbol, bid, ask, last, row.LastUpdated); err != nil {
			m.logger.Debug().Err(err).
				Str("symbol", row.Symbol).
				Msg("fallback price rejected")
		}
	}
}
