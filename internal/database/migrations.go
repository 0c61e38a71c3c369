package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// RunMigrations creates the ledger schema and the atomic stored procedures.
// Every statement is idempotent so the engine can run them at every boot.
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Info().Str("component", "database").Msg("running ledger migrations")

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info().Str("component", "database").Int("count", len(migrations)).Msg("ledger migrations complete")
	return nil
}

var migrations = []string{
	// Accounts: the single point of serialization. Every atomic procedure
	// takes SELECT ... FOR UPDATE on this row before touching related rows.
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		starting_balance DECIMAL(20, 8) NOT NULL,
		available_margin DECIMAL(20, 8) NOT NULL DEFAULT 0,
		total_margin_required DECIMAL(20, 8) NOT NULL DEFAULT 0,
		net_worth DECIMAL(20, 8) NOT NULL DEFAULT 0,
		realized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
		total_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
		account_status VARCHAR(20) NOT NULL DEFAULT 'active',
		breach_reason TEXT,
		day_start_balance DECIMAL(20, 8),
		day_start_equity DECIMAL(20, 8),
		day_start_date DATE,
		current_phase VARCHAR(30) NOT NULL DEFAULT 'challenge',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(account_status)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_day_start ON accounts(account_status, day_start_date)`,

	// Positions: created only by place_market_order, closed only by
	// close_position_atomic, never deleted.
	`CREATE TABLE IF NOT EXISTS positions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		account_id UUID NOT NULL REFERENCES accounts(id),
		user_id UUID NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		direction VARCHAR(5) NOT NULL,
		margin_mode VARCHAR(10) NOT NULL DEFAULT 'isolated',
		quantity DECIMAL(20, 8) NOT NULL,
		original_quantity DECIMAL(20, 8) NOT NULL,
		leverage DECIMAL(10, 2) NOT NULL,
		entry_price DECIMAL(20, 8) NOT NULL,
		liquidation_price DECIMAL(20, 8),
		isolated_margin DECIMAL(20, 8) NOT NULL,
		trade_fees DECIMAL(20, 8) NOT NULL DEFAULT 0,
		status VARCHAR(10) NOT NULL DEFAULT 'open',
		close_reason VARCHAR(20),
		exit_price DECIMAL(20, 8),
		exit_timestamp TIMESTAMPTZ,
		realized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
		entry_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_account ON positions(account_id, status)`,

	// Orders: SL/TP orders reference their parent position and carry the
	// direction opposite to it.
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		account_id UUID NOT NULL REFERENCES accounts(id),
		user_id UUID NOT NULL,
		position_id UUID REFERENCES positions(id),
		symbol VARCHAR(20) NOT NULL,
		order_type VARCHAR(12) NOT NULL,
		direction VARCHAR(5) NOT NULL,
		quantity DECIMAL(20, 8) NOT NULL,
		leverage DECIMAL(10, 2) NOT NULL,
		price DECIMAL(20, 8),
		stop_price DECIMAL(20, 8),
		filled_quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
		status VARCHAR(12) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_pending_sltp ON orders(status, position_id) WHERE position_id IS NOT NULL`,

	// Append-only audit trail.
	`CREATE TABLE IF NOT EXISTS activity (
		id BIGSERIAL PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id),
		type VARCHAR(30) NOT NULL,
		title TEXT NOT NULL,
		sub TEXT,
		ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		pnl DECIMAL(20, 8)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_account ON activity(account_id, ts)`,

	// Append-only equity curve, one row per close.
	`CREATE TABLE IF NOT EXISTS equity_history (
		id BIGSERIAL PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id),
		ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		equity DECIMAL(20, 8) NOT NULL,
		pnl DECIMAL(20, 8) NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_equity_history_account ON equity_history(account_id, ts)`,

	// Fallback price source for symbols the streaming feed does not carry.
	`CREATE TABLE IF NOT EXISTS price_cache (
		symbol VARCHAR(20) PRIMARY KEY,
		current_price DECIMAL(20, 8) NOT NULL,
		current_bid DECIMAL(20, 8) NOT NULL DEFAULT 0,
		current_ask DECIMAL(20, 8) NOT NULL DEFAULT 0,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// Tradeable contract definitions. Read-only for the engine.
	`CREATE TABLE IF NOT EXISTS instruments (
		symbol VARCHAR(20) PRIMARY KEY,
		quote_currency VARCHAR(10) NOT NULL DEFAULT 'USD',
		tick_size DECIMAL(20, 8) NOT NULL DEFAULT 0.01,
		lot_size DECIMAL(20, 8) NOT NULL DEFAULT 0.00000001,
		price_decimals INT NOT NULL DEFAULT 2,
		quantity_decimals INT NOT NULL DEFAULT 8,
		max_leverage DECIMAL(10, 2) NOT NULL DEFAULT 100,
		min_order_size DECIMAL(20, 8) NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	// place_market_order: the only way a position comes into existence.
	// Serializes on the accounts row; raises PF404 / PF402 on rejection.
	`CREATE OR REPLACE FUNCTION place_market_order(
		p_account_id UUID,
		p_user_id UUID,
		p_symbol VARCHAR,
		p_direction VARCHAR,
		p_margin_mode VARCHAR,
		p_quantity DECIMAL,
		p_leverage DECIMAL,
		p_exec_price DECIMAL,
		p_margin DECIMAL,
		p_fee DECIMAL,
		p_liquidation_price DECIMAL,
		p_instrument_config JSONB,
		p_instrument_price DECIMAL,
		p_sl_price DECIMAL DEFAULT NULL,
		p_tp_price DECIMAL DEFAULT NULL
	) RETURNS JSON AS $$
	DECLARE
		v_account accounts%ROWTYPE;
		v_position positions%ROWTYPE;
		v_opposite VARCHAR(5);
	BEGIN
		SELECT * INTO v_account FROM accounts
		WHERE id = p_account_id
		  AND account_status IN ('active', 'funded', 'passed')
		FOR UPDATE;
		IF NOT FOUND THEN
			RAISE EXCEPTION 'account % not found or not active', p_account_id
				USING ERRCODE = 'PF404';
		END IF;

		IF p_margin > v_account.available_margin THEN
			RAISE EXCEPTION 'required margin % exceeds available margin %',
				p_margin, v_account.available_margin
				USING ERRCODE = 'PF402';
		END IF;

		INSERT INTO positions (
			account_id, user_id, symbol, direction, margin_mode,
			quantity, original_quantity, leverage, entry_price,
			liquidation_price, isolated_margin, trade_fees, status, entry_timestamp
		) VALUES (
			p_account_id, p_user_id, p_symbol, p_direction, p_margin_mode,
			p_quantity, p_quantity, p_leverage, p_exec_price,
			p_liquidation_price, p_margin, p_fee, 'open', NOW()
		) RETURNING * INTO v_position;

		UPDATE accounts SET
			available_margin = available_margin - p_margin,
			total_margin_required = total_margin_required + p_margin,
			net_worth = net_worth - p_fee,
			updated_at = NOW()
		WHERE id = p_account_id;

		v_opposite := CASE WHEN p_direction = 'long' THEN 'short' ELSE 'long' END;

		IF p_sl_price IS NOT NULL THEN
			INSERT INTO orders (account_id, user_id, position_id, symbol, order_type,
				direction, quantity, leverage, stop_price, status)
			VALUES (p_account_id, p_user_id, v_position.id, p_symbol, 'stop',
				v_opposite, p_quantity, p_leverage, p_sl_price, 'pending');
		END IF;

		IF p_tp_price IS NOT NULL THEN
			INSERT INTO orders (account_id, user_id, position_id, symbol, order_type,
				direction, quantity, leverage, price, status)
			VALUES (p_account_id, p_user_id, v_position.id, p_symbol, 'limit',
				v_opposite, p_quantity, p_leverage, p_tp_price, 'pending');
		END IF;

		INSERT INTO activity (account_id, type, title, sub, pnl)
		VALUES (p_account_id, 'position_opened',
			'Opened ' || p_direction || ' ' || p_symbol,
			p_quantity || ' @ ' || p_exec_price || ' (' || p_leverage || 'x)', NULL);

		INSERT INTO equity_history (account_id, equity, pnl)
		VALUES (p_account_id, v_account.net_worth - p_fee, 0);

		RETURN row_to_json(v_position);
	END;
	$$ LANGUAGE plpgsql`,

	// close_position_atomic: the only way a position transitions to closed.
	// Rejects with PF409 when the position is not open, which callers treat
	// as a benign race.
	`CREATE OR REPLACE FUNCTION close_position_atomic(
		p_position_id UUID,
		p_account_id UUID,
		p_exit_price DECIMAL,
		p_exit_timestamp TIMESTAMPTZ,
		p_realized_pnl DECIMAL,
		p_close_fee DECIMAL,
		p_existing_fees DECIMAL,
		p_isolated_margin DECIMAL,
		p_close_reason VARCHAR,
		p_triggered_order_id UUID DEFAULT NULL,
		p_symbol VARCHAR DEFAULT NULL,
		p_direction VARCHAR DEFAULT NULL,
		p_quantity DECIMAL DEFAULT NULL
	) RETURNS VOID AS $$
	DECLARE
		v_account accounts%ROWTYPE;
		v_status VARCHAR(10);
		v_equity DECIMAL;
	BEGIN
		SELECT * INTO v_account FROM accounts WHERE id = p_account_id FOR UPDATE;
		IF NOT FOUND THEN
			RAISE EXCEPTION 'account % not found', p_account_id
				USING ERRCODE = 'PF404';
		END IF;

		SELECT status INTO v_status FROM positions WHERE id = p_position_id;
		IF v_status IS NULL OR v_status <> 'open' THEN
			RAISE EXCEPTION 'position % is not open', p_position_id
				USING ERRCODE = 'PF409';
		END IF;

		UPDATE positions SET
			status = 'closed',
			close_reason = p_close_reason,
			exit_price = p_exit_price,
			exit_timestamp = p_exit_timestamp,
			realized_pnl = p_realized_pnl,
			trade_fees = p_existing_fees + p_close_fee
		WHERE id = p_position_id;

		IF p_triggered_order_id IS NOT NULL THEN
			UPDATE orders SET status = 'filled', filled_quantity = quantity
			WHERE id = p_triggered_order_id AND status = 'pending';
		END IF;

		UPDATE orders SET status = 'cancelled'
		WHERE position_id = p_position_id AND status = 'pending';

		UPDATE accounts SET
			available_margin = available_margin + p_isolated_margin + p_realized_pnl - p_close_fee,
			total_margin_required = GREATEST(0, total_margin_required - p_isolated_margin),
			realized_pnl = realized_pnl + p_realized_pnl,
			total_pnl = total_pnl + p_realized_pnl,
			net_worth = net_worth + p_realized_pnl - p_close_fee,
			updated_at = NOW()
		WHERE id = p_account_id;

		v_equity := v_account.net_worth + p_realized_pnl - p_close_fee;

		INSERT INTO equity_history (account_id, equity, pnl)
		VALUES (p_account_id, v_equity, p_realized_pnl);

		INSERT INTO activity (account_id, type, title, sub, pnl)
		VALUES (p_account_id, 'position_closed',
			'Closed ' || COALESCE(p_direction, '') || ' ' || COALESCE(p_symbol, '') ||
				' (' || p_close_reason || ')',
			COALESCE(p_quantity::text, '') || ' @ ' || p_exit_price,
			p_realized_pnl);
	END;
	$$ LANGUAGE plpgsql`,

	// breach_account_atomic: terminal transition. The engine closes all
	// open positions before calling this.
	`CREATE OR REPLACE FUNCTION breach_account_atomic(
		p_account_id UUID,
		p_reason TEXT
	) RETURNS VOID AS $$
	DECLARE
		v_account accounts%ROWTYPE;
	BEGIN
		SELECT * INTO v_account FROM accounts WHERE id = p_account_id FOR UPDATE;
		IF NOT FOUND THEN
			RAISE EXCEPTION 'account % not found', p_account_id
				USING ERRCODE = 'PF404';
		END IF;

		IF v_account.account_status = 'breached' THEN
			RETURN;
		END IF;

		UPDATE accounts SET
			account_status = 'breached',
			breach_reason = p_reason,
			updated_at = NOW()
		WHERE id = p_account_id;

		INSERT INTO activity (account_id, type, title, sub, pnl)
		VALUES (p_account_id, 'account_breached', 'Account breached', p_reason, NULL);
	END;
	$$ LANGUAGE plpgsql`,
}
