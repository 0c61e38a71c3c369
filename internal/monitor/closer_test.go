package monitor

import (
	"context"
	"errors"
	"testing"

	"propfirm-risk-engine/internal/database"
)

// ===== TEST: close math, S1 take-profit on a long =====

func TestClosePositionLongMath(t *testing.T) {
	ledger := newFakeLedger()
	pos := openLong("pos-1", "acct-1", "BTC-USD", "0.01", "10", "95000", "95")
	pos.TradeFees = d("0.665")
	ledger.positions = []database.Position{pos}
	m, _ := newTestMonitor(ledger)

	if err := m.closePosition(context.Background(), pos, d("98820"), database.CloseReasonTakeProfit, "order-1"); err != nil {
		t.Fatalf("closePosition: %v", err)
	}

	if len(ledger.closes) != 1 {
		t.Fatalf("got %d closes, want 1", len(ledger.closes))
	}
	call := ledger.closes[0]
	// (98820 - 95000) * 0.01 * 10 = 382.00
	if !call.RealizedPnL.Equal(d("382")) {
		t.Errorf("realized pnl = %s, want 382", call.RealizedPnL)
	}
	// 98820 * 0.01 * 0.0007 = 0.691740
	if !call.CloseFee.Equal(d("0.69174")) {
		t.Errorf("close fee = %s, want 0.69174", call.CloseFee)
	}
	if !call.ExistingFees.Equal(d("0.665")) {
		t.Errorf("existing fees = %s, want 0.665", call.ExistingFees)
	}
	if !call.IsolatedMargin.Equal(d("95")) {
		t.Errorf("isolated margin = %s, want 95", call.IsolatedMargin)
	}
	if call.CloseReason != database.CloseReasonTakeProfit || call.TriggeredOrderID != "order-1" {
		t.Errorf("reason/order = %s/%s", call.CloseReason, call.TriggeredOrderID)
	}
	if !call.ExitTimestamp.Equal(testNow) {
		t.Errorf("exit timestamp = %v, want %v", call.ExitTimestamp, testNow)
	}
}

// ===== TEST: close math, S2 stop-loss on a short =====

func TestClosePositionShortMath(t *testing.T) {
	ledger := newFakeLedger()
	pos := openShort("pos-2", "acct-1", "ETH-USD", "0.8", "5", "3520", "563.2")
	ledger.positions = []database.Position{pos}
	m, _ := newTestMonitor(ledger)

	if err := m.closePosition(context.Background(), pos, d("3605"), database.CloseReasonStopLoss, "order-2"); err != nil {
		t.Fatalf("closePosition: %v", err)
	}

	// (3520 - 3605) * 0.8 * 5 = -340.00
	if !ledger.closes[0].RealizedPnL.Equal(d("-340")) {
		t.Errorf("realized pnl = %s, want -340", ledger.closes[0].RealizedPnL)
	}
}

// ===== TEST: the already-closed race is benign =====

func TestClosePositionAlreadyClosed(t *testing.T) {
	ledger := newFakeLedger()
	pos := openLong("pos-3", "acct-1", "BTC-USD", "0.01", "10", "95000", "95")
	ledger.positions = []database.Position{pos}
	m, _ := newTestMonitor(ledger)

	if err := m.closePosition(context.Background(), pos, d("98820"), database.CloseReasonTakeProfit, ""); err != nil {
		t.Fatalf("first close: %v", err)
	}
	// Second invocation hits the not_open rejection and must swallow it.
	if err := m.closePosition(context.Background(), pos, d("98820"), database.CloseReasonTakeProfit, ""); err != nil {
		t.Fatalf("second close must be benign, got %v", err)
	}
	if len(ledger.closes) != 1 {
		t.Errorf("got %d state transitions, want exactly 1", len(ledger.closes))
	}
}

// ===== TEST: transient ledger errors propagate =====

func TestClosePositionTransientError(t *testing.T) {
	ledger := newFakeLedger()
	ledger.closeErr = errors.New("connection reset")
	pos := openLong("pos-4", "acct-1", "BTC-USD", "0.01", "10", "95000", "95")
	m, _ := newTestMonitor(ledger)

	if err := m.closePosition(context.Background(), pos, d("98820"), database.CloseReasonTakeProfit, ""); err == nil {
		t.Fatal("transient errors must propagate so the tick can retry later")
	}
}
