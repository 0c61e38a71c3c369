package monitor

import (
	"context"
	"testing"
	"time"

	"propfirm-risk-engine/internal/database"
)

func tpOrder(id, positionID, price string) database.Order {
	return database.Order{
		ID: id, PositionID: positionID,
		OrderType: database.OrderTypeLimit,
		Status:    database.OrderStatusPending,
		Price:     nd(price),
	}
}

func slOrder(id, positionID, stopPrice string) database.Order {
	return database.Order{
		ID: id, PositionID: positionID,
		OrderType: database.OrderTypeStop,
		Status:    database.OrderStatusPending,
		StopPrice: nd(stopPrice),
	}
}

// ===== TEST: trigger evaluation per direction and order type =====

func TestEvaluateTrigger(t *testing.T) {
	long := openLong("p", "a", "BTC-USD", "0.01", "10", "95000", "95")
	short := openShort("p", "a", "ETH-USD", "0.8", "5", "3520", "563")

	tests := []struct {
		name       string
		pos        database.Position
		order      database.Order
		exit       string
		wantReason string
		wantFire   bool
	}{
		{"long TP fires at or above limit", long, tpOrder("o", "p", "98800"), "98820", database.CloseReasonTakeProfit, true},
		{"long TP holds below limit", long, tpOrder("o", "p", "98800"), "98799", "", false},
		{"long SL fires at or below stop", long, slOrder("o", "p", "94000"), "93990", database.CloseReasonStopLoss, true},
		{"long SL holds while bid above stop", long, slOrder("o", "p", "94000"), "94001", "", false},
		{"short SL fires at or above stop", short, slOrder("o", "p", "3600"), "3605", database.CloseReasonStopLoss, true},
		{"short SL holds below stop", short, slOrder("o", "p", "3600"), "3599", "", false},
		{"short TP fires at or below limit", short, tpOrder("o", "p", "3400"), "3395", database.CloseReasonTakeProfit, true},
		{"short TP holds above limit", short, tpOrder("o", "p", "3400"), "3401", "", false},
		{"stop order without stop price never fires", long, database.Order{ID: "o", PositionID: "p", OrderType: database.OrderTypeStop}, "1", "", false},
		{"limit order without price never fires", long, database.Order{ID: "o", PositionID: "p", OrderType: database.OrderTypeLimit}, "999999", "", false},
		{"market orders are not triggers", long, database.Order{ID: "o", PositionID: "p", OrderType: database.OrderTypeMarket}, "1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, fire := evaluateTrigger(tt.pos, tt.order, d(tt.exit))
			if fire != tt.wantFire || reason != tt.wantReason {
				t.Errorf("evaluateTrigger() = %q, %v; want %q, %v", reason, fire, tt.wantReason, tt.wantFire)
			}
		})
	}
}

// ===== TEST: S1, TP on a long closes at the bid =====

func TestMatchSLTPTakeProfitLong(t *testing.T) {
	ledger := newFakeLedger()
	pos := openLong("pos-1", "acct-1", "BTC-USD", "0.01", "10", "95000", "95")
	pos.TradeFees = d("0.665")
	ledger.positions = []database.Position{pos}
	ledger.orders = []database.Order{tpOrder("order-1", "pos-1", "98800")}
	m, cache := newTestMonitor(ledger)
	setTick(t, cache, "BTC-USD", "98820", "98830", testNow)

	m.matchSLTP(context.Background(), ledger.positions, ledger.orders)

	if len(ledger.closes) != 1 {
		t.Fatalf("got %d closes, want 1", len(ledger.closes))
	}
	call := ledger.closes[0]
	if call.CloseReason != database.CloseReasonTakeProfit {
		t.Errorf("reason = %s, want tp", call.CloseReason)
	}
	if !call.ExitPrice.Equal(d("98820")) {
		t.Errorf("exit = %s, want the bid 98820", call.ExitPrice)
	}
	if !call.RealizedPnL.Equal(d("382")) {
		t.Errorf("pnl = %s, want 382", call.RealizedPnL)
	}
	if call.TriggeredOrderID != "order-1" {
		t.Errorf("triggered order = %s, want order-1", call.TriggeredOrderID)
	}
}

// ===== TEST: S2, SL on a short closes at the ask =====

func TestMatchSLTPStopLossShort(t *testing.T) {
	ledger := newFakeLedger()
	pos := openShort("pos-2", "acct-1", "ETH-USD", "0.8", "5", "3520", "563.2")
	ledger.positions = []database.Position{pos}
	ledger.orders = []database.Order{slOrder("order-2", "pos-2", "3600")}
	m, cache := newTestMonitor(ledger)
	setTick(t, cache, "ETH-USD", "3595", "3605", testNow)

	m.matchSLTP(context.Background(), ledger.positions, ledger.orders)

	if len(ledger.closes) != 1 {
		t.Fatalf("got %d closes, want 1", len(ledger.closes))
	}
	call := ledger.closes[0]
	if call.CloseReason != database.CloseReasonStopLoss {
		t.Errorf("reason = %s, want sl", call.CloseReason)
	}
	if !call.ExitPrice.Equal(d("3605")) {
		t.Errorf("exit = %s, want the ask 3605", call.ExitPrice)
	}
	if !call.RealizedPnL.Equal(d("-340")) {
		t.Errorf("pnl = %s, want -340", call.RealizedPnL)
	}
}

// ===== TEST: SL wins when both triggers could fire in one tick =====

func TestMatchSLTPStopLossWinsGap(t *testing.T) {
	ledger := newFakeLedger()
	pos := openLong("pos-3", "acct-1", "BTC-USD", "0.01", "10", "95000", "95")
	ledger.positions = []database.Position{pos}
	// A wide crossed window: exit 94000 is under the 94500 stop and the
	// inverted-limit 93000 TP also reads as triggered. SL must win
	// regardless of order ordering.
	ledger.orders = []database.Order{
		tpOrder("order-tp", "pos-3", "93000"),
		slOrder("order-sl", "pos-3", "94500"),
	}
	m, cache := newTestMonitor(ledger)
	setTick(t, cache, "BTC-USD", "94000", "94010", testNow)

	m.matchSLTP(context.Background(), ledger.positions, ledger.orders)

	if len(ledger.closes) != 1 {
		t.Fatalf("got %d closes, want 1", len(ledger.closes))
	}
	if ledger.closes[0].CloseReason != database.CloseReasonStopLoss {
		t.Errorf("reason = %s, want sl (SL wins the gap)", ledger.closes[0].CloseReason)
	}
	if ledger.closes[0].TriggeredOrderID != "order-sl" {
		t.Errorf("triggered order = %s, want order-sl", ledger.closes[0].TriggeredOrderID)
	}
}

// ===== TEST: a stale tick never triggers a close =====

func TestMatchSLTPStaleTickSkips(t *testing.T) {
	ledger := newFakeLedger()
	pos := openLong("pos-4", "acct-1", "BTC-USD", "0.01", "10", "95000", "95")
	ledger.positions = []database.Position{pos}
	ledger.orders = []database.Order{tpOrder("order-4", "pos-4", "98800")}
	m, cache := newTestMonitor(ledger)
	setTick(t, cache, "BTC-USD", "98820", "98830", testNow.Add(-31*time.Second))

	m.matchSLTP(context.Background(), ledger.positions, ledger.orders)

	if len(ledger.closes) != 0 {
		t.Error("a tick older than 30s must not trigger a close")
	}
}

// ===== TEST: orphan orders and missing prices are skipped =====

func TestMatchSLTPSkips(t *testing.T) {
	ledger := newFakeLedger()
	pos := openLong("pos-5", "acct-1", "BTC-USD", "0.01", "10", "95000", "95")
	ledger.positions = []database.Position{pos}
	ledger.orders = []database.Order{
		tpOrder("order-orphan", "pos-gone", "98800"), // no parent in this tick's set
		tpOrder("order-nopx", "pos-5", "98800"),      // no tick for the symbol
	}
	m, _ := newTestMonitor(ledger)

	m.matchSLTP(context.Background(), ledger.positions, ledger.orders)

	if len(ledger.closes) != 0 {
		t.Error("orders without a parent position or a price must be skipped")
	}
}
