package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"propfirm-risk-engine/internal/database"
)

// ===== TEST: S4, absolute drawdown crosses only when equity <= 90% =====

func TestAbsoluteDrawdownBoundary(t *testing.T) {
	ledger := newFakeLedger()
	acct := database.Account{
		ID: "acct-1", Status: database.AccountStatusActive,
		StartingBalance: d("100000"),
		NetWorth:        d("91000"),
	}
	pos := openLong("pos-a", "acct-1", "BTC-USD", "0.01", "10", "98000", "500")
	ledger.positions = []database.Position{pos}
	m, cache := newTestMonitor(ledger)

	// unrealized = (93000-98000)*0.01*10 = -500
	setTick(t, cache, "BTC-USD", "93000", "93010", testNow)
	// equity 91000 - 500 = 90500 > 90000: no breach
	m.checkDrawdown(context.Background(), acct, ledger.positions)
	if len(ledger.breaches) != 0 {
		t.Fatal("equity 90500 must not breach the 90000 limit")
	}

	// adverse move: bid 83000 gives unrealized -1500, equity 89500
	setTick(t, cache, "BTC-USD", "83000", "83010", testNow)
	m.checkDrawdown(context.Background(), acct, ledger.positions)

	reason, ok := ledger.breaches["acct-1"]
	if !ok {
		t.Fatal("equity 89500 must breach the 90000 limit")
	}
	if !strings.Contains(reason, "Max drawdown") {
		t.Errorf("breach reason = %q, want a max-drawdown reason", reason)
	}
	reasons := ledger.closedReasons()
	if reasons["pos-a"] != database.CloseReasonLiquidation {
		t.Errorf("breach must liquidate every open position, got %v", reasons)
	}
}

// ===== TEST: S5, daily drawdown against the UTC-day anchor =====

func TestDailyDrawdownBreach(t *testing.T) {
	ledger := newFakeLedger()
	acct := database.Account{
		ID: "acct-1", Status: database.AccountStatusActive,
		StartingBalance: d("200000"), // absolute limit far away
		NetWorth:        d("94900"),
		DayStartBalance: d("100000"),
		DayStartEquity:  d("100000"),
		DayStartDate:    "2026-08-25",
	}
	m, _ := newTestMonitor(ledger)

	// no open positions: equity = net_worth = 94900 <= floor 95000
	m.checkDrawdown(context.Background(), acct, nil)

	reason, ok := ledger.breaches["acct-1"]
	if !ok {
		t.Fatal("equity 94900 must breach the 95000 daily floor")
	}
	if !strings.Contains(reason, "Daily drawdown") {
		t.Errorf("breach reason = %q, want a daily-drawdown reason", reason)
	}
}

// ===== TEST: a stale anchor date disables the daily check =====

func TestDailyDrawdownStaleAnchorDate(t *testing.T) {
	ledger := newFakeLedger()
	acct := database.Account{
		ID: "acct-1", Status: database.AccountStatusActive,
		StartingBalance: d("200000"),
		NetWorth:        d("94900"),
		DayStartBalance: d("100000"),
		DayStartEquity:  d("100000"),
		DayStartDate:    "2026-08-24", // yesterday's anchor
	}
	m, _ := newTestMonitor(ledger)

	m.checkDrawdown(context.Background(), acct, nil)

	if len(ledger.breaches) != 0 {
		t.Error("an anchor from another day must not drive the daily check")
	}
}

// ===== TEST: the daily floor uses max(day_start_balance, day_start_equity) =====

func TestDailyDrawdownFloorUsesMax(t *testing.T) {
	ledger := newFakeLedger()
	acct := database.Account{
		ID: "acct-1", Status: database.AccountStatusActive,
		StartingBalance: d("200000"),
		NetWorth:        d("95500"),
		DayStartBalance: d("99000"),
		DayStartEquity:  d("101000"), // floor = 101000 * 0.95 = 95950
		DayStartDate:    "2026-08-25",
	}
	m, _ := newTestMonitor(ledger)

	m.checkDrawdown(context.Background(), acct, nil)

	if _, ok := ledger.breaches["acct-1"]; !ok {
		t.Error("equity 95500 is under the 95950 floor from the higher anchor")
	}
}

// ===== TEST: zero starting balance never breaches =====

func TestDrawdownZeroStartingBalance(t *testing.T) {
	ledger := newFakeLedger()
	acct := database.Account{
		ID: "acct-1", Status: database.AccountStatusActive,
		StartingBalance: d("0"),
		NetWorth:        d("-5000"),
	}
	m, _ := newTestMonitor(ledger)

	m.checkDrawdown(context.Background(), acct, nil)

	if len(ledger.breaches) != 0 {
		t.Error("starting_balance = 0 must never breach")
	}
}

// ===== TEST: stale prices defer the whole breach =====

func TestDrawdownStalePricesDeferBreach(t *testing.T) {
	ledger := newFakeLedger()
	acct := database.Account{
		ID: "acct-1", Status: database.AccountStatusActive,
		StartingBalance: d("100000"),
		NetWorth:        d("85000"), // breached on net worth alone
	}
	positions := []database.Position{
		openLong("pos-a", "acct-1", "BTC-USD", "0.01", "10", "98000", "500"),
	}
	ledger.positions = positions
	m, cache := newTestMonitor(ledger)
	setTick(t, cache, "BTC-USD", "95000", "95010", testNow.Add(-time.Minute))

	m.checkDrawdown(context.Background(), acct, positions)

	if len(ledger.breaches) != 0 || len(ledger.closes) != 0 {
		t.Error("a breach must be deferred while any position price is stale")
	}
}

// ===== TEST: after a breach tick no open positions remain =====

func TestBreachClosesEveryPosition(t *testing.T) {
	ledger := newFakeLedger()
	acct := database.Account{
		ID: "acct-1", Status: database.AccountStatusActive,
		StartingBalance: d("100000"),
		NetWorth:        d("85000"),
	}
	positions := []database.Position{
		openLong("pos-a", "acct-1", "BTC-USD", "0.01", "10", "98000", "500"),
		openShort("pos-b", "acct-1", "ETH-USD", "0.8", "5", "3520", "563"),
	}
	ledger.positions = positions
	m, cache := newTestMonitor(ledger)
	setTick(t, cache, "BTC-USD", "95000", "95010", testNow)
	setTick(t, cache, "ETH-USD", "3595", "3605", testNow)

	m.checkDrawdown(context.Background(), acct, positions)

	if _, ok := ledger.breaches["acct-1"]; !ok {
		t.Fatal("account must be breached")
	}
	open, _ := ledger.OpenPositions(context.Background(), 500)
	if len(open) != 0 {
		t.Errorf("%d positions still open after the breach tick, want 0", len(open))
	}
	reasons := ledger.closedReasons()
	for id, reason := range reasons {
		if reason != database.CloseReasonLiquidation {
			t.Errorf("position %s closed with %s, want liquidation", id, reason)
		}
	}
}
