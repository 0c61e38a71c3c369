package events

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// ===== TEST: typed subscription =====

func TestSubscribeReceivesMatchingType(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)

	bus.Subscribe(EventMarginCall, func(e Event) { got <- e })
	bus.PublishMarginCall("acct-1", decimal.NewFromInt(72), decimal.NewFromInt(360))

	select {
	case e := <-got:
		if e.Type != EventMarginCall {
			t.Errorf("event type = %s, want %s", e.Type, EventMarginCall)
		}
		if e.Data["account_id"] != "acct-1" {
			t.Errorf("account_id = %v, want acct-1", e.Data["account_id"])
		}
		if e.Data["margin_level"] != "72" {
			t.Errorf("margin_level = %v, want \"72\"", e.Data["margin_level"])
		}
		if e.ID == "" {
			t.Error("event ID not assigned")
		}
		if e.Timestamp.IsZero() {
			t.Error("event timestamp not assigned")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

// ===== TEST: type filter =====

func TestSubscribeIgnoresOtherTypes(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)

	bus.Subscribe(EventAccountBreached, func(e Event) { got <- e })
	bus.PublishMarginCall("acct-1", decimal.NewFromInt(80), decimal.NewFromInt(400))

	select {
	case e := <-got:
		t.Fatalf("subscriber received %s, want nothing", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

// ===== TEST: all-event subscription =====

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 2)

	bus.SubscribeAll(func(e Event) { got <- e })
	bus.PublishFeedState(false, 3)
	bus.PublishDailyReset("acct-2", "2026-08-24", decimal.NewFromInt(100000))

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			seen[e.Type] = true
		case <-time.After(time.Second):
			t.Fatalf("received %d events, want 2", i)
		}
	}
	if !seen[EventFeedDisconnected] || !seen[EventDailyReset] {
		t.Errorf("seen = %v, want feed disconnect and daily reset", seen)
	}
}
