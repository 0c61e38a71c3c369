package pricecache

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativePrice rejects ticks carrying a negative bid, ask or last.
	ErrNegativePrice = errors.New("pricecache: negative price")
	// ErrCrossedBook rejects ticks where the bid is above the ask.
	ErrCrossedBook = errors.New("pricecache: bid above ask")
)

// Tick is the latest observed quote for one platform symbol.
type Tick struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Timestamp time.Time
}

// Fresh reports whether the tick is recent enough to base a financial
// decision on. Anything older than maxAge must be treated as unknown.
func (t Tick) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(t.Timestamp) <= maxAge
}

// Cache provides thread-safe storage of the latest tick per symbol.
// Writers are the exchange feed (crypto) and the fallback loader (forex);
// readers are the risk evaluators and the HTTP surface. Last writer wins,
// no history is kept.
type Cache struct {
	ticks sync.Map // symbol -> Tick

	// Statistics
	statsMu  sync.RWMutex
	accepted int64
	rejected int64
}

// New creates an empty price cache.
func New() *Cache {
	return &Cache{}
}

// Set validates and stores a tick, overwriting any previous value for the
// symbol. The timestamp is the observation time reported by the producer.
func (c *Cache) Set(symbol string, bid, ask, last decimal.Decimal, ts time.Time) error {
	if bid.IsNegative() || ask.IsNegative() || last.IsNegative() {
		c.recordRejected()
		return ErrNegativePrice
	}
	if bid.GreaterThan(ask) {
		c.recordRejected()
		return ErrCrossedBook
	}

	c.ticks.Store(symbol, Tick{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Timestamp: ts,
	})
	c.recordAccepted()
	return nil
}

// Get returns the latest tick for a symbol. Freshness is the caller's
// concern; a stale tick is still returned so the health surface can count it.
func (c *Cache) Get(symbol string) (Tick, bool) {
	if val, ok := c.ticks.Load(symbol); ok {
		return val.(Tick), true
	}
	return Tick{}, false
}

// Size returns the number of symbols currently cached.
func (c *Cache) Size() int {
	n := 0
	c.ticks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// FreshCount returns how many cached ticks are still fresh at now.
func (c *Cache) FreshCount(now time.Time, maxAge time.Duration) int {
	n := 0
	c.ticks.Range(func(_, val any) bool {
		if val.(Tick).Fresh(now, maxAge) {
			n++
		}
		return true
	})
	return n
}

// Snapshot returns a copy of every cached tick, sorted by symbol.
func (c *Cache) Snapshot() []Tick {
	out := make([]Tick, 0, 16)
	c.ticks.Range(func(_, val any) bool {
		out = append(out, val.(Tick))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Stats returns the accepted/rejected tick counters.
func (c *Cache) Stats() (accepted, rejected int64) {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.accepted, c.rejected
}

func (c *Cache) recordAccepted() {
	c.statsMu.Lock()
	c.accepted++
	c.statsMu.Unlock()
}

func (c *Cache) recordRejected() {
	c.statsMu.Lock()
	c.rejected++
	c.statsMu.Unlock()
}
