package feed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"propfirm-risk-engine/internal/events"
	"propfirm-risk-engine/internal/pricecache"
)

const maxReconnectDelay = 30 * time.Second

// bookTickerFrame is one best-bid/best-ask update. The combined stream
// nests it under "data"; a raw stream delivers it bare.
type bookTickerFrame struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Client maintains exactly one live websocket connection to the exchange's
// multiplexed book-ticker stream and writes accepted quotes into the price
// cache. It reconnects forever with exponential backoff and never crashes
// the process on socket errors.
type Client struct {
	mu sync.RWMutex

	baseURL   string
	cache     *pricecache.Cache
	eventBus  *events.EventBus
	logger    zerolog.Logger
	wsConn    *websocket.Conn
	isRunning bool
	connected bool
	stopChan  chan struct{}

	// reconnect state; attempts resets to 0 on a successful open
	attempts int64

	// dropped frames (unknown symbol, parse error, missing bid/ask)
	invalidFrames int64
}

// NewClient creates a feed client. baseURL is the stream endpoint without
// the subscription path, e.g. wss://stream.binance.com:9443.
func NewClient(baseURL string, cache *pricecache.Cache, eventBus *events.EventBus) *Client {
	return &Client{
		baseURL:  baseURL,
		cache:    cache,
		eventBus: eventBus,
		logger:   log.With().Str("component", "feed").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start launches the connection loop. It returns immediately.
func (c *Client) Start() {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = true
	c.mu.Unlock()

	go c.connectionLoop()
}

// Stop closes the socket and ends the connection loop.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return
	}
	c.isRunning = false
	close(c.stopChan)

	if c.wsConn != nil {
		c.wsConn.Close()
	}
	c.logger.Info().Msg("feed client stopped")
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ReconnectAttempts returns the consecutive-failure counter. It is zero
// while the connection is healthy.
func (c *Client) ReconnectAttempts() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// InvalidFrames returns how many frames were dropped.
func (c *Client) InvalidFrames() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invalidFrames
}

func (c *Client) connectionLoop() {
	wsURL := c.baseURL + streamPath()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			c.mu.Lock()
			c.attempts++
			attempts := c.attempts
			c.mu.Unlock()

			delay := reconnectDelay(attempts)
			c.logger.Warn().Err(err).Int64("attempts", attempts).
				Dur("retry_in", delay).Msg("feed connection failed")

			select {
			case <-c.stopChan:
				return
			case <-time.After(delay):
			}
			continue
		}

		c.mu.Lock()
		c.wsConn = conn
		c.connected = true
		c.attempts = 0
		c.mu.Unlock()

		c.logger.Info().Str("url", c.baseURL).Msg("feed connected")
		c.eventBus.PublishFeedState(true, 0)

		c.readLoop(conn)

		c.mu.Lock()
		c.connected = false
		attempts := c.attempts
		c.mu.Unlock()

		select {
		case <-c.stopChan:
			return
		default:
		}

		c.logger.Warn().Msg("feed disconnected, reconnecting")
		c.eventBus.PublishFeedState(false, attempts)
	}
}

// reconnectDelay is min(1s x 2^attempts, 30s) for the attempt that just
// failed (the first retry waits 1s).
func reconnectDelay(attempts int64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 5 {
		return maxReconnectDelay
	}
	delay := time.Second << uint(shift)
	if delay > maxReconnectDelay {
		return maxReconnectDelay
	}
	return delay
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info().Msg("feed connection closed")
			} else {
				c.logger.Warn().Err(err).Msg("feed read error")
			}
			conn.Close()
			return
		}

		c.handleMessage(message)
	}
}

// handleMessage parses one frame and writes it into the price cache.
// Malformed frames and unknown symbols are dropped without log spam.
func (c *Client) handleMessage(message []byte) {
	var combined combinedFrame
	payload := message
	if err := json.Unmarshal(message, &combined); err == nil && len(combined.Data) > 0 {
		payload = combined.Data
	}

	var frame bookTickerFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.recordInvalid()
		return
	}
	if frame.Symbol == "" || frame.Bid == "" || frame.Ask == "" {
		c.recordInvalid()
		return
	}

	symbol, ok := PlatformSymbol(frame.Symbol)
	if !ok {
		c.recordInvalid()
		return
	}

	// Decimals are built from the wire strings; the quotes never pass
	// through a binary float.
	bid, err := decimal.NewFromString(frame.Bid)
	if err != nil {
		c.recordInvalid()
		return
	}
	ask, err := decimal.NewFromString(frame.Ask)
	if err != nil {
		c.recordInvalid()
		return
	}
	last := bid.Add(ask).Div(decimal.NewFromInt(2))

	now := time.Now().UTC()
	if err := c.cache.Set(symbol, bid, ask, last, now); err != nil {
		c.recordInvalid()
		return
	}

	c.eventBus.PublishPriceUpdate(symbol, bid, ask, last, now)
}

func (c *Client) recordInvalid() {
	c.mu.Lock()
	c.invalidFrames++
	c.mu.Unlock()
}
