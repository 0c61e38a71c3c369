package api

import (
	"io"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"propfirm-risk-engine/internal/events"
)

// clientBuffer is the per-client event queue. A consumer that falls this
// far behind starts losing ticks rather than backpressuring the engine.
const clientBuffer = 64

// sseHub fans bus events out to connected SSE clients. Slow consumers
// drop events; the hub never blocks a publisher.
type sseHub struct {
	mu      sync.RWMutex
	clients map[string]chan events.Event
	closed  bool
}

func newSSEHub(bus *events.EventBus) *sseHub {
	h := &sseHub{
		clients: make(map[string]chan events.Event),
	}
	bus.Subscribe(events.EventPriceUpdate, h.broadcast)
	bus.Subscribe(events.EventPositionClosed, h.broadcast)
	bus.Subscribe(events.EventMarginCall, h.broadcast)
	bus.Subscribe(events.EventStopOut, h.broadcast)
	bus.Subscribe(events.EventAccountBreached, h.broadcast)
	return h
}

func (h *sseHub) broadcast(ev events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// slow consumer, drop
		}
	}
}

func (h *sseHub) register() (string, chan events.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", nil, false
	}
	id := uuid.New().String()
	ch := make(chan events.Event, clientBuffer)
	h.clients[id] = ch
	return id, ch, true
}

func (h *sseHub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
}

func (h *sseHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
	}
}

func (h *sseHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleStream serves one SSE connection until the client goes away or the
// hub shuts down.
func (h *sseHub) handleStream(c *gin.Context) {
	id, ch, ok := h.register()
	if !ok {
		c.Status(503)
		return
	}
	defer h.unregister(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent(string(ev.Type), ev.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
