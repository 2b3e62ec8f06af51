package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Dicklesworthstone/quorum/internal/dispatch"
)

// subscriberBuffer is how many events a slow subscriber may lag before
// being dropped.
const subscriberBuffer = 64

// Hub broadcasts dispatch events to websocket subscribers. It implements
// dispatch.Sink, so it plugs directly into the dispatcher; Publish never
// blocks, slow subscribers are disconnected instead.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[chan dispatch.Event]struct{}
}

// NewHub builds an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[chan dispatch.Event]struct{}),
	}
}

// Publish implements dispatch.Sink.
func (h *Hub) Publish(e dispatch.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			// Subscriber fell behind; closing its channel ends the
			// writer goroutine and the connection.
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Subscribers reports how many connections are attached.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() chan dispatch.Event {
	ch := make(chan dispatch.Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan dispatch.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or falls behind.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ch := h.subscribe()
	defer h.unsubscribe(ch)
	defer conn.Close()

	// Reader goroutine: we never expect client messages, but reading is
	// required to observe the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
