package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
)

// StatusHub is the optional live-status broadcaster from spec.md §4.5.5's
// streaming mention: each ticker run publishes StatusEvents under its run
// ID; any number of websocket subscribers can listen to one run.
type StatusHub struct {
	mu          sync.Mutex
	subscribers map[string][]chan interfaces.StatusEvent
}

var _ interfaces.StatusBroadcaster = (*StatusHub)(nil)

// NewStatusHub creates an empty hub.
func NewStatusHub() *StatusHub {
	return &StatusHub{subscribers: make(map[string][]chan interfaces.StatusEvent)}
}

// Publish fans event out to every subscriber of runID. Non-blocking: a slow
// or absent subscriber never stalls the orchestrator.
func (h *StatusHub) Publish(ctx context.Context, runID string, event interfaces.StatusEvent) {
	h.mu.Lock()
	chans := append([]chan interfaces.StatusEvent(nil), h.subscribers[runID]...)
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a new listener for runID, returning the channel and
// an unsubscribe func.
func (h *StatusHub) Subscribe(runID string) (chan interfaces.StatusEvent, func()) {
	ch := make(chan interfaces.StatusEvent, 16)

	h.mu.Lock()
	h.subscribers[runID] = append(h.subscribers[runID], ch)
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[runID]
		for i, c := range subs {
			if c == ch {
				h.subscribers[runID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsubscribe
}

// upgrader is shared across websocket endpoints; origin checking is left to
// the CORS middleware in front of the server.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
