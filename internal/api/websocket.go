package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"weinstein/internal/domain"
	"weinstein/internal/scheduler"
)

const (
	hubBufferSize = 64
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// SignalEvent is the message pushed to websocket clients after an update
// produces new signals.
type SignalEvent struct {
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Signals []domain.Signal `json:"signals"`
}

// Hub fans out signal events to connected websocket clients. Slow clients
// miss events rather than stall the publisher.
type Hub struct {
	origins []string
	log     *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan []byte
	nextID int
	closed bool
}

var (
	_ http.Handler          = (*Hub)(nil)
	_ scheduler.Broadcaster = (*Hub)(nil)
)

// NewHub creates a hub. origins are the host patterns accepted for
// cross-origin upgrades; empty means same-origin only.
func NewHub(origins []string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{origins: origins, log: log, subs: make(map[int]chan []byte)}
}

// Subscribe registers a new subscriber with the given buffer size.
func (h *Hub) Subscribe(bufSize int) (id int, ch <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := make(chan []byte, bufSize)
	if h.closed {
		close(c)
		return -1, c
	}
	id = h.nextID
	h.nextID++
	h.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Clients returns the number of live subscriptions.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast sends msg to every subscriber without blocking.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.log.Warn("websocket client lagging, event dropped", "sub", id)
		}
	}
}

// BroadcastSignals publishes sigs as one SignalEvent. Empty batches are
// skipped.
func (h *Hub) BroadcastSignals(sigs []domain.Signal) {
	if len(sigs) == 0 {
		return
	}
	b, err := json.Marshal(SignalEvent{Type: "signals", Time: time.Now().UTC(), Signals: sigs})
	if err != nil {
		h.log.Error("encoding signal event", "error", err)
		return
	}
	h.Broadcast(b)
}

// Close disconnects every subscriber. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client goes away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	id, ch := h.Subscribe(hubBufferSize)
	defer h.Unsubscribe(id)
	h.log.Info("websocket client subscribed", "sub", id, "remote", r.RemoteAddr)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket client disconnected", "sub", id)
			return
		case msg, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := write(ctx, conn, msg); err != nil {
				h.log.Info("websocket write failed", "sub", id, "error", err)
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
