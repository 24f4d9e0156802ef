package bridge

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// lab network only
		return true
	},
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

type previewKey struct {
	session, channel string
}

// Hub consumes a Bridge and broadcasts updates to websocket clients.
// Log lines and flag changes are always sent; previews are rate limited
// and the latest preview of every channel is kept for late joiners.
type Hub struct {
	limiter *rate.Limiter

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  map[previewKey]Update
	pending map[previewKey]bool
}

// NewHub returns a hub sending at most previewHz previews per second,
// with bursts of burst
func NewHub(previewHz float64, burst int) *Hub {
	lim := rate.Inf
	if previewHz > 0 {
		lim = rate.Limit(previewHz)
	}
	if burst < 1 {
		burst = 1
	}
	return &Hub{
		limiter: rate.NewLimiter(lim, burst),
		clients: map[*client]struct{}{},
		latest:  map[previewKey]Update{},
		pending: map[previewKey]bool{},
	}
}

// Run consumes b until it is closed or ctx is done
func (h *Hub) Run(ctx context.Context, b *Bridge) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-b.Updates():
			if !ok {
				h.flushPending()
				return nil
			}
			h.handle(u)
		}
	}
}

func (h *Hub) handle(u Update) {
	if u.Kind != Preview {
		h.flushPending()
		h.broadcast(u)
		return
	}
	key := previewKey{u.Session, u.Channel}
	h.mu.Lock()
	h.latest[key] = u
	allowed := h.limiter.Allow()
	if !allowed {
		h.pending[key] = true
	} else {
		delete(h.pending, key)
	}
	h.mu.Unlock()
	if allowed {
		h.broadcast(u)
	}
}

// flushPending sends the latest version of previews that were throttled,
// so clients end on the final state
func (h *Hub) flushPending() {
	h.mu.Lock()
	var out []Update
	for k := range h.pending {
		out = append(out, h.latest[k])
		delete(h.pending, k)
	}
	h.mu.Unlock()
	for _, u := range out {
		h.broadcast(u)
	}
}

// Latest returns the most recent preview of every channel of a session,
// sorted by channel
func (h *Hub) Latest(session string) []Update {
	h.mu.RLock()
	out := []Update{}
	for k, u := range h.latest {
		if k.session == session {
			out = append(out, u)
		}
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (h *Hub) broadcast(u Update) {
	b, err := json.Marshal(u)
	if err != nil {
		log.Println("bridge: encoding update:", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if err := c.send(b); err != nil {
			log.Println("bridge: send:", err)
		}
	}
}

// ServeHTTP upgrades to a websocket, sends the latest previews, and streams
// updates until the client disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	h.mu.Lock()
	for _, u := range h.latest {
		if b, err := json.Marshal(u); err == nil {
			c.send(b)
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			conn.Close()
			return
		}
	}
}
