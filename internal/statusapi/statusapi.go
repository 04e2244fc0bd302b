// Package statusapi is a read-only WebSocket event stream over a session's
// audit.log and progress.jsonl (spec.md §6's status query surface), grounded
// on the teacher's internal/agentexec.Server: same gorilla/websocket
// upgrader, same-origin check, and zerolog logging, simplified to one
// broadcast direction since status subscribers never send commands back.
package statusapi

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     isAllowedOrigin,
}

const (
	writeWait  = 5 * time.Second
	pingPeriod = 15 * time.Second
)

// Event is one status message pushed to subscribers: either an audit record
// or a progress record, tagged by kind so clients can dispatch without
// peeking at field shapes.
type Event struct {
	Kind      string    `json:"kind"` // "audit" | "progress"
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload"`
}

// Hub fans a session's events out to every connected subscriber.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[*subscriber]struct{})}
}

// Publish marshals ev and writes it to every currently connected subscriber.
// Writes are synchronous: a subscriber whose write fails or does not finish
// within writeWait is dropped, so one slow subscriber delays a Publish by at
// most writeWait.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("statusapi: marshal event")
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.write(data); err != nil {
			h.remove(sub)
			sub.close()
		}
	}
}

func (s *subscriber) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, sub)
}

// SubscriberCount reports the number of currently connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HandleWebSocket upgrades r and registers the connection as a subscriber
// until it disconnects or a write or ping to it fails; the request context
// is not watched.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("statusapi: upgrade failed")
		return
	}

	sub := &subscriber{conn: conn, done: make(chan struct{})}
	h.add(sub)

	go h.readLoop(sub)
	go h.pingLoop(sub)

	<-sub.done
}

// readLoop drains and discards any client frames (this API is read-only)
// purely to detect disconnects, mirroring the teacher's readLoop shape.
func (h *Hub) readLoop(sub *subscriber) {
	defer func() {
		h.remove(sub)
		sub.close()
		_ = sub.conn.Close()
	}()
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) pingLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			sub.writeMu.Lock()
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			sub.writeMu.Unlock()
			if err != nil {
				h.remove(sub)
				sub.close()
				return
			}
		}
	}
}

func isAllowedOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true // local CLI/status clients typically omit Origin
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return normalizeHost(parsed.Host) == normalizeHost(r.Host)
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if port == "80" || port == "443" {
		return h
	}
	return net.JoinHostPort(h, port)
}
