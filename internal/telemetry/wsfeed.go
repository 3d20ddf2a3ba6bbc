package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one push notification the feed broadcasts to every connected
// client: a mapping activation, a sequence match, a dropped activation, a
// stuck-key correction, or a HID report from a device with no baseline.
type Event struct {
	Kind      string `json:"kind"`
	MappingID uint32 `json:"mapping_id,omitempty"`
	WorkerID  int    `json:"worker_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Feed is a push-only WebSocket hub: local diagnostic tooling connects and
// receives every Event broadcast, but the feed never reads application
// messages back from a client beyond protocol-level pings.
type Feed struct {
	clients    map[*feedClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan Event
	register   chan *feedClient
	unregister chan *feedClient
	shutdown   chan struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewFeed returns a Feed with its dispatch loop not yet started; call Run
// in its own goroutine to start serving.
func NewFeed() *Feed {
	return &Feed{
		clients:    make(map[*feedClient]bool),
		broadcast:  make(chan Event, 64),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		shutdown:   make(chan struct{}),
	}
}

// Run drains registrations, unregistrations, and broadcasts until Stop is
// called. Intended to run in its own goroutine for the process lifetime.
func (f *Feed) Run() {
	for {
		select {
		case c := <-f.register:
			f.clientsMu.Lock()
			f.clients[c] = true
			f.clientsMu.Unlock()

		case c := <-f.unregister:
			f.clientsMu.Lock()
			if _, ok := f.clients[c]; ok {
				delete(f.clients, c)
				close(c.send)
			}
			f.clientsMu.Unlock()

		case ev := <-f.broadcast:
			f.deliver(ev)

		case <-f.shutdown:
			return
		}
	}
}

// Stop ends Run's dispatch loop.
func (f *Feed) Stop() {
	close(f.shutdown)
}

func (f *Feed) deliver(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		Log.WithError(err).Warn("telemetry feed: failed to marshal event")
		return
	}
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	for c := range f.clients {
		select {
		case c.send <- payload:
		default:
			// slow client: drop rather than block the feed for everyone else
		}
	}
}

// Publish enqueues ev for broadcast, non-blocking: a full broadcast buffer
// means diagnostics are lossy under extreme event rates rather than ever
// stalling the engine that's generating them.
func (f *Feed) Publish(ev Event) {
	select {
	case f.broadcast <- ev:
	default:
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// resulting client with the feed.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.WithError(err).Warn("telemetry feed: upgrade failed")
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, 256)}
	f.register <- c
	go f.writePump(c)
	go f.readPump(c)
}

// readPump only exists to notice the client going away; the feed is
// push-only and ignores any message content the client sends.
func (f *Feed) readPump(c *feedClient) {
	defer func() {
		f.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(c *feedClient) {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
