package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"holedeck/internal/constants"
	"holedeck/internal/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  constants.FeedReadBuffer,
	WriteBufferSize: constants.FeedWriteBuffer,
}

// Feed keeps the most recent journal entries and pushes new ones to every
// connected websocket client. Add never waits on a client: each one has its
// own send queue and is dropped when the queue overflows.
type Feed struct {
	mu      sync.RWMutex
	entries []logger.Entry
	maxLogs int

	clientsMu sync.Mutex
	clients   map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func New(maxLogs int) *Feed {
	if maxLogs <= 0 {
		maxLogs = constants.FeedMaxEntries
	}
	return &Feed{
		maxLogs: maxLogs,
		clients: make(map[*client]bool),
	}
}

// Add records entry and queues it for every client. It has the signature of
// a logger.Journal subscriber.
func (f *Feed) Add(entry logger.Entry) {
	f.mu.Lock()
	f.entries = append(f.entries, entry)
	if len(f.entries) > f.maxLogs {
		f.entries = f.entries[len(f.entries)-f.maxLogs:]
	}
	f.mu.Unlock()

	f.broadcast(entry)
}

// Recent returns a copy of the retained entries, oldest first.
func (f *Feed) Recent() []logger.Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]logger.Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Clients reports how many websocket clients are attached.
func (f *Feed) Clients() int {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()
	return len(f.clients)
}

func (f *Feed) broadcast(entry logger.Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			f.dropLocked(c)
		}
	}
}

// dropLocked forgets c and ends its writer. clientsMu must be held.
func (f *Feed) dropLocked(c *client) {
	if f.clients[c] {
		delete(f.clients, c)
		close(c.send)
	}
}

// writer drains c.send to the connection. It closes the connection when the
// queue is closed or a write fails, which also ends the read loop.
func (c *client) writer() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(constants.FeedWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(constants.FeedWriteTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "too slow"))
}

// HandleWebSocket replays the retained entries and then streams new ones
// until the client goes away.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.clientsMu.Lock()
	recent := f.Recent()
	c := &client{conn: conn, send: make(chan []byte, len(recent)+constants.FeedClientQueue)}
	for _, entry := range recent {
		data, _ := json.Marshal(entry)
		c.send <- data
	}
	f.clients[c] = true
	f.clientsMu.Unlock()

	go c.writer()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.clientsMu.Lock()
	f.dropLocked(c)
	f.clientsMu.Unlock()
	conn.Close()
}

// HandleRecent serves the retained entries as JSON.
func (f *Feed) HandleRecent(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(f.Recent())
}
