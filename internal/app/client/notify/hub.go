package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes bus events to every connected websocket client as JSON text
// frames.
type Hub struct {
	bus        *Bus
	log        *slog.Logger
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	count      chan chan int
	done       chan struct{}
}

func NewHub(bus *Bus, log *slog.Logger) *Hub {
	return &Hub{
		bus: bus,
		log: log.With("component", "notify.hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the feed is served on a loopback agent address to a local shell
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	events, cancel := h.bus.Subscribe()
	defer cancel()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("ui client connected", "clients", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.log.Debug("ui client disconnected", "clients", len(h.clients))
			}
		case reply := <-h.count:
			reply <- len(h.clients)
		case e, ok := <-events:
			if !ok {
				return
			}
			msg, err := json.Marshal(e)
			if err != nil {
				h.log.Error("encode event", "type", e.Type, "error", err)
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// ClientCount reports connected clients. It blocks until Run is serving
// and returns 0 once Run has stopped.
func (h *Hub) ClientCount() int {
	reply := make(chan int)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only watches for the peer going away; the feed is one-way.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
