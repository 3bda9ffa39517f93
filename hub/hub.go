package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// replayDepth is how many recent events a freshly connected client is
// sent so dashboards render in-flight runs without a page of blanks.
const replayDepth = 32

type Event struct {
	Type    string      `json:"type"` // run.status, run.stage, health.check
	Target  string      `json:"target"`
	Payload interface{} `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	// target filters the stream to one deployment target; empty means
	// the client sees everything.
	target string
}

type message struct {
	target string
	data   []byte
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan message
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader

	recent []message // ring of the last replayDepth messages
}

func New(allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // non-browser clients (CLI, curl)
				}
				if allowed[origin] {
					return true
				}
				// Always allow localhost.
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				host := u.Hostname()
				return host == "localhost" || host == "127.0.0.1" || host == "::1"
			},
		},
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			for _, m := range h.recent {
				if !c.wants(m.target) {
					continue
				}
				select {
				case c.send <- m.data:
				default:
				}
			}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case m := <-h.broadcast:
			h.mu.Lock()
			h.recent = append(h.recent, m)
			if len(h.recent) > replayDepth {
				h.recent = h.recent[1:]
			}
			for c := range h.clients {
				if !c.wants(m.target) {
					continue
				}
				select {
				case c.send <- m.data:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (c *client) wants(target string) bool {
	return c.target == "" || target == "" || c.target == target
}

func (h *Hub) Broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("hub: marshal error: %v", err)
		return
	}
	h.broadcast <- message{target: evt.Target, data: data}
}

// HandleConnect upgrades the connection. A ?target=NAME query restricts
// the stream to that target's events.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 64),
		target: r.URL.Query().Get("target"),
	}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
