package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"binary-options-engine-go/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	clientSendSize = 64
)

// Frame is the JSON envelope pushed to websocket clients.
type Frame struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// Client represents a single websocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans bus events out to connected display clients. Delivery is not
// durable: a missed frame is never replayed, and a client that cannot keep
// up is disconnected.
type Hub struct {
	logger *zap.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	clients  map[*Client]struct{}
	upgrader websocket.Upgrader

	unsubscribes []func()
}

// NewHub creates a broadcast hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("ws-hub"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Attach subscribes the hub to the broadcastable bus topics.
func (h *Hub) Attach(bus *events.Bus) {
	for _, topic := range []events.Topic{events.TopicPriceUpdate, events.TopicTradeCreated, events.TopicTradeSettled} {
		topic := topic
		unsub := bus.Subscribe(topic, "ws-hub", 256, func(payload any) {
			h.Broadcast(string(topic), payload)
		})
		h.unsubscribes = append(h.unsubscribes, unsub)
	}
}

// Run owns the client set until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, unsub := range h.unsubscribes {
				unsub()
			}
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.logger.Debug("Client connected", zap.String("client_id", client.id), zap.Int("clients", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("Client disconnected", zap.String("client_id", client.id))
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow consumer, drop it.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// Broadcast queues a frame for every connected client.
func (h *Hub) Broadcast(topic string, data any) {
	payload, err := json.Marshal(Frame{Topic: topic, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast frame", zap.String("topic", topic), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("Broadcast queue full, dropping frame", zap.String("topic", topic))
	}
}

// ServeWS upgrades an HTTP request to a websocket client connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendSize),
		hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump pushes queued frames and periodic pings to the connection.
func (c *Client) writePump() {
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

// readPump discards inbound frames; the hub is broadcast-only. It exists to
// notice a closed connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
