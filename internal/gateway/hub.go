// Package gateway accepts websocket connections and turns client events into
// room broadcasts, presence updates, delivery receipts and typing signals.
package gateway

import (
	"context"
	"log/slog"
)

// Outbound is how the gateway reaches connections. Hub implements it.
type Outbound interface {
	// Broadcast queues payload for every connection except the one named.
	Broadcast(payload []byte, except string)
	// Send queues payload for a single connection.
	Send(connID string, payload []byte)
	// Close flushes what is queued for the connection, then closes it.
	Close(connID string)
}

type broadcastMessage struct {
	payload []byte
	except  string
}

type directMessage struct {
	connID  string
	payload []byte
}

// Hub owns the set of live connections. A single goroutine serves every
// request, so broadcasts issued by one caller reach each connection in the
// order they were issued.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	direct     chan *directMessage
	closeConn  chan string
	count      chan chan int

	done   chan struct{}
	logger *slog.Logger
}

// NewHub creates a hub. Nothing is delivered until Run is called.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage),
		direct:     make(chan *directMessage),
		closeConn:  make(chan string),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "hub"),
	}
}

// Run serves hub requests until ctx is canceled, then closes every
// connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Hub started")
	defer func() {
		for id, client := range h.clients {
			close(client.send)
			delete(h.clients, id)
		}
		close(h.done)
		h.logger.Info("Hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			if old, ok := h.clients[client.ID]; ok && old != client {
				close(old.send)
			}
			h.clients[client.ID] = client
			h.logger.Debug("Client registered", "conn_id", client.ID, "clients", len(h.clients))

		case client := <-h.unregister:
			if current, ok := h.clients[client.ID]; ok && current == client {
				h.drop(client)
				h.logger.Debug("Client unregistered", "conn_id", client.ID, "clients", len(h.clients))
			}

		case id := <-h.closeConn:
			if client, ok := h.clients[id]; ok {
				h.drop(client)
				h.logger.Debug("Client closed", "conn_id", id)
			}

		case message := <-h.broadcast:
			for id, client := range h.clients {
				if id == message.except {
					continue
				}
				h.deliver(client, message.payload)
			}

		case message := <-h.direct:
			if client, ok := h.clients[message.connID]; ok {
				h.deliver(client, message.payload)
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// deliver never blocks the hub. A client whose buffer is full is dropped as a
// slow consumer; its reader notices the closed socket and tears it down.
func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.logger.Warn("Client send channel full, dropping connection", "conn_id", client.ID)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client.ID)
	close(client.send)
}

// Register adds a client.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client if it is still the one registered under its
// id.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast implements Outbound.
func (h *Hub) Broadcast(payload []byte, except string) {
	select {
	case h.broadcast <- &broadcastMessage{payload: payload, except: except}:
	case <-h.done:
	}
}

// Send implements Outbound.
func (h *Hub) Send(connID string, payload []byte) {
	select {
	case h.direct <- &directMessage{connID: connID, payload: payload}:
	case <-h.done:
	}
}

// Close implements Outbound.
func (h *Hub) Close(connID string) {
	select {
	case h.closeConn <- connID:
	case <-h.done:
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}
