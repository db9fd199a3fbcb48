package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// DefaultSendBuffer is the number of frames queued per connection before
	// it is treated as a slow consumer.
	DefaultSendBuffer = 256
	// DefaultWriteTimeout bounds a single websocket write.
	DefaultWriteTimeout = 10 * time.Second
	// maxFrameSize caps inbound frames; a message body is at most a few KB.
	maxFrameSize = 64 << 10
)

// Client is one websocket connection.
type Client struct {
	// ID is the opaque connection identity.
	ID string
	// conn is the underlying websocket connection.
	conn *websocket.Conn
	// send is a buffered channel of outbound frames, closed by the hub.
	send chan []byte
}

func newClient(conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
	}
}

// ConnOptions configures the websocket endpoint.
type ConnOptions struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	OriginPatterns []string
}

// Handler upgrades the request and runs the connection until it closes.
func Handler(hub *Hub, gw *Gateway, opts ConnOptions) echo.HandlerFunc {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	return func(c echo.Context) error {
		accept := &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns}
		if len(opts.OriginPatterns) == 0 {
			accept.InsecureSkipVerify = true
		}

		conn, err := websocket.Accept(c.Response(), c.Request(), accept)
		if err != nil {
			slog.Error("Failed to upgrade connection to WebSocket", "error", err)
			return err
		}
		conn.SetReadLimit(maxFrameSize)

		client := newClient(conn, opts.SendBuffer)
		hub.Register(client)

		ctx := context.Background()
		gw.Connect(ctx, client.ID)

		go client.writePump(opts.WriteTimeout)
		client.readPump(ctx, hub, gw)
		return nil
	}
}

// readPump dispatches inbound frames in arrival order until the connection
// fails, then tears it down.
func (c *Client) readPump(ctx context.Context, hub *Hub, gw *Gateway) {
	defer func() {
		gw.Disconnect(ctx, c.ID)
		hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "Client disconnected")
	}()

	for {
		typ, frame, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				slog.Debug("WebSocket closed normally by client", "conn_id", c.ID)
			case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
			default:
				slog.Debug("WebSocket read ended", "conn_id", c.ID, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			slog.Debug("Ignoring binary frame", "conn_id", c.ID)
			continue
		}
		gw.Dispatch(ctx, c.ID, frame)
	}
}

// writePump writes queued frames until the hub closes the send channel, then
// closes the socket. Frames queued before the close are still written.
func (c *Client) writePump(timeout time.Duration) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	for frame := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := c.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			slog.Debug("WebSocket write error", "conn_id", c.ID, "error", err)
			return
		}
	}
}
