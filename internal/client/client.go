package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/nfrund/relay/internal/protocol"
)

const (
	defaultSendBuffer    = 64
	defaultWriteTimeout  = 10 * time.Second
	defaultSweepInterval = time.Second
	maxFrameSize         = 64 << 10
)

// Config configures a Client.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Name is the display name announced on every (re)connect.
	Name string
	// SendBuffer is the number of outbound frames buffered per connection.
	SendBuffer int
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration
	// InitialBackoff and MaxBackoff shape the reconnect schedule.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxElapsedTime stops reconnecting after this long without success.
	// Zero retries until the context is canceled.
	MaxElapsedTime time.Duration
}

// Client keeps a Session connected to the relay, reconnecting with
// exponential backoff.
type Client struct {
	cfg     Config
	session *Session
	logger  *slog.Logger

	mu  sync.Mutex
	out chan []byte
}

// New creates a client and its session. Session options are passed through.
func New(cfg Config, opts ...Option) *Client {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	c := &Client{
		cfg:    cfg,
		logger: slog.Default().With("component", "client"),
	}
	c.session = NewSession(cfg.Name, c, opts...)
	return c
}

// Session returns the client's session.
func (c *Client) Session() *Session {
	return c.session
}

// Send implements Transport. It never blocks: frames are handed to the
// connection's write loop. Offline it returns protocol.ErrTransportUnavailable,
// and with a full buffer ErrBufferFull.
func (c *Client) Send(_ context.Context, event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.out == nil {
		return protocol.ErrTransportUnavailable
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run connects and serves the session until ctx is canceled or the session
// leaves. Dropped connections are re-dialed with backoff.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.session.Run(ctx, defaultSweepInterval)

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connect to %s: %w", c.cfg.URL, err)
		}

		err = c.serve(ctx, conn)
		switch {
		case ctx.Err() != nil, c.session.Left():
			return nil
		case errors.Is(err, ErrLeft):
			return nil
		}
		c.logger.Info("Connection lost, reconnecting", "error", err)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	if c.cfg.InitialBackoff > 0 {
		b.InitialInterval = c.cfg.InitialBackoff
	}
	if c.cfg.MaxBackoff > 0 {
		b.MaxInterval = c.cfg.MaxBackoff
	}

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
		return conn, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.cfg.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("Dial failed", "url", c.cfg.URL, "retry_in", next, "error", err)
		}),
	)
}

// serve runs one connection: it re-joins, flushes the outbox and applies
// inbound frames until the connection ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameSize)
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan []byte, c.cfg.SendBuffer)
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writeLoop(connCtx, conn, out)
	}()

	defer func() {
		c.mu.Lock()
		c.out = nil
		close(out)
		c.mu.Unlock()
		c.session.Disconnected()
		<-done
		conn.CloseNow()
	}()

	c.logger.Info("Connected", "url", c.cfg.URL, "name", c.session.Name())
	if err := c.session.Connected(connCtx); err != nil {
		if errors.Is(err, ErrLeft) {
			return err
		}
		c.logger.Warn("Resynchronization incomplete", "error", err)
	}

	for {
		typ, frame, err := conn.Read(connCtx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		if err := c.session.Handle(connCtx, frame); err != nil {
			c.logger.Debug("Dropped inbound frame", "error", err)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte) {
	for frame := range out {
		wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
		err := conn.Write(wctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			c.logger.Debug("WebSocket write error", "error", err)
			conn.CloseNow()
			// Drain so senders never block on a dead connection.
			for range out {
			}
			return
		}
	}
}
