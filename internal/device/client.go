// Package device implements the hardware-side reference client used by
// cmd/pinhub-device: it holds a websocket connection to the hub, surfaces
// the commands addressed to its device id, and reconnects with backoff.
package device

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dkrasnov/pinhub/internal/protocol"
)

// Config identifies the device and the hub it connects to.
type Config struct {
	ServerURL string // ws:// or wss:// base URL of the hub
	Token     string
	User      string
	DeviceID  int
}

// Connection parameters.
const (
	pingInterval   = 30 * time.Second
	pongWait       = 45 * time.Second
	writeWait      = 10 * time.Second
	maxBackoff     = 60 * time.Second
	initialBackoff = 1 * time.Second
)

// Client maintains the hardware connection to the hub.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	backoff   time.Duration

	messages chan protocol.Message
}

// NewClient creates a client for the given device.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		log:      log.With().Str("component", "device").Int("device", cfg.DeviceID).Logger(),
		backoff:  initialBackoff,
		messages: make(chan protocol.Message, 100),
	}
}

// Run connects to the hub and maintains the connection. It blocks until the
// context is cancelled.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("context cancelled, stopping")
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			c.log.Error().Err(err).Dur("backoff", c.backoff).Msg("connection failed, retrying")
			c.waitBackoff(ctx)
			continue
		}

		c.backoff = initialBackoff
		c.readLoop(ctx)
		c.waitBackoff(ctx)
	}
}

func (c *Client) endpoint() string {
	q := url.Values{}
	q.Set("user", c.cfg.User)
	q.Set("device", fmt.Sprint(c.cfg.DeviceID))
	q.Set("token", c.cfg.Token)
	return c.cfg.ServerURL + "/ws/hardware?" + q.Encode()
}

func (c *Client) connect(ctx context.Context) error {
	endpoint := c.endpoint()
	c.log.Debug().Str("url", c.cfg.ServerURL).Msg("connecting")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pingLoop(ctx)
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("read error")
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Error().Err(err).Str("data", string(data)).Msg("failed to parse message")
			continue
		}

		select {
		case c.messages <- msg:
		default:
			c.log.Warn().Msg("message queue full, dropping message")
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			connected := c.connected
			c.mu.Unlock()

			if !connected || conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Client) waitBackoff(ctx context.Context) {
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	c.backoff *= 2
	if c.backoff > maxBackoff {
		c.backoff = maxBackoff
	}
}

// Messages returns the channel of commands received from the hub.
func (c *Client) Messages() <-chan protocol.Message {
	return c.messages
}

// IsConnected reports whether the client currently holds a connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
