// Package gateway maintains the realtime websocket connection to the
// backend and translates its JSON frames into bus events.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pcardosol/orbit/internal/bus"
	"github.com/pcardosol/orbit/internal/status"
)

// Client owns a single websocket connection. Connect and Disconnect are
// idempotent; the daemon reconnects by calling Connect again after a
// drop. This layer never retries on its own.
type Client struct {
	gatewayURL string
	bus        *bus.Bus
	machine    *status.Machine
	logger     *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewClient creates a gateway client for the given websocket URL (e.g.
// "ws://localhost:4000/ws").
func NewClient(gatewayURL string, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		gatewayURL: gatewayURL,
		bus:        b,
		machine:    machine,
		logger:     logger,
	}
}

// Connect dials the gateway identifying as userID and starts the read
// loop. Calling Connect while already connected is a no-op.
func (c *Client) Connect(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	u, err := url.Parse(c.gatewayURL)
	if err != nil {
		return fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	c.logger.Info("connecting to gateway", zap.String("url", u.Host))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	c.conn = conn
	c.done = make(chan struct{})

	c.transition(status.Ready)
	c.publish(bus.Event{Kind: "gateway.up", Timestamp: time.Now()})

	go c.readLoop(conn, c.done)
	return nil
}

// Disconnect closes the connection if one is open.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.done = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.logger.Info("disconnecting from gateway")
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
	if done != nil {
		<-done
	}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// readLoop decodes frames until the connection drops, then announces the
// drop on the bus so presence state can be cleared.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn("gateway connection dropped", zap.Error(err))
			}
			break
		}

		evt, err := decodeFrame(f)
		if err != nil {
			if !errors.Is(err, errSkipFrame) {
				c.logger.Warn("bad gateway frame", zap.String("event", f.Event), zap.Error(err))
			}
			continue
		}
		c.publish(evt)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.done = nil
	}
	c.mu.Unlock()

	c.transition(status.Offline)
	c.publish(bus.Event{Kind: "gateway.down", Timestamp: time.Now()})
}

func (c *Client) publish(evt bus.Event) {
	if c.bus != nil {
		c.bus.Publish(evt)
	}
}

func (c *Client) transition(to status.State) {
	if c.machine == nil {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("status transition skipped", zap.Error(err))
	}
}
