package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/antonmedv/expr/vm"
	"github.com/chathub-io/chathub/globals"
	"github.com/chathub-io/chathub/types"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

// Client is the registry's handle on one live connection: its user identity,
// its joined broker groups and its session. All inbound frames are handled
// sequentially on the read loop, all writes happen on the write loop.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	user *types.User

	// Buffered channel of outbound payloads.
	Send chan []byte

	session session

	// groups this connection has joined; only touched from accept and
	// disconnect, never concurrently
	groups map[string]struct{}

	// optional per-subscriber event filter
	filterProg *vm.Program

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, user *types.User) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		user:   user,
		Send:   make(chan []byte, sendChannelSize),
		groups: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

func (c *Client) User() *types.User {
	return c.user
}

// Deliver implements broker.Subscriber. Delivery is best-effort: a full send
// buffer or a closed connection drops the event rather than blocking the
// publisher.
func (c *Client) Deliver(event *types.Event) {
	if !c.runFilter(event) {
		return
	}
	select {
	case <-c.done:
	default:
		select {
		case c.Send <- event.Payload:
		default:
			globals.AppLogger.Warn("send buffer full, dropping event", "user", c.user.Id, "type", event.Type)
		}
	}
}

// send marshals a session-local response (ack, error event, list) onto the
// connection, bypassing the broker.
func (c *Client) send(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal payload", "error", err)
		return
	}
	select {
	case c.Send <- data:
	default:
		globals.AppLogger.Warn("send buffer full, dropping response", "user", c.user.Id)
	}
}

func (c *Client) joinGroup(group string) error {
	if err := c.hub.Broker.JoinGroup(group, c); err != nil {
		return err
	}
	c.groups[group] = struct{}{}
	return nil
}

// Run pumps the connection until it drops, then tears the registration down.
// It blocks the calling handler goroutine, mirroring the connection lifetime.
func (c *Client) Run(ctx context.Context) {
	go c.writeLoop()
	c.readLoop(ctx)
	c.Disconnect()
}

// readLoop pumps inbound frames into the session, strictly one at a time: the
// loop is the per-connection queue that keeps handlers for one connection
// sequential.
func (c *Client) readLoop(ctx context.Context) {
	defer c.Disconnect()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				globals.AppLogger.Debug("connection closed unexpectedly", "user", c.user.Id, "error", err)
			}
			return
		}
		action, err := types.DecodeClientAction(raw)
		if err != nil {
			c.send(types.NewErrorEvent(err.Error()))
			continue
		}
		c.session.handle(ctx, action)
	}
}

// writeLoop pumps outbound payloads to the connection and keeps it alive with
// pings. The single writer goroutine is the only place that writes to the
// connection after accept.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// Disconnect releases everything this connection holds: broker groups, the
// registry entry, presence. Safe to call from any path and idempotent, also on
// abnormal termination.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.session.close()
		for group := range c.groups {
			if err := c.hub.Broker.LeaveGroup(group, c); err != nil {
				globals.AppLogger.Warn("could not leave group", "group", group, "error", err)
			}
		}
		c.hub.unregister(c)
		c.hub.markOffline(context.Background(), c.user.Id)
		c.conn.Close()
	})
}
