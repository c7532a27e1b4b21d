// Package wsconn holds the per-stream websocket connection state machine
// shared by every vendor adapter. Each adapter owns one StreamConn per
// stream kind (ticker, order book, kline) and the three instances evolve
// independently: a ticker disconnect never touches the order book or kline
// connection of the same pair.
package wsconn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"coinstream/config"
	"coinstream/logger"
)

// State of a single stream connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StreamConn tracks the lifecycle of one websocket stream: current state,
// the reconnect attempt counter and the single outstanding reconnect timer.
// All methods are safe for concurrent use.
type StreamConn struct {
	mu       sync.Mutex
	writeMu  sync.Mutex
	state    State
	attempts int
	timer    *time.Timer
	conn     *websocket.Conn
	closed   bool
}

func New() *StreamConn {
	return &StreamConn{}
}

// BeginConnect moves the stream into the connecting state. It returns false
// when the stream has been shut down or is already connected, in which case
// the caller must not dial.
func (c *StreamConn) BeginConnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == StateConnected || c.state == StateConnecting {
		return false
	}
	c.state = StateConnecting
	return true
}

// Adopt installs a freshly dialed connection, resets the attempt counter and
// cancels any pending reconnect timer. It returns false when the stream was
// shut down while the dial was in flight; the caller must close conn.
func (c *StreamConn) Adopt(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return true
}

// Fail records a dial failure, returning the stream to disconnected.
func (c *StreamConn) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting {
		c.state = StateDisconnected
	}
}

// Retire marks the stream disconnected if conn is still the active
// connection. It returns false when conn was already replaced or dropped,
// which tells a read loop that the teardown was deliberate and it must not
// schedule a reconnect.
func (c *StreamConn) Retire(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || conn == nil || c.conn != conn {
		return false
	}
	c.conn = nil
	c.state = StateDisconnected
	return true
}

// DropConn detaches and returns the active connection without scheduling
// anything, used when a vendor requires a socket rebuild (Binance kline
// combined streams). The caller closes the returned connection.
func (c *StreamConn) DropConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn := c.conn
	c.conn = nil
	if c.state == StateConnected {
		c.state = StateDisconnected
	}
	return conn
}

// ScheduleReconnect arms the single reconnect timer with the policy's fixed
// delay. It returns false once the attempt cap is reached: the stream is
// abandoned permanently, which is logged at error level and not otherwise
// signalled.
func (c *StreamConn) ScheduleReconnect(policy config.ReconnectPolicy, log *logger.Entry, dial func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.timer != nil {
		// A timer is already pending; never stack a second one.
		return true
	}
	if c.attempts >= policy.MaxAttempts {
		log.WithFields(logger.Fields{
			"attempts": c.attempts,
			"max":      policy.MaxAttempts,
		}).Error("max reconnection attempts reached, giving up on stream")
		return false
	}
	c.attempts++
	log.WithFields(logger.Fields{
		"attempt": c.attempts,
		"max":     policy.MaxAttempts,
		"delay":   policy.Delay().String(),
	}).Warn("scheduling reconnect")
	c.timer = time.AfterFunc(policy.Delay(), func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		dial()
	})
	return true
}

// Shutdown permanently closes the stream: it cancels the pending reconnect
// timer, closes the active connection and resets the state machine. Safe to
// call repeatedly or before any connection was opened.
func (c *StreamConn) Shutdown() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.attempts = 0
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Connected reports whether the stream currently has a live connection.
func (c *StreamConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// Attempts returns the current reconnect attempt counter.
func (c *StreamConn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Conn returns the active connection, or nil.
func (c *StreamConn) Conn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// WriteJSON serializes writes against the active connection so keepalive
// pings and dynamic subscribe messages never interleave.
func (c *StreamConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// WriteText writes a raw text frame under the same write lock as WriteJSON.
func (c *StreamConn) WriteText(payload string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(payload))
}
