// Package relay implements the connection lifecycle, room state machine,
// and process-wide registries that turn a transport connection into a
// translated, cross-dialect multiplayer session.
package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrConnectionClosed is returned by Send once a Connection has disconnected.
var ErrConnectionClosed = errors.New("relay: connection closed")

// OwnerID scopes a set of listener registrations so they can all be dropped
// in one call when the thing that registered them (a Handler, a Room) ends.
type OwnerID string

// Frame is one named-event message on the wire: an event name plus its
// JSON-encoded payload, mirroring the reference Socket.IO-style transport
// named in the wire protocol.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type listenerEntry struct {
	owner OwnerID
	fn    func(json.RawMessage)
	once  bool
}

// Connection wraps one upgraded websocket and dispatches named-event frames
// to registered listeners, exactly one at a time for this connection —
// reader and writer run in their own goroutines (mirroring the teacher's
// Session.readLoop/writeLoop split over InQueue/OutQueue), but a single
// dispatch goroutine drains InQueue so frames for this connection are never
// processed concurrently with each other.
type Connection struct {
	ID       string
	RemoteIP string

	ws  *websocket.Conn
	log *zap.Logger

	inQueue  chan Frame
	outQueue chan Frame

	mu        sync.Mutex
	listeners map[string][]*listenerEntry

	onFrame      func(Frame)
	onDisconnect func(reason string)

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	writeTimeout time.Duration
	pingInterval time.Duration
}

// NewConnection wraps an already-upgraded websocket connection. pingInterval
// of 0 disables the keepalive ping loop.
func NewConnection(ws *websocket.Conn, id, remoteIP string, inSize, outSize int, writeTimeout time.Duration, log *zap.Logger) *Connection {
	return &Connection{
		ID:           id,
		RemoteIP:     remoteIP,
		ws:           ws,
		log:          log.With(zap.String("conn", id)),
		inQueue:      make(chan Frame, inSize),
		outQueue:     make(chan Frame, outSize),
		listeners:    make(map[string][]*listenerEntry),
		closeCh:      make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// SetPingInterval configures the native websocket ping keepalive. Call
// before Start.
func (c *Connection) SetPingInterval(d time.Duration) {
	c.pingInterval = d
}

// SetOnFrame installs a hook called for every inbound frame before any named
// listener runs — the admission guards (packet flood, idle timeout) observe
// traffic here regardless of whether anything is subscribed to the event.
func (c *Connection) SetOnFrame(fn func(Frame)) {
	c.onFrame = fn
}

// SetOnDisconnect installs a hook called exactly once when the connection
// closes, for any reason.
func (c *Connection) SetOnDisconnect(fn func(reason string)) {
	c.onDisconnect = fn
}

// Start launches the reader, dispatcher, and writer goroutines.
func (c *Connection) Start() {
	go c.readLoop()
	go c.dispatchLoop()
	go c.writeLoop()
}

// On registers a persistent listener for event, tagged with owner so it can
// be bulk-released later via Off.
func (c *Connection) On(owner OwnerID, event string, fn func(json.RawMessage)) {
	c.addListener(owner, event, fn, false)
}

// Once registers a listener that is removed after its first invocation.
func (c *Connection) Once(owner OwnerID, event string, fn func(json.RawMessage)) {
	c.addListener(owner, event, fn, true)
}

func (c *Connection) addListener(owner OwnerID, event string, fn func(json.RawMessage), once bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[event] = append(c.listeners[event], &listenerEntry{owner: owner, fn: fn, once: once})
}

// Off removes every listener registered under owner, across all events.
func (c *Connection) Off(owner OwnerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for event, list := range c.listeners {
		kept := list[:0]
		for _, l := range list {
			if l.owner != owner {
				kept = append(kept, l)
			}
		}
		c.listeners[event] = kept
	}
}

// Send marshals payload and enqueues it as event for delivery. A full
// outbound queue is backpressure the relay does not tolerate — the
// connection is disconnected, matching the teacher's FlushOutput behavior
// of dropping slow connections rather than blocking the sender.
func (c *Connection) Send(event string, payload any) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case c.outQueue <- Frame{Event: event, Data: data}:
		return nil
	default:
		c.log.Warn("output queue full, disconnecting", zap.String("event", event))
		c.Disconnect("output queue full")
		return ErrConnectionClosed
	}
}

// Disconnect closes the connection idempotently and fires onDisconnect once.
func (c *Connection) Disconnect(reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		c.ws.Close()
		if c.onDisconnect != nil {
			c.onDisconnect(reason)
		}
	})
}

// Closed reports whether the connection has already disconnected.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

func (c *Connection) readLoop() {
	defer c.Disconnect("read closed")
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("malformed frame discarded", zap.Error(err))
			continue
		}
		select {
		case c.inQueue <- f:
		case <-c.closeCh:
			return
		}
	}
}

func (c *Connection) dispatchLoop() {
	for {
		select {
		case f := <-c.inQueue:
			c.dispatch(f)
		case <-c.closeCh:
			return
		}
	}
}

func (c *Connection) dispatch(f Frame) {
	if c.onFrame != nil {
		c.onFrame(f)
	}

	c.mu.Lock()
	list := append([]*listenerEntry(nil), c.listeners[f.Event]...)
	c.mu.Unlock()
	if len(list) == 0 {
		return
	}

	var fired []*listenerEntry
	for _, l := range list {
		l.fn(f.Data)
		if l.once {
			fired = append(fired, l)
		}
	}
	if len(fired) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.listeners[f.Event][:0]
	for _, l := range c.listeners[f.Event] {
		drop := false
		for _, f := range fired {
			if f == l {
				drop = true
				break
			}
		}
		if !drop {
			remaining = append(remaining, l)
		}
	}
	c.listeners[f.Event] = remaining
}

// writeLoop is the connection's one writer, serializing both outbound
// frames and the native websocket keepalive ping onto a single sender —
// gorilla/websocket permits only one concurrent writer per connection.
func (c *Connection) writeLoop() {
	defer c.Disconnect("write closed")

	var pingTick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		pingTick = ticker.C
	}

	for {
		select {
		case f := <-c.outQueue:
			data, err := json.Marshal(f)
			if err != nil {
				c.log.Warn("marshal frame failed", zap.Error(err))
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-pingTick:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeCh:
			return
		}
	}
}
