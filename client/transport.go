package client

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"chatlink/models"
)

// ConnState is the lifecycle state of the transport connection.
type ConnState int

const (
	// StateDisconnected means no connection exists and none is being made.
	StateDisconnected ConnState = iota

	// StateConnecting means a connect or background reconnect is in
	// progress.
	StateConnecting

	// StateConnected means the websocket is live.
	StateConnected

	// StateFailed means the attempt budget was exhausted. Terminal until
	// the next explicit Dial.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Handler receives the decoded payload of one subscribed event. The payload
// is always the concrete struct for the event's kind (see models.DecodeEventData).
// Handlers run serially on the read loop, in delivery order.
type Handler func(data interface{})

// StateHandler receives transport state transitions.
type StateHandler func(state ConnState)

// Conn owns the single persistent connection to the chat server. It handles
// the auth handshake, background reconnection, and dispatch of decoded
// events to subscribers. At most one live websocket exists per Conn:
// dialing while connected tears the old connection down first.
type Conn struct {
	params Params

	mu    sync.Mutex
	ws    *websocket.Conn
	state ConnState
	url   string
	token string
	gen   uint64 // bumped by Dial and Close so stale loops exit

	writeMu sync.Mutex

	handlers  map[models.EventKind]map[uint64]Handler
	stateSubs map[uint64]StateHandler
	nextID    uint64
}

// NewConn creates a Conn. No connection attempt is made until Dial.
func NewConn(params Params) *Conn {
	return &Conn{
		params:    params,
		state:     StateDisconnected,
		handlers:  make(map[models.EventKind]map[uint64]Handler),
		stateSubs: make(map[uint64]StateHandler),
	}
}

// Dial starts connecting to the websocket endpoint at url. An empty token is
// allowed and opens an anonymous connection. Dial returns immediately:
// connection progress and failure are reported through state subscribers,
// not as an error from this call, because reconnection is a background
// activity that outlives it. Any previous connection is torn down first.
func (c *Conn) Dial(url, token string) error {
	if url == "" {
		return errors.New("transport: empty url")
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.url = url
	c.token = token
	c.state = StateConnecting
	c.mu.Unlock()

	c.notifyState(StateConnecting)
	go c.connectLoop(gen)
	return nil
}

// Close tears down the connection and stops any reconnect in progress.
func (c *Conn) Close() {
	c.mu.Lock()
	c.gen++
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	already := c.state == StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if !already {
		c.notifyState(StateDisconnected)
	}
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Emit sends one event to the server. It fails fast when the connection is
// not established; callers decide whether to fall back to REST.
func (c *Conn) Emit(kind models.EventKind, payload interface{}) error {
	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || ws == nil {
		return errors.Errorf("transport: emit %s while %s", kind, state)
	}

	frame, err := models.NewFrame(kind, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteJSON(frame); err != nil {
		return errors.Wrapf(err, "transport: emit %s", kind)
	}
	return nil
}

// Subscribe registers a handler for one event kind and returns a function
// that removes it. Callers own the returned handle and must dispose of it
// on teardown.
func (c *Conn) Subscribe(kind models.EventKind, fn Handler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	if c.handlers[kind] == nil {
		c.handlers[kind] = make(map[uint64]Handler)
	}
	c.handlers[kind][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[kind], id)
	}
}

// SubscribeState registers a handler for connection state transitions.
func (c *Conn) SubscribeState(fn StateHandler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.stateSubs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateSubs, id)
	}
}

// connectLoop attempts to establish the websocket, retrying with a fixed
// delay up to the attempt cap. gen guards against a concurrent Dial or
// Close making this loop stale.
func (c *Conn) connectLoop(gen uint64) {
	for attempt := 1; attempt <= c.params.ReconnectAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(c.params.ReconnectDelay)
		}
		if c.stale(gen) {
			return
		}

		ws, err := c.dial()
		if err != nil {
			jww.WARN.Printf("transport: connect attempt %d/%d failed: %v",
				attempt, c.params.ReconnectAttempts, err)
			continue
		}

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			ws.Close()
			return
		}
		c.ws = ws
		c.state = StateConnected
		c.mu.Unlock()

		jww.INFO.Printf("transport: connected to %s", c.url)
		c.notifyState(StateConnected)
		go c.readLoop(gen, ws)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.mu.Unlock()

	jww.ERROR.Printf("transport: giving up after %d attempts",
		c.params.ReconnectAttempts)
	c.notifyState(StateFailed)
}

func (c *Conn) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.params.DialTimeout}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	ws, _, err := dialer.Dial(c.url, header)
	return ws, err
}

// readLoop reads frames until the connection drops, then hands off to a
// fresh connectLoop under the same generation.
func (c *Conn) readLoop(gen uint64, ws *websocket.Conn) {
	for {
		var frame models.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.ws = nil
			c.state = StateConnecting
			c.mu.Unlock()

			jww.INFO.Printf("transport: connection lost (%v), reconnecting", err)
			c.notifyState(StateConnecting)
			go c.connectLoop(gen)
			return
		}
		c.dispatch(frame)
	}
}

// dispatch validates one inbound frame and forwards the typed payload to the
// subscribers of its kind. Malformed and unknown frames are dropped.
func (c *Conn) dispatch(frame models.Frame) {
	data, err := models.DecodeEventData(frame)
	if err != nil {
		jww.WARN.Printf("transport: dropping frame: %v", err)
		return
	}

	c.mu.Lock()
	fns := make([]Handler, 0, len(c.handlers[frame.Event]))
	for _, fn := range c.handlers[frame.Event] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

func (c *Conn) notifyState(state ConnState) {
	c.mu.Lock()
	fns := make([]StateHandler, 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (c *Conn) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen
}
