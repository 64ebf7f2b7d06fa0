package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatlink/models"
)

func testParams() Params {
	p := DefaultParams()
	p.ReconnectAttempts = 3
	p.ReconnectDelay = 10 * time.Millisecond
	p.DialTimeout = time.Second
	return p
}

// wsServer runs handler for every websocket connection and returns the ws://
// URL to dial.
func wsServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn, r)
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestDialDeliversEventsToSubscribers(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		frame, _ := models.NewFrame(models.EventUserOnline, models.PresencePayload{UserID: "b1"})
		conn.WriteJSON(frame)
		// Hold the connection open.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConn(testParams())
	defer c.Close()

	got := make(chan interface{}, 1)
	unsub := c.Subscribe(models.EventUserOnline, func(data interface{}) {
		got <- data
	})
	defer unsub()

	require.NoError(t, c.Dial(url, ""))

	select {
	case data := <-got:
		assert.Equal(t, models.PresencePayload{UserID: "b1"}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	assert.Equal(t, StateConnected, c.State())
}

func TestDialSendsBearerToken(t *testing.T) {
	headers := make(chan string, 1)
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Get("Authorization")
		conn.Close()
	})

	c := NewConn(testParams())
	defer c.Close()
	require.NoError(t, c.Dial(url, "tok123"))

	select {
	case h := <-headers:
		assert.Equal(t, "Bearer tok123", h)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}
}

func TestEmitReachesServer(t *testing.T) {
	frames := make(chan models.Frame, 1)
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err == nil {
			frames <- frame
		}
	})

	c := NewConn(testParams())
	defer c.Close()

	states := make(chan ConnState, 8)
	unsub := c.SubscribeState(func(s ConnState) { states <- s })
	defer unsub()

	require.NoError(t, c.Dial(url, ""))
	waitForState(t, states, StateConnected)

	require.NoError(t, c.Emit(models.EventTypingStart, models.TypingPayload{ReceiverID: "b1"}))

	select {
	case frame := <-frames:
		assert.Equal(t, models.EventTypingStart, frame.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestEmitFailsWhenDisconnected(t *testing.T) {
	c := NewConn(testParams())
	err := c.Emit(models.EventGetOnlineUsers, nil)
	assert.Error(t, err)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"no_such_event","data":{}}`))
		frame, _ := models.NewFrame(models.EventUserOnline, models.PresencePayload{UserID: "b1"})
		conn.WriteJSON(frame)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConn(testParams())
	defer c.Close()

	got := make(chan interface{}, 2)
	unsub := c.Subscribe(models.EventUserOnline, func(data interface{}) { got <- data })
	defer unsub()

	require.NoError(t, c.Dial(url, ""))

	select {
	case data := <-got:
		// Only the valid frame arrives; the malformed one was dropped.
		assert.Equal(t, models.PresencePayload{UserID: "b1"}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame not delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c := NewConn(testParams())
	calls := 0
	unsub := c.Subscribe(models.EventUserOnline, func(interface{}) { calls++ })
	unsub()

	frame, err := models.NewFrame(models.EventUserOnline, models.PresencePayload{UserID: "b1"})
	require.NoError(t, err)
	c.dispatch(frame)
	assert.Zero(t, calls)
}

func TestReconnectGivesUpAfterAttemptCap(t *testing.T) {
	c := NewConn(testParams())
	defer c.Close()

	states := make(chan ConnState, 8)
	unsub := c.SubscribeState(func(s ConnState) { states <- s })
	defer unsub()

	// Nothing listens on this port.
	require.NoError(t, c.Dial("ws://127.0.0.1:1", ""))

	waitForState(t, states, StateConnecting)
	waitForState(t, states, StateFailed)
	assert.Equal(t, StateFailed, c.State())

	// Terminal: no further attempts happen on their own.
	time.Sleep(5 * testParams().ReconnectDelay)
	assert.Equal(t, StateFailed, c.State())
}

func TestReconnectAfterConnectionDrop(t *testing.T) {
	var conns atomic.Int32
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		n := conns.Add(1)
		if n == 1 {
			conn.Close() // drop the first connection immediately
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConn(testParams())
	defer c.Close()

	states := make(chan ConnState, 16)
	unsub := c.SubscribeState(func(s ConnState) { states <- s })
	defer unsub()

	require.NoError(t, c.Dial(url, ""))

	waitForState(t, states, StateConnected)
	waitForState(t, states, StateConnecting)
	waitForState(t, states, StateConnected)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestDialIsIdempotent(t *testing.T) {
	var conns atomic.Int32
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		conns.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConn(testParams())
	defer c.Close()

	states := make(chan ConnState, 16)
	unsub := c.SubscribeState(func(s ConnState) { states <- s })
	defer unsub()

	require.NoError(t, c.Dial(url, ""))
	waitForState(t, states, StateConnected)

	// A second Dial replaces the first connection instead of stacking one.
	require.NoError(t, c.Dial(url, ""))
	waitForState(t, states, StateConnected)

	require.Eventually(t, func() bool { return conns.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateConnected, c.State())
}

func waitForState(t *testing.T, states <-chan ConnState, want ConnState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}
