package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestConnectionSendDeliversNamedFrame(t *testing.T) {
	serverConn, clientConn := pairedConnections(t)

	if err := serverConn.Send("gameCode", "abcd1234"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	f := readFrame(t, clientConn)
	if f.Event != "gameCode" {
		t.Fatalf("expected event gameCode, got %q", f.Event)
	}
	var code string
	if err := json.Unmarshal(f.Data, &code); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if code != "abcd1234" {
		t.Fatalf("expected payload abcd1234, got %q", code)
	}
}

func TestConnectionOnDispatchesInboundFrame(t *testing.T) {
	serverConn, clientConn := pairedConnections(t)

	got := make(chan string, 1)
	serverConn.On("owner", "ping", func(data json.RawMessage) {
		var s string
		json.Unmarshal(data, &s)
		got <- s
	})

	sendFrame(t, clientConn, "ping", "hello")

	select {
	case s := <-got:
		if s != "hello" {
			t.Fatalf("expected hello, got %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never fired")
	}
}

func TestConnectionOnceFiresExactlyOnce(t *testing.T) {
	serverConn, clientConn := pairedConnections(t)

	var count int
	fired := make(chan struct{}, 2)
	serverConn.Once("owner", "ready", func(json.RawMessage) {
		count++
		fired <- struct{}{}
	})

	sendFrame(t, clientConn, "ready", nil)
	sendFrame(t, clientConn, "ready", nil)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never fired once")
	}

	// give the second frame a chance to be (mis)dispatched before asserting
	time.Sleep(100 * time.Millisecond)
	if count != 1 {
		t.Fatalf("expected listener to fire exactly once, fired %d times", count)
	}
}

func TestConnectionOffRemovesListenersByOwner(t *testing.T) {
	serverConn, clientConn := pairedConnections(t)

	fired := make(chan struct{}, 1)
	serverConn.On("ownerA", "ping", func(json.RawMessage) { fired <- struct{}{} })
	serverConn.Off("ownerA")

	sendFrame(t, clientConn, "ping", nil)

	select {
	case <-fired:
		t.Fatal("listener fired after Off removed it")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestConnectionDisconnectClosesOnceAndNotifies(t *testing.T) {
	serverConn, _ := pairedConnections(t)

	reasons := make(chan string, 2)
	serverConn.SetOnDisconnect(func(reason string) { reasons <- reason })

	serverConn.Disconnect("first")
	serverConn.Disconnect("second")

	select {
	case r := <-reasons:
		if r != "first" {
			t.Fatalf("expected first disconnect reason, got %q", r)
		}
	case <-time.After(time.Second):
		t.Fatal("onDisconnect never fired")
	}
	select {
	case r := <-reasons:
		t.Fatalf("onDisconnect fired twice, second reason %q", r)
	default:
	}
	if !serverConn.Closed() {
		t.Fatal("expected Closed() to report true after Disconnect")
	}
}

func TestConnectionSendAfterCloseReturnsErrConnectionClosed(t *testing.T) {
	serverConn, _ := pairedConnections(t)
	serverConn.Disconnect("bye")

	if err := serverConn.Send("anything", nil); err != ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnectionPingIntervalSendsNativePing(t *testing.T) {
	_, clientConn := pairedConnectionsWith(t, func(c *Connection) {
		c.SetPingInterval(50 * time.Millisecond)
	})

	pinged := make(chan struct{}, 1)
	clientConn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return clientConn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := clientConn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("never received native websocket ping")
	}
}
