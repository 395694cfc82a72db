package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spsquared/PixSim-API/internal/config"
	"github.com/spsquared/PixSim-API/internal/persist"
	"github.com/spsquared/PixSim-API/internal/pixel"
	"github.com/spsquared/PixSim-API/internal/relaycrypto"
)

// pairedConnections upgrades one real websocket between an httptest server
// and a gorilla client dialer, and wraps the server side in a Connection —
// grounded on the pack's only websocket-transport test (Mikko-Finell's
// internal/net/ws.handler_test.go), which dials a real httptest server
// rather than faking the transport.
func pairedConnections(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()
	return pairedConnectionsWith(t, nil)
}

// pairedConnectionsWith is pairedConnections with a hook to configure the
// server-side Connection (e.g. SetPingInterval) before Start is called.
func pairedConnectionsWith(t *testing.T, configure func(*Connection)) (*Connection, *websocket.Conn) {
	t.Helper()

	var serverConn *Connection
	ready := make(chan struct{})
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			close(ready)
			return
		}
		serverConn = NewConnection(ws, "test-server-conn", "127.0.0.1", 8, 8, time.Second, zap.NewNop())
		if configure != nil {
			configure(serverConn)
		}
		serverConn.Start()
		close(ready)
	}))
	t.Cleanup(srv.Close)

	wsURL, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	wsURL.Scheme = "ws"

	client, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		t.Fatalf("dial test server: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	<-ready
	if serverConn == nil {
		t.Fatal("server never upgraded the connection")
	}
	return serverConn, client
}

// pairedConnectionUnstarted is pairedConnections but leaves the server-side
// Connection unstarted, for tests that drive it through Broker.Admit (which
// starts it itself via Handler.Start).
func pairedConnectionUnstarted(t *testing.T, remoteIP string) (*Connection, *websocket.Conn) {
	t.Helper()

	var serverConn *Connection
	ready := make(chan struct{})
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			close(ready)
			return
		}
		serverConn = NewConnection(ws, "test-server-conn", remoteIP, 8, 8, time.Second, zap.NewNop())
		close(ready)
	}))
	t.Cleanup(srv.Close)

	wsURL, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	wsURL.Scheme = "ws"

	client, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		t.Fatalf("dial test server: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	<-ready
	if serverConn == nil {
		t.Fatal("server never upgraded the connection")
	}
	return serverConn, client
}

func readFrame(t *testing.T, client *websocket.Conn) Frame {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func sendFrame(t *testing.T, client *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f := Frame{Event: event, Data: raw}
	enc, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := client.WriteMessage(websocket.TextMessage, enc); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// fakeExtractor satisfies pixel.Extractor without a real Lua VM or network
// fetch, mirroring the pixel package's own test double.
type fakeExtractor struct {
	mapping map[string]int
	ready   chan struct{}
}

func newFakeExtractor(mapping map[string]int) *fakeExtractor {
	f := &fakeExtractor{mapping: mapping, ready: make(chan struct{})}
	close(f.ready)
	return f
}

func (f *fakeExtractor) Ready() <-chan struct{} { return f.ready }
func (f *fakeExtractor) Err() error              { return nil }
func (f *fakeExtractor) ExecuteMapping(string) (map[string]int, error) {
	return f.mapping, nil
}

// testConverter builds a ready pixel.Converter over two trivial dialects
// ("rps" the canonical standard alias, and "bps" a relabeled dialect) so
// tick/input translation tests can exercise a real cross-dialect remap.
func testConverter(t *testing.T) *pixel.Converter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lookup.csv")
	content := "canonical,standard,rps,bps\n" +
		"0,air,0,100\n" +
		"1,stone,1,101\n" +
		"2,water,2,102\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write lookup csv: %v", err)
	}
	sources := []pixel.DialectSource{
		{ID: "rps", ExtractExpr: "pixelIds", Loader: newFakeExtractor(map[string]int{"0": 0, "1": 1, "2": 2})},
		{ID: "bps", ExtractExpr: "pixelIds", Loader: newFakeExtractor(map[string]int{"100": 100, "101": 101, "102": 102})},
	}
	conv, err := pixel.NewConverter(path, sources, zap.NewNop())
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	<-conv.Ready()
	return conv
}

func testBroker(t *testing.T) *Broker {
	t.Helper()
	keys, err := relaycrypto.Generate()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	cfg := config.RateLimitConfig{
		PerIPConnectBurst:   1000,
		PerIPConnectWindow:  time.Minute,
		EventsPerSecond:     1000,
		CreateGameCooldown:  0,
		ReadyBarrierTimeout: 200 * time.Millisecond,
	}
	netCfg := config.NetworkConfig{IdleTimeout: 0}
	b := NewBroker(cfg, netCfg, keys, testConverter(t), persist.NoopRoomAuditRepo{}, zap.NewNop())
	t.Cleanup(b.Close)
	return b
}

// testHandler builds a Handler wired to one half of a real connection pair
// and fast-forwards it through the handshake with the given client dialect,
// returning the Handler and the client-side websocket used to drive it.
func testHandler(t *testing.T, broker *Broker, username, client string) (*Handler, *websocket.Conn) {
	t.Helper()
	serverConn, clientConn := pairedConnectionUnstarted(t, "127.0.0.1")
	h := NewHandler(serverConn, broker, zap.NewNop())
	h.Start()

	readFrame(t, clientConn) // requestClientInfo
	sendFrame(t, clientConn, "clientInfo", map[string]any{
		"username": username,
		"client":   client,
	})
	readFrame(t, clientConn) // clientInfoRecieved
	return h, clientConn
}
