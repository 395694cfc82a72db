package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spsquared/PixSim-API/internal/relay"
)

// Upgrader accepts the relay's websocket upgrade at UpgradePath and hands
// the wrapped Connection to the Broker, grounded on the pack's only
// websocket-transport example (Mikko-Finell's internal/net/ws.Handler).
type Upgrader struct {
	path         string
	broker       *relay.Broker
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	inQueueSize  int
	outQueueSize int
	log          *zap.Logger

	nextID atomic.Uint64
}

func newUpgrader(broker *relay.Broker, path string, pingInterval, idleTimeout time.Duration, log *zap.Logger) *Upgrader {
	return &Upgrader{
		path:         path,
		broker:       broker,
		writeTimeout: 10 * time.Second,
		pingInterval: pingInterval,
		inQueueSize:  64,
		outQueueSize: 128,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: idleTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		log: log,
	}
}

func (u *Upgrader) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := u.nextID.Add(1)
	connID := "c" + strconv.FormatUint(id, 10)
	conn := relay.NewConnection(ws, connID, clientIP(r), u.inQueueSize, u.outQueueSize, u.writeTimeout, u.log)
	conn.SetPingInterval(u.pingInterval)
	if !u.broker.Admit(conn) {
		ws.Close()
	}
}

// clientIP prefers X-Forwarded-For (the handshake's "forwarded-for IP,
// falling back to socket address" rule), then the request's own remote
// address, then a sentinel when neither is available.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "un-ip"
}
