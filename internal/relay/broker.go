package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spsquared/PixSim-API/internal/config"
	"github.com/spsquared/PixSim-API/internal/persist"
	"github.com/spsquared/PixSim-API/internal/pixel"
	"github.com/spsquared/PixSim-API/internal/relaycrypto"
)

// Broker is the process-wide singleton: it admits connections, holds the
// shared keypair and translation tables, and owns the registries of live
// Handlers and Rooms. Grounded on the teacher's net.Server (accept loop,
// per-IP bookkeeping) generalized from a raw TCP accept loop to an
// already-upgraded-websocket admission funnel.
type Broker struct {
	cfg       config.RateLimitConfig
	netCfg    config.NetworkConfig
	log       *zap.Logger
	keys      *relaycrypto.KeyPair
	converter *pixel.Converter
	audit     persist.RoomAuditRepo

	mu       sync.RWMutex
	handlers map[*Handler]struct{}
	rooms    map[string]*Room

	ipMu     sync.Mutex
	ipCounts map[string]int
	ipKicked map[string]bool

	closeCh   chan struct{}
	closeOnce sync.Once
	crashed   atomic.Bool
}

// NewBroker constructs a Broker ready to admit connections. keys and
// converter must already be built and ready; audit may be a
// persist.NoopRoomAuditRepo when no database is configured.
func NewBroker(cfg config.RateLimitConfig, netCfg config.NetworkConfig, keys *relaycrypto.KeyPair, converter *pixel.Converter, audit persist.RoomAuditRepo, log *zap.Logger) *Broker {
	b := &Broker{
		cfg:       cfg,
		netCfg:    netCfg,
		log:       log,
		keys:      keys,
		converter: converter,
		audit:     audit,
		handlers:  make(map[*Handler]struct{}),
		rooms:     make(map[string]*Room),
		ipCounts:  make(map[string]int),
		ipKicked:  make(map[string]bool),
		closeCh:   make(chan struct{}),
	}
	go b.decayIPLoop()
	return b
}

// Admit applies the per-IP connection-spam guard and, if the IP is within
// budget, wraps conn in a Handler and starts its handshake. Returns false if
// the connection was rejected and the caller should close it without ever
// starting a Handler.
func (b *Broker) Admit(conn *Connection) bool {
	if b.crashed.Load() {
		return false
	}
	if !b.checkIPBudget(conn.RemoteIP) {
		return false
	}

	h := NewHandler(conn, b, b.log)
	b.mu.Lock()
	b.handlers[h] = struct{}{}
	b.mu.Unlock()
	h.Start()
	return true
}

func (b *Broker) checkIPBudget(ip string) bool {
	b.ipMu.Lock()
	defer b.ipMu.Unlock()
	if b.ipKicked[ip] {
		return false
	}
	b.ipCounts[ip]++
	if b.ipCounts[ip] > b.cfg.PerIPConnectBurst {
		b.ipKicked[ip] = true
		b.log.Warn("connection spam", zap.String("ip", ip))
		return false
	}
	return true
}

// decayIPLoop reduces every IP's connection counter by one and clears the
// "kicked this window" flag once per PerIPConnectWindow (one second when the
// window is unset), per the Broker's "1 Hz decay" admission rule.
func (b *Broker) decayIPLoop() {
	window := b.cfg.PerIPConnectWindow
	if window <= 0 {
		window = time.Second
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.ipMu.Lock()
			for ip, n := range b.ipCounts {
				if n <= 1 {
					delete(b.ipCounts, ip)
				} else {
					b.ipCounts[ip] = n - 1
				}
			}
			for ip := range b.ipKicked {
				delete(b.ipKicked, ip)
			}
			b.ipMu.Unlock()
		case <-b.closeCh:
			return
		}
	}
}

func (b *Broker) registerRoom(r *Room) {
	b.mu.Lock()
	b.rooms[r.Code] = r
	b.mu.Unlock()
}

func (b *Broker) unregisterRoom(r *Room) {
	b.mu.Lock()
	delete(b.rooms, r.Code)
	b.mu.Unlock()
}

func (b *Broker) unregisterHandler(h *Handler) {
	b.mu.Lock()
	delete(b.handlers, h)
	b.mu.Unlock()
}

// findOpenRoom looks up a room by code, returning nil if it doesn't exist or
// is no longer open.
func (b *Broker) findOpenRoom(code string) *Room {
	b.mu.RLock()
	r, ok := b.rooms[code]
	b.mu.RUnlock()
	if !ok || !r.isOpenForJoin() {
		return nil
	}
	return r
}

// PublicRooms returns a snapshot projection of every public, open room
// matching mode and spectating, for a getPublicRooms reply.
func (b *Broker) PublicRooms(mode Mode, spectating bool) []PublicRoomSummary {
	b.mu.RLock()
	rooms := make([]*Room, 0, len(b.rooms))
	for _, r := range b.rooms {
		rooms = append(rooms, r)
	}
	b.mu.RUnlock()

	out := make([]PublicRoomSummary, 0, len(rooms))
	for _, r := range rooms {
		if r.matchesFilter(mode, spectating) {
			out = append(out, r.Summary())
		}
	}
	return out
}

// Crashed reports the broker's crashed flag, which makes Admit reject new
// connections. No code in this repository sets the flag, so it reports false;
// startup failures in cmd/pixsim-api exit before a Broker is built.
func (b *Broker) Crashed() bool {
	return b.crashed.Load()
}

// Close tears down every handler (which tears down their rooms) and stops
// accepting new connections.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.closeCh)
		b.mu.Lock()
		handlers := make([]*Handler, 0, len(b.handlers))
		for h := range b.handlers {
			handlers = append(handlers, h)
		}
		b.mu.Unlock()
		for _, h := range handlers {
			h.Destroy("broker shutdown")
		}
	})
}
