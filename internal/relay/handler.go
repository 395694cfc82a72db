package relay

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spsquared/PixSim-API/internal/pixel"
)

// clientInfoPayload is the shape of the client->server clientInfo frame.
type clientInfoPayload struct {
	Username string `json:"username"`
	Client   string `json:"client"`
	Password string `json:"password"`
}

// Handler owns one connection's session: handshake, admission, and routing
// of post-handshake client messages. Grounded on the teacher's per-session
// handler.Deps/Registry split, collapsed here into one struct because each
// Handler only ever serves its own connection.
type Handler struct {
	Conn *Connection

	Username   string
	ClientType pixel.DialectId
	IP         string

	broker *Broker
	log    *zap.Logger

	roomPtr atomic.Pointer[Room]

	lastCreateGame atomic.Int64 // unix millis

	packetCount atomic.Int32
	idleTicks   atomic.Int32

	destroyed atomic.Bool
}

// NewHandler wraps a fresh connection and begins the handshake.
func NewHandler(conn *Connection, broker *Broker, log *zap.Logger) *Handler {
	h := &Handler{
		Conn:     conn,
		Username: "Unknown",
		IP:       conn.RemoteIP,
		broker:   broker,
		log:      log.With(zap.String("conn", conn.ID)),
	}
	conn.SetOnDisconnect(func(reason string) { h.Destroy(reason) })
	return h
}

// Start sends the handshake challenge and begins reading frames.
func (h *Handler) Start() {
	h.Conn.SetOnFrame(func(Frame) { h.packetCount.Add(1); h.idleTicks.Store(0) })
	h.Conn.Start()
	h.Conn.Once(OwnerID(h.Conn.ID), "clientInfo", h.onClientInfo)
	_ = h.Conn.Send("requestClientInfo", h.broker.keys.PublicJWK())
	go h.admissionGuardLoop()
}

// admissionGuardLoop enforces the packet-flood and idle-timeout guards: a 1
// Hz decaying event counter (destroy past EventsPerSecond after decay) and a
// monotonically incremented idle counter reset on every received frame
// (destroy past the configured idle timeout).
func (h *Handler) admissionGuardLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	idleLimit := int32(h.broker.netCfg.IdleTimeout / time.Second)
	for {
		select {
		case <-ticker.C:
			if h.destroyed.Load() {
				return
			}
			if h.packetCount.Swap(0) > int32(h.broker.cfg.EventsPerSecond) {
				h.Destroy("socketio spam")
				return
			}
			if idleLimit > 0 && h.idleTicks.Add(1) > idleLimit {
				h.Destroy("timed out")
				return
			}
		case <-h.Conn.closeCh:
			return
		}
	}
}

func (h *Handler) onClientInfo(data json.RawMessage) {
	var payload clientInfoPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.Destroy("Invalid connection handshake data")
		return
	}
	if payload.Username == "" || !isKnownClient(payload.Client) {
		h.Destroy("Invalid connection handshake data")
		return
	}

	// Password verification is wired but disabled: a malformed ciphertext
	// still destroys the handler (kicked), but a valid decode is never
	// compared against anything — there is no account store behind this
	// relay to check it against.
	if payload.Password != "" {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.log.Warn("password decode panicked", zap.Any("recover", r))
					h.Destroy("kicked")
				}
			}()
			if _, err := h.broker.keys.DecryptPassword(payload.Password); err != nil {
				h.log.Warn("password decode failed", zap.Error(err))
				h.Destroy("kicked")
			}
		}()
		if h.destroyed.Load() {
			return
		}
	}

	h.Username = payload.Username
	h.ClientType = pixel.DialectId(payload.Client)
	_ = h.Conn.Send("clientInfoRecieved", nil)
	h.registerPostHandshakeRoutes()
}

func isKnownClient(client string) bool {
	switch client {
	case "rps", "bps", "psp":
		return true
	default:
		return false
	}
}

func (h *Handler) registerPostHandshakeRoutes() {
	owner := OwnerID(h.Conn.ID)
	h.Conn.On(owner, "createGame", func(json.RawMessage) { h.onCreateGame() })
	h.Conn.On(owner, "getPublicRooms", h.onGetPublicRooms)
	h.Conn.On(owner, "joinGame", h.onJoinGame)
	h.Conn.On(owner, "leaveGame", func(json.RawMessage) { h.leaveGame() })
	h.Conn.On(owner, "ping", func(json.RawMessage) { _ = h.Conn.Send("pong", nil) })
}

func (h *Handler) onCreateGame() {
	if h.room() != nil {
		return
	}
	now := time.Now().UnixMilli()
	last := h.lastCreateGame.Swap(now)
	if now-last < int64(h.broker.cfg.CreateGameCooldown/time.Millisecond) {
		h.Destroy("game-create spam")
		return
	}

	r := NewRoom(h, h.broker)
	h.broker.registerRoom(r)
	_ = h.Conn.Send("gameCode", r.Code)
	h.Conn.Once(OwnerID(h.Conn.ID), "cancelCreateGame", func(json.RawMessage) { h.leaveGame() })
	r.Join(h, false)
}

type getPublicRoomsPayload struct {
	Type       string `json:"type"`
	Spectating bool   `json:"spectating"`
}

func (h *Handler) onGetPublicRooms(data json.RawMessage) {
	var payload getPublicRoomsPayload
	_ = json.Unmarshal(data, &payload)
	_ = h.Conn.Send("publicRooms", h.broker.PublicRooms(Mode(payload.Type), payload.Spectating))
}

type joinGamePayload struct {
	Code       string `json:"code"`
	Spectating bool   `json:"spectating"`
}

func (h *Handler) onJoinGame(data json.RawMessage) {
	var payload joinGamePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		_ = h.Conn.Send("joinFail", "Invalid request")
		return
	}
	r := h.broker.findOpenRoom(payload.Code)
	if r == nil {
		_ = h.Conn.Send("joinFail", "No such open room")
		return
	}
	r.Join(h, payload.Spectating)
}

func (h *Handler) leaveGame() {
	if r := h.room(); r != nil {
		r.Leave(h)
	}
}

func (h *Handler) room() *Room {
	return h.roomPtr.Load()
}

func (h *Handler) setRoom(r *Room) {
	h.roomPtr.Store(r)
}

func (h *Handler) clearRoom() {
	h.roomPtr.Store(nil)
}

// Destroy idempotently tears down this handler: drops room membership first,
// then disconnects the underlying connection and releases every listener
// registered under its owner id.
func (h *Handler) Destroy(reason string) {
	if !h.destroyed.CompareAndSwap(false, true) {
		return
	}
	h.log.Info("handler destroyed", zap.String("reason", reason), zap.String("username", h.Username))
	if r := h.room(); r != nil {
		r.Leave(h)
	}
	h.Conn.Off(OwnerID(h.Conn.ID))
	h.Conn.Disconnect(reason)
	h.broker.unregisterHandler(h)
}
