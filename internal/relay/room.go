package relay

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spsquared/PixSim-API/internal/pixel"
)

// Room is a game session's state machine: rosters, settings, and the tick
// and input relay. All mutation goes through the single mutex, matching the
// "MUST NOT allow two ticks from the same host to interleave" and
// "MUST NOT allow join/leave/changeTeam to race with a tick" concurrency
// requirements — one lock per room is simpler than the teacher's per-field
// atomics (world/party.go) and is sufficient because a room's write rate is
// far below a single handler's packet rate.
type Room struct {
	Code string

	host   *Handler
	broker *Broker
	log    *zap.Logger

	mu              sync.Mutex
	state           State
	mode            Mode
	teamSize        int
	teamA           map[*Handler]struct{}
	teamB           map[*Handler]struct{}
	spectators      map[*Handler]struct{}
	allowSpectators bool
	public          bool
	banned          map[string]struct{}
	createdAt       time.Time
}

// NewRoom creates an open room hosted by h. The caller is responsible for
// joining h to the room afterward (mirroring createGame's "create a new Room
// ... and join as a team member").
func NewRoom(host *Handler, broker *Broker) *Room {
	r := &Room{
		Code:            generateCode(),
		host:            host,
		broker:          broker,
		state:           StateOpen,
		mode:            ModePixelCrash,
		teamSize:        1,
		teamA:           make(map[*Handler]struct{}),
		teamB:           make(map[*Handler]struct{}),
		spectators:      make(map[*Handler]struct{}),
		allowSpectators: true,
		public:          true,
		banned:          make(map[string]struct{}),
		createdAt:       time.Now(),
	}
	r.log = broker.log.With(zap.String("room", r.Code))
	r.registerHostListeners()
	broker.audit.RoomCreated(r.Code, string(r.mode), r.teamSize, r.createdAt)
	return r
}

func generateCode() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (r *Room) registerHostListeners() {
	owner := OwnerID(r.Code)
	h := r.host
	h.Conn.On(owner, "gameType", r.setGameType)
	h.Conn.On(owner, "allowSpectators", r.setAllowSpectators)
	h.Conn.On(owner, "isPublic", r.setPublic)
	h.Conn.On(owner, "teamSize", r.setTeamSize)
	h.Conn.On(owner, "kickPlayer", r.handleKick)
	h.Conn.On(owner, "movePlayer", r.handleMove)
	h.Conn.On(owner, "startGame", func(json.RawMessage) { r.Start() })
}

func (r *Room) registerMemberListeners(h *Handler) {
	owner := OwnerID(r.Code)
	h.Conn.On(owner, "changeTeam", func(data json.RawMessage) {
		var team int
		if err := json.Unmarshal(data, &team); err != nil {
			return
		}
		r.ChangeTeam(h, team)
	})
}

// Join admits h into the room, as a team member or a spectator, per the
// forced-spectator and banned-username rules.
func (r *Room) Join(h *Handler, spectating bool) {
	r.mu.Lock()
	full := len(r.teamA) >= r.teamSize && len(r.teamB) >= r.teamSize
	_, banned := r.banned[h.Username]

	var teamIdx = -1
	joinAsSpectator := false

	switch {
	case spectating || full:
		r.spectators[h] = struct{}{}
		joinAsSpectator = true
	case banned:
		r.mu.Unlock()
		_ = h.Conn.Send("joinFail", "Banned from this room")
		return
	default:
		if len(r.teamA) <= len(r.teamB) {
			teamIdx = 0
			r.teamA[h] = struct{}{}
		} else {
			teamIdx = 1
			r.teamB[h] = struct{}{}
		}
	}
	notOpen := r.state != StateOpen
	mode := r.mode
	r.mu.Unlock()

	h.setRoom(r)
	r.registerMemberListeners(h)

	if joinAsSpectator {
		if full && !spectating {
			_ = h.Conn.Send("forcedSpectator", nil)
		}
		_ = h.Conn.Send("joinSuccess", 2)
	} else {
		_ = h.Conn.Send("joinSuccess", teamIdx)
	}
	_ = h.Conn.Send("gameType", mode)
	r.broadcastRosters()
	if notOpen && spectating {
		_ = h.Conn.Send("gameStart", nil)
	}
}

// ChangeTeam moves h between teams, a no-op unless the room is open, h is
// currently on a team, and the target team has capacity.
func (r *Room) ChangeTeam(h *Handler, team int) {
	if team != 0 && team != 1 {
		return
	}
	r.mu.Lock()
	if r.state != StateOpen {
		r.mu.Unlock()
		return
	}
	current := r.teamOfLocked(h)
	if current == -1 {
		r.mu.Unlock()
		return
	}
	target := r.teamA
	if team == 1 {
		target = r.teamB
	}
	if len(target) >= r.teamSize {
		r.mu.Unlock()
		return
	}
	r.removeFromTeamLocked(h, current)
	target[h] = struct{}{}
	r.mu.Unlock()

	_ = h.Conn.Send("team", team)
	r.broadcastRosters()
}

type movePlayerPayload struct {
	Username  string `json:"username"`
	Team      int    `json:"team"`
	Username2 string `json:"username2"`
}

func (r *Room) handleMove(data json.RawMessage) {
	var payload movePlayerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	r.Move(payload.Username, payload.Team, payload.Username2)
}

// Move swaps usernameA and usernameB if both resolve to members on different
// teams, else falls through to a ChangeTeam for usernameA alone.
func (r *Room) Move(usernameA string, team int, usernameB string) {
	r.mu.Lock()
	a := r.findMemberLocked(usernameA)
	if a == nil {
		r.mu.Unlock()
		return
	}
	if usernameB != "" {
		b := r.findMemberLocked(usernameB)
		ta, tb := r.teamOfLocked(a), r.teamOfLocked(b)
		if b != nil && ta != -1 && tb != -1 && ta != tb {
			r.removeFromTeamLocked(a, ta)
			r.removeFromTeamLocked(b, tb)
			r.addToTeamLocked(a, tb)
			r.addToTeamLocked(b, ta)
			r.mu.Unlock()
			r.broadcastRosters()
			return
		}
	}
	r.mu.Unlock()
	r.ChangeTeam(a, team)
}

func (r *Room) handleKick(data json.RawMessage) {
	var payload struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	r.Kick(payload.Username)
}

// Kick removes username, wherever it sits, after notifying it.
func (r *Room) Kick(username string) {
	r.mu.Lock()
	target := r.findMemberLocked(username)
	r.mu.Unlock()
	if target == nil {
		return
	}
	_ = target.Conn.Send("gameKicked", nil)
	target.leaveGame()
}

// Leave removes h from the room. If h was the host, the room is destroyed.
func (r *Room) Leave(h *Handler) {
	r.mu.Lock()
	removed := r.removeMemberLocked(h)
	isHost := h == r.host
	r.mu.Unlock()
	if !removed {
		return
	}

	h.clearRoom()
	h.Conn.Off(OwnerID(r.Code))

	if isHost {
		r.Destroy()
		return
	}
	r.broadcastRosters()
}

// Destroy tears the room down: every remaining member gets gameEnd and has
// its room-scoped listeners released, then the room is unregistered from the
// broker. Member cleanup is inlined here rather than calling leaveGame/Leave
// per member, since Leave re-enters Destroy when it finds the host among the
// members being torn down.
func (r *Room) Destroy() {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	r.state = StateClosed
	members := r.allMembersLocked()
	r.mu.Unlock()

	for _, m := range members {
		_ = m.Conn.Send("gameEnd", nil)
		m.clearRoom()
		m.Conn.Off(OwnerID(r.Code))
	}
	r.broker.unregisterRoom(r)
	r.broker.audit.RoomClosed(r.Code, time.Now())
}

// Start begins the readiness barrier: every current team member must send
// ready before the room transitions to Running. The barrier has a timeout
// (an explicit design decision for an open question the spec leaves
// unresolved — an unbounded wait lets one silent client wedge the room
// forever).
func (r *Room) Start() {
	r.mu.Lock()
	if r.state != StateOpen || len(r.teamA) != r.teamSize || len(r.teamB) != r.teamSize {
		r.mu.Unlock()
		return
	}
	r.state = StateStarting
	members := r.teamMembersLocked()
	need := int32(2 * r.teamSize)
	timeout := r.broker.cfg.ReadyBarrierTimeout
	r.mu.Unlock()

	for _, m := range members {
		_ = m.Conn.Send("gameStart", nil)
	}
	r.broker.audit.RoomStarted(r.Code, time.Now())

	owner := OwnerID(r.Code)
	var readyCount atomic.Int32
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		stillStarting := r.state == StateStarting
		r.mu.Unlock()
		if stillStarting {
			r.log.Warn("ready barrier timed out, destroying room")
			r.Destroy()
		}
	})

	for _, m := range members {
		m.Conn.Once(owner, "ready", func(json.RawMessage) {
			if readyCount.Add(1) != need {
				return
			}
			timer.Stop()
			r.transitionToRunning(members)
		})
	}
}

func (r *Room) transitionToRunning(members []*Handler) {
	r.mu.Lock()
	if r.state != StateStarting {
		r.mu.Unlock()
		return
	}
	r.state = StateRunning
	host := r.host
	r.mu.Unlock()

	owner := OwnerID(r.Code)
	host.Conn.On(owner, "gridSize", r.handleGridSize)
	host.Conn.On(owner, "tick", r.handleHostTick)
	for _, m := range members {
		if m == host {
			continue
		}
		m := m
		m.Conn.On(owner, "input", func(data json.RawMessage) { r.handleInput(m, data, true) })
		m.Conn.On(owner, "inputBatch", func(data json.RawMessage) { r.handleInputBatch(m, data) })
	}
}

func (r *Room) handleGridSize(data json.RawMessage) {
	var size gridSizePayload
	if err := json.Unmarshal(data, &size); err != nil {
		return
	}
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	receivers := r.allMembersExceptLocked(r.host)
	r.mu.Unlock()
	for _, m := range receivers {
		_ = m.Conn.Send("gridSize", size)
	}
}

type tickDataPayload struct {
	Tick             int             `json:"tick"`
	TeamPixelAmounts []PixelAmount   `json:"teamPixelAmounts"`
	PixeliteCounts   json.RawMessage `json:"pixeliteCounts,omitempty"`
	CameraShake      *CameraShake    `json:"cameraShake,omitempty"`
}

type tickPayload struct {
	Grid         []byte          `json:"grid"`
	TeamGrid     []byte          `json:"teamGrid"`
	BooleanGrids [][]byte        `json:"booleanGrids"`
	Origin       string          `json:"origin"`
	Data         tickDataPayload `json:"data"`
}

// handleHostTick validates a host-produced tick and relays it to every other
// member, translating the grid and per-team pixel amounts into each
// receiver's dialect exactly once per dialect per tick.
func (r *Room) handleHostTick(data json.RawMessage) {
	var tick tickPayload
	if err := json.Unmarshal(data, &tick); err != nil || len(tick.Grid) == 0 || len(tick.TeamGrid) == 0 {
		r.host.Destroy("Invalid game tick data")
		return
	}

	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	hostDialect := r.host.ClientType
	receivers := r.allMembersExceptLocked(r.host)
	r.mu.Unlock()

	cache := make(map[pixel.DialectId]tickPayload, len(r.broker.converter.Formats()))
	for _, m := range receivers {
		translated, ok := cache[m.ClientType]
		if !ok {
			translated = r.translateTick(tick, hostDialect, m.ClientType)
			cache[m.ClientType] = translated
		}
		_ = m.Conn.Send("tick", translated)
	}
}

func (r *Room) translateTick(tick tickPayload, from, to pixel.DialectId) tickPayload {
	if from == to {
		return tick
	}
	conv := r.broker.converter
	out := tick
	out.Grid = conv.ConvertGrid(tick.Grid, from, to)

	remapped := make([]PixelAmount, 0, len(tick.Data.TeamPixelAmounts))
	for _, pa := range tick.Data.TeamPixelAmounts {
		id := conv.ConvertSingle(pa.ID, from, to)
		if id == pixel.Sentinel {
			continue
		}
		remapped = append(remapped, PixelAmount{ID: id, Count: pa.Count})
	}
	out.Data = tick.Data
	out.Data.TeamPixelAmounts = remapped
	return out
}

type inputEnvelope struct {
	Type int             `json:"type"`
	Team int             `json:"team"`
	Data json.RawMessage `json:"data"`
}

// handleInput translates one input frame from sender's dialect into the
// host's, optionally forwarding it directly (used by the single-frame
// `input` route) or returning the translated envelope for a caller building
// an `inputBatch` (forward=false). Any shape violation kicks sender, never
// the host.
func (r *Room) handleInput(sender *Handler, raw json.RawMessage, forward bool) (json.RawMessage, bool) {
	var env inputEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		sender.Destroy("Invalid input data")
		return nil, false
	}

	conv := r.broker.converter
	host := r.host

	switch env.Type {
	case 0:
		var cells [6]int
		if err := json.Unmarshal(env.Data, &cells); err != nil {
			sender.Destroy("Invalid input data")
			return nil, false
		}
		if cells[5] != -1 {
			cells[5] = int(conv.ConvertSingle(byte(cells[5]), sender.ClientType, host.ClientType))
		}
		translated := inputEnvelope{Type: 0, Team: env.Team}
		translated.Data, _ = json.Marshal(cells)
		out, _ := json.Marshal(translated)
		if forward {
			_ = host.Conn.Send("input", json.RawMessage(out))
		}
		return out, true

	case 1:
		var grid []byte
		if err := json.Unmarshal(env.Data, &grid); err != nil || len(grid) == 0 {
			sender.Destroy("Invalid input data")
			return nil, false
		}
		translatedGrid := conv.ConvertGrid(grid, sender.ClientType, host.ClientType)
		translated := inputEnvelope{Type: 1, Team: env.Team}
		translated.Data, _ = json.Marshal(translatedGrid)
		out, _ := json.Marshal(translated)
		if forward {
			_ = host.Conn.Send("input", json.RawMessage(out))
		}
		return out, true

	default:
		sender.Destroy("Invalid input data")
		return nil, false
	}
}

func (r *Room) handleInputBatch(sender *Handler, data json.RawMessage) {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		sender.Destroy("Invalid input data")
		return
	}
	translated := make([]json.RawMessage, 0, len(list))
	for _, item := range list {
		out, ok := r.handleInput(sender, item, false)
		if !ok {
			return
		}
		translated = append(translated, out)
	}
	_ = r.host.Conn.Send("inputBatch", translated)
}

func (r *Room) setGameType(data json.RawMessage) {
	var mode string
	if err := json.Unmarshal(data, &mode); err != nil {
		return
	}
	if mode != string(ModePixelCrash) && mode != string(ModeResourceRace) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateOpen {
		return
	}
	r.mode = Mode(mode)
}

func (r *Room) setAllowSpectators(data json.RawMessage) {
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return
	}
	r.mu.Lock()
	r.allowSpectators = v
	r.mu.Unlock()
}

func (r *Room) setPublic(data json.RawMessage) {
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return
	}
	r.mu.Lock()
	r.public = v
	r.mu.Unlock()
}

func (r *Room) setTeamSize(data json.RawMessage) {
	var size int
	if err := json.Unmarshal(data, &size); err != nil {
		return
	}
	if size < 1 || size > 3 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateOpen {
		return
	}
	r.teamSize = size
}

// Summary projects the room's public fields for getPublicRooms.
func (r *Room) Summary() PublicRoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return PublicRoomSummary{
		Code:             r.Code,
		Type:             r.mode,
		HostName:         r.host.Username,
		Open:             r.state == StateOpen,
		TeamSize:         r.teamSize,
		AllowsSpectators: r.allowSpectators,
	}
}

// matchesFilter reports whether this room should appear in a getPublicRooms
// listing for the given mode filter ("" matches any mode) and spectating
// request (a spectating request also needs allowSpectators).
func (r *Room) matchesFilter(mode Mode, spectating bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.public || r.state != StateOpen {
		return false
	}
	if mode != "" && r.mode != mode {
		return false
	}
	if spectating && !r.allowSpectators {
		return false
	}
	return true
}

// isOpenForJoin reports whether the room will currently accept a joinGame.
func (r *Room) isOpenForJoin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateOpen
}

func (r *Room) removeMemberLocked(h *Handler) bool {
	if _, ok := r.teamA[h]; ok {
		delete(r.teamA, h)
		return true
	}
	if _, ok := r.teamB[h]; ok {
		delete(r.teamB, h)
		return true
	}
	if _, ok := r.spectators[h]; ok {
		delete(r.spectators, h)
		return true
	}
	return false
}

func (r *Room) findMemberLocked(username string) *Handler {
	for h := range r.teamA {
		if h.Username == username {
			return h
		}
	}
	for h := range r.teamB {
		if h.Username == username {
			return h
		}
	}
	for h := range r.spectators {
		if h.Username == username {
			return h
		}
	}
	return nil
}

// teamOfLocked returns 0 or 1 for a team member, -1 otherwise (spectator or
// not a member).
func (r *Room) teamOfLocked(h *Handler) int {
	if _, ok := r.teamA[h]; ok {
		return 0
	}
	if _, ok := r.teamB[h]; ok {
		return 1
	}
	return -1
}

func (r *Room) removeFromTeamLocked(h *Handler, team int) {
	if team == 0 {
		delete(r.teamA, h)
	} else {
		delete(r.teamB, h)
	}
}

func (r *Room) addToTeamLocked(h *Handler, team int) {
	if team == 0 {
		r.teamA[h] = struct{}{}
	} else {
		r.teamB[h] = struct{}{}
	}
}

func (r *Room) teamMembersLocked() []*Handler {
	out := make([]*Handler, 0, len(r.teamA)+len(r.teamB))
	for h := range r.teamA {
		out = append(out, h)
	}
	for h := range r.teamB {
		out = append(out, h)
	}
	return out
}

func (r *Room) allMembersLocked() []*Handler {
	out := make([]*Handler, 0, len(r.teamA)+len(r.teamB)+len(r.spectators))
	for h := range r.teamA {
		out = append(out, h)
	}
	for h := range r.teamB {
		out = append(out, h)
	}
	for h := range r.spectators {
		out = append(out, h)
	}
	return out
}

func (r *Room) allMembersExceptLocked(skip *Handler) []*Handler {
	all := r.allMembersLocked()
	out := all[:0]
	for _, h := range all {
		if h != skip {
			out = append(out, h)
		}
	}
	return out
}

func (r *Room) broadcastRosters() {
	r.mu.Lock()
	payload := rosterPayload{
		TeamA:      usernames(r.teamA),
		TeamB:      usernames(r.teamB),
		Spectators: usernames(r.spectators),
		TeamSize:   r.teamSize,
	}
	members := r.allMembersLocked()
	r.mu.Unlock()

	for _, m := range members {
		_ = m.Conn.Send("updateTeamLists", payload)
	}
}

func usernames(set map[*Handler]struct{}) []string {
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h.Username)
	}
	return out
}
