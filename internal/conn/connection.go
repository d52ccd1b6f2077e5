// Package conn implements the Match Connections (§4.3) runtime object
// and the Connection Manager hierarchy (§4.4-§4.6): shared primitives
// plus the Placement- and Battle-phase managers built on top of them.
// Grounded structurally on the original Python's ConnectionManager /
// PregameConnectionManager / GameConnectionManager hierarchy
// (conn_manager.py, pregame/conn_manager.py, game/conn_manager.py),
// reshaped per Design Notes §9 into two managers sharing one
// primitives struct instead of abstract-subclass inheritance.
package conn

import (
	"context"
	"errors"
	"sync"

	"github.com/MarlonF24/battleships/internal/board"
	"github.com/MarlonF24/battleships/internal/match"
	"github.com/MarlonF24/battleships/internal/socket"
	"github.com/MarlonF24/battleships/internal/wire"
)

// ErrTooManyPlayers is returned by AddPlayer when a third distinct
// player attempts to join an already-full match.
var ErrTooManyPlayers = errors.New("conn: match already has two players")

// PlayerConnection is the live socket for one player plus the runtime
// state that must survive reconnection: ready flag (placement),
// board (battle), and the heartbeat edge signal. Per §3, the socket
// reference is mutated in place on reconnect so this object's other
// fields are never reset.
type PlayerConnection struct {
	PlayerID string

	mu     sync.Mutex
	sock   socket.Socket
	ready  bool
	board  *board.Board
	dupCleanup bool

	heartbeat *edgeSignal
}

func newPlayerConnection(playerID string, sock socket.Socket) *PlayerConnection {
	return &PlayerConnection{
		PlayerID:  playerID,
		sock:      sock,
		heartbeat: newEdgeSignal(),
	}
}

// Socket returns the currently live socket reference.
func (p *PlayerConnection) Socket() socket.Socket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock
}

func (p *PlayerConnection) setSocket(sock socket.Socket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sock = sock
}

// IsOpen reports whether the current socket is still open.
func (p *PlayerConnection) IsOpen() bool {
	return p.Socket().State() == socket.StateOpen
}

// MarkDuplicateCleanup flags this connection as superseded: the
// cleanup path running for it must become a no-op (§9 "duplicate-
// cleanup flag").
func (p *PlayerConnection) MarkDuplicateCleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dupCleanup = true
}

// DuplicateCleanup reports whether this connection has been
// superseded.
func (p *PlayerConnection) DuplicateCleanup() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dupCleanup
}

// Ready reports the placement-phase ready flag.
func (p *PlayerConnection) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// SetReady marks this connection ready (placement phase only).
func (p *PlayerConnection) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = true
}

// Board returns the battle-phase board, nil during placement.
func (p *PlayerConnection) Board() *board.Board {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.board
}

// SetBoard installs the battle-phase board loaded on connect.
func (p *PlayerConnection) SetBoard(b *board.Board) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.board = b
}

func (p *PlayerConnection) ClearHeartbeat()              { p.heartbeat.Clear() }
func (p *PlayerConnection) SignalHeartbeat()             { p.heartbeat.Signal() }
func (p *PlayerConnection) HeartbeatSignal() *edgeSignal { return p.heartbeat }

// WaitHeartbeat blocks until the heartbeat event fires or ctx ends,
// satisfying heartbeat.Target.
func (p *PlayerConnection) WaitHeartbeat(ctx context.Context) bool {
	return p.heartbeat.Wait(ctx)
}

// ID satisfies heartbeat.Target.
func (p *PlayerConnection) ID() string { return p.PlayerID }

// Send satisfies heartbeat.Target by forwarding to the live socket.
func (p *PlayerConnection) Send(data []byte) error { return p.Socket().Send(data) }

// Close satisfies heartbeat.Target by forwarding to the live socket.
func (p *PlayerConnection) Close(code int, reason string) error { return p.Socket().Close(code, reason) }

// MatchConnections is the per-match runtime object (§3/§4.3): the two
// player connections plus turn/lock state for battle. A placement
// match never touches ShotLock/ReconnectEvent/SalvoShotsRemaining/
// TurnPlayerID; those only become meaningful once StartBattle runs.
type MatchConnections struct {
	mu sync.Mutex

	MatchID string
	players map[string]*PlayerConnection
	order   []string

	FirstToShoot string
	TurnPlayerID string
	Mode         match.Mode
	started      bool
	ended        bool

	ShotLock            mutex
	ReconnectEvent       *edgeSignal
	SalvoShotsRemaining int
}

// SetMode records the battle-phase turn rules this match plays under;
// set once when the battle manager first creates the entry.
func (mc *MatchConnections) SetMode(mode match.Mode) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Mode = mode
}

// NewMatchConnections constructs an empty match-connections object.
func NewMatchConnections(matchID string, salvoShots int) *MatchConnections {
	return &MatchConnections{
		MatchID:             matchID,
		players:             make(map[string]*PlayerConnection),
		ShotLock:             newMutex(),
		ReconnectEvent:       newEdgeSignal(),
		SalvoShotsRemaining: salvoShots,
	}
}

// AddPlayer inserts a new player connection, or supersedes an existing
// one in place on reconnect, per §4.3. It returns the live connection,
// whether an existing connection was superseded, and the prior socket
// (to be closed by the caller with a policy-violation code) when a
// supersede occurred and the prior socket was still open.
func (mc *MatchConnections) AddPlayer(playerID string, sock socket.Socket) (pc *PlayerConnection, superseded bool, priorOpenSocket socket.Socket, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if existing, ok := mc.players[playerID]; ok {
		var prior socket.Socket
		if existing.IsOpen() {
			existing.MarkDuplicateCleanup()
			prior = existing.Socket()
		}
		existing.setSocket(sock)
		return existing, true, prior, nil
	}

	if len(mc.players) >= 2 {
		return nil, false, nil, ErrTooManyPlayers
	}

	pc = newPlayerConnection(playerID, sock)
	mc.players[playerID] = pc
	mc.order = append(mc.order, playerID)
	if mc.FirstToShoot == "" {
		mc.FirstToShoot = playerID
	}
	return pc, false, nil, nil
}

// Get returns the connection for playerID, if present.
func (mc *MatchConnections) Get(playerID string) (*PlayerConnection, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	pc, ok := mc.players[playerID]
	return pc, ok
}

// OpponentID returns the other participant's id, if both have joined.
func (mc *MatchConnections) OpponentID(selfID string) (string, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, id := range mc.order {
		if id != selfID {
			return id, true
		}
	}
	return "", false
}

// Participants returns every player id that has ever joined.
func (mc *MatchConnections) Participants() []string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]string(nil), mc.order...)
}

// CurrentlyConnected reports whether playerID's socket is open.
func (mc *MatchConnections) CurrentlyConnected(playerID string) bool {
	pc, ok := mc.Get(playerID)
	return ok && pc.IsOpen()
}

// InitiallyConnected reports whether playerID has ever connected.
func (mc *MatchConnections) InitiallyConnected(playerID string) bool {
	_, ok := mc.Get(playerID)
	return ok
}

// NumCurrentlyConnected counts players whose socket is currently open.
func (mc *MatchConnections) NumCurrentlyConnected() int {
	mc.mu.Lock()
	ids := append([]string(nil), mc.order...)
	mc.mu.Unlock()
	count := 0
	for _, id := range ids {
		if mc.CurrentlyConnected(id) {
			count++
		}
	}
	return count
}

// ConnectionMessageFor builds the OpponentPresence payload describing
// playerID's connectivity, meant to be delivered to the OTHER player
// (§4.3 get_connection_message).
func (mc *MatchConnections) ConnectionMessageFor(playerID string) wire.OpponentPresence {
	return wire.OpponentPresence{
		OpponentConnected:  mc.CurrentlyConnected(playerID),
		InitiallyConnected: mc.InitiallyConnected(playerID),
	}
}

// Started reports whether start_battle has run.
func (mc *MatchConnections) Started() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.started
}

// Ended reports whether end_battle has run.
func (mc *MatchConnections) Ended() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.ended
}

// TurnPlayer returns the current turn player id.
func (mc *MatchConnections) TurnPlayer() string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.TurnPlayerID
}

// StartBattle sets the turn pointer to the first-to-shoot player and
// marks the match started.
func (mc *MatchConnections) StartBattle() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.TurnPlayerID = mc.FirstToShoot
	mc.started = true
}

// SwapTurn flips the turn pointer to the opponent of the current turn
// player.
func (mc *MatchConnections) SwapTurn() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, id := range mc.order {
		if id != mc.TurnPlayerID {
			mc.TurnPlayerID = id
			return
		}
	}
}

// EndBattle marks the match as terminally ended.
func (mc *MatchConnections) EndBattle() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.ended = true
}

// ResetSalvoShots resets the salvo counter to its configured start.
func (mc *MatchConnections) ResetSalvoShots(n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.SalvoShotsRemaining = n
}

// DecrementSalvoShots decrements and returns the remaining count.
func (mc *MatchConnections) DecrementSalvoShots() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.SalvoShotsRemaining--
	return mc.SalvoShotsRemaining
}
