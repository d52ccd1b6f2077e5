// Package wire implements the Framing & Envelope Codec (§4.1): a
// length-prefixed binary frame format and a tag-dispatched envelope
// union for both directions of the protocol. The teacher repo's own
// generated protobuf stubs were not available in the retrieved pack, so
// this codec builds directly on google.golang.org/protobuf/encoding/
// protowire — a real, codegen-free subpackage of the same module — to
// keep a genuine protobuf dependency without requiring protoc.
package wire

import (
	"github.com/MarlonF24/battleships/internal/board"
	"github.com/MarlonF24/battleships/internal/match"
)

// ServerVariant identifies which payload a ServerEnvelope carries.
type ServerVariant int

const (
	ServerVariantUnknown ServerVariant = iota
	ServerVariantHeartbeatRequest
	ServerVariantOpponentPresence
	ServerVariantReadyState
	ServerVariantGameState
	ServerVariantTurn
	ServerVariantShot
	ServerVariantShotResult
	ServerVariantGameOver
)

// ClientVariant identifies which payload a ClientEnvelope carries.
type ClientVariant int

const (
	ClientVariantUnknown ClientVariant = iota
	ClientVariantHeartbeat
	ClientVariantSetReady
	ClientVariantShot
)

// OpponentPresence conveys both the opponent's live-socket state and
// whether they have ever connected at all.
type OpponentPresence struct {
	OpponentConnected  bool
	InitiallyConnected bool
}

// ReadyState conveys the placement-phase ready tally.
type ReadyState struct {
	ReadyCount int
	SelfReady  bool
}

// GameState carries the full initial view pair sent when battle starts.
type GameState struct {
	OwnView      board.View
	OpponentView board.View
}

// Turn tells a client whether it is their opponent's turn to shoot.
type Turn struct {
	OpponentsTurn bool
}

// Shot identifies a single targeted cell.
type Shot struct {
	Row int
	Col int
}

// ShotResult is the personal result of a shot the recipient fired.
type ShotResult struct {
	Shot     Shot
	IsHit    bool
	SunkShip *match.Ship
}

// GameOver reports the terminal outcome for the recipient.
type GameOver struct {
	Result match.Outcome
}

// SetReady is the placement-phase client payload: the player's fleet.
type SetReady struct {
	Ships []match.Ship
}

// ServerEnvelope is the tagged union of every server-to-client payload,
// plus the millisecond timestamp carried on every server message.
type ServerEnvelope struct {
	TimestampMs int64
	Variant     ServerVariant

	OpponentPresence *OpponentPresence
	ReadyState       *ReadyState
	GameState        *GameState
	Turn             *Turn
	Shot             *Shot
	ShotResult       *ShotResult
	GameOver         *GameOver
}

// ClientEnvelope is the tagged union of every client-to-server payload.
type ClientEnvelope struct {
	Variant ClientVariant

	SetReady *SetReady
	Shot     *Shot
}

// NewHeartbeatRequest builds the envelope sent by the heartbeat clock.
func NewHeartbeatRequest(timestampMs int64) ServerEnvelope {
	return ServerEnvelope{TimestampMs: timestampMs, Variant: ServerVariantHeartbeatRequest}
}

// NewOpponentPresence builds an OpponentPresence envelope.
func NewOpponentPresence(timestampMs int64, payload OpponentPresence) ServerEnvelope {
	return ServerEnvelope{TimestampMs: timestampMs, Variant: ServerVariantOpponentPresence, OpponentPresence: &payload}
}

// NewReadyState builds a ReadyState envelope.
func NewReadyState(timestampMs int64, payload ReadyState) ServerEnvelope {
	return ServerEnvelope{TimestampMs: timestampMs, Variant: ServerVariantReadyState, ReadyState: &payload}
}

// NewGameState builds a GameState envelope.
func NewGameState(timestampMs int64, payload GameState) ServerEnvelope {
	return ServerEnvelope{TimestampMs: timestampMs, Variant: ServerVariantGameState, GameState: &payload}
}

// NewTurn builds a Turn envelope.
func NewTurn(timestampMs int64, opponentsTurn bool) ServerEnvelope {
	return ServerEnvelope{TimestampMs: timestampMs, Variant: ServerVariantTurn, Turn: &Turn{OpponentsTurn: opponentsTurn}}
}

// NewServerShot builds the server's mirror-to-opponent Shot envelope.
func NewServerShot(timestampMs int64, shot Shot) ServerEnvelope {
	return ServerEnvelope{TimestampMs: timestampMs, Variant: ServerVariantShot, Shot: &shot}
}

// NewShotResult builds a ShotResult envelope.
func NewShotResult(timestampMs int64, payload ShotResult) ServerEnvelope {
	return ServerEnvelope{TimestampMs: timestampMs, Variant: ServerVariantShotResult, ShotResult: &payload}
}

// NewGameOver builds a GameOver envelope.
func NewGameOver(timestampMs int64, result match.Outcome) ServerEnvelope {
	return ServerEnvelope{TimestampMs: timestampMs, Variant: ServerVariantGameOver, GameOver: &GameOver{Result: result}}
}

// NewClientHeartbeat builds the client's heartbeat-response envelope.
func NewClientHeartbeat() ClientEnvelope {
	return ClientEnvelope{Variant: ClientVariantHeartbeat}
}

// NewClientSetReady builds a SetReady envelope.
func NewClientSetReady(ships []match.Ship) ClientEnvelope {
	return ClientEnvelope{Variant: ClientVariantSetReady, SetReady: &SetReady{Ships: ships}}
}

// NewClientShot builds a client Shot envelope.
func NewClientShot(row, col int) ClientEnvelope {
	return ClientEnvelope{Variant: ClientVariantShot, Shot: &Shot{Row: row, Col: col}}
}
