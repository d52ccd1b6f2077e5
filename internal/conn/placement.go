// Package conn (this file): the Placement-phase Connection Manager
// (§4.5). Grounded on PregameConnectionManager in the original's
// pregame/conn_manager.py: allow_connection restricts to PLACEMENT,
// add_player_connection inserts a bare connection, the ready-message
// handler persists ships and broadcasts the tally, and clean_up
// special-cases "only ever-connected player leaves before a second
// joins" by deleting the match outright.
package conn

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarlonF24/battleships/internal/config"
	"github.com/MarlonF24/battleships/internal/datastore"
	"github.com/MarlonF24/battleships/internal/logging"
	"github.com/MarlonF24/battleships/internal/match"
	"github.com/MarlonF24/battleships/internal/socket"
	"github.com/MarlonF24/battleships/internal/wire"
)

// ErrWrongPhase is returned when a connection attempt targets a match
// that is not in the phase the receiving manager handles (PLACEMENT for
// PlacementManager, BATTLE for BattleManager). Its message names
// PLACEMENT; the wrapping error names the match's actual phase.
var ErrWrongPhase = errors.New("conn: match is not in PLACEMENT phase")

// BattleStarter is implemented by the Battle manager so the Placement
// manager can hand a match off once both players are ready, without
// either package importing the other in the wrong direction.
type BattleStarter interface {
	BeginMatch(matchID string) error
}

// PlacementManager runs the placement phase: accept connections,
// collect ship layouts, and transition to BATTLE once both players
// are ready.
type PlacementManager struct {
	*core
	battle BattleStarter
}

// NewPlacementManager constructs a placement manager. battle may be
// nil during construction and wired in later via SetBattleStarter,
// since the two managers are mutually referential at startup.
func NewPlacementManager(store datastore.Store, cfg *config.Config, logger *logging.Logger) *PlacementManager {
	return &PlacementManager{core: newCore(store, cfg, logger)}
}

// SetBattleStarter wires the Battle manager that owns the next phase.
func (m *PlacementManager) SetBattleStarter(b BattleStarter) { m.battle = b }

// HandleConnection runs the full placement-phase lifecycle for one
// player's socket: connect, exchange presence, consume ready
// messages, and clean up on disconnect. It blocks until the socket
// closes or the match moves on to battle.
func (m *PlacementManager) HandleConnection(ctx context.Context, matchID, playerID string, sock socket.Socket) error {
	mc, pc, superseded, priorOpen, err := m.connect(matchID, playerID, sock)
	if err != nil {
		return err
	}
	if superseded && priorOpen != nil {
		_ = priorOpen.Close(socket.ClosePolicyViolation, "Replaced by a newer connection for this player.")
	}

	m.informOpponentAboutOwnConnection(mc, playerID)
	m.informSelfAboutOpponentConnection(mc, playerID)

	if err := pc.Send(wireEncode(wire.NewReadyState(nowMs(), mc.readyState(playerID)))); err != nil {
		m.logger.Debug("failed to send initial ready state", logging.String("player_id", playerID), logging.Error(err))
	}

	return m.runMessageLoop(ctx, mc, pc)
}

func (m *PlacementManager) connect(matchID, playerID string, sock socket.Socket) (*MatchConnections, *PlayerConnection, bool, socket.Socket, error) {
	ctx := context.Background()
	stored, err := m.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, false, nil, fmt.Errorf("conn: lookup match %s: %w", matchID, err)
	}
	if stored.Phase() != match.PhasePlacement {
		return nil, nil, false, nil, fmt.Errorf("%w: match %s is %s", ErrWrongPhase, matchID, stored.Phase())
	}

	fresh := NewMatchConnections(matchID, 0)
	mc := m.getOrCreateMatch(matchID, fresh)

	pc, superseded, priorOpen, err := mc.AddPlayer(playerID, sock)
	if err != nil {
		return nil, nil, false, nil, err
	}
	m.armTransportHeartbeat(sock, playerID)
	m.logger.Info("placement connection accepted", logging.String("match_id", matchID), logging.String("player_id", playerID))
	return mc, pc, superseded, priorOpen, nil
}

func (m *PlacementManager) informOpponentAboutOwnConnection(mc *MatchConnections, senderID string) {
	msg := wire.NewOpponentPresence(nowMs(), mc.ConnectionMessageFor(senderID))
	m.broadcastBestEffort(mc, senderID, true, msg)
}

func (m *PlacementManager) informSelfAboutOpponentConnection(mc *MatchConnections, playerID string) {
	pc, ok := mc.Get(playerID)
	if !ok {
		return
	}
	opponentID, hasOpponent := mc.OpponentID(playerID)
	var presence wire.OpponentPresence
	if hasOpponent {
		presence = mc.ConnectionMessageFor(opponentID)
	}
	_ = pc.Send(wireEncode(wire.NewOpponentPresence(nowMs(), presence)))
}

// runMessageLoop reads client frames until the socket closes, routing
// SetReady messages to handleSetReady and Heartbeat messages to the
// connection's heartbeat event. Any other variant is a protocol
// violation (§4.1 "general vs phase-specific" dispatch
// collapses here since placement has only one phase-specific type).
func (m *PlacementManager) runMessageLoop(ctx context.Context, mc *MatchConnections, pc *PlayerConnection) error {
	defer m.cleanup(mc, pc)

	for {
		data, err := pc.Socket().Recv()
		if err != nil {
			return nil
		}
		env, err := wire.DecodeClient(data)
		if err != nil {
			if errors.Is(err, wire.ErrUnknownVariant) {
				m.logger.Debug("dropping frame with unrecognized variant", logging.String("player_id", pc.ID()))
				continue
			}
			_ = pc.Close(socket.CloseProtocolError, "Malformed client frame.")
			return err
		}
		switch env.Variant {
		case wire.ClientVariantHeartbeat:
			pc.SignalHeartbeat()
		case wire.ClientVariantSetReady:
			if err := m.handleSetReady(mc, pc, env.SetReady.Ships); err != nil {
				m.logger.Warn("failed handling ready message", logging.String("player_id", pc.ID()), logging.Error(err))
			}
		default:
			_ = pc.Close(socket.CloseProtocolError, "Unexpected message in PLACEMENT phase.")
			return fmt.Errorf("conn: unexpected client variant %d during placement", env.Variant)
		}
	}
}

func (m *PlacementManager) handleSetReady(mc *MatchConnections, pc *PlayerConnection, ships []match.Ship) error {
	if pc.Ready() {
		m.logger.Warn("ignoring duplicate ready message", logging.String("player_id", pc.ID()))
		return nil
	}

	ctx := context.Background()
	if err := m.store.PersistShips(ctx, mc.MatchID, pc.ID(), ships); err != nil {
		return fmt.Errorf("conn: persist ships: %w", err)
	}
	pc.SetReady()

	factory := MessageFactory(func(recipient string) wire.ServerEnvelope {
		return wire.NewReadyState(nowMs(), mc.readyState(recipient))
	})
	m.broadcastBestEffort(mc, "", false, factory)

	if mc.readyCount() == 2 {
		if err := m.store.SetPhase(ctx, mc.MatchID, match.PhaseBattle); err != nil {
			return fmt.Errorf("conn: advance phase to BATTLE: %w", err)
		}
		m.logger.Info("placement complete, handing off to battle", logging.String("match_id", mc.MatchID))
		if m.battle != nil {
			if err := m.battle.BeginMatch(mc.MatchID); err != nil {
				return fmt.Errorf("conn: begin battle: %w", err)
			}
		}
		m.closeAllPlayers(mc, socket.CloseNormal, "Placement complete.")
		m.removeMatch(mc.MatchID)
	}
	return nil
}

// cleanup mirrors clean_up: inform the opponent, close the socket
// unless this is a superseded duplicate, and special-case the sole
// initially-connected player leaving before a second ever arrives by
// deleting the match outright.
func (m *PlacementManager) cleanup(mc *MatchConnections, pc *PlayerConnection) {
	if pc.DuplicateCleanup() {
		return
	}

	if mc.numInitiallyConnected() <= 1 {
		m.logger.Info("sole placement participant disconnected before a second player joined, deleting match",
			logging.String("match_id", mc.MatchID), logging.String("player_id", pc.ID()))
		ctx := context.Background()
		if err := m.store.DeleteMatch(ctx, mc.MatchID); err != nil {
			m.logger.Error("failed deleting abandoned match", logging.Error(err))
		}
		m.closeAllPlayers(mc, socket.CloseNormal, "A player disconnected before both players were ready.")
		m.removeMatch(mc.MatchID)
		return
	}

	m.informOpponentAboutOwnConnection(mc, pc.ID())
	_ = pc.Close(socket.CloseNormal, "Normal Closure")
}

func (mc *MatchConnections) readyState(forPlayerID string) wire.ReadyState {
	count := 0
	selfReady := false
	for _, pid := range mc.Participants() {
		if p, ok := mc.Get(pid); ok && p.Ready() {
			count++
			if pid == forPlayerID {
				selfReady = true
			}
		}
	}
	return wire.ReadyState{ReadyCount: count, SelfReady: selfReady}
}

func (mc *MatchConnections) readyCount() int {
	count := 0
	for _, pid := range mc.Participants() {
		if p, ok := mc.Get(pid); ok && p.Ready() {
			count++
		}
	}
	return count
}

func (mc *MatchConnections) numInitiallyConnected() int {
	return len(mc.Participants())
}
