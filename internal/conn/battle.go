// Package conn (this file): the Battle-phase Connection Manager
// (§4.6). Grounded on GameConnectionManager in the original's
// game/conn_manager.py: allow_connection restricts to BATTLE,
// add_player_connection loads the player's stored ships into a board,
// start_up starts the battle once both players are simultaneously
// connected (or resumes it on reconnect), the shot pipeline runs
// under the shot lock with mode-dependent swap-turn rules, and
// end_battle computes and persists the terminal outcome.
package conn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/MarlonF24/battleships/internal/board"
	"github.com/MarlonF24/battleships/internal/config"
	"github.com/MarlonF24/battleships/internal/datastore"
	"github.com/MarlonF24/battleships/internal/logging"
	"github.com/MarlonF24/battleships/internal/match"
	"github.com/MarlonF24/battleships/internal/socket"
	"github.com/MarlonF24/battleships/internal/wire"
)

// BattleManager runs the battle phase: board-backed shot resolution,
// turn dispatch, reconnection-timeout fallback, and terminal outcome
// computation.
type BattleManager struct {
	*core
}

// NewBattleManager constructs a battle manager.
func NewBattleManager(store datastore.Store, cfg *config.Config, logger *logging.Logger) *BattleManager {
	return &BattleManager{core: newCore(store, cfg, logger)}
}

// BeginMatch is the BattleStarter hook the placement manager calls
// once both players are ready. The battle manager's own match entry
// is created lazily on first connect, mirroring the original's
// allow_connection-creates-GameConnections pattern, so this is
// purely informational.
func (m *BattleManager) BeginMatch(matchID string) error {
	m.logger.Info("battle phase opened", logging.String("match_id", matchID))
	return nil
}

// HandleConnection runs the full battle-phase lifecycle for one
// player's socket.
func (m *BattleManager) HandleConnection(ctx context.Context, matchID, playerID string, sock socket.Socket) error {
	mc, pc, superseded, priorOpen, err := m.connect(matchID, playerID, sock)
	if err != nil {
		return err
	}
	if superseded && priorOpen != nil {
		_ = priorOpen.Close(socket.ClosePolicyViolation, "Replaced by a newer connection for this player.")
	}

	m.informOpponentAboutOwnConnection(mc, playerID)
	m.informSelfAboutOpponentConnection(mc, playerID)
	m.startUp(mc, pc)

	return m.runMessageLoop(ctx, mc, pc)
}

func (m *BattleManager) connect(matchID, playerID string, sock socket.Socket) (*MatchConnections, *PlayerConnection, bool, socket.Socket, error) {
	ctx := context.Background()
	stored, err := m.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, false, nil, fmt.Errorf("conn: lookup match %s: %w", matchID, err)
	}
	if stored.Phase() != match.PhaseBattle {
		return nil, nil, false, nil, fmt.Errorf("%w: match %s is %s", ErrWrongPhase, matchID, stored.Phase())
	}

	salvoShots := 0
	if stored.Mode() == match.ModeSalvo {
		salvoShots = m.cfg.SalvoShots
	}
	fresh := NewMatchConnections(matchID, salvoShots)
	fresh.SetMode(stored.Mode())
	mc := m.getOrCreateMatch(matchID, fresh)

	pc, superseded, priorOpen, err := mc.AddPlayer(playerID, sock)
	if err != nil {
		return nil, nil, false, nil, err
	}
	m.armTransportHeartbeat(sock, playerID)

	if pc.Board() == nil {
		ships, err := m.store.LoadShips(ctx, matchID, playerID)
		if err != nil {
			return nil, nil, false, nil, fmt.Errorf("conn: load ships: %w", err)
		}
		rows, cols := stored.Dimensions()
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		b, err := board.NewBoard(rows, cols, ships, rng)
		if err != nil {
			return nil, nil, false, nil, fmt.Errorf("conn: build board: %w", err)
		}
		pc.SetBoard(b)
	}

	m.logger.Info("battle connection accepted", logging.String("match_id", matchID), logging.String("player_id", playerID))
	return mc, pc, superseded, priorOpen, nil
}

func (m *BattleManager) informOpponentAboutOwnConnection(mc *MatchConnections, senderID string) {
	msg := wire.NewOpponentPresence(nowMs(), mc.ConnectionMessageFor(senderID))
	m.broadcastBestEffort(mc, senderID, true, msg)
}

func (m *BattleManager) informSelfAboutOpponentConnection(mc *MatchConnections, playerID string) {
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

// startUp starts the battle once both players are simultaneously
// connected for the first time, or re-synchronizes a reconnecting
// player against an already-running battle (§4.6).
func (m *BattleManager) startUp(mc *MatchConnections, pc *PlayerConnection) {
	if !mc.Started() {
		opponentID, hasOpponent := mc.OpponentID(pc.ID())
		if hasOpponent && mc.CurrentlyConnected(opponentID) {
			mc.StartBattle()
			m.logger.Info("both players connected, starting battle", logging.String("match_id", mc.MatchID))

			factory := MessageFactory(func(playerID string) wire.ServerEnvelope {
				return m.gameStateFor(mc, playerID)
			})
			m.broadcastBestEffort(mc, "", false, factory)

			mc.ShotLock.Lock()
			m.sendTurnMessages(mc)
		}
		return
	}

	_ = pc.Send(wireEncode(m.gameStateFor(mc, pc.ID())))
	if mc.TurnPlayer() == pc.ID() {
		mc.ReconnectEvent.Signal()
	} else {
		m.dispatchTurnMessage(mc, pc.ID(), false)
	}
}

func (m *BattleManager) gameStateFor(mc *MatchConnections, playerID string) wire.ServerEnvelope {
	var state wire.GameState
	if pc, ok := mc.Get(playerID); ok && pc.Board() != nil {
		state.OwnView = pc.Board().OwnView()
	}
	if opponentID, ok := mc.OpponentID(playerID); ok {
		if opc, ok2 := mc.Get(opponentID); ok2 && opc.Board() != nil {
			state.OpponentView = opc.Board().OpponentView()
		}
	}
	return wire.NewGameState(nowMs(), state)
}

// runMessageLoop reads client frames until the socket closes, routing
// Shot messages into the shot pipeline under the shot lock.
func (m *BattleManager) runMessageLoop(ctx context.Context, mc *MatchConnections, pc *PlayerConnection) error {
	defer m.cleanup(mc, pc)

	for {
		data, err := pc.Socket().Recv()
		if err != nil {
			return nil
		}

		if !mc.Started() {
			m.logger.Warn("message received before battle started, ignoring", logging.String("player_id", pc.ID()))
			continue
		}
		if mc.Ended() {
			m.logger.Warn("message received after battle ended, ignoring", logging.String("player_id", pc.ID()))
			continue
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
		case wire.ClientVariantShot:
			if !mc.ShotLock.TryLock() {
				_ = pc.Close(socket.ClosePolicyViolation, "Shot submitted while the previous shot is still being processed.")
				return fmt.Errorf("conn: player %s submitted a shot while the lock was held", pc.ID())
			}
			go m.handleShotMessage(mc, pc, env.Shot.Row, env.Shot.Col)
		default:
			_ = pc.Close(socket.CloseProtocolError, "Unexpected message in BATTLE phase.")
			return fmt.Errorf("conn: unexpected client variant %d during battle", env.Variant)
		}
	}
}

// handleShotMessage resolves a shot against the opponent's board,
// mirrors it to both players, and either ends the battle or advances
// the turn. Assumes mc.ShotLock is already held by the caller; it is
// released, eventually, by dispatchTurnMessage(..., releaseLock=true)
// somewhere downstream of this call (§3 shot_lock discipline).
func (m *BattleManager) handleShotMessage(mc *MatchConnections, pc *PlayerConnection, row, col int) {
	if mc.TurnPlayer() != pc.ID() && mc.CurrentlyConnected(pc.ID()) {
		mc.ShotLock.Unlock()
		_ = pc.Close(socket.ClosePolicyViolation, "Shot submitted out of turn.")
		return
	}

	opponentID, ok := mc.OpponentID(pc.ID())
	if !ok {
		m.logger.Error("cannot resolve shot, opponent never connected", logging.String("player_id", pc.ID()))
		return
	}
	opponentConn, _ := mc.Get(opponentID)
	opponentBoard := opponentConn.Board()

	hit, sunk, err := opponentBoard.ShootAt(row, col)
	if err != nil {
		m.logger.Error("error resolving shot, ending battle", logging.String("match_id", mc.MatchID), logging.Error(err))
		m.closeAllPlayers(mc, socket.CloseInternalError, "Error occurred during shot processing. The match must be restarted.")
		m.removeMatch(mc.MatchID)
		return
	}

	m.applyTurnSwap(mc, hit)

	shot := wire.Shot{Row: row, Col: col}
	_ = pc.Send(wireEncode(wire.NewShotResult(nowMs(), wire.ShotResult{Shot: shot, IsHit: hit, SunkShip: sunk})))
	m.broadcastBestEffort(mc, pc.ID(), true, wire.NewServerShot(nowMs(), shot))

	if opponentBoard.AllShipsSunk() {
		m.logger.Info("battle won", logging.String("match_id", mc.MatchID), logging.String("winner", pc.ID()))
		m.endBattle(mc)
		return
	}
	m.sendTurnMessages(mc)
}

func (m *BattleManager) applyTurnSwap(mc *MatchConnections, hit bool) {
	var swap bool
	switch mc.Mode {
	case match.ModeSingleshot:
		swap = true
	case match.ModeStreak:
		swap = !hit
	case match.ModeSalvo:
		remaining := mc.DecrementSalvoShots()
		swap = remaining == 0
		if swap {
			mc.ResetSalvoShots(m.cfg.SalvoShots)
		}
	}
	if swap {
		mc.SwapTurn()
	}
}

// sendTurnMessages notifies the non-turn player immediately, then
// either dispatches the turn player's message right away or, if they
// are currently disconnected, waits out the reconnection grace window.
func (m *BattleManager) sendTurnMessages(mc *MatchConnections) {
	if mc.NumCurrentlyConnected() == 0 {
		m.logger.Info("no players connected, ending battle", logging.String("match_id", mc.MatchID))
		m.endBattle(mc)
		return
	}

	turnPlayerID := mc.TurnPlayer()
	nonTurnID, ok := mc.OpponentID(turnPlayerID)
	if ok {
		m.dispatchTurnMessage(mc, nonTurnID, false)
	}

	if !mc.CurrentlyConnected(turnPlayerID) {
		m.handleReconnectionTimeout(mc, turnPlayerID)
		return
	}
	m.dispatchTurnMessage(mc, turnPlayerID, true)
}

// dispatchTurnMessage sends the Turn envelope to playerID and, when
// releaseLock is set, releases the shot lock in a deferred block
// regardless of send outcome, matching _dispatch_turn_message.
func (m *BattleManager) dispatchTurnMessage(mc *MatchConnections, playerID string, releaseLock bool) {
	defer func() {
		if releaseLock {
			mc.ShotLock.Unlock()
		}
	}()
	pc, ok := mc.Get(playerID)
	if !ok {
		return
	}
	opponentsTurn := playerID != mc.TurnPlayer()
	if err := pc.Send(wireEncode(wire.NewTurn(nowMs(), opponentsTurn))); err != nil {
		m.logger.Debug("failed dispatching turn message", logging.String("player_id", playerID), logging.Error(err))
	}
}

// handleReconnectionTimeout waits up to the configured grace window
// for turnPlayerID to reconnect; on timeout it takes a random legal
// shot on their behalf.
func (m *BattleManager) handleReconnectionTimeout(mc *MatchConnections, turnPlayerID string) {
	m.logger.Info("waiting for turn player to reconnect", logging.String("match_id", mc.MatchID), logging.String("player_id", turnPlayerID))
	mc.ReconnectEvent.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), m.reconnectGraceWindow())
	defer cancel()

	if mc.ReconnectEvent.Wait(ctx) {
		m.logger.Info("turn player reconnected before timeout", logging.String("player_id", turnPlayerID))
		m.dispatchTurnMessage(mc, turnPlayerID, true)
		return
	}
	m.logger.Info("turn player did not reconnect in time, taking random shot", logging.String("player_id", turnPlayerID))
	m.takeRandomShotForPlayer(mc, turnPlayerID)
}

func (m *BattleManager) takeRandomShotForPlayer(mc *MatchConnections, playerID string) {
	opponentID, ok := mc.OpponentID(playerID)
	if !ok {
		m.logger.Error("cannot take random shot, opponent never connected", logging.String("player_id", playerID))
		return
	}
	opponentConn, _ := mc.Get(opponentID)
	row, col, err := opponentConn.Board().RandomLegalShot()
	if err != nil {
		m.logger.Error("no legal random shot remains", logging.Error(err))
		return
	}
	pc, ok := mc.Get(playerID)
	if !ok {
		return
	}
	m.handleShotMessage(mc, pc, row, col)
}

// endBattle computes each participant's terminal outcome, persists
// it, advances the match to COMPLETED, and tears down the match's
// connections.
func (m *BattleManager) endBattle(mc *MatchConnections) {
	mc.EndBattle()

	anySunk := false
	for _, pid := range mc.Participants() {
		if pc, ok := mc.Get(pid); ok && pc.Board() != nil && pc.Board().AllShipsSunk() {
			anySunk = true
			break
		}
	}

	outcomes := make(map[string]match.Outcome, len(mc.Participants()))
	ctx := context.Background()
	for _, pid := range mc.Participants() {
		pc, _ := mc.Get(pid)
		outcome := match.OutcomeWin
		switch {
		case !anySunk:
			outcome = match.OutcomePremature
		case pc != nil && pc.Board() != nil && pc.Board().AllShipsSunk():
			outcome = match.OutcomeLoss
		}
		outcomes[pid] = outcome
		if err := m.store.PersistOutcome(ctx, mc.MatchID, pid, outcome); err != nil {
			m.logger.Error("failed persisting outcome", logging.String("player_id", pid), logging.Error(err))
		}
	}
	if err := m.store.SetPhase(ctx, mc.MatchID, match.PhaseCompleted); err != nil {
		m.logger.Error("failed advancing match to COMPLETED", logging.Error(err))
	}

	factory := MessageFactory(func(playerID string) wire.ServerEnvelope {
		return wire.NewGameOver(nowMs(), outcomes[playerID])
	})
	m.broadcastBestEffort(mc, "", false, factory)
	m.closeAllPlayers(mc, socket.CloseNormal, "Game completed.")
	m.removeMatch(mc.MatchID)
}

// cleanup mirrors the battle-phase clean_up override: if the
// disconnecting player held the turn and no shot was already
// in-flight, spawn a detached reconnection-timeout wait; then run the
// base notify-opponent-and-close behavior.
func (m *BattleManager) cleanup(mc *MatchConnections, pc *PlayerConnection) {
	if pc.DuplicateCleanup() {
		return
	}

	if mc.Started() && !mc.Ended() && mc.TurnPlayer() == pc.ID() {
		if mc.ShotLock.TryLock() {
			m.logger.Info("turn player disconnected, taking random shot after grace window", logging.String("match_id", mc.MatchID), logging.String("player_id", pc.ID()))
			m.spawnBackground(fmt.Sprintf("reconnect-timeout-%s-%s", mc.MatchID, pc.ID()), func() error {
				m.handleReconnectionTimeout(mc, pc.ID())
				return nil
			})
		}
	}

	m.informOpponentAboutOwnConnection(mc, pc.ID())
	_ = pc.Close(socket.CloseNormal, "Normal Closure")
}

