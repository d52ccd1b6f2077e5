package conn

import (
	"fmt"
	"sync"
	"time"

	"github.com/MarlonF24/battleships/internal/config"
	"github.com/MarlonF24/battleships/internal/datastore"
	"github.com/MarlonF24/battleships/internal/heartbeat"
	"github.com/MarlonF24/battleships/internal/logging"
	"github.com/MarlonF24/battleships/internal/networking"
	"github.com/MarlonF24/battleships/internal/socket"
	"github.com/MarlonF24/battleships/internal/wire"
)

// MessageFactory builds a personalized envelope per recipient, letting
// a single broadcast call send distinct views to each player (§4.4).
type MessageFactory func(playerID string) wire.ServerEnvelope

// core holds the primitives shared by the Placement- and Battle-phase
// managers: the active_matches registry, broadcast/fan-out, the
// heartbeat clock lifecycle, background task tracking, and bandwidth
// throttling. Grounded on the teacher's ConnectionManager base plus
// the abstract ConnectionManager in conn_manager.py.
type core struct {
	mu            sync.RWMutex
	activeMatches map[string]*MatchConnections

	store     datastore.Store
	logger    *logging.Logger
	bandwidth *networking.BandwidthRegulator
	cfg       *config.Config

	clock *heartbeat.Clock

	bgWG sync.WaitGroup
}

func newCore(store datastore.Store, cfg *config.Config, logger *logging.Logger) *core {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	c := &core{
		activeMatches: make(map[string]*MatchConnections),
		store:         store,
		logger:        logger,
		cfg:           cfg,
		bandwidth:     networking.NewBandwidthRegulator(cfg.BandwidthLimitBytesPerSecond, nil),
	}
	c.clock = heartbeat.New(cfg.HeartbeatInterval, cfg.HeartbeatTimeout, cfg.HeartbeatYieldBatch, c, logger)
	return c
}

// Connections implements heartbeat.Source by flattening every live
// player connection across every active match.
func (c *core) Connections() []heartbeat.Target {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var targets []heartbeat.Target
	for _, mc := range c.activeMatches {
		for _, pid := range mc.Participants() {
			if pc, ok := mc.Get(pid); ok {
				targets = append(targets, pc)
			}
		}
	}
	return targets
}

// getOrCreateMatch returns the match-connections object for matchID,
// creating it via fresh if absent, and starting the heartbeat clock if
// this is the first active match anywhere in this manager.
func (c *core) getOrCreateMatch(matchID string, fresh *MatchConnections) *MatchConnections {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mc, ok := c.activeMatches[matchID]; ok {
		return mc
	}
	c.activeMatches[matchID] = fresh
	if len(c.activeMatches) == 1 {
		c.clock.Start()
	}
	return fresh
}

func (c *core) getMatch(matchID string) (*MatchConnections, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mc, ok := c.activeMatches[matchID]
	return mc, ok
}

// removeMatch deletes matchID's entry and stops the heartbeat clock if
// no active matches remain.
func (c *core) removeMatch(matchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.activeMatches, matchID)
	if len(c.activeMatches) == 0 {
		c.clock.Stop()
	}
}

// spawnBackground runs fn on its own goroutine, logging (never
// propagating) a panic or returned error, matching the teacher's
// create_background_task/task_done_callback discipline.
func (c *core) spawnBackground(name string, fn func() error) {
	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("background task panicked", logging.String("task", name), logging.Field{Key: "panic", Value: r})
			}
		}()
		if err := fn(); err != nil {
			c.logger.Error("background task crashed", logging.String("task", name), logging.Error(err))
		}
	}()
}

// Wait blocks until every background task spawned via spawnBackground
// has returned; used by tests and graceful shutdown.
func (c *core) Wait() { c.bgWG.Wait() }

// broadcastBestEffort sends msg (a wire.ServerEnvelope or a
// MessageFactory) to every participant except, if onlyOpponent, the
// sender. Closed sockets are skipped silently (§4.4 best-effort).
func (c *core) broadcastBestEffort(mc *MatchConnections, senderID string, onlyOpponent bool, msg any) {
	c.deliver(mc, senderID, onlyOpponent, msg, false)
}

// broadcastStrict behaves like broadcastBestEffort but returns the
// first delivery error encountered, for callers that must react to a
// closed recipient (§4.4 strict).
func (c *core) broadcastStrict(mc *MatchConnections, senderID string, onlyOpponent bool, msg any) error {
	return c.deliver(mc, senderID, onlyOpponent, msg, true)
}

func (c *core) deliver(mc *MatchConnections, senderID string, onlyOpponent bool, msg any, strict bool) error {
	var firstErr error
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, pid := range mc.Participants() {
		if onlyOpponent && pid == senderID {
			continue
		}
		pc, ok := mc.Get(pid)
		if !ok {
			continue
		}
		env := resolveMessage(msg, pid)
		data := wire.EncodeServerFrame(env)

		if strict && !pc.IsOpen() {
			return fmt.Errorf("conn: recipient %s socket closed during strict broadcast", pid)
		}

		wg.Add(1)
		go func(pc *PlayerConnection, pid string) {
			defer wg.Done()
			if !c.bandwidth.Allow(pid, len(data)) {
				c.logger.Warn("dropping broadcast frame over bandwidth budget", logging.String("player_id", pid))
				return
			}
			if err := pc.Send(data); err != nil && strict {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(pc, pid)
	}
	wg.Wait()
	return firstErr
}

func resolveMessage(msg any, playerID string) wire.ServerEnvelope {
	switch v := msg.(type) {
	case wire.ServerEnvelope:
		return v
	case MessageFactory:
		return v(playerID)
	default:
		panic(fmt.Sprintf("conn: unsupported broadcast message type %T", msg))
	}
}

// closeAllPlayers closes every live connection in mc with the given
// close code and reason, shared by both managers' end-of-life paths
// (placement completion, battle conclusion, sweeper eviction). The
// match is gone for good at this point, so each participant's
// bandwidth bucket is dropped too rather than lingering in the
// regulator until process shutdown.
func (c *core) closeAllPlayers(mc *MatchConnections, code int, reason string) {
	for _, pid := range mc.Participants() {
		if pc, ok := mc.Get(pid); ok {
			_ = pc.Close(code, reason)
		}
		c.bandwidth.Forget(pid)
	}
}

// EvictMatch closes every live connection for matchID with a policy
// violation close and drops the match from this manager's active
// registry, without touching the datastore. The sweeper (§4.7) calls
// this on both managers after a bulk datastore delete has already
// removed the match and its links, so the live sockets are the only
// remaining state to tear down. Reports whether matchID was active in
// this manager.
func (c *core) EvictMatch(matchID, reason string) bool {
	mc, ok := c.getMatch(matchID)
	if !ok {
		return false
	}
	c.closeAllPlayers(mc, socket.ClosePolicyViolation, reason)
	c.removeMatch(matchID)
	return true
}

// armTransportHeartbeat wires a read-deadline/pong-handler pair onto
// sock so the transport itself enforces liveness independent of the
// application-level ping internal/heartbeat already runs over every
// active match. A failure here is non-fatal — the application
// heartbeat still covers the connection — so it is logged and
// swallowed rather than returned.
func (c *core) armTransportHeartbeat(sock socket.Socket, playerID string) {
	timeout := c.cfg.HeartbeatTimeout
	if timeout <= 0 {
		return
	}
	if err := socket.SetHeartbeatDeadlines(sock, timeout*3); err != nil {
		c.logger.Debug("failed arming transport heartbeat deadline", logging.String("player_id", playerID), logging.Error(err))
	}
}

// reconnectGraceWindow exposes the configured reconnection timeout.
func (c *core) reconnectGraceWindow() time.Duration {
	if c.cfg.ReconnectTimeout <= 0 {
		return 8 * time.Second
	}
	return c.cfg.ReconnectTimeout
}
