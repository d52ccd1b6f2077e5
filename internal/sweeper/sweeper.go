// Package sweeper implements the Match Sweeper (§4.7): a single
// long-running loop that periodically evicts matches that have sat in
// PLACEMENT or BATTLE past their TTL. Grounded on the teacher's
// detached-goroutine background task style (logged, never propagated
// failures) and the original's passive_cleaner.py bulk-delete-then-
// notify-managers shape.
package sweeper

import (
	"context"
	"runtime"
	"time"

	"github.com/MarlonF24/battleships/internal/config"
	"github.com/MarlonF24/battleships/internal/datastore"
	"github.com/MarlonF24/battleships/internal/logging"
	"github.com/MarlonF24/battleships/internal/match"
)

// Evictor is the subset of a connection manager the sweeper needs:
// tear down any live sockets for an already-deleted match. Both
// conn.PlacementManager and conn.BattleManager satisfy this via their
// embedded core's EvictMatch.
type Evictor interface {
	EvictMatch(matchID, reason string) bool
}

// reasonMatchTimedOut is the close reason reported to clients whose
// match was reaped for age, matching §4.7 step 3 verbatim.
const reasonMatchTimedOut = "Match removed due to timeout"

// Sweeper owns the ticker loop. Construct with New, then Start/Stop it
// around the process lifetime.
type Sweeper struct {
	store      datastore.Store
	managers   []Evictor
	interval   time.Duration
	placement  time.Duration
	battle     time.Duration
	yieldBatch int
	logger     *logging.Logger
	now        func() time.Time

	stopCh chan struct{}
	done   chan struct{}
}

// New constructs a sweeper over store, evicting stale matches from
// every manager in managers once per tick.
func New(store datastore.Store, cfg *config.Config, logger *logging.Logger, managers ...Evictor) *Sweeper {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	yieldBatch := cfg.SweepYieldBatch
	if yieldBatch <= 0 {
		yieldBatch = config.DefaultSweepYieldBatch
	}
	return &Sweeper{
		store:      store,
		managers:   managers,
		interval:   cfg.SweepInterval,
		placement:  cfg.PlacementTTL,
		battle:     cfg.BattleTTL,
		yieldBatch: yieldBatch,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the sweep loop on its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop halts the sweep loop and waits for the current tick, if any, to
// finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a single sweep pass. Per step 4, any failure is logged and
// swallowed — the sweeper is infallible by contract.
//
// A stale BATTLE-phase match is abandoned mid-game, so before its
// record is deleted each participant is given the same terminal
// outcome natural end-of-battle would persist for a side that never
// finishes (match.OutcomePremature) — otherwise the match-player links
// would be deleted with no outcome ever recorded for them at all.
func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweeper tick panicked", logging.Field{Key: "panic", Value: r})
		}
	}()

	now := s.now()
	cutoffs := []datastore.PhaseAgeCutoff{
		{Phase: match.PhasePlacement, Before: now.Add(-s.placement)},
		{Phase: match.PhaseBattle, Before: now.Add(-s.battle)},
	}

	stale, err := s.store.FindStaleMatches(ctx, cutoffs)
	if err != nil {
		s.logger.Error("sweeper find stale failed", logging.Error(err))
		return
	}
	if len(stale) == 0 {
		return
	}

	ids := make([]string, len(stale))
	for i, sm := range stale {
		ids[i] = sm.ID
		if sm.Phase != match.PhaseBattle {
			continue
		}
		for _, playerID := range sm.Participants {
			if err := s.store.PersistOutcome(ctx, sm.ID, playerID, match.OutcomePremature); err != nil {
				s.logger.Error("sweeper failed persisting premature outcome",
					logging.String("match_id", sm.ID), logging.String("player_id", playerID), logging.Error(err))
			}
		}
	}

	if err := s.store.DeleteMatches(ctx, ids); err != nil {
		s.logger.Error("sweeper delete failed", logging.Error(err))
		return
	}

	s.logger.Info("sweeper reaped stale matches", logging.Int("count", len(ids)))
	for i, id := range ids {
		if i > 0 && i%s.yieldBatch == 0 {
			runtime.Gosched()
		}
		for _, mgr := range s.managers {
			mgr.EvictMatch(id, reasonMatchTimedOut)
		}
	}
}
