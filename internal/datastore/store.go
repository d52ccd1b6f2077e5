// Package datastore defines the persistence contract the session engine
// depends on (§6) and an in-memory reference implementation. The
// engine treats the datastore as an external collaborator with a
// narrow contract; schema, migrations, and a real database driver are
// explicitly out of scope (§1) — persistence here exists only so the
// contract has something concrete to run the engine's tests against.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/MarlonF24/battleships/internal/match"
)

// ErrNotFound is returned by Get* when the requested match or player
// does not exist.
var ErrNotFound = errors.New("datastore: not found")

// PhaseAgeCutoff pairs a match phase with the cutoff time below which
// matches in that phase are considered stale by FindStaleMatches (§4.7).
type PhaseAgeCutoff struct {
	Phase  match.Phase
	Before time.Time
}

// StaleMatch identifies a match FindStaleMatches determined is past its
// TTL, carrying the phase and participants so the sweeper can persist a
// terminal outcome for an in-progress battle before the record is
// deleted.
type StaleMatch struct {
	ID           string
	Phase        match.Phase
	Participants []string
}

// Store is the abstract datastore contract the session engine depends
// on. Every method is scoped to a single logical operation; callers do
// not hold a session/transaction across suspension points beyond the
// call itself (§5 "Resource discipline").
type Store interface {
	GetMatch(ctx context.Context, matchID string) (*match.Match, error)
	GetPlayer(ctx context.Context, playerID string) (*match.Player, error)
	// IsParticipant reports whether playerID holds a slot in matchID,
	// used by the session router's 403 check (§4.8).
	IsParticipant(ctx context.Context, matchID, playerID string) (bool, error)
	SetPhase(ctx context.Context, matchID string, phase match.Phase) error
	PersistShips(ctx context.Context, matchID, playerID string, ships []match.Ship) error
	LoadShips(ctx context.Context, matchID, playerID string) ([]match.Ship, error)
	PersistOutcome(ctx context.Context, matchID, playerID string, outcome match.Outcome) error
	// DeleteMatch removes a single match and its links outright, used
	// when a connection manager determines a match is abandoned (e.g.
	// the sole placement participant leaves before a second ever
	// joins) rather than via the sweeper's age-based pass.
	DeleteMatch(ctx context.Context, matchID string) error
	// FindStaleMatches reports every match whose (phase, created_at)
	// satisfies any of the given cutoffs, without deleting anything. The
	// sweeper uses this to identify matches needing a terminal outcome
	// persisted before the records are actually removed (§4.7 step 2).
	FindStaleMatches(ctx context.Context, cutoffs []PhaseAgeCutoff) ([]StaleMatch, error)
	// DeleteMatches removes every match in ids and their links in one
	// call, used by the sweeper once it has finished persisting any
	// outcome each stale match needed (§4.7 step 3).
	DeleteMatches(ctx context.Context, ids []string) error
}
