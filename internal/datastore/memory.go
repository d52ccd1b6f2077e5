package datastore

import (
	"context"
	"fmt"
	"sync"

	"github.com/MarlonF24/battleships/internal/match"
)

type linkKey struct {
	matchID  string
	playerID string
}

// MemoryStore is an in-memory Store, the reference implementation used
// by tests and by the composition root until a real database is
// wired in (out of scope per §1). Grounded on the original Python's
// SQLAlchemy session-scoped methods (get_match, persist_ships,
// set_phase, bulk_delete_matches), translated 1:1 onto map operations
// guarded by a single mutex rather than a DB transaction.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[string]*match.Match
	players map[string]*match.Player
	links   map[linkKey]*match.MatchPlayerLink
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches: make(map[string]*match.Match),
		players: make(map[string]*match.Player),
		links:   make(map[linkKey]*match.MatchPlayerLink),
	}
}

// CreateMatch registers a new match. Match creation is part of the
// out-of-scope outer HTTP surface (§1); this exists as the glue the
// composition root and tests use in its place.
func (s *MemoryStore) CreateMatch(opts ...match.MatchOption) (*match.Match, error) {
	m, err := match.NewMatch(opts...)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[m.ID()] = m
	return m, nil
}

// CreatePlayer registers a stable player identifier.
func (s *MemoryStore) CreatePlayer(id string) *match.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := match.NewPlayer(id)
	s.players[id] = &p
	return &p
}

// JoinMatch claims a slot for playerID in matchID, creating the
// match-player link on first join. Idempotent re-join returns the
// existing slot without creating a second link.
func (s *MemoryStore) JoinMatch(ctx context.Context, matchID, playerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return 0, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	if _, ok := s.players[playerID]; !ok {
		return 0, fmt.Errorf("%w: player %s", ErrNotFound, playerID)
	}
	slot, err := m.Join(playerID)
	if err != nil {
		return 0, err
	}
	key := linkKey{matchID, playerID}
	if _, exists := s.links[key]; !exists {
		link, err := match.NewMatchPlayerLink(matchID, playerID, slot)
		if err != nil {
			return 0, err
		}
		s.links[key] = &link
	}
	return slot, nil
}

// IsParticipant reports whether playerID holds a slot in matchID,
// used by the session router's 403 check (§4.8).
func (s *MemoryStore) IsParticipant(ctx context.Context, matchID, playerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[matchID]
	if !ok {
		return false, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	_, joined := m.Slot(playerID)
	return joined, nil
}

func (s *MemoryStore) GetMatch(ctx context.Context, matchID string) (*match.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	return m, nil
}

func (s *MemoryStore) GetPlayer(ctx context.Context, playerID string) (*match.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[playerID]
	if !ok {
		return nil, fmt.Errorf("%w: player %s", ErrNotFound, playerID)
	}
	return p, nil
}

func (s *MemoryStore) SetPhase(ctx context.Context, matchID string, phase match.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	return m.AdvancePhase(phase)
}

func (s *MemoryStore) PersistShips(ctx context.Context, matchID, playerID string, ships []match.Ship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{matchID, playerID}
	link, ok := s.links[key]
	if !ok {
		return fmt.Errorf("%w: link %s/%s", ErrNotFound, matchID, playerID)
	}
	link.Ships = append([]match.Ship(nil), ships...)
	return nil
}

func (s *MemoryStore) LoadShips(ctx context.Context, matchID, playerID string) ([]match.Ship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[linkKey{matchID, playerID}]
	if !ok {
		return nil, fmt.Errorf("%w: link %s/%s", ErrNotFound, matchID, playerID)
	}
	return append([]match.Ship(nil), link.Ships...), nil
}

func (s *MemoryStore) PersistOutcome(ctx context.Context, matchID, playerID string, outcome match.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkKey{matchID, playerID}]
	if !ok {
		return fmt.Errorf("%w: link %s/%s", ErrNotFound, matchID, playerID)
	}
	link.Outcome = outcome
	return nil
}

// DeleteMatch removes a single match and its links unconditionally.
func (s *MemoryStore) DeleteMatch(ctx context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[matchID]; !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	delete(s.matches, matchID)
	for key := range s.links {
		if key.matchID == matchID {
			delete(s.links, key)
		}
	}
	return nil
}

// FindStaleMatches reports matches whose phase/created_at satisfy any
// cutoff, read-only, mirroring the original passive_cleaner.py's
// select-candidates query before it issues the delete. Splitting the
// scan from the delete gives the sweeper a chance to persist a
// terminal outcome for an abandoned battle before the record is gone.
func (s *MemoryStore) FindStaleMatches(ctx context.Context, cutoffs []PhaseAgeCutoff) ([]StaleMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []StaleMatch
	for id, m := range s.matches {
		for _, cutoff := range cutoffs {
			if m.Phase() == cutoff.Phase && m.CreatedAt().Before(cutoff.Before) {
				slot1, slot2 := m.Participants()
				var participants []string
				if slot1 != "" {
					participants = append(participants, slot1)
				}
				if slot2 != "" {
					participants = append(participants, slot2)
				}
				stale = append(stale, StaleMatch{ID: id, Phase: m.Phase(), Participants: participants})
				break
			}
		}
	}
	return stale, nil
}

// DeleteMatches removes every match in ids and their links in a single
// locked pass.
func (s *MemoryStore) DeleteMatches(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
		delete(s.matches, id)
	}
	for key := range s.links {
		if _, ok := idSet[key.matchID]; ok {
			delete(s.links, key)
		}
	}
	return nil
}
