// Package router implements the Session Router (§4.8): the single
// websocket entry point that resolves match_id/player_id against the
// datastore and hands the upgraded socket off to whichever connection
// manager owns the match's current phase. Grounded on the teacher's
// main.go serveWS handler (origin/auth/capacity checks ahead of the
// upgrade, structured per-request logging via logging.WithTrace).
package router

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MarlonF24/battleships/internal/config"
	"github.com/MarlonF24/battleships/internal/datastore"
	"github.com/MarlonF24/battleships/internal/httpapi"
	"github.com/MarlonF24/battleships/internal/logging"
	"github.com/MarlonF24/battleships/internal/match"
	"github.com/MarlonF24/battleships/internal/socket"
)

// PhaseManager is the subset of PlacementManager/BattleManager the
// router depends on: block until the connection's lifecycle ends.
type PhaseManager interface {
	HandleConnection(ctx context.Context, matchID, playerID string, sock socket.Socket) error
}

// Router is the HTTP handler mounted at the websocket upgrade path.
type Router struct {
	store           datastore.Store
	placement       PhaseManager
	battle          PhaseManager
	logger          *logging.Logger
	maxPayloadBytes int64

	rateLimit  int
	rateWindow time.Duration

	mu       sync.Mutex
	limiters map[string]*httpapi.SlidingWindowLimiter
}

// New constructs a Router dispatching PLACEMENT-phase connections to
// placement and BATTLE-phase connections to battle.
func New(store datastore.Store, placement, battle PhaseManager, cfg *config.Config, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &Router{
		store:           store,
		placement:       placement,
		battle:          battle,
		logger:          logger,
		maxPayloadBytes: cfg.MaxPayloadBytes,
		rateLimit:       cfg.ReconnectRateLimit,
		rateWindow:      cfg.ReconnectRateWindow,
		limiters:        make(map[string]*httpapi.SlidingWindowLimiter),
	}
}

// ServeHTTP implements the full §4.8 flow: extract identifiers,
// resolve them against the datastore with 404/403 semantics,
// rate-limit the reconnection attempt, upgrade the socket, and
// dispatch by phase. Phase mismatch is refused with a policy-violation
// close rather than an HTTP error, since the upgrade has already
// completed by the time phase is checked against the manager.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, reqLogger, _ := logging.WithTrace(r.Context(), rt.logger, logging.TraceIDFromContext(r.Context()))
	r = r.WithContext(logging.ContextWithLogger(ctx, reqLogger))

	matchID := r.URL.Query().Get("match_id")
	playerID := r.URL.Query().Get("player_id")
	if matchID == "" || playerID == "" {
		http.Error(w, "match_id and player_id are required", http.StatusBadRequest)
		return
	}
	reqLogger = reqLogger.With(logging.String("match_id", matchID), logging.String("player_id", playerID))

	m, err := rt.store.GetMatch(r.Context(), matchID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			http.Error(w, "match not found", http.StatusNotFound)
			return
		}
		reqLogger.Error("failed to resolve match", logging.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	participant, err := rt.store.IsParticipant(r.Context(), matchID, playerID)
	if err != nil {
		reqLogger.Error("failed to resolve participant", logging.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !participant {
		http.Error(w, "player is not a participant in this match", http.StatusForbidden)
		return
	}

	if !rt.limiterFor(playerID).Allow() {
		http.Error(w, "too many reconnection attempts, slow down", http.StatusTooManyRequests)
		return
	}

	sock, err := socket.Accept(w, r, rt.maxPayloadBytes)
	if err != nil {
		reqLogger.Error("websocket upgrade failed", logging.Error(err))
		return
	}

	manager, ok := rt.managerFor(m.Phase())
	if !ok {
		_ = sock.Close(socket.ClosePolicyViolation, "Match is not accepting connections in its current phase.")
		return
	}

	if err := manager.HandleConnection(r.Context(), matchID, playerID, sock); err != nil {
		reqLogger.Warn("connection handler returned an error", logging.Error(err))
	}
}

func (rt *Router) managerFor(phase match.Phase) (PhaseManager, bool) {
	switch phase {
	case match.PhasePlacement:
		return rt.placement, true
	case match.PhaseBattle:
		return rt.battle, true
	default:
		return nil, false
	}
}

// limiterFor returns (creating if absent) the per-player sliding
// window limiter throttling reconnection attempts, per §4.8's note
// that the router is where reconnection rate limiting is enforced.
func (rt *Router) limiterFor(playerID string) *httpapi.SlidingWindowLimiter {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if l, ok := rt.limiters[playerID]; ok {
		return l
	}
	l := httpapi.NewReconnectionLimiter(rt.rateWindow, rt.rateLimit)
	rt.limiters[playerID] = l
	return l
}
