// Command battleships is the composition root for the naval-combat
// session engine: it wires the datastore, the Placement and Battle
// connection managers, the match sweeper, and the session router
// together, then serves the websocket upgrade endpoint. Grounded on
// the teacher's main() (config load -> logger -> domain services ->
// background loops -> http.Server, each failure handled with
// logger.Fatal).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/MarlonF24/battleships/internal/config"
	"github.com/MarlonF24/battleships/internal/conn"
	"github.com/MarlonF24/battleships/internal/datastore"
	"github.com/MarlonF24/battleships/internal/logging"
	"github.com/MarlonF24/battleships/internal/router"
	"github.com/MarlonF24/battleships/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store := datastore.NewMemoryStore()

	placement := conn.NewPlacementManager(store, cfg, logger.With(logging.String("component", "placement")))
	battle := conn.NewBattleManager(store, cfg, logger.With(logging.String("component", "battle")))
	// The two managers are mutually referential: placement hands a
	// match off to battle once both players are ready, and the
	// sweeper needs both to evict a stale match's live sockets.
	placement.SetBattleStarter(battle)

	sweep := sweeper.New(store, cfg, logger.With(logging.String("component", "sweeper")), placement, battle)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweep.Start(sweepCtx)
	defer sweepCancel()
	defer sweep.Stop()

	rt := router.New(store, placement, battle, cfg, logger.With(logging.String("component", "router")))

	mux := http.NewServeMux()
	mux.Handle("/ws", rt)
	mux.HandleFunc("/healthz", healthzHandler)

	handler := logging.HTTPTraceMiddleware(logger)(mux)
	server := &http.Server{Addr: cfg.Address, Handler: handler}

	logger.Info("session engine listening",
		logging.String("address", cfg.Address),
		logging.Bool("tls", cfg.TLSCertPath != ""))

	if cfg.TLSCertPath != "" {
		if err := server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath); err != nil {
			logger.Fatal("session engine terminated", logging.Error(err))
		}
		return
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("session engine terminated", logging.Error(err))
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
