package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarlonF24/battleships/internal/config"
	"github.com/MarlonF24/battleships/internal/conn"
	"github.com/MarlonF24/battleships/internal/datastore"
	"github.com/MarlonF24/battleships/internal/logging"
	"github.com/MarlonF24/battleships/internal/match"
	"github.com/MarlonF24/battleships/internal/router"
	"github.com/gorilla/websocket"
)

func TestHealthzReportsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(healthzHandler))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

// TestSessionEngineEndToEndPlacementConnection wires the same
// components main() wires (datastore, both managers, router) behind a
// test HTTP server and drives one real websocket handshake through
// the full stack, mirroring the original's end-to-end smoke test.
func TestSessionEngineEndToEndPlacementConnection(t *testing.T) {
	cfg := &config.Config{
		MaxPayloadBytes:              1 << 20,
		ReconnectTimeout:             time.Second,
		SalvoShots:                   3,
		BandwidthLimitBytesPerSecond: 1 << 20,
		HeartbeatInterval:            time.Minute,
		HeartbeatTimeout:             time.Minute,
		ReconnectRateLimit:           100,
		ReconnectRateWindow:          time.Minute,
	}
	logger := logging.NewTestLogger()
	store := datastore.NewMemoryStore()

	placement := conn.NewPlacementManager(store, cfg, logger)
	battle := conn.NewBattleManager(store, cfg, logger)
	placement.SetBattleStarter(battle)
	rt := router.New(store, placement, battle, cfg, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", rt)
	mux.HandleFunc("/healthz", healthzHandler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if _, err := store.CreateMatch(match.WithMatchEnvLookup(func(string) string { return "" }), match.WithMatchID("m1")); err != nil {
		t.Fatalf("create match: %v", err)
	}
	store.CreatePlayer("p1")
	if _, err := store.JoinMatch(context.Background(), "m1", "p1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?match_id=m1&player_id=p1"
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer wsConn.Close()

	if _, _, err := wsConn.ReadMessage(); err != nil {
		t.Fatalf("expected an initial placement frame, got error: %v", err)
	}
}
