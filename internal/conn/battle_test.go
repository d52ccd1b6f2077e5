package conn

import (
	"context"
	"testing"
	"time"

	"github.com/MarlonF24/battleships/internal/datastore"
	"github.com/MarlonF24/battleships/internal/logging"
	"github.com/MarlonF24/battleships/internal/match"
	"github.com/MarlonF24/battleships/internal/socket"
	"github.com/MarlonF24/battleships/internal/wire"
)

func newBattleTestFixture(t *testing.T, mode match.Mode, p1Ships, p2Ships []match.Ship) (*BattleManager, *datastore.MemoryStore) {
	t.Helper()
	store := datastore.NewMemoryStore()
	_, err := store.CreateMatch(
		match.WithMatchEnvLookup(func(string) string { return "" }),
		match.WithMatchID("m1"),
		match.WithMatchDimensions(3, 3),
		match.WithMatchMode(mode),
	)
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	store.CreatePlayer("p1")
	store.CreatePlayer("p2")
	ctx := context.Background()
	if _, err := store.JoinMatch(ctx, "m1", "p1"); err != nil {
		t.Fatalf("join p1: %v", err)
	}
	if _, err := store.JoinMatch(ctx, "m1", "p2"); err != nil {
		t.Fatalf("join p2: %v", err)
	}
	if err := store.PersistShips(ctx, "m1", "p1", p1Ships); err != nil {
		t.Fatalf("persist p1 ships: %v", err)
	}
	if err := store.PersistShips(ctx, "m1", "p2", p2Ships); err != nil {
		t.Fatalf("persist p2 ships: %v", err)
	}
	if err := store.SetPhase(ctx, "m1", match.PhaseBattle); err != nil {
		t.Fatalf("advance to battle: %v", err)
	}

	bm := NewBattleManager(store, testConfig(), logging.NewTestLogger())
	return bm, store
}

func singleCellFleet(row, col int) []match.Ship {
	return []match.Ship{{Length: 1, Orientation: match.Horizontal, HeadRow: row, HeadCol: col}}
}

// twoCellFleet places a 2-length ship, used where a test's single shot
// must never be able to sink the whole fleet (avoiding flaky early
// game-over on the rare random hit).
func twoCellFleet(row, col int) []match.Ship {
	return []match.Ship{{Length: 2, Orientation: match.Horizontal, HeadRow: row, HeadCol: col}}
}

func drainUntilVariant(t *testing.T, f *fakeSocket, variant wire.ServerVariant, d time.Duration) wire.ServerEnvelope {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		data := f.takeOutbound()
		if data == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		env, err := wire.DecodeServerFrame(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Variant == variant {
			return env
		}
	}
	t.Fatalf("timed out waiting for variant %v", variant)
	return wire.ServerEnvelope{}
}

func TestBattleRejectsConnectionOutsideBattlePhase(t *testing.T) {
	bm, store := newBattleTestFixture(t, match.ModeSingleshot, singleCellFleet(0, 0), singleCellFleet(1, 1))
	if err := store.SetPhase(context.Background(), "m1", match.PhaseCompleted); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	sock := newFakeSocket()
	if err := bm.HandleConnection(context.Background(), "m1", "p1", sock); err == nil {
		t.Fatalf("expected error connecting outside BATTLE phase")
	}
}

func TestBattleStartsOnceBothConnectedAndDispatchesInitialTurn(t *testing.T) {
	bm, _ := newBattleTestFixture(t, match.ModeSingleshot, singleCellFleet(0, 0), singleCellFleet(1, 1))
	s1, s2 := newFakeSocket(), newFakeSocket()
	done1 := make(chan error, 1)
	done2 := make(chan error, 1)
	go func() { done1 <- bm.HandleConnection(context.Background(), "m1", "p1", s1) }()
	time.Sleep(20 * time.Millisecond)
	go func() { done2 <- bm.HandleConnection(context.Background(), "m1", "p2", s2) }()

	drainUntilVariant(t, s1, wire.ServerVariantGameState, time.Second)
	drainUntilVariant(t, s2, wire.ServerVariantGameState, time.Second)

	turn1 := drainUntilVariant(t, s1, wire.ServerVariantTurn, time.Second)
	turn2 := drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second)
	if turn1.Turn.OpponentsTurn {
		t.Fatalf("expected p1 (first to connect) to hold the first turn")
	}
	if !turn2.Turn.OpponentsTurn {
		t.Fatalf("expected p2 to be told it is the opponent's turn")
	}

	_ = s1.Close(socket.CloseNormal, "done")
	_ = s2.Close(socket.CloseNormal, "done")
	<-done1
	<-done2
}

func TestBattleSingleshotAlwaysSwapsTurnRegardlessOfHit(t *testing.T) {
	bm, _ := newBattleTestFixture(t, match.ModeSingleshot, singleCellFleet(0, 0), singleCellFleet(1, 1))
	s1, s2 := newFakeSocket(), newFakeSocket()
	go func() { _ = bm.HandleConnection(context.Background(), "m1", "p1", s1) }()
	time.Sleep(20 * time.Millisecond)
	go func() { _ = bm.HandleConnection(context.Background(), "m1", "p2", s2) }()

	drainUntilVariant(t, s1, wire.ServerVariantTurn, time.Second)
	drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second)

	// p1 shoots a miss at (2,2); turn must still swap to p2.
	s1.push(wire.EncodeClient(wire.NewClientShot(2, 2)))
	result := drainUntilVariant(t, s1, wire.ServerVariantShotResult, time.Second)
	if result.ShotResult.IsHit {
		t.Fatalf("expected a miss at (2,2)")
	}
	turn2 := drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second)
	if turn2.Turn.OpponentsTurn {
		t.Fatalf("expected turn to swap to p2 after SINGLESHOT miss")
	}

	_ = s1.Close(socket.CloseNormal, "done")
	_ = s2.Close(socket.CloseNormal, "done")
}

func TestBattleStreakKeepsTurnOnHitAndSwapsOnMiss(t *testing.T) {
	// p2's fleet is a 2-length ship so a single hit never sinks it outright.
	bm, _ := newBattleTestFixture(t, match.ModeStreak, singleCellFleet(0, 0), twoCellFleet(1, 0))
	s1, s2 := newFakeSocket(), newFakeSocket()
	go func() { _ = bm.HandleConnection(context.Background(), "m1", "p1", s1) }()
	time.Sleep(20 * time.Millisecond)
	go func() { _ = bm.HandleConnection(context.Background(), "m1", "p2", s2) }()

	drainUntilVariant(t, s1, wire.ServerVariantTurn, time.Second)
	drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second)

	// p1 hits one segment of p2's ship at (1,0); STREAK keeps the turn.
	s1.push(wire.EncodeClient(wire.NewClientShot(1, 0)))
	result := drainUntilVariant(t, s1, wire.ServerVariantShotResult, time.Second)
	if !result.ShotResult.IsHit {
		t.Fatalf("expected a hit at (1,0)")
	}
	turnAfterHit := drainUntilVariant(t, s1, wire.ServerVariantTurn, time.Second)
	if turnAfterHit.Turn.OpponentsTurn {
		t.Fatalf("expected p1 to keep the turn after a STREAK hit")
	}
	// p2 is told after the hit that it is still the opponent's turn.
	if waitTurn := drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second); !waitTurn.Turn.OpponentsTurn {
		t.Fatalf("expected p2 to be told it is still p1's turn after the hit")
	}

	// p1 now misses at (2,2); STREAK swaps the turn to p2.
	s1.push(wire.EncodeClient(wire.NewClientShot(2, 2)))
	result = drainUntilVariant(t, s1, wire.ServerVariantShotResult, time.Second)
	if result.ShotResult.IsHit {
		t.Fatalf("expected a miss at (2,2)")
	}
	turn2 := drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second)
	if turn2.Turn.OpponentsTurn {
		t.Fatalf("expected turn to swap to p2 after a STREAK miss")
	}

	_ = s1.Close(socket.CloseNormal, "done")
	_ = s2.Close(socket.CloseNormal, "done")
}

func TestBattleSalvoSwapsTurnOnlyAfterConfiguredShotCount(t *testing.T) {
	// p2 has no ships at all, so every shot misses and none can ever end
	// the battle, leaving only the salvo counter to drive the turn swap.
	bm, _ := newBattleTestFixture(t, match.ModeSalvo, singleCellFleet(0, 0), nil)
	s1, s2 := newFakeSocket(), newFakeSocket()
	go func() { _ = bm.HandleConnection(context.Background(), "m1", "p1", s1) }()
	time.Sleep(20 * time.Millisecond)
	go func() { _ = bm.HandleConnection(context.Background(), "m1", "p2", s2) }()

	drainUntilVariant(t, s1, wire.ServerVariantTurn, time.Second)
	drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second)

	shots := [][2]int{{0, 0}, {0, 1}, {0, 2}}
	for i, rc := range shots {
		s1.push(wire.EncodeClient(wire.NewClientShot(rc[0], rc[1])))
		drainUntilVariant(t, s1, wire.ServerVariantShotResult, time.Second)

		if i < len(shots)-1 {
			// Still within the same salvo: p1 keeps its turn.
			turn := drainUntilVariant(t, s1, wire.ServerVariantTurn, time.Second)
			if turn.Turn.OpponentsTurn {
				t.Fatalf("shot %d: expected p1 to keep its turn mid-salvo", i+1)
			}
			// p2 is told after each mid-salvo shot that it is still waiting.
			if waitTurn := drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second); !waitTurn.Turn.OpponentsTurn {
				t.Fatalf("shot %d: expected p2 to be told it is still p1's turn", i+1)
			}
			continue
		}
		// Third shot exhausts the salvo: turn swaps to p2.
		turn2 := drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second)
		if turn2.Turn.OpponentsTurn {
			t.Fatalf("expected turn to swap to p2 once the salvo is exhausted")
		}
	}

	_ = s1.Close(socket.CloseNormal, "done")
	_ = s2.Close(socket.CloseNormal, "done")
}

func TestBattleShotOutOfTurnClosesWithPolicyViolation(t *testing.T) {
	bm, _ := newBattleTestFixture(t, match.ModeSingleshot, singleCellFleet(0, 0), singleCellFleet(1, 1))
	s1, s2 := newFakeSocket(), newFakeSocket()
	done2 := make(chan error, 1)
	go func() { _ = bm.HandleConnection(context.Background(), "m1", "p1", s1) }()
	time.Sleep(20 * time.Millisecond)
	go func() { done2 <- bm.HandleConnection(context.Background(), "m1", "p2", s2) }()

	drainUntilVariant(t, s1, wire.ServerVariantTurn, time.Second)
	drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second)

	// p2 does not hold the first turn; shooting now is a protocol violation.
	s2.push(wire.EncodeClient(wire.NewClientShot(0, 0)))
	<-done2
	if s2.closeCode() != socket.ClosePolicyViolation {
		t.Fatalf("expected p2's socket closed with a policy violation, got %d", s2.closeCode())
	}
	_ = s1.Close(socket.CloseNormal, "done")
}

func TestBattleEndsAndBroadcastsGameOverWhenAllShipsSunk(t *testing.T) {
	bm, store := newBattleTestFixture(t, match.ModeSingleshot, singleCellFleet(0, 0), singleCellFleet(1, 1))
	s1, s2 := newFakeSocket(), newFakeSocket()
	done1 := make(chan error, 1)
	done2 := make(chan error, 1)
	go func() { done1 <- bm.HandleConnection(context.Background(), "m1", "p1", s1) }()
	time.Sleep(20 * time.Millisecond)
	go func() { done2 <- bm.HandleConnection(context.Background(), "m1", "p2", s2) }()

	drainUntilVariant(t, s1, wire.ServerVariantTurn, time.Second)
	drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second)

	// p2's only ship sits at (1,1): this shot sinks it and ends the battle.
	s1.push(wire.EncodeClient(wire.NewClientShot(1, 1)))

	over1 := drainUntilVariant(t, s1, wire.ServerVariantGameOver, time.Second)
	over2 := drainUntilVariant(t, s2, wire.ServerVariantGameOver, time.Second)
	if over1.GameOver.Result != match.OutcomeWin {
		t.Fatalf("expected p1 to win, got %v", over1.GameOver.Result)
	}
	if over2.GameOver.Result != match.OutcomeLoss {
		t.Fatalf("expected p2 to lose, got %v", over2.GameOver.Result)
	}

	<-done1
	<-done2

	m, err := store.GetMatch(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	if m.Phase() != match.PhaseCompleted {
		t.Fatalf("expected match phase COMPLETED, got %v", m.Phase())
	}
}

func TestBattleReconnectionTimeoutTakesRandomShotForAbsentTurnPlayer(t *testing.T) {
	bm, _ := newBattleTestFixture(t, match.ModeSingleshot, singleCellFleet(0, 0), twoCellFleet(1, 0))
	s1, s2 := newFakeSocket(), newFakeSocket()
	done1 := make(chan error, 1)
	go func() { done1 <- bm.HandleConnection(context.Background(), "m1", "p1", s1) }()
	time.Sleep(20 * time.Millisecond)
	go func() { _ = bm.HandleConnection(context.Background(), "m1", "p2", s2) }()

	drainUntilVariant(t, s1, wire.ServerVariantTurn, time.Second)
	drainUntilVariant(t, s2, wire.ServerVariantTurn, time.Second)

	// p1 holds the turn and disconnects without shooting; after the
	// configured reconnect grace window a random shot is taken on their
	// behalf and the turn swaps to p2.
	_ = s1.Close(socket.CloseNormal, "gone")
	<-done1

	turn2 := drainUntilVariant(t, s2, wire.ServerVariantTurn, 2*time.Second)
	if turn2.Turn.OpponentsTurn {
		t.Fatalf("expected p2 to be told it is now their turn after p1's timeout")
	}

	_ = s2.Close(socket.CloseNormal, "done")
}
