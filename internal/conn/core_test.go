package conn

import (
	"errors"
	"testing"
	"time"

	"github.com/MarlonF24/battleships/internal/config"
	"github.com/MarlonF24/battleships/internal/datastore"
	"github.com/MarlonF24/battleships/internal/logging"
	"github.com/MarlonF24/battleships/internal/socket"
	"github.com/MarlonF24/battleships/internal/wire"
)

func testConfig() *config.Config {
	return &config.Config{
		HeartbeatInterval:            20 * time.Millisecond,
		HeartbeatTimeout:             20 * time.Millisecond,
		HeartbeatYieldBatch:          1000,
		ReconnectTimeout:             50 * time.Millisecond,
		SalvoShots:                   3,
		BandwidthLimitBytesPerSecond: 1 << 20,
	}
}

func newTestCore() *core {
	return newCore(datastore.NewMemoryStore(), testConfig(), logging.NewTestLogger())
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", d)
	}
}

func TestBroadcastBestEffortSkipsSenderAndClosedSockets(t *testing.T) {
	c := newTestCore()
	mc := NewMatchConnections("m1", 0)
	s1, s2 := newFakeSocket(), newFakeSocket()
	mc.AddPlayer("p1", s1)
	mc.AddPlayer("p2", s2)
	_ = s2.Close(socket.CloseNormal, "gone")

	c.broadcastBestEffort(mc, "p1", true, wire.NewHeartbeatRequest(1))

	if data := s1.takeOutbound(); data != nil {
		t.Fatalf("sender should not receive its own broadcast")
	}
	if data := s2.takeOutbound(); data != nil {
		t.Fatalf("closed socket should not receive a send attempt")
	}
}

func TestBroadcastStrictReturnsErrorOnClosedRecipient(t *testing.T) {
	c := newTestCore()
	mc := NewMatchConnections("m1", 0)
	s1, s2 := newFakeSocket(), newFakeSocket()
	mc.AddPlayer("p1", s1)
	mc.AddPlayer("p2", s2)
	_ = s2.Close(socket.CloseNormal, "gone")

	err := c.broadcastStrict(mc, "", false, wire.NewHeartbeatRequest(1))
	if err == nil {
		t.Fatalf("expected error broadcasting to a closed socket in strict mode")
	}
}

func TestBroadcastMessageFactoryPersonalizesPerRecipient(t *testing.T) {
	c := newTestCore()
	mc := NewMatchConnections("m1", 0)
	s1, s2 := newFakeSocket(), newFakeSocket()
	mc.AddPlayer("p1", s1)
	mc.AddPlayer("p2", s2)

	factory := MessageFactory(func(playerID string) wire.ServerEnvelope {
		return wire.NewReadyState(1, wire.ReadyState{SelfReady: playerID == "p1"})
	})
	c.broadcastBestEffort(mc, "", false, factory)

	d1, d2 := s1.takeOutbound(), s2.takeOutbound()
	if d1 == nil || d2 == nil {
		t.Fatalf("expected both recipients to receive a frame")
	}
	env1, err := wire.DecodeServerFrame(d1)
	if err != nil {
		t.Fatalf("decode p1 frame: %v", err)
	}
	env2, err := wire.DecodeServerFrame(d2)
	if err != nil {
		t.Fatalf("decode p2 frame: %v", err)
	}
	if !env1.ReadyState.SelfReady {
		t.Fatalf("expected p1's envelope to report self ready")
	}
	if env2.ReadyState.SelfReady {
		t.Fatalf("expected p2's envelope to report self not ready")
	}
}

func TestSpawnBackgroundRecoversPanicAndLogsError(t *testing.T) {
	c := newTestCore()

	c.spawnBackground("panics", func() error {
		panic("boom")
	})
	c.spawnBackground("errors", func() error {
		return errors.New("boom")
	})
	c.Wait()
}

func TestHeartbeatClockLifecycleTiedToActiveMatches(t *testing.T) {
	c := newTestCore()
	if c.clock.Running() {
		t.Fatalf("clock should not run with zero active matches")
	}

	mc := NewMatchConnections("m1", 0)
	c.getOrCreateMatch("m1", mc)
	waitFor(t, 200*time.Millisecond, c.clock.Running)

	c.removeMatch("m1")
	waitFor(t, 200*time.Millisecond, func() bool { return !c.clock.Running() })
}

func TestEvictMatchClosesSocketsAndRemovesEntry(t *testing.T) {
	c := newTestCore()
	mc := NewMatchConnections("m1", 0)
	s1, s2 := newFakeSocket(), newFakeSocket()
	mc.AddPlayer("p1", s1)
	mc.AddPlayer("p2", s2)
	c.getOrCreateMatch("m1", mc)

	if !c.EvictMatch("m1", "Match removed due to timeout") {
		t.Fatalf("expected EvictMatch to report the match as found")
	}
	if s1.closeCode() != socket.ClosePolicyViolation || s2.closeCode() != socket.ClosePolicyViolation {
		t.Fatalf("expected both sockets closed with a policy violation, got %d/%d", s1.closeCode(), s2.closeCode())
	}
	if _, ok := c.getMatch("m1"); ok {
		t.Fatalf("expected the match entry to be removed")
	}
}

func TestEvictMatchForgetsBandwidthBucketsForEachParticipant(t *testing.T) {
	c := newTestCore()
	mc := NewMatchConnections("m1", 0)
	mc.AddPlayer("p1", newFakeSocket())
	mc.AddPlayer("p2", newFakeSocket())
	c.getOrCreateMatch("m1", mc)

	c.bandwidth.Allow("p1", 10)
	c.bandwidth.Allow("p2", 10)
	if len(c.bandwidth.SnapshotUsage()) != 2 {
		t.Fatalf("expected both players to have a bandwidth bucket before eviction")
	}

	c.EvictMatch("m1", "Match removed due to timeout")

	if usage := c.bandwidth.SnapshotUsage(); len(usage) != 0 {
		t.Fatalf("expected eviction to drop both bandwidth buckets, got %v", usage)
	}
}

func TestEvictMatchReportsFalseForUnknownMatch(t *testing.T) {
	c := newTestCore()
	if c.EvictMatch("missing", "Match removed due to timeout") {
		t.Fatalf("expected EvictMatch to report the match as not found")
	}
}

func TestGetOrCreateMatchReturnsExistingEntry(t *testing.T) {
	c := newTestCore()
	first := NewMatchConnections("m1", 0)
	second := NewMatchConnections("m1", 0)

	got := c.getOrCreateMatch("m1", first)
	if got != first {
		t.Fatalf("expected freshly created entry back")
	}
	got = c.getOrCreateMatch("m1", second)
	if got != first {
		t.Fatalf("expected the existing entry, not the second fresh one")
	}
}

func TestResolveMessagePanicsOnUnsupportedType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for an unsupported broadcast message type")
		}
	}()
	resolveMessage(42, "p1")
}
