package match

import (
	"testing"
	"time"
)

func TestNewMatchLoadsEnvironmentDimensions(t *testing.T) {
	t.Setenv(envMatchID, "alpha")
	t.Setenv(envMatchRows, "8")
	t.Setenv(envMatchCols, "12")

	clock := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	m, err := NewMatch(WithMatchClock(clock))
	if err != nil {
		t.Fatalf("new match: %v", err)
	}

	if m.ID() != "alpha" {
		t.Fatalf("unexpected match id: %q", m.ID())
	}
	rows, cols := m.Dimensions()
	if rows != 8 || cols != 12 {
		t.Fatalf("unexpected dimensions: %dx%d", rows, cols)
	}
	if !m.CreatedAt().Equal(clock()) {
		t.Fatalf("expected created_at to use injected clock")
	}
}

func TestNewMatchRejectsOutOfRangeDimensions(t *testing.T) {
	_, err := NewMatch(WithMatchEnvLookup(nil), WithMatchDimensions(0, 10))
	if err == nil {
		t.Fatalf("expected error for zero rows")
	}
	_, err = NewMatch(WithMatchEnvLookup(nil), WithMatchDimensions(10, 65))
	if err == nil {
		t.Fatalf("expected error for out-of-range cols")
	}
}

func TestJoinAssignsAndPreservesSlots(t *testing.T) {
	m, err := NewMatch(WithMatchEnvLookup(nil), WithMatchID("persistent"))
	if err != nil {
		t.Fatalf("new match: %v", err)
	}

	slot1, err := m.Join("player-1")
	if err != nil || slot1 != 1 {
		t.Fatalf("join player-1: slot=%d err=%v", slot1, err)
	}
	slot2, err := m.Join("player-2")
	if err != nil || slot2 != 2 {
		t.Fatalf("join player-2: slot=%d err=%v", slot2, err)
	}
	if _, err := m.Join("player-3"); err != ErrMatchFull {
		t.Fatalf("expected ErrMatchFull, got %v", err)
	}

	// Re-joining an existing participant is idempotent and returns the same slot.
	again, err := m.Join("player-1")
	if err != nil || again != 1 {
		t.Fatalf("rejoin player-1: slot=%d err=%v", again, err)
	}

	opponent, ok := m.OpponentID("player-1")
	if !ok || opponent != "player-2" {
		t.Fatalf("unexpected opponent: %q ok=%v", opponent, ok)
	}
}

func TestPhaseMonotonicity(t *testing.T) {
	m, err := NewMatch(WithMatchEnvLookup(nil))
	if err != nil {
		t.Fatalf("new match: %v", err)
	}

	if err := m.AdvancePhase(PhaseBattle); err != nil {
		t.Fatalf("advance to battle: %v", err)
	}
	if err := m.AdvancePhase(PhasePlacement); err == nil {
		t.Fatalf("expected error reverting to placement")
	}
	if err := m.AdvancePhase(PhaseCompleted); err != nil {
		t.Fatalf("advance to completed: %v", err)
	}
	if err := m.AdvancePhase(PhaseCompleted); err == nil {
		t.Fatalf("expected error re-advancing a completed match")
	}
}

func TestShipCells(t *testing.T) {
	ship := Ship{Length: 3, Orientation: Horizontal, HeadRow: 2, HeadCol: 4}
	cells := ship.Cells()
	want := [][2]int{{2, 4}, {2, 5}, {2, 6}}
	if len(cells) != len(want) {
		t.Fatalf("unexpected cell count: %v", cells)
	}
	for i := range want {
		if cells[i] != want[i] {
			t.Fatalf("cell %d mismatch: got %v want %v", i, cells[i], want[i])
		}
	}
}

func TestNewMatchPlayerLinkValidatesSlot(t *testing.T) {
	if _, err := NewMatchPlayerLink("m1", "p1", 3); err != ErrInvalidSlot {
		t.Fatalf("expected ErrInvalidSlot, got %v", err)
	}
	link, err := NewMatchPlayerLink("m1", "p1", 1)
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	if link.Outcome != OutcomePending {
		t.Fatalf("expected pending outcome, got %v", link.Outcome)
	}
}
