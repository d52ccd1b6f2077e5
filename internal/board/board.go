// Package board implements the Board Model (§4.2): ship placement and
// validation, shot resolution, own/opponent views, and random legal shot
// selection for the degenerate timeout fallback. Grounded on the cell/
// grid/ship shape used by the standalone Battleship board model in the
// example pack, generalized to arbitrary R x C and to the stored Ship
// records defined in internal/match.
package board

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/MarlonF24/battleships/internal/match"
)

// CellState is the per-cell hit-state exposed to clients.
type CellState int

const (
	Untouched CellState = iota
	Miss
	Hit
)

func (s CellState) String() string {
	switch s {
	case Miss:
		return "MISS"
	case Hit:
		return "HIT"
	default:
		return "UNTOUCHED"
	}
}

var (
	// ErrInvalidPlacement is returned when a stored ship falls outside the
	// grid or overlaps another of the same player's ships.
	ErrInvalidPlacement = errors.New("invalid ship placement")
	// ErrAlreadyShot is returned when a cell whose hit-state is not
	// UNTOUCHED is shot again.
	ErrAlreadyShot = errors.New("cell already shot")
	// ErrOutOfBounds is returned when a coordinate falls outside [0,R)x[0,C).
	ErrOutOfBounds = errors.New("coordinate out of bounds")
	// ErrNoLegalShot is returned when random_legal_shot finds no untouched
	// cell remaining. The spec notes this should never happen in practice
	// because the game ends once all opponent ships are sunk.
	ErrNoLegalShot = errors.New("no legal shot remains on this board")
)

// ActiveShip is a stored ship plus its runtime hit-vector.
type ActiveShip struct {
	Ship match.Ship
	Hits []bool
}

// Sunk reports whether every segment of the ship has been hit.
func (a *ActiveShip) Sunk() bool {
	for _, hit := range a.Hits {
		if !hit {
			return false
		}
	}
	return true
}

type cell struct {
	ship    *ActiveShip
	segment int
	state   CellState
}

// Board is an R x C grid of cells, each optionally holding an ActiveShip
// reference plus hit state. Not safe for concurrent use without an
// external lock; callers in internal/conn serialize shots per match via
// the match's shot lock (MatchConnections.ShotLock).
type Board struct {
	rows  int
	cols  int
	cells [][]cell
	ships []*ActiveShip
	rng   *rand.Rand
}

// NewBoard constructs a board from stored ships, rejecting any ship whose
// cells fall outside the grid or overlap another ship belonging to the
// same player.
func NewBoard(rows, cols int, ships []match.Ship, rng *rand.Rand) (*Board, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: non-positive dimensions %dx%d", ErrInvalidPlacement, rows, cols)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	grid := make([][]cell, rows)
	for r := range grid {
		grid[r] = make([]cell, cols)
	}
	b := &Board{rows: rows, cols: cols, cells: grid, rng: rng}

	for _, stored := range ships {
		active := &ActiveShip{Ship: stored, Hits: make([]bool, stored.Length)}
		cells := stored.Cells()
		//1.- Reject any ship whose cells fall outside the grid bounds.
		for _, rc := range cells {
			if rc[0] < 0 || rc[0] >= rows || rc[1] < 0 || rc[1] >= cols {
				return nil, fmt.Errorf("%w: ship cell (%d,%d) outside [0,%d)x[0,%d)", ErrInvalidPlacement, rc[0], rc[1], rows, cols)
			}
		}
		//2.- Reject overlap with any previously placed ship.
		for _, rc := range cells {
			if grid[rc[0]][rc[1]].ship != nil {
				return nil, fmt.Errorf("%w: overlapping cell (%d,%d)", ErrInvalidPlacement, rc[0], rc[1])
			}
		}
		//3.- Commit the ship's cells to the grid only after full validation.
		for segment, rc := range cells {
			grid[rc[0]][rc[1]] = cell{ship: active, segment: segment}
		}
		b.ships = append(b.ships, active)
	}
	return b, nil
}

// ShootAt resolves a shot against (r, c). It fails with ErrAlreadyShot if
// the cell's hit-state is not UNTOUCHED; otherwise it marks the cell HIT
// or MISS and, on a hit that just sinks the ship, returns that ship.
func (b *Board) ShootAt(r, c int) (hit bool, newlySunk *match.Ship, err error) {
	if r < 0 || r >= b.rows || c < 0 || c >= b.cols {
		return false, nil, fmt.Errorf("%w: (%d,%d)", ErrOutOfBounds, r, c)
	}
	target := &b.cells[r][c]
	if target.state != Untouched {
		return false, nil, fmt.Errorf("%w: (%d,%d)", ErrAlreadyShot, r, c)
	}
	if target.ship == nil {
		target.state = Miss
		return false, nil, nil
	}
	target.state = Hit
	target.ship.Hits[target.segment] = true
	if target.ship.Sunk() {
		sunk := target.ship.Ship
		return true, &sunk, nil
	}
	return true, nil, nil
}

// AllShipsSunk reports whether every ship on this board has been sunk.
func (b *Board) AllShipsSunk() bool {
	for _, ship := range b.ships {
		if !ship.Sunk() {
			return false
		}
	}
	return len(b.ships) > 0
}

// ShipView is the client-facing projection of one ship: its stored
// placement plus the per-segment hit bits.
type ShipView struct {
	Ship match.Ship
	Hits []bool
}

// View is the client-facing projection of a board.
type View struct {
	Rows  int
	Cols  int
	Cells [][]CellState
	Ships []ShipView
}

func (b *Board) cellStates() [][]CellState {
	states := make([][]CellState, b.rows)
	for r := range states {
		states[r] = make([]CellState, b.cols)
		for c := range states[r] {
			states[r][c] = b.cells[r][c].state
		}
	}
	return states
}

// OwnView returns the full hit-state grid plus every one of the owner's
// ships, positions and hit bits included.
func (b *Board) OwnView() View {
	view := View{Rows: b.rows, Cols: b.cols, Cells: b.cellStates()}
	for _, ship := range b.ships {
		view.Ships = append(view.Ships, ShipView{Ship: ship.Ship, Hits: append([]bool(nil), ship.Hits...)})
	}
	return view
}

// OpponentView returns the full hit-state grid but only reveals ships
// that are fully sunk. Opaqueness of un-sunk ships is a hard invariant.
func (b *Board) OpponentView() View {
	view := View{Rows: b.rows, Cols: b.cols, Cells: b.cellStates()}
	for _, ship := range b.ships {
		if ship.Sunk() {
			view.Ships = append(view.Ships, ShipView{Ship: ship.Ship, Hits: append([]bool(nil), ship.Hits...)})
		}
	}
	return view
}

// RandomLegalShot samples uniformly from cells whose hit-state is
// UNTOUCHED, used by the reconnection-timeout fallback (§4.6) to take a
// shot on an absent player's behalf.
func (b *Board) RandomLegalShot() (r, c int, err error) {
	var candidates [][2]int
	for row := 0; row < b.rows; row++ {
		for col := 0; col < b.cols; col++ {
			if b.cells[row][col].state == Untouched {
				candidates = append(candidates, [2]int{row, col})
			}
		}
	}
	if len(candidates) == 0 {
		return 0, 0, ErrNoLegalShot
	}
	pick := candidates[b.rng.Intn(len(candidates))]
	return pick[0], pick[1], nil
}
