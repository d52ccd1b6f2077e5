package match

import "errors"

// Orientation is the axis a stored ship extends along.
type Orientation int

const (
	Horizontal Orientation = iota
	Vertical
)

func (o Orientation) String() string {
	if o == Vertical {
		return "VERTICAL"
	}
	return "HORIZONTAL"
}

// Ship is the persisted placement record for one ship: length, orientation,
// and head cell. Occupied cells are derived per §3: {(h_r, h_c+k)} when
// horizontal, {(h_r+k, h_c)} when vertical, for 0<=k<length.
type Ship struct {
	Length      int
	Orientation Orientation
	HeadRow     int
	HeadCol     int
}

// Cells enumerates the grid cells this ship occupies.
func (s Ship) Cells() [][2]int {
	cells := make([][2]int, 0, s.Length)
	for k := 0; k < s.Length; k++ {
		if s.Orientation == Vertical {
			cells = append(cells, [2]int{s.HeadRow + k, s.HeadCol})
		} else {
			cells = append(cells, [2]int{s.HeadRow, s.HeadCol + k})
		}
	}
	return cells
}

// Outcome is the terminal result recorded against a Match-Player Link.
type Outcome int

const (
	// OutcomePending means the match has not yet completed for this player.
	OutcomePending Outcome = iota
	OutcomeWin
	OutcomeLoss
	OutcomePremature
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWin:
		return "WIN"
	case OutcomeLoss:
		return "LOSS"
	case OutcomePremature:
		return "PREMATURE"
	default:
		return "PENDING"
	}
}

// ErrInvalidSlot is returned when a link is constructed with a slot outside {1,2}.
var ErrInvalidSlot = errors.New("slot must be 1 or 2")

// MatchPlayerLink is the join record of (match, player, slot). It stores the
// player's placed ships and, once the match ends, their outcome.
type MatchPlayerLink struct {
	MatchID  string
	PlayerID string
	Slot     int
	Ships    []Ship
	Outcome  Outcome
}

// NewMatchPlayerLink constructs a link record, validating the slot invariant.
func NewMatchPlayerLink(matchID, playerID string, slot int) (MatchPlayerLink, error) {
	if slot != 1 && slot != 2 {
		return MatchPlayerLink{}, ErrInvalidSlot
	}
	return MatchPlayerLink{
		MatchID:  matchID,
		PlayerID: playerID,
		Slot:     slot,
		Outcome:  OutcomePending,
	}, nil
}
