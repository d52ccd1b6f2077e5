package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/MarlonF24/battleships/internal/board"
	"github.com/MarlonF24/battleships/internal/match"
)

// Top-level field numbers. ServerEnvelope and ClientEnvelope each use a
// disjoint small integer space; decoding dispatches on whichever of
// these tags is present, tolerating and skipping any other.
const (
	fieldTimestampMs       protowire.Number = 1
	fieldHeartbeatRequest  protowire.Number = 2
	fieldOpponentPresence  protowire.Number = 3
	fieldReadyState        protowire.Number = 4
	fieldGameState         protowire.Number = 5
	fieldTurn              protowire.Number = 6
	fieldShot              protowire.Number = 7
	fieldShotResult        protowire.Number = 8
	fieldGameOver          protowire.Number = 9

	fieldClientHeartbeat protowire.Number = 1
	fieldClientSetReady  protowire.Number = 2
	fieldClientShot      protowire.Number = 3
)

var (
	// ErrMalformedFrame is returned when a frame cannot be parsed as a
	// valid envelope; the caller must close the socket with the
	// protocol-error code per §4.1.
	ErrMalformedFrame = errors.New("malformed envelope frame")
	// ErrUnknownVariant is returned when an envelope contains no
	// recognized variant tag at all (as opposed to containing one
	// alongside unrecognized ones, which is tolerated).
	ErrUnknownVariant = errors.New("envelope carries no recognized variant")
)

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	value := uint64(0)
	if v {
		value = 1
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, value)
}

func appendInt(b []byte, num protowire.Number, v int) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// EncodeShip serializes a stored ship: length, orientation, head cell.
func encodeShip(s match.Ship) []byte {
	var b []byte
	b = appendInt(b, 1, s.Length)
	b = appendInt(b, 2, int(s.Orientation))
	b = appendInt(b, 3, s.HeadRow)
	b = appendInt(b, 4, s.HeadCol)
	return b
}

func decodeShip(data []byte) (match.Ship, error) {
	var s match.Ship
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return s, ErrMalformedFrame
			}
			s.Length = int(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return s, ErrMalformedFrame
			}
			s.Orientation = match.Orientation(v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return s, ErrMalformedFrame
			}
			s.HeadRow = int(v)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return s, ErrMalformedFrame
			}
			s.HeadCol = int(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return s, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	return s, nil
}

func encodeShipView(sv board.ShipView) []byte {
	var b []byte
	b = appendBytes(b, 1, encodeShip(sv.Ship))
	hits := make([]byte, len(sv.Hits))
	for i, h := range sv.Hits {
		if h {
			hits[i] = 1
		}
	}
	b = appendBytes(b, 2, hits)
	return b
}

func decodeShipView(data []byte) (board.ShipView, error) {
	var sv board.ShipView
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return sv, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case 1:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return sv, ErrMalformedFrame
			}
			ship, err := decodeShip(raw)
			if err != nil {
				return sv, err
			}
			sv.Ship = ship
			data = data[n:]
		case 2:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return sv, ErrMalformedFrame
			}
			hits := make([]bool, len(raw))
			for i, v := range raw {
				hits[i] = v != 0
			}
			sv.Hits = hits
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return sv, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	return sv, nil
}

func encodeView(v board.View) []byte {
	var b []byte
	b = appendInt(b, 1, v.Rows)
	b = appendInt(b, 2, v.Cols)
	cells := make([]byte, 0, v.Rows*v.Cols)
	for r := 0; r < v.Rows; r++ {
		for c := 0; c < v.Cols; c++ {
			cells = append(cells, byte(v.Cells[r][c]))
		}
	}
	b = appendBytes(b, 3, cells)
	for _, sv := range v.Ships {
		b = appendBytes(b, 4, encodeShipView(sv))
	}
	return b
}

func decodeView(data []byte) (board.View, error) {
	var v board.View
	var flatCells []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return v, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case 1:
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return v, ErrMalformedFrame
			}
			v.Rows = int(value)
			data = data[n:]
		case 2:
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return v, ErrMalformedFrame
			}
			v.Cols = int(value)
			data = data[n:]
		case 3:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return v, ErrMalformedFrame
			}
			flatCells = raw
			data = data[n:]
		case 4:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return v, ErrMalformedFrame
			}
			sv, err := decodeShipView(raw)
			if err != nil {
				return v, err
			}
			v.Ships = append(v.Ships, sv)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return v, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	if v.Rows > 0 && v.Cols > 0 && len(flatCells) == v.Rows*v.Cols {
		v.Cells = make([][]board.CellState, v.Rows)
		for r := 0; r < v.Rows; r++ {
			v.Cells[r] = make([]board.CellState, v.Cols)
			for c := 0; c < v.Cols; c++ {
				v.Cells[r][c] = board.CellState(flatCells[r*v.Cols+c])
			}
		}
	}
	return v, nil
}

func encodeShotPayload(s Shot) []byte {
	var b []byte
	b = appendInt(b, 1, s.Row)
	b = appendInt(b, 2, s.Col)
	return b
}

func decodeShotPayload(data []byte) (Shot, error) {
	var s Shot
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return s, ErrMalformedFrame
			}
			s.Row = int(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return s, ErrMalformedFrame
			}
			s.Col = int(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return s, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	return s, nil
}

// EncodeServer serializes a ServerEnvelope to its binary wire form.
func EncodeServer(env ServerEnvelope) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTimestampMs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.TimestampMs))

	switch env.Variant {
	case ServerVariantHeartbeatRequest:
		b = appendBytes(b, fieldHeartbeatRequest, nil)
	case ServerVariantOpponentPresence:
		if env.OpponentPresence != nil {
			var nested []byte
			nested = appendBool(nested, 1, env.OpponentPresence.OpponentConnected)
			nested = appendBool(nested, 2, env.OpponentPresence.InitiallyConnected)
			b = appendBytes(b, fieldOpponentPresence, nested)
		}
	case ServerVariantReadyState:
		if env.ReadyState != nil {
			var nested []byte
			nested = appendInt(nested, 1, env.ReadyState.ReadyCount)
			nested = appendBool(nested, 2, env.ReadyState.SelfReady)
			b = appendBytes(b, fieldReadyState, nested)
		}
	case ServerVariantGameState:
		if env.GameState != nil {
			var nested []byte
			nested = appendBytes(nested, 1, encodeView(env.GameState.OwnView))
			nested = appendBytes(nested, 2, encodeView(env.GameState.OpponentView))
			b = appendBytes(b, fieldGameState, nested)
		}
	case ServerVariantTurn:
		if env.Turn != nil {
			var nested []byte
			nested = appendBool(nested, 1, env.Turn.OpponentsTurn)
			b = appendBytes(b, fieldTurn, nested)
		}
	case ServerVariantShot:
		if env.Shot != nil {
			b = appendBytes(b, fieldShot, encodeShotPayload(*env.Shot))
		}
	case ServerVariantShotResult:
		if env.ShotResult != nil {
			var nested []byte
			nested = appendBytes(nested, 1, encodeShotPayload(env.ShotResult.Shot))
			nested = appendBool(nested, 2, env.ShotResult.IsHit)
			if env.ShotResult.SunkShip != nil {
				nested = appendBytes(nested, 3, encodeShip(*env.ShotResult.SunkShip))
			}
			b = appendBytes(b, fieldShotResult, nested)
		}
	case ServerVariantGameOver:
		if env.GameOver != nil {
			var nested []byte
			nested = appendInt(nested, 1, int(env.GameOver.Result))
			b = appendBytes(b, fieldGameOver, nested)
		}
	}
	return b
}

// DecodeServer parses a ServerEnvelope from its binary wire form.
// Unknown top-level tags are skipped, not rejected; a structurally
// truncated frame yields ErrMalformedFrame.
func DecodeServer(data []byte) (ServerEnvelope, error) {
	var env ServerEnvelope
	found := false
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return env, fmt.Errorf("%w: %v", ErrMalformedFrame, "tag")
		}
		data = data[n:]
		switch num {
		case fieldTimestampMs:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			env.TimestampMs = int64(v)
			data = data[n:]
		case fieldHeartbeatRequest:
			_, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			env.Variant = ServerVariantHeartbeatRequest
			found = true
			data = data[n:]
		case fieldOpponentPresence:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			payload, err := decodeOpponentPresence(raw)
			if err != nil {
				return env, err
			}
			env.Variant = ServerVariantOpponentPresence
			env.OpponentPresence = &payload
			found = true
			data = data[n:]
		case fieldReadyState:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			payload, err := decodeReadyState(raw)
			if err != nil {
				return env, err
			}
			env.Variant = ServerVariantReadyState
			env.ReadyState = &payload
			found = true
			data = data[n:]
		case fieldGameState:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			payload, err := decodeGameState(raw)
			if err != nil {
				return env, err
			}
			env.Variant = ServerVariantGameState
			env.GameState = &payload
			found = true
			data = data[n:]
		case fieldTurn:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			payload, err := decodeTurn(raw)
			if err != nil {
				return env, err
			}
			env.Variant = ServerVariantTurn
			env.Turn = &payload
			found = true
			data = data[n:]
		case fieldShot:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			shot, err := decodeShotPayload(raw)
			if err != nil {
				return env, err
			}
			env.Variant = ServerVariantShot
			env.Shot = &shot
			found = true
			data = data[n:]
		case fieldShotResult:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			payload, err := decodeShotResult(raw)
			if err != nil {
				return env, err
			}
			env.Variant = ServerVariantShotResult
			env.ShotResult = &payload
			found = true
			data = data[n:]
		case fieldGameOver:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			payload, err := decodeGameOver(raw)
			if err != nil {
				return env, err
			}
			env.Variant = ServerVariantGameOver
			env.GameOver = &payload
			found = true
			data = data[n:]
		default:
			//1.- Unknown tags are skipped silently here, never a fatal error.
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	if !found {
		return env, ErrUnknownVariant
	}
	return env, nil
}

func decodeOpponentPresence(data []byte) (OpponentPresence, error) {
	var p OpponentPresence
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return p, ErrMalformedFrame
			}
			p.OpponentConnected = v != 0
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return p, ErrMalformedFrame
			}
			p.InitiallyConnected = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return p, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	return p, nil
}

func decodeReadyState(data []byte) (ReadyState, error) {
	var r ReadyState
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return r, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return r, ErrMalformedFrame
			}
			r.ReadyCount = int(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return r, ErrMalformedFrame
			}
			r.SelfReady = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return r, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	return r, nil
}

func decodeGameState(data []byte) (GameState, error) {
	var g GameState
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return g, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case 1:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return g, ErrMalformedFrame
			}
			view, err := decodeView(raw)
			if err != nil {
				return g, err
			}
			g.OwnView = view
			data = data[n:]
		case 2:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return g, ErrMalformedFrame
			}
			view, err := decodeView(raw)
			if err != nil {
				return g, err
			}
			g.OpponentView = view
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return g, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	return g, nil
}

func decodeTurn(data []byte) (Turn, error) {
	var t Turn
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return t, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return t, ErrMalformedFrame
			}
			t.OpponentsTurn = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return t, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	return t, nil
}

func decodeShotResult(data []byte) (ShotResult, error) {
	var sr ShotResult
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return sr, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case 1:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return sr, ErrMalformedFrame
			}
			shot, err := decodeShotPayload(raw)
			if err != nil {
				return sr, err
			}
			sr.Shot = shot
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return sr, ErrMalformedFrame
			}
			sr.IsHit = v != 0
			data = data[n:]
		case 3:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return sr, ErrMalformedFrame
			}
			ship, err := decodeShip(raw)
			if err != nil {
				return sr, err
			}
			sr.SunkShip = &ship
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return sr, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	return sr, nil
}

func decodeGameOver(data []byte) (GameOver, error) {
	var g GameOver
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return g, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return g, ErrMalformedFrame
			}
			g.Result = match.Outcome(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return g, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	return g, nil
}

// EncodeClient serializes a ClientEnvelope to its binary wire form.
func EncodeClient(env ClientEnvelope) []byte {
	var b []byte
	switch env.Variant {
	case ClientVariantHeartbeat:
		b = appendBytes(b, fieldClientHeartbeat, nil)
	case ClientVariantSetReady:
		if env.SetReady != nil {
			var nested []byte
			for _, ship := range env.SetReady.Ships {
				nested = appendBytes(nested, 1, encodeShip(ship))
			}
			b = appendBytes(b, fieldClientSetReady, nested)
		}
	case ClientVariantShot:
		if env.Shot != nil {
			b = appendBytes(b, fieldClientShot, encodeShotPayload(*env.Shot))
		}
	}
	return b
}

// DecodeClient parses a ClientEnvelope from its binary wire form.
func DecodeClient(data []byte) (ClientEnvelope, error) {
	var env ClientEnvelope
	found := false
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return env, ErrMalformedFrame
		}
		data = data[n:]
		switch num {
		case fieldClientHeartbeat:
			_, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			env.Variant = ClientVariantHeartbeat
			found = true
			data = data[n:]
		case fieldClientSetReady:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			ships, err := decodeShipList(raw)
			if err != nil {
				return env, err
			}
			env.Variant = ClientVariantSetReady
			env.SetReady = &SetReady{Ships: ships}
			found = true
			data = data[n:]
		case fieldClientShot:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			shot, err := decodeShotPayload(raw)
			if err != nil {
				return env, err
			}
			env.Variant = ClientVariantShot
			env.Shot = &shot
			found = true
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return env, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	if !found {
		return env, ErrUnknownVariant
	}
	return env, nil
}

func decodeShipList(data []byte) ([]match.Ship, error) {
	var ships []match.Ship
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, ErrMalformedFrame
		}
		data = data[n:]
		if num != 1 {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			data = data[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, ErrMalformedFrame
		}
		ship, err := decodeShip(raw)
		if err != nil {
			return nil, err
		}
		ships = append(ships, ship)
		data = data[n:]
	}
	return ships, nil
}
