package conn

import (
	"time"

	"github.com/MarlonF24/battleships/internal/wire"
)

// nowMs returns the current time as milliseconds since epoch, the
// timestamp unit every ServerEnvelope carries (§4.1).
func nowMs() int64 { return time.Now().UnixMilli() }

// wireEncode frames and encodes a server envelope in one step, for
// the common case of an immediate personal send.
func wireEncode(env wire.ServerEnvelope) []byte {
	return wire.EncodeServerFrame(env)
}
