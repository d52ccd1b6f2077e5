package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// CompressionThresholdBytes is the encoded-payload size at or above which a
// frame is snappy-compressed before being written. GameState frames
// carrying two full board views are the common case that crosses it.
const CompressionThresholdBytes = 512

const (
	flagSnappy      byte = 1 << 0
	frameHeaderSize      = 1 + 4
)

// ErrFrameTooLarge is returned by ReadFrame when a frame's declared
// length exceeds the caller-supplied maximum, guarding against a
// malicious or corrupt length prefix driving unbounded allocation.
var ErrFrameTooLarge = errors.New("frame exceeds maximum allowed size")

// WriteFrame writes a single length-prefixed frame: one flags byte, a
// big-endian uint32 body length, then the body. Payloads at or above
// CompressionThresholdBytes are snappy-compressed first.
func WriteFrame(w io.Writer, payload []byte) error {
	flags := byte(0)
	body := payload
	if len(payload) >= CompressionThresholdBytes {
		body = snappy.Encode(nil, payload)
		flags |= flagSnappy
	}
	header := make([]byte, frameHeaderSize)
	header[0] = flags
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads a single length-prefixed frame written by WriteFrame,
// decompressing it if the sender flagged it as snappy-compressed.
// maxSize bounds the declared body length; a frame that exceeds it is
// rejected before any allocation proportional to the claimed size.
func ReadFrame(r io.Reader, maxSize int64) ([]byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	flags := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if maxSize > 0 && int64(length) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if flags&flagSnappy != 0 {
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy decode: %v", ErrMalformedFrame, err)
		}
		return decoded, nil
	}
	return body, nil
}

// EncodeServerFrame encodes a ServerEnvelope and wraps it in a frame,
// ready to be written to a websocket binary message.
func EncodeServerFrame(env ServerEnvelope) []byte {
	payload := EncodeServer(env)
	flags := byte(0)
	body := payload
	if len(payload) >= CompressionThresholdBytes {
		body = snappy.Encode(nil, payload)
		flags |= flagSnappy
	}
	framed := make([]byte, 0, frameHeaderSize+len(body))
	framed = append(framed, flags)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body)))
	framed = append(framed, lenBuf...)
	framed = append(framed, body...)
	return framed
}

// DecodeServerFrame reverses EncodeServerFrame given an in-memory
// websocket message (which already has the websocket layer's own
// framing; this is the envelope-level frame nested inside it).
func DecodeServerFrame(data []byte) (ServerEnvelope, error) {
	if len(data) < frameHeaderSize {
		return ServerEnvelope{}, ErrMalformedFrame
	}
	flags := data[0]
	length := binary.BigEndian.Uint32(data[1:frameHeaderSize])
	body := data[frameHeaderSize:]
	if uint32(len(body)) != length {
		return ServerEnvelope{}, ErrMalformedFrame
	}
	if flags&flagSnappy != 0 {
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return ServerEnvelope{}, fmt.Errorf("%w: snappy decode: %v", ErrMalformedFrame, err)
		}
		body = decoded
	}
	return DecodeServer(body)
}
