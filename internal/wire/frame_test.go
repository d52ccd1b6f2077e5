package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/MarlonF24/battleships/internal/match"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("small payload")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got, payload)
	}
}

func TestWriteFrameCompressesLargePayloads(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(strings.Repeat("x", CompressionThresholdBytes+1))
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Bytes()[0]&flagSnappy == 0 {
		t.Fatalf("expected snappy flag set for large payload")
	}
	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch after compression")
	}
}

func TestReadFrameRejectsOversizedDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("hello")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, err := ReadFrame(&buf, 2); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestEncodeDecodeServerFrameRoundTrip(t *testing.T) {
	env := NewGameOver(123, match.OutcomePremature)
	framed := EncodeServerFrame(env)
	got, err := DecodeServerFrame(framed)
	if err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	if got.Variant != env.Variant || got.GameOver == nil || got.GameOver.Result != match.OutcomePremature {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}
