// Package protocol implements the Shim<->Daemon IPC: a framed binary
// protocol over a Unix domain socket, authenticated per-connection via
// SO_PEERCRED rather than per-message credentials.
//
// Wire format is a 4-byte big-endian length prefix followed by that many
// bytes of tagged binary payload (messages.go/codec.go). There is no
// framework here beyond the length prefix (no HTTP, no gRPC), matching
// the constraint that the Shim cannot link a heavyweight RPC stack into a
// dynamically-loaded cgo shim.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload to defend the Daemon against
// a misbehaving or compromised Shim claiming an unbounded length prefix.
const MaxFrameSize = 64 << 20 // 64 MiB

const lengthPrefixSize = 4

// WriteFrame writes payload to w as a length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("protocol: frame payload %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var header [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("protocol: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("protocol: frame length %d exceeds max %d", length, MaxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read frame payload: %w", err)
	}
	return payload, nil
}
