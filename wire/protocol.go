// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/glasspane/glasspane/lib/codec"
)

// ProtocolVersion is negotiated in the hello exchange. The daemon
// rejects clients speaking a different version rather than guessing.
const ProtocolVersion = 1

// MaxFrameSize caps a single frame's payload. Large enough for any
// replay snapshot, small enough that a corrupt length prefix cannot
// drive an allocation spiral.
const MaxFrameSize = 16 << 20

// FrameType identifies a frame's payload shape.
type FrameType byte

const (
	// Client → daemon.
	FrameHello  FrameType = 0x01
	FrameStart  FrameType = 0x02
	FrameAttach FrameType = 0x03
	FrameInput  FrameType = 0x04
	FrameResize FrameType = 0x05
	FrameStop   FrameType = 0x06
	FrameList   FrameType = 0x07
	FrameDetach FrameType = 0x08

	// Daemon → client.
	FrameEvent FrameType = 0x10
	FrameOK    FrameType = 0x20
	FrameError FrameType = 0x21
)

// ErrFrameTooLarge reports a length prefix beyond MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame encodes payload as CBOR and writes one frame. A nil
// payload writes an empty-payload frame.
func WriteFrame(w io.Writer, frameType FrameType, payload any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = codec.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode frame payload: %w", err)
		}
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("write frame type 0x%02x: %w", frameType, ErrFrameTooLarge)
	}

	header := make([]byte, 5)
	header[0] = byte(frameType)
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame and returns its type and raw payload.
// io.EOF at a frame boundary is returned unwrapped so callers can
// treat a clean close as end of stream; a partial frame surfaces as
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (FrameType, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}
	frameType := FrameType(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("read frame type 0x%02x (%d bytes): %w",
			frameType, length, ErrFrameTooLarge)
	}
	if length == 0 {
		return frameType, nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read frame payload: %w", err)
	}
	return frameType, payload, nil
}

// DecodePayload unmarshals a frame payload into v.
func DecodePayload(payload []byte, v any) error {
	if err := codec.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode frame payload: %w", err)
	}
	return nil
}
