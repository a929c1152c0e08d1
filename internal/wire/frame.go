// Package wire implements the length-prefixed, type-tagged frame format
// used on the daemon's Unix socket: a 4-byte big-endian length followed by
// a 1-byte type tag and the payload. Grounded on internal/proto's
// WriteFrame/ReadFrame in the teacher repo, generalized so the length
// prefix covers the type tag plus payload (the teacher's attach-stream
// framing put the type tag before the length; this wire format matches the
// specification's [length][type][payload] layout instead).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType distinguishes a control frame from a raw-bytes frame.
type FrameType byte

const (
	// FrameControl carries a JSON-encoded Control message.
	FrameControl FrameType = 0x00
	// FrameRaw carries opaque PTY bytes (keystrokes inbound, output outbound).
	FrameRaw FrameType = 0x01
)

// MaxPayload is the largest payload (type tag + body) a frame may carry.
const MaxPayload = 1 << 20 // 1 MiB

// ErrFrameTooLarge is returned by ReadFrame when the declared length exceeds MaxPayload.
var ErrFrameTooLarge = fmt.Errorf("wire: frame exceeds %d byte limit", MaxPayload)

// WriteFrame writes one frame: a 4-byte big-endian length (1+len(payload)),
// the type tag, then payload.
func WriteFrame(w io.Writer, typ FrameType, payload []byte) error {
	if len(payload)+1 > MaxPayload {
		return ErrFrameTooLarge
	}
	hdr := make([]byte, 5)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)+1))
	hdr[4] = byte(typ)
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame from r, returning its type tag and payload.
// A declared length of zero (no room for a type tag) or a length exceeding
// MaxPayload is a protocol error; the caller must close the connection.
func ReadFrame(r io.Reader) (FrameType, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return 0, nil, fmt.Errorf("wire: zero-length frame has no type tag")
	}
	if n > MaxPayload {
		return 0, nil, ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return FrameType(body[0]), body[1:], nil
}
