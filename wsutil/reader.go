package wsutil

import (
	"errors"
	"io"

	"github.com/gobwas/pool/pbytes"
	"github.com/plantwatch/ws"
)

// DefaultMaxPayload is the payload limit used by Reader when MaxPayload is
// not set.
const DefaultMaxPayload = 64 << 10

// Reader reads whole frames from a WebSocket connection, unmasks them and
// checks them to be RFC6455 compliant for its State.
//
// Note that Reader's methods are not goroutine safe. A connection has exactly
// one reader.
type Reader struct {
	Source io.Reader
	State  ws.State

	// MaxPayload limits the payload size of a single frame. Frames announcing
	// a bigger payload are rejected with ws.ErrFrameTooLarge before anything
	// is allocated.
	MaxPayload int64
}

// NewReader creates new frame reader that reads from r keeping given state to
// make some protocol validity checks when it needed.
func NewReader(r io.Reader, s ws.State) *Reader {
	return &Reader{
		Source: r,
		State:  s,
	}
}

// NewServerSideReader is a helper function that calls NewReader with r and
// ws.StateServerSide.
func NewServerSideReader(r io.Reader) *Reader {
	return NewReader(r, ws.StateServerSide)
}

// NewClientSideReader is a helper function that calls NewReader with r and
// ws.StateClientSide.
func NewClientSideReader(r io.Reader) *Reader {
	return NewReader(r, ws.StateClientSide)
}

// NextFrame reads the next frame with its whole payload. The payload is
// unmasked.
//
// The payload is taken from the pbytes pool. The caller owns it and may
// return it with pbytes.Put once the frame is handled; the frame must not be
// used after that.
//
// If the frame violates the protocol, NextFrame still consumes it and
// returns it along with a ws.ProtocolError, so the caller could decide
// whether it is fatal. Any other error means the stream is broken.
func (r *Reader) NextFrame() (f ws.Frame, err error) {
	f.Header, err = ws.ReadHeader(r.Source)
	if err != nil {
		return f, err
	}
	max := r.MaxPayload
	if max <= 0 {
		max = DefaultMaxPayload
	}
	if f.Header.Length > max {
		return f, ws.ErrFrameTooLarge
	}
	if n := int(f.Header.Length); n > 0 {
		f.Payload = pbytes.GetLen(n)
		if _, err = io.ReadFull(r.Source, f.Payload); err != nil {
			pbytes.Put(f.Payload)
			f.Payload = nil
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return f, err
		}
	}
	// Check header before unmasking, Masked is part of the check.
	err = ws.CheckHeader(f.Header, r.State)
	f = ws.UnmaskFrameInPlace(f)

	return f, err
}

// IsProtocolError reports whether err was caused by a frame that violates
// the protocol while the stream itself is still readable.
func IsProtocolError(err error) bool {
	var p ws.ProtocolError
	return errors.As(err, &p)
}
