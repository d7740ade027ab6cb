package ws

import (
	"encoding/binary"
	"io"
)

// Header bits and payload length bounds.
const (
	bit0 = 0x80
	bit1 = 0x40
	bit2 = 0x20
	bit3 = 0x10
	bit4 = 0x08
	bit5 = 0x04
	bit6 = 0x02
	bit7 = 0x01

	len7  = int64(125)
	len16 = int64(^(uint16(0)))
	len64 = int64(^(uint64(0)) >> 1)
)

// PlatformSizeLimit is the max int value for current platform.
const PlatformSizeLimit = int64(^(uint(0)) >> 1)

// HeaderSize returns number of bytes that are needed to encode given header.
// It returns -1 if header is malformed.
func HeaderSize(h Header) (n int) {
	switch {
	case h.Length < 0:
		return -1
	case h.Length <= len7:
		n = 2
	case h.Length <= len16:
		n = 4
	case h.Length <= len64:
		n = 10
	default:
		return -1
	}
	if h.Masked {
		n += len(h.Mask)
	}
	return n
}

// WriteHeader writes header binary representation into w.
//
// The length is written in its canonical form: up to 125 bytes directly in
// the second byte, up to 65535 as a 16 bit extension, the rest as a 64 bit
// extension.
func WriteHeader(w io.Writer, h Header) error {
	// Make slice of bytes with capacity 14 that could hold any header.
	var b [MaxHeaderSize]byte

	if h.Fin {
		b[0] |= bit0
	}
	b[0] |= h.Rsv << 4
	b[0] |= byte(h.OpCode)

	var n int
	switch {
	case h.Length < 0:
		return ErrHeaderLengthUnexpected

	case h.Length <= len7:
		b[1] = byte(h.Length)
		n = 2

	case h.Length <= len16:
		b[1] = 126
		binary.BigEndian.PutUint16(b[2:4], uint16(h.Length))
		n = 4

	case h.Length <= len64:
		b[1] = 127
		binary.BigEndian.PutUint64(b[2:10], uint64(h.Length))
		n = 10

	default:
		return ErrHeaderLengthUnexpected
	}

	if h.Masked {
		b[1] |= bit0
		n += copy(b[n:], h.Mask[:])
	}

	_, err := w.Write(b[:n])
	return err
}

// WriteFrame writes frame binary representation into w.
func WriteFrame(w io.Writer, f Frame) error {
	err := WriteHeader(w, f.Header)
	if err != nil {
		return err
	}
	_, err = w.Write(f.Payload)
	return err
}
