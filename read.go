package ws

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Errors used by frame reader.
var (
	ErrHeaderLengthMSB        = fmt.Errorf("header error: the most significant bit must be 0")
	ErrHeaderLengthUnexpected = fmt.Errorf("header error: unexpected payload length bits")
	ErrFrameTooLarge          = fmt.Errorf("frame error: payload length exceeds limit")
)

// ReadHeader reads a frame header from r.
//
// Every part of the header is read with io.ReadFull, so short reads are
// retried until the header is complete. If r ends in the middle of the header
// io.ErrUnexpectedEOF is returned.
func ReadHeader(r io.Reader) (h Header, err error) {
	// Make slice with 2 bytes len for header, but with 12 byte capacity.
	// The most useful case of reading header is to read header from
	// client, that is with mask (4 byte) and some length most cases <= uint16 (2 bytes).
	// If such case happened, we will reuse bytes without extra allocation.
	var b [MaxHeaderSize - MinHeaderSize]byte
	bts := b[:2]

	// Prepare to hold first 2 bytes to choose size of next read.
	_, err = io.ReadFull(r, bts)
	if err != nil {
		return
	}

	h.Fin = bts[0]&bit0 != 0
	h.Rsv = (bts[0] & 0x70) >> 4
	h.OpCode = OpCode(bts[0] & 0x0f)

	var extra int

	if bts[1]&bit0 != 0 {
		h.Masked = true
		extra += 4
	}

	length := bts[1] & 0x7f
	switch {
	case length < 126:
		h.Length = int64(length)

	case length == 126:
		extra += 2

	case length == 127:
		extra += 8

	default:
		err = ErrHeaderLengthUnexpected
		return
	}

	if extra == 0 {
		return
	}

	bts = b[:extra]
	_, err = io.ReadFull(r, bts)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return
	}

	switch {
	case length == 126:
		h.Length = int64(binary.BigEndian.Uint16(bts[:2]))
		bts = bts[2:]

	case length == 127:
		if bts[0]&0x80 != 0 {
			err = ErrHeaderLengthMSB
			return
		}
		h.Length = int64(binary.BigEndian.Uint64(bts[:8]))
		bts = bts[8:]
	}

	if h.Masked {
		copy(h.Mask[:], bts)
	}

	return
}

// ReadFrame reads a frame from r.
// It is not designed for high optimized use case cause it makes allocation
// for frame.Header.Length size inside to read frame payload into.
//
// Note that ReadFrame does not unmask payload.
func ReadFrame(r io.Reader) (f Frame, err error) {
	return ReadFrameLimit(r, PlatformSizeLimit)
}

// ReadFrameLimit is like ReadFrame but returns ErrFrameTooLarge without
// reading the payload when the header announces more than max bytes.
func ReadFrameLimit(r io.Reader, max int64) (f Frame, err error) {
	f.Header, err = ReadHeader(r)
	if err != nil {
		return
	}
	if f.Header.Length > max {
		err = ErrFrameTooLarge
		return
	}

	if f.Header.Length > 0 {
		// int(f.Header.Length) is safe here cause we have
		// checked it against max above.
		f.Payload = make([]byte, int(f.Header.Length))
		_, err = io.ReadFull(r, f.Payload)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}

	return
}

// ParseCloseFrameData parses close frame status code and closure reason if any provided.
// If there is no status code in the payload
// the empty status code is returned (code.Empty()) with empty string as a reason.
func ParseCloseFrameData(payload []byte) (code StatusCode, reason string) {
	if len(payload) < 2 {
		// We returning empty StatusCode here, preventing the situation
		// when endpoint really sent code 1005 and we should return ProtocolError on that.
		//
		// In other words, we ignoring this rule [RFC6455:7.1.5]:
		//   If this Close control frame contains no status code, _The WebSocket
		//   Connection Close Code_ is considered to be 1005.
		return
	}
	code = StatusCode(binary.BigEndian.Uint16(payload))
	reason = string(payload[2:])
	return
}
