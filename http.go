package ws

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gobwas/httphead"
)

// Limits applied by ReadRequest.
const (
	MaxLineSize    = 8 << 10
	MaxHeaderLines = 100
)

// Errors used by ReadRequest.
var (
	// ErrNoRequest is returned when the peer closed the stream before sending
	// any byte of a request. Callers should close the connection silently.
	ErrNoRequest = fmt.Errorf("no request")

	ErrMalformedRequest = fmt.Errorf("malformed HTTP request")
	ErrLineTooLong      = fmt.Errorf("%w: line too long", ErrMalformedRequest)
	ErrTooManyHeaders   = fmt.Errorf("%w: too many header lines", ErrMalformedRequest)
)

// Header names used by the handshake and the router.
const (
	headerHost       = "host"
	headerUpgrade    = "upgrade"
	headerConnection = "connection"
	headerSecVersion = "sec-websocket-version"
	headerSecKey     = "sec-websocket-key"
	headerSecAccept  = "Sec-WebSocket-Accept"
)

// RequestHeader holds request header values keyed by lower-cased name.
type RequestHeader map[string]string

// Get returns the value of the header k. The lookup is case-insensitive.
func (h RequestHeader) Get(k string) string {
	return h[strings.ToLower(k)]
}

// Has reports whether the header k was present in the request.
func (h RequestHeader) Has(k string) bool {
	_, ok := h[strings.ToLower(k)]
	return ok
}

// Add appends v to the value of the header k. Repeated headers are folded
// into one comma separated value.
func (h RequestHeader) Add(k, v string) {
	k = strings.ToLower(k)
	if prev, ok := h[k]; ok && prev != "" {
		v = prev + ", " + v
	}
	h[k] = v
}

// Request is an HTTP request head read from a raw connection.
type Request struct {
	Method string
	// URI is the raw request target, Path is URI without the query.
	URI  string
	Path string

	Major, Minor int

	Header RequestHeader
}

// ReadRequest reads exactly one request line and the following header block
// from br.
//
// It returns ErrNoRequest if the stream ends before any request byte is read,
// and an error wrapping ErrMalformedRequest if the request line can not be
// parsed or the stream ends before the blank line terminating the headers.
// Header lines without a colon are skipped.
func ReadRequest(br *bufio.Reader) (req Request, err error) {
	// Read HTTP request line like "GET /ws HTTP/1.1".
	rl, err := readLine(br)
	if err == io.EOF && len(rl) == 0 {
		return req, ErrNoRequest
	}
	if err != nil {
		return req, malformed(err)
	}

	line, ok := httphead.ParseRequestLine(rl)
	if !ok || len(line.Method) == 0 || len(line.URI) == 0 {
		return req, ErrMalformedRequest
	}
	req.Method = string(line.Method)
	req.URI = string(line.URI)
	req.Path = req.URI
	if i := strings.IndexByte(req.Path, '?'); i != -1 {
		req.Path = req.Path[:i]
	}
	req.Major = line.Version.Major
	req.Minor = line.Version.Minor
	req.Header = make(RequestHeader)

	for n := 0; ; n++ {
		if n > MaxHeaderLines {
			return req, ErrTooManyHeaders
		}
		line, e := readLine(br)
		if e != nil {
			// Even when some bytes were read, the header block is not
			// terminated by a blank line.
			return req, malformed(e)
		}

		// Blank line, no more lines to read.
		if len(line) == 0 {
			break
		}

		k, v, ok := httphead.ParseHeaderLine(line)
		if !ok {
			continue
		}
		req.Header.Add(string(k), string(v))
	}

	return req, nil
}

func malformed(err error) error {
	if errors.Is(err, ErrMalformedRequest) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
}

// readLine reads line from br. It reads until '\n' and returns bytes without
// '\n' or '\r\n' at the end.
// It returns err if and only if line does not end in '\n'. Note that read
// bytes returned in any case of error.
//
// Returned bytes may alias br buffer and are valid until the next read.
func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		bts, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			// Copy bytes because next read will discard them.
			line = append(line, bts...)
			if len(line) > MaxLineSize {
				return line, ErrLineTooLong
			}
			continue
		}

		// Avoid copy of single read.
		if line == nil {
			line = bts
		} else {
			line = append(line, bts...)
		}
		if len(line) > MaxLineSize {
			return line, ErrLineTooLong
		}

		if err != nil {
			return line, err
		}

		// Size of line is at least 1.
		// In other case bufio.ReadSlice() returns error.
		n := len(line)

		// Cut '\n' or '\r\n'.
		if n > 1 && line[n-2] == '\r' {
			line = line[:n-2]
		} else {
			line = line[:n-1]
		}

		return line, nil
	}
}

// IsUpgradeRequest reports whether req asks to switch to the WebSocket
// protocol, that is the Upgrade header mentions "websocket" in any letter case.
func IsUpgradeRequest(req Request) bool {
	return strings.Contains(strings.ToLower(req.Header.Get(headerUpgrade)), "websocket")
}
