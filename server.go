package ws

import (
	"bufio"
	"fmt"
	"io"

	"github.com/gobwas/httphead"
)

// Errors returned when the client handshake could not be accepted.
var (
	ErrMissingKey = fmt.Errorf("handshake error: missing %q header", "Sec-WebSocket-Key")
	ErrBadSecKey  = fmt.Errorf("handshake error: bad %q header", "Sec-WebSocket-Key")
)

const (
	textUpgrade = "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n"
	crlf        = "\r\n"
	colonSpace  = ": "
)

// Handshake describes what the client asked for during the opening handshake.
// Subprotocols and extensions are recorded only; none of them is ever
// selected, so the response never carries them.
type Handshake struct {
	Key        string
	Accept     string
	Version    string
	Protocols  []string
	Extensions []httphead.Option
}

// Accept extracts the Sec-WebSocket-Key value from h and returns the value
// for the Sec-WebSocket-Accept response header.
//
// It returns ErrMissingKey if the header is absent or empty and ErrBadSecKey
// if the value is not a base64 encoded 16 byte nonce.
func Accept(h RequestHeader) (string, error) {
	key := h.Get(headerSecKey)
	if key == "" {
		return "", ErrMissingKey
	}
	if !validNonce(key) {
		return "", ErrBadSecKey
	}
	return AcceptKey(key), nil
}

// ParseHandshake validates the client side of the handshake carried by req
// and returns its description.
func ParseHandshake(req Request) (hs Handshake, err error) {
	hs.Accept, err = Accept(req.Header)
	if err != nil {
		return hs, err
	}
	hs.Key = req.Header.Get(headerSecKey)
	hs.Version = req.Header.Get(headerSecVersion)

	if v := req.Header.Get("Sec-WebSocket-Protocol"); v != "" {
		httphead.ScanTokens([]byte(v), func(p []byte) bool {
			hs.Protocols = append(hs.Protocols, string(p))
			return true
		})
	}
	if v := req.Header.Get("Sec-WebSocket-Extensions"); v != "" {
		// Options point into a private copy of v, so they stay valid. A
		// malformed header leaves no extensions recorded.
		if opts, ok := httphead.ParseOptions([]byte(v), nil); ok {
			hs.Extensions = opts
		}
	}

	return hs, nil
}

// WriteUpgrade writes the "101 Switching Protocols" response with the given
// accept value into w. If w is a *bufio.Writer it is left unflushed.
func WriteUpgrade(w io.Writer, accept string) error {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriterSize(w, len(textUpgrade)+len(headerSecAccept)+acceptSize+8)
	}
	httpWriteUpgrade(bw, accept)
	if !ok {
		return bw.Flush()
	}
	return nil
}

// Upgrade performs the server side of the opening handshake for req. On
// success it writes and flushes the upgrade response into bw and returns the
// handshake description. On failure nothing is written, and the caller is
// expected to close the connection.
func Upgrade(bw *bufio.Writer, req Request) (Handshake, error) {
	hs, err := ParseHandshake(req)
	if err != nil {
		return hs, err
	}
	httpWriteUpgrade(bw, hs.Accept)
	return hs, bw.Flush()
}

func httpWriteUpgrade(bw *bufio.Writer, accept string) {
	bw.WriteString(textUpgrade)
	httpWriteHeader(bw, headerSecAccept, accept)
	bw.WriteString(crlf)
}

func httpWriteHeader(bw *bufio.Writer, key, value string) {
	bw.WriteString(key)
	bw.WriteString(colonSpace)
	bw.WriteString(value)
	bw.WriteString(crlf)
}
