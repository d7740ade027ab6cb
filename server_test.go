package ws

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gobwas/httphead"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func upgradeRequest(headers ...string) Request {
	req := Request{
		Method: "GET",
		URI:    "/ws",
		Path:   "/ws",
		Major:  1,
		Minor:  1,
		Header: RequestHeader{},
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Add(headers[i], headers[i+1])
	}
	return req
}

func TestAccept(t *testing.T) {
	for _, test := range []struct {
		name   string
		header RequestHeader
		accept string
		err    error
	}{
		{
			name:   "rfc example",
			header: RequestHeader{"sec-websocket-key": "dGhlIHNhbXBsZSBub25jZQ=="},
			accept: "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
		},
		{
			name:   "missing",
			header: RequestHeader{"upgrade": "websocket"},
			err:    ErrMissingKey,
		},
		{
			name:   "empty",
			header: RequestHeader{"sec-websocket-key": ""},
			err:    ErrMissingKey,
		},
		{
			name:   "not a nonce",
			header: RequestHeader{"sec-websocket-key": "hello"},
			err:    ErrBadSecKey,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			accept, err := Accept(test.header)
			if err != test.err {
				t.Fatalf("unexpected error: %v; want %v", err, test.err)
			}
			if accept != test.accept {
				t.Errorf("Accept() = %q; want %q", accept, test.accept)
			}
		})
	}
}

func TestWriteUpgrade(t *testing.T) {
	const exp = "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n" +
		"\r\n"

	var buf bytes.Buffer
	if err := WriteUpgrade(&buf, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="); err != nil {
		t.Fatal(err)
	}
	if act := buf.String(); act != exp {
		t.Errorf("WriteUpgrade() wrote:\n%q\nwant:\n%q", act, exp)
	}

	// Buffered writers are left for the caller to flush.
	buf.Reset()
	bw := bufio.NewWriter(&buf)
	if err := WriteUpgrade(bw, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("WriteUpgrade() flushed buffered writer")
	}
	bw.Flush()
	if act := buf.String(); act != exp {
		t.Errorf("WriteUpgrade() wrote:\n%q\nwant:\n%q", act, exp)
	}
}

func TestUpgrade(t *testing.T) {
	for _, test := range []struct {
		name string
		req  Request
		hs   Handshake
		err  error
	}{
		{
			name: "base",
			req: upgradeRequest(
				"Upgrade", "websocket",
				"Connection", "Upgrade",
				"Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==",
				"Sec-WebSocket-Version", "13",
			),
			hs: Handshake{
				Key:     "dGhlIHNhbXBsZSBub25jZQ==",
				Accept:  "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
				Version: "13",
			},
		},
		{
			name: "lowercase headers",
			req: upgradeRequest(
				"upgrade", "WebSocket",
				"sec-websocket-key", "dGhlIHNhbXBsZSBub25jZQ==",
			),
			hs: Handshake{
				Key:    "dGhlIHNhbXBsZSBub25jZQ==",
				Accept: "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
			},
		},
		{
			name: "protocols are recorded only",
			req: upgradeRequest(
				"Upgrade", "websocket",
				"Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==",
				"Sec-WebSocket-Protocol", "chat, superchat",
			),
			hs: Handshake{
				Key:       "dGhlIHNhbXBsZSBub25jZQ==",
				Accept:    "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
				Protocols: []string{"chat", "superchat"},
			},
		},
		{
			name: "extensions are recorded only",
			req: upgradeRequest(
				"Upgrade", "websocket",
				"Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==",
				"Sec-WebSocket-Extensions", "permessage-deflate; client_max_window_bits, x-webkit-deflate-frame",
			),
			hs: Handshake{
				Key:    "dGhlIHNhbXBsZSBub25jZQ==",
				Accept: "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
				Extensions: []httphead.Option{
					httphead.NewOption("permessage-deflate", map[string]string{
						"client_max_window_bits": "",
					}),
					httphead.NewOption("x-webkit-deflate-frame", nil),
				},
			},
		},
		{
			name: "malformed extensions",
			req: upgradeRequest(
				"Upgrade", "websocket",
				"Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==",
				"Sec-WebSocket-Extensions", "permessage-deflate; =",
			),
			hs: Handshake{
				Key:    "dGhlIHNhbXBsZSBub25jZQ==",
				Accept: "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
			},
		},
		{
			name: "no key",
			req:  upgradeRequest("Upgrade", "websocket"),
			err:  ErrMissingKey,
		},
		{
			name: "bad key",
			req: upgradeRequest(
				"Upgrade", "websocket",
				"Sec-WebSocket-Key", "not a key",
			),
			err: ErrBadSecKey,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			var buf bytes.Buffer
			bw := bufio.NewWriter(&buf)

			hs, err := Upgrade(bw, test.req)
			if !errors.Is(err, test.err) {
				t.Fatalf("unexpected error: %v; want %v", err, test.err)
			}
			if test.err != nil {
				bw.Flush()
				if buf.Len() != 0 {
					t.Fatalf("failed handshake wrote %q", buf.String())
				}
				return
			}
			if diff := cmp.Diff(test.hs, hs, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Upgrade() handshake mismatch (-want +got):\n%s", diff)
			}
			resp := buf.String()
			if !strings.HasPrefix(resp, "HTTP/1.1 101 Switching Protocols\r\n") {
				t.Errorf("unexpected status line in %q", resp)
			}
			if !strings.Contains(resp, "Sec-WebSocket-Accept: "+test.hs.Accept+"\r\n") {
				t.Errorf("no accept header in %q", resp)
			}
			if strings.Contains(resp, "Sec-WebSocket-Protocol") {
				t.Errorf("subprotocol selected in %q", resp)
			}
			if !strings.HasSuffix(resp, "\r\n\r\n") {
				t.Errorf("response is not terminated: %q", resp)
			}
		})
	}
}
