/*
Package ws implements the server side of the WebSocket protocol as specified
in RFC 6455, on top of raw network connections.

It contains three small engines that do not depend on net/http:

The request reader parses an HTTP request head from a buffered connection:

  br := bufio.NewReader(conn)
  req, err := ws.ReadRequest(br)
  if err == ws.ErrNoRequest {
	  // peer went away, close silently
  }

The handshake engine answers an upgrade request:

  if ws.IsUpgradeRequest(req) {
	  hs, err := ws.Upgrade(bufio.NewWriter(conn), req)
	  if err != nil {
		  // close without response
	  }
  }

The frame codec reads and writes single frames:

  f, err := ws.ReadFrame(br)
  if err != nil {
	  // handle err
  }
  f = ws.UnmaskFrameInPlace(f)

  if err := ws.WriteFrame(conn, ws.NewTextFrame([]byte("hello"))); err != nil {
	  // handle err
  }

Frames written by a server are never masked. Frames read from a client must
be masked, see CheckHeader.

Package wsutil contains helpers for reading client frames and for sharing one
connection between several writers.
*/
package ws
