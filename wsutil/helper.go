package wsutil

import (
	"io"

	"github.com/plantwatch/ws"
)

// WriteMessage is a helper function that writes message to the w. It
// constructs single frame with given operation code and payload.
// It uses given state to prepare side-dependent things, like cipher
// payload bytes from client to server. It will not mutate p bytes if
// cipher must be made.
func WriteMessage(w io.Writer, s ws.State, op ws.OpCode, p []byte) error {
	f := ws.NewFrame(op, true, p)
	if s.Is(ws.StateClientSide) {
		f = ws.MaskFrame(f)
	}
	return ws.WriteFrame(w, f)
}

// WriteServerMessage writes message to w, considering that caller
// represents server side.
func WriteServerMessage(w io.Writer, op ws.OpCode, p []byte) error {
	return WriteMessage(w, ws.StateServerSide, op, p)
}

// WriteClientMessage writes message to w, considering that caller
// represents client side.
func WriteClientMessage(w io.Writer, op ws.OpCode, p []byte) error {
	return WriteMessage(w, ws.StateClientSide, op, p)
}

// WriteClientText is the same as WriteClientMessage with
// ws.OpText.
func WriteClientText(w io.Writer, p []byte) error {
	return WriteClientMessage(w, ws.OpText, p)
}

// ReadClientFrame reads next frame from r, considering that caller
// represents server side.
func ReadClientFrame(r io.Reader) (ws.Frame, error) {
	return NewServerSideReader(r).NextFrame()
}

// ReadServerFrame reads next frame from r, considering that caller
// represents client side.
func ReadServerFrame(r io.Reader) (ws.Frame, error) {
	return NewClientSideReader(r).NextFrame()
}
