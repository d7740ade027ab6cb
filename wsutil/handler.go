package wsutil

import (
	"strconv"

	"github.com/plantwatch/ws"
)

// ClosedError returned when peer has closed the connection with appropriate
// code and a textual reason.
type ClosedError struct {
	Code   ws.StatusCode
	Reason string
}

// Error implements error interface.
func (err ClosedError) Error() string {
	return "ws closed: " + strconv.FormatUint(uint64(err.Code), 10) + " " + err.Reason
}

// ControlHandler handles control frames received from the peer and writes
// responses through Dst when needed.
type ControlHandler struct {
	Dst   *SyncWriter
	State ws.State

	// OnPing and OnPong are called with the frame payload before the frame
	// is handled.
	OnPing func(p []byte)
	OnPong func(p []byte)
}

// Handle dispatches the control frame f by its operation code.
//
// Ping is answered with a pong carrying the same payload. Pong is discarded.
// Close is not answered; Handle returns ClosedError describing the closure,
// or a ws.ProtocolError if the close payload is malformed. Non control frames
// are ignored.
func (c ControlHandler) Handle(f ws.Frame) error {
	switch f.Header.OpCode {
	case ws.OpPing:
		if c.OnPing != nil {
			c.OnPing(f.Payload)
		}
		return c.Dst.WriteFrame(ws.NewPongFrame(f.Payload))

	case ws.OpPong:
		// RFC6455: A Pong frame MAY be sent unsolicited. This serves as a
		// unidirectional heartbeat. A response to an unsolicited Pong frame
		// is not expected.
		if c.OnPong != nil {
			c.OnPong(f.Payload)
		}
		return nil

	case ws.OpClose:
		if len(f.Payload) == 0 {
			// RFC6455#7.1.5: If this Close control frame contains no status
			// code, _The WebSocket Connection Close Code_ is considered to be
			// 1005.
			return ClosedError{Code: ws.StatusNoStatusRcvd}
		}
		code, reason := ws.ParseCloseFrameData(f.Payload)
		if err := ws.CheckCloseFrameData(code, reason); err != nil {
			return err
		}
		return ClosedError{Code: code, Reason: reason}
	}
	return nil
}
