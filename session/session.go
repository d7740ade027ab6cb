// Package session runs the WebSocket conversation that follows a successful
// handshake: a periodic push of the latest readings and a loop reading
// client frames, both sharing one connection.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gobwas/pool/pbytes"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/plantwatch/ws"
	"github.com/plantwatch/ws/internal/observability"
	"github.com/plantwatch/ws/plant"
	"github.com/plantwatch/ws/wsutil"
)

// Defaults used by New.
const (
	DefaultPushInterval = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultMaxPayload   = wsutil.DefaultMaxPayload
)

// ErrNotHandshaking is returned by Run when the session was already started
// or closed.
var ErrNotHandshaking = errors.New("session: not in handshaking state")

// State is a session lifecycle state.
type State int32

const (
	StateHandshaking State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Option configures Session.
type Option func(*Session)

// WithPushInterval sets the period of the readings push.
func WithPushInterval(d time.Duration) Option {
	return func(s *Session) { s.pushInterval = d }
}

// WithIdleTimeout sets how long the session waits for any client frame
// before it is closed. Zero disables the timeout. By default it is three push
// intervals, which a browser answering our pings never exceeds.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.idleTimeout = d
		s.idleSet = true
	}
}

// WithWriteTimeout bounds every single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Session) { s.writeTimeout = d }
}

// WithMaxPayload limits the payload of a single client frame.
func WithMaxPayload(n int64) Option {
	return func(s *Session) { s.maxPayload = n }
}

// WithLogger sets the logger. The session adds its id to every entry.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the collectors for the session lifecycle and frames.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTextHandler sets the function that receives client text messages. It
// is called from the receive loop, so it must not block for long.
func WithTextHandler(fn func(*Session, string)) Option {
	return func(s *Session) { s.onText = fn }
}

// Session is one upgraded connection.
//
// After Run starts, two activities share the connection: push writes a text
// frame with the latest readings followed by a ping every push interval, and
// receive reads client frames answering pings with pongs. All writes go
// through one wsutil.SyncWriter, so frames never interleave. Whichever
// activity fails first closes the connection; it is closed exactly once.
type Session struct {
	id     uuid.UUID
	conn   net.Conn
	br     *bufio.Reader
	w      *wsutil.SyncWriter
	repo   plant.Repository
	remote string

	pushInterval time.Duration
	idleTimeout  time.Duration
	idleSet      bool
	writeTimeout time.Duration
	maxPayload   int64
	onText       func(*Session, string)

	log     zerolog.Logger
	metrics *observability.Metrics

	state        atomic.Int32
	lastActivity atomic.Int64

	closeOnce sync.Once
	closeErr  error
	cause     string
}

// New creates session on top of an upgraded connection. The br must be the
// reader the handshake request was read with, as it may already buffer client
// frames; if br is nil a new one is created.
func New(conn net.Conn, br *bufio.Reader, repo plant.Repository, opts ...Option) *Session {
	s := &Session{
		id:           uuid.New(),
		conn:         conn,
		br:           br,
		repo:         repo,
		pushInterval: DefaultPushInterval,
		writeTimeout: DefaultWriteTimeout,
		maxPayload:   DefaultMaxPayload,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.br == nil {
		s.br = bufio.NewReader(conn)
	}
	if s.pushInterval <= 0 {
		s.pushInterval = DefaultPushInterval
	}
	if !s.idleSet {
		s.idleTimeout = 3 * s.pushInterval
	}
	if addr := conn.RemoteAddr(); addr != nil {
		s.remote = addr.String()
	}
	s.log = s.log.With().Str("session", s.id.String()).Str("remote", s.remote).Logger()
	if s.onText == nil {
		s.onText = func(s *Session, msg string) {
			s.log.Info().Str("message", msg).Msg("client message")
		}
	}

	s.w = wsutil.NewSyncWriter(deadlineWriter{conn, s.writeTimeout}, ws.StateServerSide)
	s.w.OnFrame = func(h ws.Header) {
		s.metrics.Frame("out", h.OpCode.String())
	}
	s.state.Store(int32(StateHandshaking))

	return s
}

// ID returns unique session id.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// LastActivity returns the time the last client frame was received, or the
// time the session was opened.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Run opens the session and blocks until it is closed. It returns nil when
// the client closed the connection or ctx was cancelled, and the failure
// that terminated the session otherwise.
func (s *Session) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateHandshaking), int32(StateOpen)) {
		return ErrNotHandshaking
	}
	s.touch()
	s.metrics.SessionOpened()
	s.log.Info().Dur("push_interval", s.pushInterval).Msg("session open")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.push(gctx)
	})
	g.Go(func() error {
		return s.receive()
	})
	err := g.Wait()

	s.state.Store(int32(StateClosed))
	s.metrics.SessionClosed(s.cause)

	var closed wsutil.ClosedError
	switch {
	case err == nil,
		errors.As(err, &closed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, context.Canceled),
		errors.Is(err, wsutil.ErrWriterClosed),
		errors.Is(err, net.ErrClosed):
		s.log.Info().Str("cause", s.cause).Msg("session closed")
		return nil
	}
	s.log.Warn().Err(err).Str("cause", s.cause).Msg("session closed")
	return err
}

// Close closes the session telling the client that the server is going
// away. It is safe to call Close several times and from any goroutine.
func (s *Session) Close() error {
	s.terminate(closeReason{
		cause:  "server",
		code:   ws.StatusGoingAway,
		reason: "server is shutting down",
	})
	s.state.CompareAndSwap(int32(StateHandshaking), int32(StateClosed))
	return s.closeErr
}

type closeReason struct {
	cause string
	// code is the status of the close frame sent before the connection is
	// closed. Zero means no frame is sent.
	code   ws.StatusCode
	reason string
}

// terminate moves the session to Closing and releases the connection. Only
// the first call has effect.
func (s *Session) terminate(r closeReason) {
	s.closeOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
		s.cause = r.cause

		if r.code != 0 {
			// Writes are bounded by the write timeout, so waiting for a
			// write in progress could not block forever.
			if err := s.w.CloseWith(ws.NewCloseFrame(ws.NewCloseFrameBody(r.code, r.reason))); err != nil {
				s.log.Debug().Err(err).Msg("close frame not sent")
			}
			s.closeErr = s.conn.Close()
			return
		}
		// Close the connection first: it makes a write in progress fail
		// immediately instead of waiting for it under the writer lock.
		s.closeErr = s.conn.Close()
		s.w.Close()
	})
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) push(ctx context.Context) error {
	t := time.NewTicker(s.pushInterval)
	defer t.Stop()

	for {
		if err := s.pushOnce(ctx); err != nil {
			s.terminate(closeReason{cause: "write"})
			return err
		}
		select {
		case <-ctx.Done():
			s.terminate(closeReason{
				cause:  "server",
				code:   ws.StatusGoingAway,
				reason: "server is shutting down",
			})
			return ctx.Err()
		case <-t.C:
		}
	}
}

var emptyPush = []byte("[]")

// pushOnce writes the latest readings and a ping.
func (s *Session) pushOnce(ctx context.Context) error {
	if s.State() != StateOpen {
		return wsutil.ErrWriterClosed
	}

	fctx, cancel := context.WithTimeout(ctx, s.pushInterval)
	rs, err := s.repo.FetchAllLatest(fctx)
	cancel()
	if err != nil {
		// Keep the session, clients get an empty update.
		s.log.Warn().Err(err).Msg("fetch latest readings")
		rs = nil
	}
	p, err := plant.MarshalPush(rs)
	if err != nil {
		// Readings that are not representable in JSON, such as NaN.
		s.log.Warn().Err(err).Msg("encode latest readings")
		p = emptyPush
	}
	if err := s.w.WriteText(p); err != nil {
		return err
	}
	return s.w.WriteMessage(ws.OpPing, nil)
}

func (s *Session) receive() error {
	rd := wsutil.Reader{
		Source:     s.br,
		State:      ws.StateServerSide,
		MaxPayload: s.maxPayload,
	}
	ch := wsutil.ControlHandler{
		Dst:   s.w,
		State: ws.StateServerSide,
		OnPing: func(p []byte) {
			s.log.Debug().Int("len", len(p)).Msg("ping")
		},
		OnPong: func([]byte) {
			s.log.Debug().Msg("pong")
		},
	}

	for {
		if s.idleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		f, err := rd.NextFrame()
		if err != nil && !wsutil.IsProtocolError(err) {
			if errors.Is(err, ws.ErrFrameTooLarge) {
				s.terminate(closeReason{
					cause:  "protocol",
					code:   ws.StatusMessageTooBig,
					reason: err.Error(),
				})
				return err
			}
			s.terminate(closeReason{cause: "read"})
			return err
		}
		s.touch()
		s.metrics.Frame("in", f.Header.OpCode.String())

		stop, err := s.handle(f, err, ch)
		// Nothing refers to the payload after handle: pongs are written
		// synchronously and text is copied into a string.
		pbytes.Put(f.Payload)
		if stop {
			return err
		}
	}
}

// handle dispatches one received frame. The perr is the protocol error
// NextFrame returned along with the frame, if any. It reports whether the
// receive loop must stop with err.
func (s *Session) handle(f ws.Frame, perr error, ch wsutil.ControlHandler) (stop bool, err error) {
	if perr != nil {
		switch {
		case errors.Is(perr, ws.ErrProtocolOpCodeReserved):
			s.log.Warn().Uint8("opcode", uint8(f.Header.OpCode)).Msg("unknown opcode ignored")
			return false, nil
		case errors.Is(perr, ws.ErrProtocolContinuationUnexpected):
			s.log.Warn().Msg("continuation frame ignored: fragmented messages are not supported")
			return false, nil
		}
		s.terminate(closeReason{
			cause:  "protocol",
			code:   ws.StatusProtocolError,
			reason: perr.Error(),
		})
		return true, perr
	}
	if !f.Header.Fin {
		s.log.Warn().Str("opcode", f.Header.OpCode.String()).Msg("frame ignored: fragmented messages are not supported")
		return false, nil
	}

	switch f.Header.OpCode {
	case ws.OpText:
		if !utf8.Valid(f.Payload) {
			s.terminate(closeReason{
				cause:  "protocol",
				code:   ws.StatusInvalidFramePayloadData,
				reason: "invalid utf8",
			})
			return true, ws.ErrProtocolInvalidUTF8
		}
		s.onText(s, string(f.Payload))

	case ws.OpBinary:
		s.log.Debug().Int("len", len(f.Payload)).Msg("binary message ignored")

	case ws.OpClose:
		err := ch.Handle(f)
		// The client started the closing handshake, nothing is written
		// after its close frame.
		s.terminate(closeReason{cause: "client"})
		return true, err

	default:
		if err := ch.Handle(f); err != nil {
			s.terminate(closeReason{cause: "write"})
			return true, err
		}
	}
	return false, nil
}

// deadlineWriter sets the write deadline before every write.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w deadlineWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	return w.conn.Write(p)
}
