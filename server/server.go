// Package server accepts TCP connections and hands each of them to a
// handler running on a bounded worker pool.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/plantwatch/ws/session"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Accept loop backoff on temporary errors.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ConnHandler serves a single accepted connection. It owns conn and is
// responsible for closing it.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// ConnHandlerFunc is an adapter to allow the use of ordinary functions as
// ConnHandler.
type ConnHandlerFunc func(ctx context.Context, conn net.Conn)

func (f ConnHandlerFunc) ServeConn(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

// Option configures Server.
type Option func(*Server)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(s *Server) { s.workers = n }
}

// WithLogger sets the logger for accept and worker errors.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithSessions makes Shutdown close the sessions of reg and wait for them.
func WithSessions(reg *session.Registry) Option {
	return func(s *Server) { s.sessions = reg }
}

// Server is a connection acceptor.
type Server struct {
	handler  ConnHandler
	workers  int
	pool     *Pool
	sessions *session.Registry
	log      zerolog.Logger

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	closed    atomic.Bool
}

// New creates a server passing every accepted connection to handler on the
// worker pool.
func New(handler ConnHandler, opts ...Option) *Server {
	s := &Server{
		handler:   handler,
		workers:   DefaultWorkers,
		log:       zerolog.Nop(),
		listeners: make(map[net.Listener]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = NewPool(s.workers, s.log)
	return s
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and schedules them on the worker pool.
// When all workers are busy accepting is suspended until one is free.
//
// Serve always closes ln. It returns nil when ctx is done, ErrServerClosed
// after Shutdown and the listener error otherwise. Temporary accept errors
// are retried with a growing delay.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.track(ln, true) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.track(ln, false)
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.log.Info().Str("addr", ln.Addr().String()).Int("workers", s.pool.Size()).Msg("listening")

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			if ctx.Err() != nil {
				return nil
			}
			if isTemporary(err) {
				if delay == 0 {
					delay = minAcceptDelay
				} else {
					delay *= 2
				}
				if delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}
				s.log.Warn().Err(err).Dur("retry_in", delay).Msg("accept")
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil
				}
				continue
			}
			return err
		}
		delay = 0

		task := func() {
			defer func() {
				if rec := recover(); rec != nil {
					conn.Close()
					panic(rec)
				}
			}()
			s.handler.ServeConn(ctx, conn)
		}
		if err := s.pool.Schedule(ctx, task); err != nil {
			conn.Close()
			return nil
		}
	}
}

// Shutdown stops accepting connections, waits for the running workers and
// then closes the live sessions. It returns ctx.Err() if ctx is done first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closed.Store(true)

	s.mu.Lock()
	for ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()

	err := s.pool.Wait(ctx)
	if s.sessions != nil {
		s.sessions.CloseAll()
		if werr := s.sessions.Wait(ctx); err == nil {
			err = werr
		}
	}
	return err
}

func (s *Server) track(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed.Load() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
