package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func hello(_ context.Context, conn net.Conn) {
	defer conn.Close()
	io.WriteString(conn, "hello")
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln
}

func serve(t *testing.T, ctx context.Context, s *Server, ln net.Listener) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	return done
}

func dialRead(t *testing.T, addr string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	bts, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(bts)
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	return nil
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln := listen(t)
	s := New(ConnHandlerFunc(hello), WithWorkers(2), WithLogger(zerolog.Nop()))
	done := serve(t, ctx, s, ln)

	for i := 0; i < 5; i++ {
		if act := dialRead(t, ln.Addr().String()); act != "hello" {
			t.Fatalf("got %q; want %q", act, "hello")
		}
	}

	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("Serve() = %v; want nil", err)
	}
	if _, err := net.Dial("tcp", ln.Addr().String()); err == nil {
		t.Fatal("listener is not closed")
	}
}

func TestServeHandlerPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	handler := ConnHandlerFunc(func(ctx context.Context, conn net.Conn) {
		once.Do(func() { panic("boom") })
		hello(ctx, conn)
	})

	ln := listen(t)
	serve(t, ctx, New(handler, WithWorkers(1)), ln)

	// The panicking handler leaves its connection closed.
	if act := dialRead(t, ln.Addr().String()); act != "" {
		t.Fatalf("got %q from panicking handler", act)
	}
	if act := dialRead(t, ln.Addr().String()); act != "hello" {
		t.Fatalf("got %q; want %q", act, "hello")
	}
}

func TestServeWorkersBound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{}, 10)
	release := make(chan struct{})
	handler := ConnHandlerFunc(func(ctx context.Context, conn net.Conn) {
		started <- struct{}{}
		<-release
		hello(ctx, conn)
	})

	ln := listen(t)
	serve(t, ctx, New(handler, WithWorkers(2)), ln)

	results := make(chan string, 3)
	for i := 0; i < 3; i++ {
		go func() {
			conn, err := net.Dial("tcp", ln.Addr().String())
			if err != nil {
				results <- err.Error()
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(5 * time.Second))
			bts, _ := io.ReadAll(conn)
			results <- string(bts)
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("handler is not started")
		}
	}
	select {
	case <-started:
		t.Fatal("third connection is served while both workers are busy")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	for i := 0; i < 3; i++ {
		if act := <-results; act != "hello" {
			t.Errorf("got %q; want %q", act, "hello")
		}
	}
}

func TestShutdown(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	handler := ConnHandlerFunc(func(ctx context.Context, conn net.Conn) {
		close(entered)
		<-release
		conn.Close()
	})

	ln := listen(t)
	s := New(handler)
	done := serve(t, context.Background(), s, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Shutdown() = %v; want %v", err, context.DeadlineExceeded)
	}
	if err := waitErr(t, done); err != ErrServerClosed {
		t.Fatalf("Serve() = %v; want %v", err, ErrServerClosed)
	}

	close(release)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() = %v", err)
	}
	if err := s.ListenAndServe(context.Background(), "127.0.0.1:0"); err != ErrServerClosed {
		t.Fatalf("ListenAndServe() = %v; want %v", err, ErrServerClosed)
	}
}

// flakyListener fails the first Accept calls with a temporary error.
type flakyListener struct {
	net.Listener
	mu    sync.Mutex
	fails int
}

type temporaryError struct{}

func (temporaryError) Error() string   { return "temporary accept failure" }
func (temporaryError) Temporary() bool { return true }
func (temporaryError) Timeout() bool   { return false }

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.fails > 0 {
		l.fails--
		l.mu.Unlock()
		return nil, temporaryError{}
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func TestServeTemporaryError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln := &flakyListener{Listener: listen(t), fails: 3}
	serve(t, ctx, New(ConnHandlerFunc(hello)), ln)

	if act := dialRead(t, ln.Addr().String()); act != "hello" {
		t.Fatalf("got %q; want %q", act, "hello")
	}
}

type brokenListener struct {
	net.Listener
}

var errBroken = errors.New("listener is broken")

func (brokenListener) Accept() (net.Conn, error) { return nil, errBroken }

func TestServeListenerError(t *testing.T) {
	s := New(ConnHandlerFunc(hello))
	if err := s.Serve(context.Background(), brokenListener{listen(t)}); err != errBroken {
		t.Fatalf("Serve() = %v; want %v", err, errBroken)
	}
}

func TestIsTemporary(t *testing.T) {
	for _, test := range []struct {
		err error
		exp bool
	}{
		{temporaryError{}, true},
		{errors.Join(errors.New("accept"), temporaryError{}), true},
		{errBroken, false},
		{net.ErrClosed, false},
	} {
		if act := isTemporary(test.err); act != test.exp {
			t.Errorf("isTemporary(%v) = %v; want %v", test.err, act, test.exp)
		}
	}
}
