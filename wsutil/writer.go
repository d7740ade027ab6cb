package wsutil

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/gobwas/pool/pbufio"
	"github.com/gobwas/pool/pbytes"
	"github.com/plantwatch/ws"
)

const defaultWriteBuffer = 4096

// ErrWriterClosed is returned by SyncWriter methods after Close was called.
var ErrWriterClosed = errors.New("wsutil: write on closed writer")

// SyncWriter writes whole frames to the destination one at a time.
//
// Every frame is written and flushed under one lock, so frames written from
// different goroutines never interleave on the wire. SyncWriter is the only
// thing that should write into the destination after the handshake.
type SyncWriter struct {
	mu     sync.Mutex
	bw     *bufio.Writer
	state  ws.State
	closed bool

	// OnFrame, if set, is called under the lock after every frame that was
	// written successfully.
	OnFrame func(ws.Header)
}

// NewSyncWriter creates SyncWriter with a pooled buffer of default size. The
// state tells whether frames must be masked, that is whether the caller is a
// client.
func NewSyncWriter(dst io.Writer, state ws.State) *SyncWriter {
	return NewSyncWriterSize(dst, state, defaultWriteBuffer)
}

// NewSyncWriterSize is like NewSyncWriter but with buffer of n bytes.
func NewSyncWriterSize(dst io.Writer, state ws.State, n int) *SyncWriter {
	if n <= 0 {
		n = defaultWriteBuffer
	}
	return &SyncWriter{
		bw:    pbufio.GetWriter(dst, n),
		state: state,
	}
}

// WriteFrame writes f and flushes the buffer. Frames are masked with a fresh
// mask when the writer is on the client side; the payload of f is never
// modified.
func (w *SyncWriter) WriteFrame(f ws.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeFrame(f)
}

// WriteMessage writes single final frame with given operation code.
func (w *SyncWriter) WriteMessage(op ws.OpCode, p []byte) error {
	return w.WriteFrame(ws.NewFrame(op, true, p))
}

// WriteText writes p as a single text frame.
func (w *SyncWriter) WriteText(p []byte) error {
	return w.WriteMessage(ws.OpText, p)
}

// Close makes all following writes fail with ErrWriterClosed. It waits for a
// write in progress to finish and returns the buffer to the pool. It does not
// close the destination.
func (w *SyncWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.close()
	return nil
}

// CloseWith writes f as the last frame and closes the writer, with no other
// frame able to get in between. It returns ErrWriterClosed if the writer is
// already closed.
func (w *SyncWriter) CloseWith(f ws.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.writeFrame(f)
	w.close()
	return err
}

// Closed reports whether the writer was closed.
func (w *SyncWriter) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *SyncWriter) writeFrame(f ws.Frame) error {
	if w.closed {
		return ErrWriterClosed
	}

	f.Header.Length = int64(len(f.Payload))
	if w.state.Is(ws.StateClientSide) {
		p := pbytes.GetLen(len(f.Payload))
		defer pbytes.Put(p)

		copy(p, f.Payload)
		f = ws.MaskFrameInPlace(ws.Frame{Header: f.Header, Payload: p})
	} else {
		f.Header.Masked = false
	}

	if err := ws.WriteFrame(w.bw, f); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if w.OnFrame != nil {
		w.OnFrame(f.Header)
	}
	return nil
}

func (w *SyncWriter) close() {
	if w.closed {
		return
	}
	w.closed = true
	pbufio.PutWriter(w.bw)
	w.bw = nil
}
