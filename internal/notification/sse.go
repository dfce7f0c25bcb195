package notification

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrEmitterClosed is returned by Send after the stream was torn down.
var ErrEmitterClosed = errors.New("notification: emitter closed")

// SSEEmitter writes server-sent events to one client device. Writes are
// serialized; the underlying connection is owned by the HTTP handler that
// accepted it, the registry only holds this handle for push and close.
type SSEEmitter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	done    chan struct{}
}

// NewSSEEmitter wraps w, which must support flushing.
func NewSSEEmitter(w http.ResponseWriter) (*SSEEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("notification: response writer does not support streaming")
	}
	return &SSEEmitter{w: w, flusher: flusher, done: make(chan struct{})}, nil
}

// Send writes one event frame and flushes it. The id field lets clients
// resume with Last-Event-ID semantics on their side.
func (e *SSEEmitter) Send(eventName, id string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEmitterClosed
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\nid: %s\ndata: %s\n\n", eventName, id, data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// Comment writes a heartbeat comment line to keep proxies from idling the
// connection out.
func (e *SSEEmitter) Comment(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEmitterClosed
	}
	if _, err := fmt.Fprintf(e.w, ": %s\n\n", text); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// Close marks the emitter dead and unblocks its handler.
func (e *SSEEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.done)
}

// Done is closed when the emitter is torn down.
func (e *SSEEmitter) Done() <-chan struct{} { return e.done }
