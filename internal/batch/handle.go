package batch

import (
	"context"
	"sync"
)

// Handle is the completion handle a caller waits on. It reaches a
// terminal state exactly once: whichever of Resolve or Fail lands first
// wins, and later calls change nothing.
type Handle struct {
	mu     sync.Mutex
	done   chan struct{}
	result *Result
	err    error
	sealed bool
}

func NewHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Resolve completes the handle with a result. It reports whether this
// call was the one that sealed the handle.
func (h *Handle) Resolve(res *Result) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed {
		return false
	}
	h.sealed = true
	h.result = res
	close(h.done)
	return true
}

// Fail completes the handle with an error. It reports whether this call
// was the one that sealed the handle.
func (h *Handle) Fail(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed {
		return false
	}
	h.sealed = true
	h.err = err
	close(h.done)
	return true
}

// Done returns a channel that is closed once the handle is terminal.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Sealed reports whether the handle has reached a terminal state.
func (h *Handle) Sealed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sealed
}

// Wait blocks until the handle is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
