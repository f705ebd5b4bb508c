package engine

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// ErrReleased is returned by Handle.Get after Release.
var ErrReleased = errors.New("engine resource already released")

// Handle owns an engine resource and closes it at most once.
type Handle[T io.Closer] struct {
	mu       sync.Mutex
	resource T
	released bool
}

// NewHandle takes ownership of `resource`.
func NewHandle[T io.Closer](resource T) *Handle[T] {
	return &Handle[T]{resource: resource}
}

// Get returns the resource while it is held.
func (h *Handle[T]) Get() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		var zero T
		return zero, ErrReleased
	}
	return h.resource, nil
}

// Released reports whether Release has run.
func (h *Handle[T]) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Release closes the resource. Calls after the first are no-ops. Releasing a nil handle is allowed.
func (h *Handle[T]) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	resource := h.resource
	var zero T
	h.resource = zero
	h.mu.Unlock()

	if any(resource) == nil {
		return nil
	}
	return resource.Close()
}
