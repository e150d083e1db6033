package kernel

import (
	"context"
	"sync"
)

// subshellHandle resolves to the id of a subshell once the kernel has created it.
type subshellHandle struct {
	ready chan struct{}
	once  sync.Once
	id    string
	err   error
}

func newSubshellHandle() *subshellHandle {
	return &subshellHandle{ready: make(chan struct{})}
}

func (h *subshellHandle) resolve(id string, err error) {
	h.once.Do(func() {
		h.id = id
		h.err = err
		close(h.ready)
	})
}

func (h *subshellHandle) failed() bool {
	select {
	case <-h.ready:
		return h.err != nil
	default:
		return false
	}
}

// Wait blocks until the subshell id is known.
func (h *subshellHandle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.ready:
		return h.id, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// subshellCache holds the shared subshell of each comm target name. It belongs to a single
// Connection and is emptied when the kernel restarts.
type subshellCache struct {
	mu      sync.Mutex
	targets map[string]*subshellHandle
}

func newSubshellCache() *subshellCache {
	return &subshellCache{targets: make(map[string]*subshellHandle)}
}

// forTarget returns the subshell of targetName, calling start to create it on first use or
// after a previous creation failed.
func (s *subshellCache) forTarget(targetName string, start func() *subshellHandle) *subshellHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handle, ok := s.targets[targetName]; ok && !handle.failed() {
		return handle
	}

	handle := start()
	s.targets[targetName] = handle
	return handle
}

func (s *subshellCache) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.targets = make(map[string]*subshellHandle)
}

func (s *subshellCache) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.targets)
}
