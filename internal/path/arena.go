package path

import (
	"sync"

	"github.com/google/uuid"
)

// Arena stores shared paths by UUID and keeps them alive while any Handle
// refers to them.
type Arena struct {
	mu    sync.Mutex
	paths map[uuid.UUID]*arenaEntry
}

type arenaEntry struct {
	path *Path
	refs int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{paths: make(map[uuid.UUID]*arenaEntry)}
}

// Handle is a counted reference to a Path in an Arena. A Handle must be
// released exactly once.
type Handle struct {
	arena *Arena
	path  *Path
	once  sync.Once
}

// Acquire returns a handle to p, storing p if its UUID is new. A path with a
// known UUID resolves to the stored instance.
func (a *Arena) Acquire(p *Path) *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.paths[p.UUID]
	if !ok {
		e = &arenaEntry{path: p}
		a.paths[p.UUID] = e
	}
	e.refs++
	return &Handle{arena: a, path: e.path}
}

// Get returns the stored path for id.
func (a *Arena) Get(id uuid.UUID) (*Path, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.paths[id]
	if !ok {
		return nil, false
	}
	return e.path, true
}

// Len returns the number of live paths.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.paths)
}

// Refs returns the number of live handles to id.
func (a *Arena) Refs(id uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.paths[id]; ok {
		return e.refs
	}
	return 0
}

func (a *Arena) release(p *Path) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.paths[p.UUID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(a.paths, p.UUID)
	}
}

// Path returns the referenced path.
func (h *Handle) Path() *Path {
	return h.path
}

// Clone returns a new handle to the same path.
func (h *Handle) Clone() *Handle {
	return h.arena.Acquire(h.path)
}

// Release drops the reference. Further calls are no-ops.
func (h *Handle) Release() {
	h.once.Do(func() { h.arena.release(h.path) })
}
