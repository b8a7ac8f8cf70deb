// Package reentry rejects nested invocation of guarded operations. The
// execution environment serializes operations globally, so the guard only
// has to detect a call that re-enters the engine from within a single
// logical operation (for example a hostile asset calling back during an
// emergency recovery).
package reentry

import (
	"errors"
	"sync"
)

var ErrReentrantCall = errors.New("reentrant call")

type Guard struct {
	mu     sync.Mutex
	active bool
}

// Enter acquires the guard and returns the release, which must run on every
// exit path. A nested Enter while the guard is held fails fast with
// ErrReentrantCall and leaves the outer acquisition intact.
func (g *Guard) Enter() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return nil, ErrReentrantCall
	}
	g.active = true
	return g.release, nil
}

func (g *Guard) release() {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}
