// Package handle implements the scoped LockHandle shared by the
// instance and keyed mutexes: a resource whose release is idempotent
// and safe to invoke from both an explicit call and a defer at scope
// exit.
package handle

import "sync"

// Handle is returned by the manual acquire forms. Release is
// idempotent: calling it twice has the same effect as calling it once.
type Handle struct {
	once    sync.Once
	release func()
}

// New wraps release as a one-shot Handle. release must itself be safe
// to call synchronously from Release.
func New(release func()) *Handle {
	return &Handle{release: release}
}

// Release advances the owning queue exactly once, no matter how many
// times Release is called.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}
