// Package spinlock provides the metadata-protecting lock used by the
// buffer cache and the page allocator: a lock that must never be held
// across a suspension point.
//
// On real xv6 a spinlock also masks hart-local interrupts for the
// duration of the critical section (see kernel/spinlock.c's
// push_off/pop_off discipline). A host-process simulator has no
// interrupt controller to mask, so Spinlock is a mutex plus a name for
// diagnostics; it keeps no interrupt or nesting state and does not
// pretend to disable interrupts; see DESIGN.md.
package spinlock

import "sync"

// Spinlock guards data that is only ever touched inside a short,
// non-sleeping critical section.
type Spinlock struct {
	name string
	mu   sync.Mutex
}

// New returns a named spinlock. The name is only reported by Name and
// is otherwise inert, matching xv6's initlock(name).
func New(name string) *Spinlock {
	return &Spinlock{name: name}
}

func (l *Spinlock) Lock() {
	l.mu.Lock()
}

func (l *Spinlock) Unlock() {
	l.mu.Unlock()
}

func (l *Spinlock) Name() string {
	return l.name
}
