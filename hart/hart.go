// Package hart models the per-hart identity and preemption-disable
// discipline that xv6 implements with push_off/pop_off and cpuid().
//
// Go goroutines are not pinned to OS threads and there is no
// thread-local storage to recover "the current hart" from, so this
// simulator takes the idiomatic route: callers that are standing in
// for a hart pass their hart id explicitly into kalloc.Allocator
// calls, the same way a test harness assigns work to
// simulated harts. Pin exists to make that discipline visible at call
// sites and to guarantee release on every exit path, per the design
// note "model as a scoped acquisition of a per-hart pin with
// guaranteed release on every exit path."
package hart

// ID identifies one simulated hart, analogous to xv6's cpuid().
type ID int

// Pin represents a disabled-preemption section for one hart. It has no
// effect beyond bookkeeping in this simulator (there is no scheduler
// to keep the goroutine pinned to an OS thread), but every allocator
// entry point is written to be called from inside one, matching the
// shape of the original push_off()/pop_off() call sites.
type Pin struct {
	id    ID
	depth int
}

// Begin starts a new pinned section for id, at depth 1; re-entry is
// done with Enter. Callers must call the returned Pin's End exactly
// once, typically via defer, mirroring push_off's nesting counter.
func Begin(id ID) *Pin {
	return &Pin{id: id, depth: 1}
}

// Enter increments the nesting depth, for code paths that pin
// recursively while already inside a pinned section.
func (p *Pin) Enter() {
	p.depth++
}

// End decrements the nesting depth. Once it reaches zero the pin is
// considered released; calling End more times than Begin/Enter panics,
// the same imbalance xv6 detects in pop_off.
func (p *Pin) End() {
	p.depth--
	if p.depth < 0 {
		panic("hart: pop_off without push_off")
	}
}

// ID returns the hart this pin was taken for.
func (p *Pin) ID() ID {
	return p.id
}
