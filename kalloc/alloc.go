// Package kalloc is the physical page allocator: per-hart freelists
// of fixed-size physical page frames, with cross-hart stealing on
// local exhaustion. It is a direct generalization of
// _examples/original_source/kernel/kalloc.c.
//
// A host process has no raw physical memory to carve frames out of,
// so Allocator owns a single byte arena standing in for
// [end, PHYSTOP); frames are slices into that arena, and the intrusive
// free-list pointer the original stores in the first machine word of a
// free frame is stored the same way here, via encoding/binary over the
// frame's first 8 bytes (see DESIGN.md).
package kalloc

import (
	"encoding/binary"
	"unsafe"

	"rvkernel/spinlock"
)

const (
	// FillAlloc is the byte pattern written across a freshly allocated
	// frame, to catch use-before-init. This fills the entire PGSIZE,
	// correcting the original's memset(r, 5, sizeof PGSIZE) defect
	// (sizeof PGSIZE under-fills by only writing sizeof(int) bytes);
	// see spec.md section 9's Open Question.
	FillAlloc byte = 0x05
	// FillFree is the byte pattern written across a freshly freed
	// frame, to catch use-after-free.
	FillFree byte = 0x01
)

// noNext marks the tail of a per-hart freelist. Valid frame offsets
// are stored as offset+1 so that 0 is never a valid encoding and can
// serve as "empty."
const noNext uint64 = 0

// Allocator is the physical page allocator: NCPU independent freelists
// over a single backing arena. The zero value is not usable;
// construct with New and call Init before first use.
type Allocator struct {
	cfg   Config
	arena []byte

	locks []spinlock.Spinlock
	heads []uint64 // per-hart freelist head, encoded as offset+1, or noNext
}

// New allocates the backing arena and per-hart bookkeeping. It does
// not itself free any memory onto a freelist; call Init for that,
// matching kinit()'s separation from the allocator's own construction.
func New(cfg Config) *Allocator {
	cfg.validate()
	a := &Allocator{
		cfg:   cfg,
		arena: make([]byte, cfg.PHYSTOP),
		locks: make([]spinlock.Spinlock, cfg.NCPU),
		heads: make([]uint64, cfg.NCPU),
	}
	return a
}

// Init partitions the arena into PGSIZE frames and frees each one onto
// bootHart's freelist, the simulator's analogue of kinit() calling
// kfree() once per page in ascending address order.
func (a *Allocator) Init(bootHart int) {
	a.checkHart(bootHart)
	n := a.cfg.PHYSTOP / a.cfg.PGSIZE
	for i := 0; i < n; i++ {
		a.Free(bootHart, a.frameAt(i))
	}
}

func (a *Allocator) checkHart(hart int) {
	if hart < 0 || hart >= a.cfg.NCPU {
		panic("kalloc: invalid hart id")
	}
}

func (a *Allocator) frameAt(i int) []byte {
	off := i * a.cfg.PGSIZE
	return a.arena[off : off+a.cfg.PGSIZE]
}

func (a *Allocator) readNext(off int) uint64 {
	return binary.LittleEndian.Uint64(a.arena[off : off+8])
}

func (a *Allocator) writeNext(off int, v uint64) {
	binary.LittleEndian.PutUint64(a.arena[off:off+8], v)
}

func fill(frame []byte, b byte) {
	for i := range frame {
		frame[i] = b
	}
}

// offsetOf validates that frame is a page-aligned slice lying within
// this allocator's arena and returns its byte offset. It uses unsafe
// pointer arithmetic because that is the only way to recover "is this
// exactly one of our frames, at a page boundary" from a []byte in Go;
// see DESIGN.md for why no example in the corpus offered a
// higher-level alternative for this specific check.
func (a *Allocator) offsetOf(frame []byte) (int, bool) {
	if len(frame) != a.cfg.PGSIZE || len(a.arena) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&a.arena[0]))
	p := uintptr(unsafe.Pointer(&frame[0]))
	if p < base {
		return 0, false
	}
	diff := p - base
	if diff%uintptr(a.cfg.PGSIZE) != 0 {
		return 0, false
	}
	off := int(diff)
	if off < 0 || off+a.cfg.PGSIZE > a.cfg.PHYSTOP {
		return 0, false
	}
	return off, true
}

// Allocate returns a page frame for hart, filled with FillAlloc, or
// nil if no frame is available anywhere in the system. Disabling
// preemption and pinning to the current hart (hart.Pin) is the
// caller's responsibility, matching push_off()'s placement around
// kalloc() in the original.
func (a *Allocator) Allocate(hart int) []byte {
	a.checkHart(hart)

	a.locks[hart].Lock()
	var frame []byte
	if a.heads[hart] != noNext {
		off := int(a.heads[hart] - 1)
		a.heads[hart] = a.readNext(off)
		frame = a.frameAt(off / a.cfg.PGSIZE)
	} else {
		frame = a.steal(hart)
	}
	a.locks[hart].Unlock()

	if frame != nil {
		fill(frame, FillAlloc)
	}
	return frame
}

// steal is called with locks[hart] held and local freelist[hart]
// empty. It releases locks[hart] (the lock-ordering rule forbids
// holding two freelist locks except during the brief hand-off below),
// then visits every other hart in a fixed order looking for a spare
// frame. On finding one it re-acquires locks[hart] (hand-off: both
// locks briefly held, ordered foreign-then-current, breaking the
// symmetry that would otherwise deadlock), transfers exactly one
// frame, and returns with locks[hart] held again for the caller to
// release. If nothing is found anywhere, it re-acquires locks[hart]
// and returns nil, hart's lock held, symmetrically with the success
// path.
//
// Per spec.md section 9's second Open Question, the window after
// locks[hart] is released and before it is re-acquired (on both the
// success and failure paths) is one during which a concurrent Free
// could refill hart's own freelist; that window is preserved
// faithfully rather than closed, so callers and tests must not assume
// hart's freelist is still empty immediately after steal returns.
func (a *Allocator) steal(hart int) []byte {
	a.locks[hart].Unlock()

	for i := 0; i < a.cfg.NCPU; i++ {
		if i == hart {
			continue
		}
		a.locks[i].Lock()
		if a.heads[i] != noNext {
			a.locks[hart].Lock()
			off := int(a.heads[i] - 1)
			a.heads[i] = a.readNext(off)
			a.locks[i].Unlock()
			return a.frameAt(off / a.cfg.PGSIZE)
		}
		a.locks[i].Unlock()
	}

	a.locks[hart].Lock()
	return nil
}

// Free returns frame to hart's freelist. frame must be page-aligned
// and lie within the simulated [end, PHYSTOP) range; any violation is
// a programmer fault and panics, per spec.md section 7.
func (a *Allocator) Free(hart int, frame []byte) {
	a.checkHart(hart)

	off, ok := a.offsetOf(frame)
	if !ok {
		panic("kalloc: free of misaligned or out-of-range frame")
	}

	fill(frame, FillFree)

	a.locks[hart].Lock()
	a.writeNext(off, a.heads[hart])
	a.heads[hart] = uint64(off) + 1
	a.locks[hart].Unlock()
}

// FreeCount returns the number of frames currently on hart's freelist,
// for diagnostics and tests. It walks the list under hart's lock.
func (a *Allocator) FreeCount(hart int) int {
	a.checkHart(hart)
	a.locks[hart].Lock()
	defer a.locks[hart].Unlock()

	n := 0
	for h := a.heads[hart]; h != noNext; {
		n++
		off := int(h - 1)
		h = a.readNext(off)
	}
	return n
}
