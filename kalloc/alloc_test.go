package kalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func smallCfg() Config {
	return Config{NCPU: 2, PGSIZE: 64, PHYSTOP: 64 * 4}
}

func TestInitDistributesAllFramesToBootHart(t *testing.T) {
	a := New(smallCfg())
	a.Init(0)

	require.Equal(t, 4, a.FreeCount(0))
	require.Equal(t, 0, a.FreeCount(1))
}

func TestAllocateFillsFullPageWithAllocPattern(t *testing.T) {
	a := New(smallCfg())
	a.Init(0)

	f := a.Allocate(0)
	require.NotNil(t, f)
	require.Len(t, f, 64)
	for i, b := range f {
		require.Equalf(t, FillAlloc, b, "byte %d not filled", i)
	}
}

func TestFreeFillsFullPageWithFreePatternBeforeLinking(t *testing.T) {
	a := New(smallCfg())
	a.Init(0)
	f := a.Allocate(0)

	a.Free(0, f)

	// The first 8 bytes now hold the freelist link; the rest of the
	// frame carries the free pattern.
	for i, b := range f[8:] {
		require.Equalf(t, FillFree, b, "byte %d not filled", i+8)
	}

	// The LIFO freelist hands f straight back to the next allocation
	// (property 7).
	f2 := a.Allocate(0)
	require.Same(t, &f[0], &f2[0])
}

// Property 7: free-alloc identity, same hart, no intervening
// allocations, LIFO.
func TestFreeAllocIdentity(t *testing.T) {
	a := New(smallCfg())
	a.Init(0)
	f := a.Allocate(0)
	a.Free(0, f)
	f2 := a.Allocate(0)
	require.Same(t, &f[0], &f2[0])
}

func TestFreeOfMisalignedFramePanics(t *testing.T) {
	a := New(smallCfg())
	a.Init(0)
	f := a.Allocate(0)

	require.Panics(t, func() { a.Free(0, f[1:]) })
}

func TestFreeOfForeignSlicePanics(t *testing.T) {
	a := New(smallCfg())
	a.Init(0)

	require.Panics(t, func() { a.Free(0, make([]byte, 64)) })
}

func TestFreeOfInvalidHartPanics(t *testing.T) {
	a := New(smallCfg())
	a.Init(0)
	f := a.Allocate(0)

	require.Panics(t, func() { a.Free(5, f) })
}

// S5 - allocator steal. Hart 1 has an empty freelist while hart 0 has
// two frames. Hart 1 calls allocate; result is non-nil; afterwards
// hart 0's freelist has exactly one frame.
func TestScenarioS5AllocatorSteal(t *testing.T) {
	a := New(Config{NCPU: 2, PGSIZE: 64, PHYSTOP: 64 * 2})
	a.Init(0)
	require.Equal(t, 2, a.FreeCount(0))
	require.Equal(t, 0, a.FreeCount(1))

	got := a.Allocate(1)
	require.NotNil(t, got)
	require.Equal(t, 1, a.FreeCount(0))
}

// S6 - allocator exhaustion. After allocate has been called until
// every hart's freelist is empty, the next call returns nil; a
// subsequent free(f) followed by allocate() returns f.
func TestScenarioS6AllocatorExhaustion(t *testing.T) {
	a := New(Config{NCPU: 2, PGSIZE: 64, PHYSTOP: 64 * 2})
	a.Init(0)

	f1 := a.Allocate(0)
	f2 := a.Allocate(1) // steals the remaining frame from hart 0
	require.NotNil(t, f1)
	require.NotNil(t, f2)

	require.Nil(t, a.Allocate(0))
	require.Nil(t, a.Allocate(1))

	a.Free(0, f1)
	got := a.Allocate(0)
	require.Same(t, &f1[0], &got[0])
}

// No-lost-frames: the total number of frames reachable across every
// hart's freelist plus outstanding allocations always equals the
// initial partition count.
func TestNoLostFrames(t *testing.T) {
	cfg := Config{NCPU: 3, PGSIZE: 64, PHYSTOP: 64 * 9}
	a := New(cfg)
	a.Init(0)

	total := cfg.PHYSTOP / cfg.PGSIZE
	var outstanding [][]byte
	for i := 0; i < total; i++ {
		f := a.Allocate(i % cfg.NCPU)
		require.NotNil(t, f)
		outstanding = append(outstanding, f)
	}
	require.Nil(t, a.Allocate(0))

	free := 0
	for h := 0; h < cfg.NCPU; h++ {
		free += a.FreeCount(h)
	}
	require.Equal(t, 0, free)
	require.Len(t, outstanding, total)

	for i, f := range outstanding {
		a.Free(i%cfg.NCPU, f)
	}
	free = 0
	for h := 0; h < cfg.NCPU; h++ {
		free += a.FreeCount(h)
	}
	require.Equal(t, total, free)
}
