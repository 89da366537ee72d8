// Command rvkernel boots the buffer cache and physical page allocator
// over a real host-file-backed block device and drives a small
// scripted workload through them, the simulator's analogue of
// kinit()/binit() running at boot followed by a userspace program
// touching a few blocks and pages.
package main

import (
	"fmt"
	"os"

	"rvkernel/bio"
	"rvkernel/bootcfg"
	"rvkernel/diskfile"
	"rvkernel/fsupper"
	"rvkernel/hart"
	"rvkernel/kalloc"
	"rvkernel/klog"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := bootcfg.ParseFlags(bootcfg.Default(), args)
	if err != nil {
		klog.Fatal("bootFailed", "err", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		klog.Fatal("bootFailed", "err", err)
		return 1
	}

	dev, err := diskfile.New(cfg.DataDir, cfg.BSIZE)
	if err != nil {
		klog.Fatal("deviceOpenFailed", "err", err)
		return 1
	}
	defer dev.Close()

	cache := bio.New(cfg.BioConfig(), dev)
	alloc := kalloc.New(cfg.KallocConfig())
	alloc.Init(0)

	klog.Boot("coreReady", "nbuf", cfg.NBUF, "nbucket", cfg.NBUCKET,
		"ncpu", cfg.NCPU, "pgsize", cfg.PGSIZE, "phystop", cfg.PHYSTOP)

	workload(cache, alloc)

	return 0
}

// workload exercises both cores the way a minimal filesystem client
// would: write a handful of blocks through an Inode unit of work, then
// allocate and free one physical page on each of harts 0 and 1.
func workload(cache *bio.Cache, alloc *kalloc.Allocator) {
	n := fsupper.NewInode(cache)
	defer n.Done()

	for i := uint32(0); i < 4; i++ {
		id := bio.BlockID{Dev: 1, Blockno: i}
		h := n.Lock(id)
		copy(h.Bytes(), fmt.Sprintf("block %d", i))
		n.WriteThrough(h)
		n.Unlock(h)
		klog.Hart(0, "blockWritten", "block", id)
	}

	for id := 0; id < 2; id++ {
		f := allocatePinned(alloc, id)
		if f == nil {
			klog.Warn("allocateFailed", "hart", id)
			continue
		}
		klog.Hart(id, "pageAllocated", "bytes", len(f))
		alloc.Free(id, f)
		klog.Hart(id, "pageFreed")
	}
}

// allocatePinned wraps Allocate in a hart.Pin, matching the original
// kernel's push_off()/pop_off() bracketing of kalloc() calls.
func allocatePinned(alloc *kalloc.Allocator, id int) []byte {
	p := hart.Begin(hart.ID(id))
	defer p.End()
	return alloc.Allocate(id)
}
