// Package fsupper is illustrative glue sitting above bio: a
// minimal unit-of-work abstraction (Inode) showing how a filesystem
// layer would consume the buffer cache's pin/unpin and content-lock
// contract. It is not a real filesystem; it exists to exercise BC the
// way a caller would, and it does not bolt on a second lock of its
// own — per-block serialization is bio.Cache's content lock,
// re-acquired via GetAndLock/Release around each access, exactly as
// any other bio caller would use it.
//
// Inode generalizes _examples/Anthony4m-UltraSQL/transaction.BufferList's
// pin-many/release-together shape from a SQL transaction's pinned
// pages to a filesystem inode's pinned blocks.
package fsupper

import (
	"fmt"

	"rvkernel/bio"
)

// Inode is a unit of work's set of pinned buffers: every block it
// touches is pinned against eviction until Done, so the same set of
// blocks stays resident across however many individual lock/mutate/
// release cycles the caller performs on them.
type Inode struct {
	cache  *bio.Cache
	pinned map[bio.BlockID]*bio.Handle
}

// NewInode opens a unit of work against cache.
func NewInode(cache *bio.Cache) *Inode {
	return &Inode{cache: cache, pinned: make(map[bio.BlockID]*bio.Handle)}
}

// Touch brings id into the cache and pins it for the lifetime of this
// inode, if it isn't already. It returns without holding id's content
// lock; callers mutate via Lock/Unlock.
func (n *Inode) Touch(id bio.BlockID) {
	if _, ok := n.pinned[id]; ok {
		return
	}
	h := n.cache.ReadBlock(id.Dev, id.Blockno)
	n.cache.Pin(h)
	n.cache.Release(h)
	n.pinned[id] = h
}

// Lock acquires id's content lock for mutation, pinning it first if
// this inode hasn't touched it yet. The returned handle must be passed
// to Unlock (or WriteThrough then Unlock) before another caller can
// make progress on the same block — it is the same content lock every
// bio caller contends on, not a separate fsupper-level lock.
func (n *Inode) Lock(id bio.BlockID) *bio.Handle {
	n.Touch(id)
	return n.cache.GetAndLock(id.Dev, id.Blockno)
}

// WriteThrough writes h's buffer to the block device. h must be held
// via Lock.
func (n *Inode) WriteThrough(h *bio.Handle) {
	n.cache.WriteBlock(h)
}

// Unlock releases the content lock acquired by Lock. The block remains
// pinned (resident) until Done.
func (n *Inode) Unlock(h *bio.Handle) {
	n.cache.Release(h)
}

// Pinned reports whether this inode currently pins id.
func (n *Inode) Pinned(id bio.BlockID) bool {
	_, ok := n.pinned[id]
	return ok
}

// Done unpins every block this inode touched. The inode must not be
// used afterward.
func (n *Inode) Done() {
	for id, h := range n.pinned {
		n.cache.Unpin(h)
		delete(n.pinned, id)
	}
}

// String aids debugging/logging call sites (klog.Hart et al.).
func (n *Inode) String() string {
	return fmt.Sprintf("fsupper.Inode{%d blocks pinned}", len(n.pinned))
}
