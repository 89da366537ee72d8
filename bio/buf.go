package bio

import "rvkernel/sleeplock"

// buffer is one cache-resident or free-pool buffer: fixed-size storage
// for one block plus the metadata spec.md section 3 lists. prev/next
// are not pointers but dense indices into Cache.links, per the design
// note on representing a cyclic list structure without raw pointer
// aliasing.
type buffer struct {
	id     BlockID
	valid  bool
	refcnt int
	ticks  uint64
	data   []byte
	lock   sleeplock.Lock
}

// node is the intrusive circular-doubly-linked-list linkage for one
// slot in the arena. Real buffers (index < NBUF) and bucket sentinels
// (index NBUF+bucket) share the same index space and the same node
// type, exactly as bcache.buf and bcache.bucket share struct buf in
// the original kernel.
type node struct {
	prev, next int32
}

// Handle is a buffer held (and, while content-locked, owned) by one
// caller. It is returned by GetAndLock/ReadBlock and is invalid after
// Release.
type Handle struct {
	c   *Cache
	idx int32
}

// Bytes returns the buffer's payload. Valid only while the handle is
// held (between acquisition and Release) or pinned.
func (h *Handle) Bytes() []byte {
	return h.c.bufs[h.idx].data
}

// Block returns the block identifier this handle currently refers to.
func (h *Handle) Block() BlockID {
	return h.c.bufs[h.idx].id
}

// Valid reports whether the payload reflects the on-device contents.
func (h *Handle) Valid() bool {
	return h.c.bufs[h.idx].valid
}
