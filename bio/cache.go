// Package bio is the buffer cache: a memory-resident, bounded-size
// cache of fixed-size disk blocks, serialising per-block access and
// evicting LRU. It is a direct generalization of
// _examples/original_source/kernel/bio.c, translated into Go with
// dense-index linked lists (see DESIGN.md) in place of raw struct
// pointers.
package bio

import (
	"rvkernel/spinlock"
)

// Cache is the buffer pool plus its hash table and locks. The zero
// value is not usable; construct with New.
type Cache struct {
	cfg Config
	dev BlockDevice

	bufs  []buffer // NBUF buffers
	links []node   // NBUF + NBUCKET nodes: real buffers, then one sentinel per bucket

	bucketLock []spinlock.Spinlock // one per bucket, guards that bucket's list + refcnt/ticks of its members
	evictLock  spinlock.Spinlock   // global eviction lock; always acquired before any bucket lock

	freeLock spinlock.Spinlock // guards freeHead/rest
	freeHead int32             // head of the singly-linked initial free pool, -1 if empty
	rest     int               // buffers remaining in the initial free pool

	clockLock spinlock.Spinlock // guards the logical clock used to stamp ticks
	clock     uint64
}

// New builds a Cache with cfg's parameters, backed by dev for misses
// and write-backs. It partitions the buffer array into the initial
// free pool exactly once, mirroring binit().
func New(cfg Config, dev BlockDevice) *Cache {
	cfg.validate()
	if dev == nil {
		panic("bio: nil block device")
	}

	c := &Cache{
		cfg:        cfg,
		dev:        dev,
		bufs:       make([]buffer, cfg.NBUF),
		links:      make([]node, cfg.NBUF+cfg.NBUCKET),
		bucketLock: make([]spinlock.Spinlock, cfg.NBUCKET),
		freeHead:   -1,
	}

	for b := 0; b < cfg.NBUCKET; b++ {
		s := c.sentinel(b)
		c.links[s] = node{prev: s, next: s}
	}

	for i := 0; i < cfg.NBUF; i++ {
		c.bufs[i].data = make([]byte, cfg.BSIZE)
		c.links[i].next = c.freeHead
		c.freeHead = int32(i)
	}
	c.rest = cfg.NBUF

	return c
}

func (c *Cache) sentinel(bucket int) int32 {
	return int32(c.cfg.NBUF + bucket)
}

func bucketOf(blockno uint32, nbucket int) int {
	return int(blockno) % nbucket
}

func (c *Cache) nextTick() uint64 {
	c.clockLock.Lock()
	c.clock++
	t := c.clock
	c.clockLock.Unlock()
	return t
}

// bmatch walks bucket bid looking for a resident buffer matching id.
// Caller must hold bucketLock[bid].
func (c *Cache) bmatch(bid int, id BlockID) int32 {
	s := c.sentinel(bid)
	for n := c.links[s].next; n != s; n = c.links[n].next {
		if c.bufs[n].id == id {
			return n
		}
	}
	return -1
}

// blru finds the unreferenced buffer with the smallest ticks in bucket
// bid. Caller must hold bucketLock[bid].
func (c *Cache) blru(bid int) int32 {
	s := c.sentinel(bid)
	best := int32(-1)
	var bestTicks uint64
	for n := c.links[s].next; n != s; n = c.links[n].next {
		if c.bufs[n].refcnt == 0 && (best == -1 || c.bufs[n].ticks < bestTicks) {
			best = n
			bestTicks = c.bufs[n].ticks
		}
	}
	return best
}

// insertAtHead splices idx (not currently in any bucket list) in at
// the head of bucket bid's list. Caller must hold bucketLock[bid].
func (c *Cache) insertAtHead(bid int, idx int32) {
	s := c.sentinel(bid)
	c.links[idx].next = c.links[s].next
	c.links[idx].prev = s
	c.links[c.links[s].next].prev = idx
	c.links[s].next = idx
}

// moveToHead detaches idx from its current bucket list and splices it
// at the head of bucket bid's list, the Go analogue of removenode().
// Caller must hold the bucket lock of idx's current bucket and
// bucketLock[bid].
func (c *Cache) moveToHead(bid int, idx int32) {
	c.links[c.links[idx].next].prev = c.links[idx].prev
	c.links[c.links[idx].prev].next = c.links[idx].next
	c.insertAtHead(bid, idx)
}

func (c *Cache) updateBlock(idx int32, id BlockID) {
	c.bufs[idx].id = id
	c.bufs[idx].valid = false
	c.bufs[idx].refcnt = 1
}

// GetAndLock returns a handle on the buffer for (dev, blockno), with
// its content lock held by the caller. It implements the four-phase
// acquisition algorithm of spec.md section 4.1 exactly, including the
// lock-order discipline of section 5 (eviction lock before any bucket
// lock; at most two bucket locks, only while the eviction lock is
// held).
func (c *Cache) GetAndLock(dev int32, blockno uint32) *Handle {
	id := BlockID{Dev: dev, Blockno: blockno}
	bid := bucketOf(blockno, c.cfg.NBUCKET)

	// Phase 1: fast-path probe.
	c.bucketLock[bid].Lock()
	if idx := c.bmatch(bid, id); idx >= 0 {
		c.bufs[idx].refcnt++
		c.bucketLock[bid].Unlock()
		return c.lockAndReturn(idx)
	}

	// Phase 2: local eviction candidate.
	if idx := c.blru(bid); idx >= 0 {
		c.updateBlock(idx, id)
		c.bucketLock[bid].Unlock()
		return c.lockAndReturn(idx)
	}
	c.bucketLock[bid].Unlock()

	// Phase 3: slow path under the global eviction lock.
	c.evictLock.Lock()
	c.bucketLock[bid].Lock()

	if idx := c.bmatch(bid, id); idx >= 0 {
		c.bufs[idx].refcnt++
		c.bucketLock[bid].Unlock()
		c.evictLock.Unlock()
		return c.lockAndReturn(idx)
	}

	// 3a: take from the initial free pool.
	c.freeLock.Lock()
	if c.rest > 0 {
		c.rest--
		idx := c.freeHead
		c.freeHead = c.links[idx].next
		c.freeLock.Unlock()

		c.updateBlock(idx, id)
		c.insertAtHead(bid, idx)
		c.bucketLock[bid].Unlock()
		c.evictLock.Unlock()
		return c.lockAndReturn(idx)
	}
	c.freeLock.Unlock()

	// 3b: steal the LRU buffer from a foreign bucket.
	for i := 1; i < c.cfg.NBUCKET; i++ {
		foreign := (bid + i) % c.cfg.NBUCKET
		c.bucketLock[foreign].Lock()
		if idx := c.blru(foreign); idx >= 0 {
			c.updateBlock(idx, id)
			c.moveToHead(bid, idx)
			c.bucketLock[foreign].Unlock()
			c.bucketLock[bid].Unlock()
			c.evictLock.Unlock()
			return c.lockAndReturn(idx)
		}
		c.bucketLock[foreign].Unlock()
	}

	c.bucketLock[bid].Unlock()
	c.evictLock.Unlock()
	panic("bio: no buffers")
}

func (c *Cache) lockAndReturn(idx int32) *Handle {
	c.bufs[idx].lock.Lock()
	return &Handle{c: c, idx: idx}
}

// ReadBlock returns a locked handle on (dev, blockno), reading it
// through the block device first if the cached copy isn't valid.
func (c *Cache) ReadBlock(dev int32, blockno uint32) *Handle {
	h := c.GetAndLock(dev, blockno)
	b := &c.bufs[h.idx]
	if !b.valid {
		if err := c.dev.ReadBlock(b.id, b.data); err != nil {
			panic("bio: block device read failed: " + err.Error())
		}
		b.valid = true
	}
	return h
}

// WriteBlock writes h's buffer through the block device. The caller
// must hold h's content lock; WriteBlock does not release it.
func (c *Cache) WriteBlock(h *Handle) {
	b := &c.bufs[h.idx]
	if !b.lock.Held() {
		panic("bio: write of unlocked buffer")
	}
	if err := c.dev.WriteBlock(b.id, b.data); err != nil {
		panic("bio: block device write failed: " + err.Error())
	}
}

// Release releases h's content lock, decrements refcnt, and stamps
// ticks with the current logical time. h is invalid afterward.
func (c *Cache) Release(h *Handle) {
	b := &c.bufs[h.idx]
	if !b.lock.Held() {
		panic("bio: release of unlocked buffer")
	}
	id := b.id
	b.lock.Unlock()

	bid := bucketOf(id.Blockno, c.cfg.NBUCKET)
	c.bucketLock[bid].Lock()
	b.refcnt--
	b.ticks = c.nextTick()
	c.bucketLock[bid].Unlock()
}

// Pin increments h's refcnt without touching the content lock, so that
// a higher layer that sleeps between modifying a buffer and writing it
// back can prevent eviction.
func (c *Cache) Pin(h *Handle) {
	c.evictLock.Lock()
	c.bufs[h.idx].refcnt++
	c.evictLock.Unlock()
}

// Unpin is Pin's inverse.
func (c *Cache) Unpin(h *Handle) {
	c.evictLock.Lock()
	c.bufs[h.idx].refcnt--
	c.evictLock.Unlock()
}

// RefCount returns h's current refcnt, for diagnostics and tests.
func (c *Cache) RefCount(h *Handle) int {
	c.evictLock.Lock()
	defer c.evictLock.Unlock()
	return c.bufs[h.idx].refcnt
}
