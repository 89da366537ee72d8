package bio

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// A small model-based check in the spirit of calvinalkan-agent-task's
// slotcache CompareState: a reference model tracks which blocks
// *should* be resident (the last NBUF distinct blocks touched, most-
// recently-released last), and we compare it against the real cache's
// observable residency after a scripted sequence of operations.

type residencyModel struct {
	order []BlockID // oldest first
	cap   int
}

func (m *residencyModel) touch(id BlockID) {
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append(m.order, id)
	if len(m.order) > m.cap {
		m.order = m.order[1:]
	}
}

func residentSet(c *Cache) []BlockID {
	var ids []BlockID
	for i := range c.bufs {
		if c.bufs[i].valid {
			ids = append(ids, c.bufs[i].id)
		}
	}
	return ids
}

func TestResidencyMatchesLRUModelUnderSequentialTouches(t *testing.T) {
	// NBUCKET=1 so bucket-local LRU eviction (phase 2/3b of GetAndLock)
	// degenerates to true global LRU, matching the simple reference
	// model below; with NBUCKET>1 eviction is only LRU within a bucket,
	// which this model does not attempt to simulate.
	cfg := Config{NBUF: 4, NBUCKET: 1, BSIZE: 16}
	dev := newMemDevice(cfg.BSIZE)
	c := New(cfg, dev)

	model := &residencyModel{cap: cfg.NBUF}

	touch := func(blockno uint32) {
		h := c.ReadBlock(1, blockno)
		c.Release(h)
		model.touch(BlockID{Dev: 1, Blockno: blockno})
	}

	for _, b := range []uint32{10, 20, 30, 40, 50, 60, 10, 70} {
		touch(b)
	}

	got := residentSet(c)
	want := append([]BlockID(nil), model.order...)

	diff := cmp.Diff(want, got, cmpopts.SortSlices(func(a, b BlockID) bool {
		return a.Blockno < b.Blockno
	}))
	if diff != "" {
		t.Fatalf("residency mismatch (-want +got):\n%s", diff)
	}
}
