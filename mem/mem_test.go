package mem

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"lock"
)

// singleHart stands in for proc.Proc_t: these tests run single-threaded,
// so a fixed hart id with a no-op interrupt-nesting counter is enough to
// satisfy Physmem_t's spinlock.
type singleHart struct{ nest int }

func (h *singleHart) Hartid() int { return 0 }
func (h *singleHart) Pushcli()    { h.nest++ }
func (h *singleHart) Popcli()     { h.nest-- }

func TestMain(m *testing.M) {
	lock.SetHartProvider(func() lock.Hart { return &singleHart{} })
	os.Exit(m.Run())
}

func TestAllocFreeSinglePage(t *testing.T) {
	Init(0x80000000, 16, 1)
	pa, ok := Phys.AllocPage()
	assert.True(t, ok)
	assert.Equal(t, Pa_t(0x80000000+PGSIZE), pa)
	Phys.FreePage(pa)
}

func TestAllocExhaustsAndFreeRecovers(t *testing.T) {
	Init(0x80000000, 4, 0)
	var pages []Pa_t
	for i := 0; i < 4; i++ {
		pa, ok := Phys.AllocPage()
		assert.True(t, ok, "alloc %d should succeed", i)
		pages = append(pages, pa)
	}
	_, ok := Phys.AllocPage()
	assert.False(t, ok, "pool should be exhausted")

	Phys.FreePage(pages[0])
	pa, ok := Phys.AllocPage()
	assert.True(t, ok)
	assert.Equal(t, pages[0], pa)
}

func TestBuddyCoalesceAllowsLargeAllocAfterFree(t *testing.T) {
	Init(0x80000000, 8, 0)
	a, _ := Phys.Alloc(0)
	b, _ := Phys.Alloc(0)
	_ = a
	_ = b
	// Drain the rest of order-0 capacity so only our two pages remain
	// outstanding against an otherwise-free order-3 tree.
	var rest []Pa_t
	for {
		pa, ok := Phys.Alloc(0)
		if !ok {
			break
		}
		rest = append(rest, pa)
	}
	for _, pa := range rest {
		Phys.Free(pa, 0)
	}
	Phys.Free(a, 0)
	Phys.Free(b, 0)
	_, ok := Phys.Alloc(3)
	assert.True(t, ok, "freeing everything should coalesce back to one order-3 block")
}

func TestFreeOfUnallocatedPanics(t *testing.T) {
	Init(0x80000000, 4, 0)
	assert.Panics(t, func() { Phys.Free(0x80000000, 0) })
}

func TestDmapZeroedOnAlloc(t *testing.T) {
	Init(0x80000000, 4, 0)
	pa, _ := Phys.AllocPage()
	b := Dmap(pa)
	b[0] = 0xff
	Phys.FreePage(pa)
	pa2, _ := Phys.AllocPage()
	assert.Equal(t, pa, pa2)
	assert.Equal(t, uint8(0), Dmap(pa2)[0])
}
