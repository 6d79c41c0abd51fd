// Package mem implements the kernel's physical page allocator: a binary
// buddy allocator over one contiguous range, plus the RAM simulation that
// backs every physical address this kernel hands out. A real RISC-V boot
// would own physical memory outright and keep its buddy bookkeeping
// inside the managed range itself; since this kernel runs hosted (see the
// simhost/simdisk split in the virtio package), physical memory is itself
// simulated as one big Go byte slice, and the buddy tree's bookkeeping
// necessarily lives on the Go heap rather than inside that slice. Pages
// reserved for "metadata" and the power-of-two tail slack are still
// carved out and never handed to callers, matching the reference design,
// even though nothing is actually stored there.
package mem

import (
	"fmt"
	"math/bits"

	"lock"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page, in bytes.
const PGSIZE = 1 << PGSHIFT

// Pa_t is a physical address.
type Pa_t uintptr

// Bytepg_t is a page viewed as a byte array.
type Bytepg_t [PGSIZE]uint8

const (
	nodeFree uint8 = iota
	nodeSplit
	nodeUsed
)

// Physmem_t is a buddy allocator over [base, base+ (1<<maxOrder)*PGSIZE).
// The managed range is represented as a complete binary tree over
// PGSIZE leaves: node 1 is the whole range; node i's children are 2i and
// 2i+1. A node's state is exactly one of free (available as a whole
// block — equivalently, "on free list order"), split (divided into two
// live children), or used (allocated as a unit). Free lists are
// intrusive doubly-linked chains through nextF/prevF, one head per
// order, so alloc can find an available block of a given order in
// O(maxOrder) instead of searching the tree.
type Physmem_t struct {
	lk       lock.Spinlock_t
	base     Pa_t
	maxOrder uint

	state []uint8
	headAt []uint32
	nextF  []uint32
	prevF  []uint32
}

// Phys is the global physical allocator for this boot.
var Phys *Physmem_t

// ram is the simulated backing store for the whole managed physical
// range; Dmap slices into it.
var ram []byte

// Init builds the global allocator over npages pages starting at base,
// reserving the first metaPages pages so they are never handed out (the
// reference kernel's allocator bookkeeping lives there; ours lives on the
// Go heap, but the pages are still withheld for fidelity and so a future
// from-scratch bookkeeping layout has room). Any pages beyond npages up
// to the next power of two are reserved as tail slack.
func Init(base Pa_t, npages uint32, metaPages uint32) *Physmem_t {
	if npages == 0 {
		panic("mem: zero-size region")
	}
	maxOrder := uint(0)
	for (uint32(1) << maxOrder) < npages {
		maxOrder++
	}
	nleaves := uint32(1) << maxOrder
	m := &Physmem_t{
		base:     base,
		maxOrder: maxOrder,
		state:    make([]uint8, 2*nleaves),
		headAt:   make([]uint32, maxOrder+1),
		nextF:    make([]uint32, 2*nleaves),
		prevF:    make([]uint32, 2*nleaves),
	}
	m.state[1] = nodeFree
	m.headAt[maxOrder] = 1

	for i := uint32(0); i < metaPages; i++ {
		m.reserveLeaf(i)
	}
	for i := npages; i < nleaves; i++ {
		m.reserveLeaf(i)
	}

	ram = make([]byte, uint64(nleaves)*uint64(PGSIZE))
	Phys = m
	fmt.Printf("mem: %d pages usable (%d reserved, %d slack)\n",
		npages-metaPages, metaPages, nleaves-npages)
	return m
}

func depthOf(idx uint32) uint { return uint(bits.Len32(idx)) - 1 }

// order returns the buddy order of node idx given it sits at the current
// tree depth implied by m.maxOrder.
func (m *Physmem_t) orderOf(idx uint32) uint { return m.maxOrder - depthOf(idx) }

func (m *Physmem_t) pushFree(order uint, idx uint32) {
	head := m.headAt[order]
	m.nextF[idx] = head
	m.prevF[idx] = 0
	if head != 0 {
		m.prevF[head] = idx
	}
	m.headAt[order] = idx
	m.state[idx] = nodeFree
}

func (m *Physmem_t) popFree(order uint, idx uint32) {
	p, n := m.prevF[idx], m.nextF[idx]
	if p != 0 {
		m.nextF[p] = n
	} else {
		m.headAt[order] = n
	}
	if n != 0 {
		m.prevF[n] = p
	}
}

// addrOf returns the physical address of the block idx covers, idx being
// a node at the given order.
func (m *Physmem_t) addrOf(idx uint32, order uint) Pa_t {
	depth := m.maxOrder - order
	pos := idx - (uint32(1) << depth)
	offset := uint64(pos) << order
	return m.base + Pa_t(offset*PGSIZE)
}

// nodeFor returns the node id of the block of the given order that
// starts at pa.
func (m *Physmem_t) nodeFor(pa Pa_t, order uint) uint32 {
	offsetLeaves := uint32((pa - m.base) / PGSIZE)
	depth := m.maxOrder - order
	pos := offsetLeaves >> order
	return (uint32(1) << depth) + pos
}

// reserveLeaf marks leaf (an order-0 page index) permanently allocated,
// splitting down from the root as needed. Used only during Init, before
// any hart can race with it.
func (m *Physmem_t) reserveLeaf(leaf uint32) {
	idx := uint32(1)
	order := m.maxOrder
	for order > 0 {
		switch m.state[idx] {
		case nodeFree:
			m.popFree(order, idx)
			left, right := idx*2, idx*2+1
			m.state[idx] = nodeSplit
			order--
			m.pushFree(order, left)
			m.pushFree(order, right)
		case nodeUsed:
			panic("mem: leaf already reserved")
		default: // nodeSplit
			order--
		}
		bit := (leaf >> order) & 1
		if bit == 0 {
			idx = idx * 2
		} else {
			idx = idx*2 + 1
		}
	}
	if m.state[idx] != nodeFree {
		panic("mem: leaf reservation conflict")
	}
	m.popFree(0, idx)
	m.state[idx] = nodeUsed
}

// Alloc returns a free block of 2^order pages, or ok=false if none is
// available. Rounding a request to an order larger than the allocator's
// maxOrder is the caller's mistake, not an out-of-memory condition, and
// is fatal rather than returning false.
func (m *Physmem_t) Alloc(order uint) (Pa_t, bool) {
	if order > m.maxOrder {
		panic("mem: alloc order exceeds managed range")
	}
	m.lk.Acquire()
	defer m.lk.Release()

	l := order
	for l <= m.maxOrder && m.headAt[l] == 0 {
		l++
	}
	if l > m.maxOrder {
		return 0, false
	}
	idx := m.headAt[l]
	m.popFree(l, idx)
	for l > order {
		m.state[idx] = nodeSplit
		left, right := idx*2, idx*2+1
		l--
		m.pushFree(l, right)
		idx = left
	}
	m.state[idx] = nodeUsed
	return m.addrOf(idx, order), true
}

// Free returns a block of 2^order pages previously returned by Alloc with
// the same order, coalescing with its buddy while possible.
func (m *Physmem_t) Free(pa Pa_t, order uint) {
	m.lk.Acquire()
	defer m.lk.Release()

	idx := m.nodeFor(pa, order)
	if m.state[idx] != nodeUsed {
		panic("mem: free of a block that was not allocated")
	}
	for idx > 1 {
		sib := idx ^ 1
		if m.state[sib] != nodeFree {
			break
		}
		m.popFree(order, sib)
		idx /= 2
		order++
	}
	m.pushFree(order, idx)
}

// AllocPage allocates a single zeroed page.
func (m *Physmem_t) AllocPage() (Pa_t, bool) {
	pa, ok := m.Alloc(0)
	if !ok {
		return 0, false
	}
	b := Dmap(pa)
	for i := range b {
		b[i] = 0
	}
	return pa, true
}

// FreePage frees a single page previously returned by AllocPage or
// Alloc(0).
func (m *Physmem_t) FreePage(pa Pa_t) {
	m.Free(pa, 0)
}

// Dmap returns the byte slice backing the page at pa.
func Dmap(pa Pa_t) []byte {
	off := uint64(pa) - uint64(Phys.base)
	return ram[off : off+PGSIZE]
}

// Pg2bytes reinterprets a page-sized byte slice as a *Bytepg_t.
func Pg2bytes(b []byte) *Bytepg_t {
	return (*Bytepg_t)(b)
}
