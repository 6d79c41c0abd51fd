// Package vm implements per-process virtual memory: Sv39 three-level page
// tables, the operations that build and tear down a process's address
// space, and the page-by-page copies that move bytes between kernel and
// user memory. Sv39 maps 39 bits of virtual address through three levels
// of 512-entry page tables, each entry covering a 4KB leaf or pointing at
// the next level down.
package vm

import (
	"sync"
	"unsafe"

	"defs"
	"mem"
)

// Sv39 PTE flag bits. The reference kernel this package is modeled on
// targets x86; these replace that layout with RISC-V Sv39's.
const (
	PteV uint64 = 1 << 0 // valid
	PteR uint64 = 1 << 1 // readable
	PteW uint64 = 1 << 2 // writable
	PteX uint64 = 1 << 3 // executable
	PteU uint64 = 1 << 4 // accessible from user mode
	PteG uint64 = 1 << 5 // global
	PteA uint64 = 1 << 6 // accessed
	PteD uint64 = 1 << 7 // dirty

	pteFlagBits = 10 // V R W X U G A D + 2 reserved-for-software bits
	pteFlagMask = uint64(1)<<pteFlagBits - 1
	pteRWX      = PteR | PteW | PteX
)

// MAXVA is one VPN level below Sv39's true 39-bit limit, avoiding the
// sign-extension Sv39 requires above that boundary — the same headroom
// xv6-style kernels leave between user memory and the fixed top-of-space
// mappings.
const MAXVA = uintptr(1) << 38

// TRAMPOLINE holds the single kernel page mapped at the same virtual
// address in every process, so the trap entry/exit assembly keeps
// executing across the user/kernel page table switch. TRAPFRAME sits one
// page below it and holds the process's saved register state, mapped
// read-write but never user-accessible.
const (
	TRAMPOLINE = MAXVA - mem.PGSIZE
	TRAPFRAME  = TRAMPOLINE - mem.PGSIZE
)

// Pte_t is a single Sv39 page table entry.
type Pte_t uint64

func (pte Pte_t) Valid() bool { return uint64(pte)&PteV != 0 }

// Leaf reports whether pte maps a page directly, as opposed to pointing
// at the next page table level down. A valid PTE with none of R/W/X set
// is an interior pointer; any of them set makes it a leaf.
func (pte Pte_t) Leaf() bool { return uint64(pte)&pteRWX != 0 }

func (pte Pte_t) User() bool { return uint64(pte)&PteU != 0 }

func (pte Pte_t) Perm() uint64 { return uint64(pte) & pteFlagMask }

func (pte Pte_t) Pa() mem.Pa_t { return mem.Pa_t(uint64(pte) >> pteFlagBits << mem.PGSHIFT) }

func mkpte(pa mem.Pa_t, perm uint64) Pte_t {
	return Pte_t((uint64(pa)>>mem.PGSHIFT)<<pteFlagBits | perm | PteV)
}

// Pmap_t is one page-table-sized page of 512 Sv39 PTEs.
type Pmap_t [512]Pte_t

// pgtab reinterprets the physical page at pa as a page table, through
// the same dmap view mem hands out for ordinary data pages.
func pgtab(pa mem.Pa_t) *Pmap_t {
	b := mem.Dmap(pa)
	return (*Pmap_t)(unsafe.Pointer(&b[0]))
}

func pgRoundDown(va uintptr) uintptr { return va &^ (mem.PGSIZE - 1) }
func pgRoundUp(va uintptr) uintptr   { return (va + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1) }

// vpn extracts the 9-bit index into a page table at the given Sv39 level
// (2 is the root level, 0 the leaf level) that va resolves through.
func vpn(va uintptr, level uint) uintptr {
	shift := mem.PGSHIFT + 9*level
	return (va >> shift) & 0x1ff
}

// Vm_t is a process's address space: a root Sv39 page table plus the
// current size of the flat, demand-free user range [0, Sz). Unlike the
// reference kernel, there is no copy-on-write or demand paging here —
// every mapped user page is backed by real physical memory the moment it
// is mapped, since spec's fork is a deep copy, not COW.
type Vm_t struct {
	sync.Mutex

	Pmap   *Pmap_t
	P_pmap mem.Pa_t
	Sz     uintptr
}

// MkVm allocates a fresh, empty address space.
func MkVm() (*Vm_t, bool) {
	pa, ok := mem.Phys.AllocPage()
	if !ok {
		return nil, false
	}
	return &Vm_t{Pmap: pgtab(pa), P_pmap: pa}, true
}

// Lock_pmap and Unlock_pmap serialize address-space-wide operations
// (growth, shrink, fork, exit) against concurrent page table walks by
// other harts acting on behalf of the same process — e.g. a syscall on
// one hart racing a signal delivery or resource teardown on another.
func (as *Vm_t) Lock_pmap()   { as.Lock() }
func (as *Vm_t) Unlock_pmap() { as.Unlock() }

// Walk returns the leaf PTE slot that va resolves through, allocating
// intermediate page table pages along the way if alloc is set. ok is
// false if va is out of range, or the path is missing and alloc is
// false.
func (as *Vm_t) Walk(va uintptr, alloc bool) (*Pte_t, bool) {
	if va >= MAXVA {
		return nil, false
	}
	pm := as.Pmap
	for level := uint(2); level > 0; level-- {
		pte := &pm[vpn(va, level)]
		if pte.Valid() {
			if pte.Leaf() {
				panic("vm: walk: leaf pte at interior level")
			}
			pm = pgtab(pte.Pa())
			continue
		}
		if !alloc {
			return nil, false
		}
		npa, ok := mem.Phys.AllocPage()
		if !ok {
			return nil, false
		}
		*pte = mkpte(npa, PteV)
		pm = pgtab(npa)
	}
	return &pm[vpn(va, 0)], true
}

// MapPage installs a single leaf mapping, va to pa with the given
// permission bits. It panics on remap, matching the reference kernel's
// assumption that callers never map over a live PTE.
func (as *Vm_t) MapPage(va uintptr, pa mem.Pa_t, perm uint64) bool {
	pte, ok := as.Walk(va, true)
	if !ok {
		return false
	}
	if pte.Valid() {
		panic("vm: remap")
	}
	*pte = mkpte(pa, perm)
	return true
}

// MapPages maps n consecutive pages starting at va to n consecutive
// physical pages starting at pa, all with the same permission.
func (as *Vm_t) MapPages(va uintptr, pa mem.Pa_t, n int, perm uint64) bool {
	for i := 0; i < n; i++ {
		if !as.MapPage(va+uintptr(i)*mem.PGSIZE, pa+mem.Pa_t(i)*mem.PGSIZE, perm) {
			return false
		}
	}
	return true
}

// Unmap clears n consecutive leaf mappings starting at va. Every one of
// them must be present; unmapping a hole is the caller's bug. If freeing
// is set the underlying physical pages are returned to the allocator.
func (as *Vm_t) Unmap(va uintptr, n int, freeing bool) {
	if va%mem.PGSIZE != 0 {
		panic("vm: unmap: unaligned va")
	}
	for i := 0; i < n; i++ {
		a := va + uintptr(i)*mem.PGSIZE
		pte, ok := as.Walk(a, false)
		if !ok || !pte.Valid() {
			panic("vm: unmap: not mapped")
		}
		if !pte.Leaf() {
			panic("vm: unmap: not a leaf")
		}
		if freeing {
			mem.Phys.FreePage(pte.Pa())
		}
		*pte = 0
	}
}

// Alloc grows the user address range from oldsz to newsz, mapping and
// zeroing fresh pages for the new range. It returns the new size, which
// equals oldsz unchanged on failure.
func (as *Vm_t) Alloc(oldsz, newsz uintptr) (uintptr, defs.Err_t) {
	if newsz <= oldsz {
		return oldsz, 0
	}
	first := pgRoundUp(oldsz)
	for va := first; va < newsz; va += mem.PGSIZE {
		pa, ok := mem.Phys.AllocPage()
		if !ok {
			as.Dealloc(va, oldsz)
			return oldsz, defs.ENOMEM
		}
		if !as.MapPage(va, pa, PteR|PteW|PteU) {
			mem.Phys.FreePage(pa)
			as.Dealloc(va, oldsz)
			return oldsz, defs.ENOMEM
		}
	}
	as.Sz = newsz
	return newsz, 0
}

// Dealloc shrinks the user address range from oldsz down to newsz,
// unmapping and freeing every page that falls out of range.
func (as *Vm_t) Dealloc(oldsz, newsz uintptr) uintptr {
	if newsz >= oldsz {
		return oldsz
	}
	lo := pgRoundUp(newsz)
	hi := pgRoundUp(oldsz)
	if hi > lo {
		as.Unmap(lo, int((hi-lo)/mem.PGSIZE), true)
	}
	as.Sz = newsz
	return newsz
}

// MapUstack maps a single page as the user stack immediately below top.
// The page below that is left unmapped: an overflowing stack access
// walks into a hole and takes the ordinary invalid-PTE trap, standing in
// for the reference design's flag-cleared guard page.
func (as *Vm_t) MapUstack(top uintptr) defs.Err_t {
	pa, ok := mem.Phys.AllocPage()
	if !ok {
		return defs.ENOMEM
	}
	if !as.MapPage(top-mem.PGSIZE, pa, PteR|PteW|PteU) {
		mem.Phys.FreePage(pa)
		return defs.ENOMEM
	}
	return 0
}

// MapTrampoline installs the shared trampoline page. The mapping is
// never freed per-process: the page itself is owned by the kernel's boot
// image, not per-process physical memory.
func (as *Vm_t) MapTrampoline(pa mem.Pa_t) {
	as.MapPage(TRAMPOLINE, pa, PteR|PteX)
}

// MapTrapframe installs the process's trapframe page, kernel-only
// read-write (never PteU).
func (as *Vm_t) MapTrapframe(pa mem.Pa_t) {
	as.MapPage(TRAPFRAME, pa, PteR|PteW)
}

// CopyOut writes src into user memory starting at uva, page by page,
// validating each page's mapping as it goes.
func (as *Vm_t) CopyOut(uva uintptr, src []uint8) defs.Err_t {
	for len(src) > 0 {
		va0 := pgRoundDown(uva)
		pte, ok := as.Walk(va0, false)
		if !ok || !pte.Valid() || !pte.User() {
			return defs.EFAULT
		}
		off := uva - va0
		n := mem.PGSIZE - int(off)
		if n > len(src) {
			n = len(src)
		}
		copy(mem.Dmap(pte.Pa())[off:], src[:n])
		src = src[n:]
		uva = va0 + mem.PGSIZE
	}
	return 0
}

// CopyIn reads len(dst) bytes of user memory starting at uva into dst.
func (as *Vm_t) CopyIn(uva uintptr, dst []uint8) defs.Err_t {
	for len(dst) > 0 {
		va0 := pgRoundDown(uva)
		pte, ok := as.Walk(va0, false)
		if !ok || !pte.Valid() || !pte.User() {
			return defs.EFAULT
		}
		off := uva - va0
		n := mem.PGSIZE - int(off)
		if n > len(dst) {
			n = len(dst)
		}
		copy(dst[:n], mem.Dmap(pte.Pa())[off:])
		dst = dst[n:]
		uva = va0 + mem.PGSIZE
	}
	return 0
}

// CopyInStr reads a NUL-terminated string from user memory at uva into
// dst, stopping at the first NUL or when dst fills, whichever comes
// first. It returns the number of bytes copied, not including any NUL.
func (as *Vm_t) CopyInStr(uva uintptr, dst []uint8) (int, defs.Err_t) {
	got := 0
	for got < len(dst) {
		va0 := pgRoundDown(uva)
		pte, ok := as.Walk(va0, false)
		if !ok || !pte.Valid() || !pte.User() {
			return got, defs.EFAULT
		}
		off := int(uva - va0)
		page := mem.Dmap(pte.Pa())[off:]
		for _, c := range page {
			if got >= len(dst) {
				break
			}
			if c == 0 {
				return got, 0
			}
			dst[got] = c
			got++
		}
		uva = va0 + mem.PGSIZE
	}
	return got, defs.ENAMETOOLONG
}

// Clone deep-copies every mapped page of as below size into a freshly
// allocated address space: no sharing, no copy-on-write, matching fork's
// contract that parent and child own wholly independent memory from the
// moment it returns.
func (as *Vm_t) Clone(size uintptr) (*Vm_t, defs.Err_t) {
	nas, ok := MkVm()
	if !ok {
		return nil, defs.ENOMEM
	}
	for va := uintptr(0); va < size; va += mem.PGSIZE {
		pte, ok := as.Walk(va, false)
		if !ok || !pte.Valid() {
			continue
		}
		npa, ok := mem.Phys.AllocPage()
		if !ok {
			nas.Free()
			return nil, defs.ENOMEM
		}
		copy(mem.Dmap(npa), mem.Dmap(pte.Pa()))
		nas.MapPage(va, npa, pte.Perm())
	}
	nas.Sz = size
	return nas, 0
}

// Free tears down the whole address space: every mapped user page in
// [0, Sz), the trapframe and trampoline leaf mappings (without freeing
// the pages they point to — trapframe belongs to the process struct,
// trampoline to the kernel's boot image), and finally every now-empty
// page table page itself.
func (as *Vm_t) Free() {
	if as.Sz > 0 {
		as.Unmap(0, int(pgRoundUp(as.Sz)/mem.PGSIZE), true)
	}
	if pte, ok := as.Walk(TRAPFRAME, false); ok && pte.Valid() {
		as.Unmap(TRAPFRAME, 1, false)
	}
	if pte, ok := as.Walk(TRAMPOLINE, false); ok && pte.Valid() {
		as.Unmap(TRAMPOLINE, 1, false)
	}
	freewalk(as.P_pmap)
	as.Pmap = nil
}

// freewalk recursively frees every interior page table page reachable
// from pa, then pa itself. Any leaf still present at this point is a
// caller bug: Free is expected to have unmapped every leaf first.
func freewalk(pa mem.Pa_t) {
	pm := pgtab(pa)
	for i := range pm {
		pte := pm[i]
		if !pte.Valid() {
			continue
		}
		if pte.Leaf() {
			panic("vm: freewalk: leaf pte still present")
		}
		freewalk(pte.Pa())
		pm[i] = 0
	}
	mem.Phys.FreePage(pa)
}
