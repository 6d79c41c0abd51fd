// Package elfload loads a RISC-V ELF executable's PT_LOAD segments into
// a fresh user address space, the exec-time half of spec.md §4.11's
// exec algorithm. Load validates the ELF header itself (magic, class,
// byte order, type, machine); opening the inode happens in the caller,
// which holds the filesystem transaction.
package elfload

import (
	"bytes"
	"debug/elf"

	"defs"
	"fdops"
	"fs"
	"mem"
	"vm"
)

// fsIface is the subset of *fs.Fs_t this package calls, narrowed to an
// interface so callers (and this package's own tests) can supply a
// fake filesystem.
type fsIface interface {
	Readi(ip *fs.Inode_t, dst fdops.Userio_i, off, n int) (int, defs.Err_t)
}

// byteUio is a plain-slice fdops.Userio_i, standing in for the kernel
// buffer a real exec would read an ELF image into before parsing it.
type byteUio struct {
	buf []byte
	off int
}

func (u *byteUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.buf[u.off:])
	u.off += n
	return n, 0
}
func (u *byteUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(u.buf[u.off:], src)
	u.off += n
	return n, 0
}
func (u *byteUio) Remain() int  { return len(u.buf) - u.off }
func (u *byteUio) Totalsz() int { return len(u.buf) }

func pgRoundDown(va uintptr) uintptr { return va &^ (mem.PGSIZE - 1) }
func pgRoundUp(va uintptr) uintptr   { return (va + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1) }

// Image is a parsed, loaded executable's exec-time parameters: where
// the trapframe's PC should resume, and the user size the loaded
// segments consumed (the starting point for the stack/heap region
// exec maps above it).
type Image struct {
	Entry uintptr
	Sz    uintptr
}

// Load reads ip's full contents, parses it as a RISC-V ELF executable,
// and maps every PT_LOAD segment into as: one or more freshly
// allocated, zeroed pages per segment, with the segment's file bytes
// copied in at their load address and the remainder (memsz beyond
// filesz, e.g. .bss) left zero.
func Load(fsys fsIface, ip *fs.Inode_t, as *vm.Vm_t) (Image, defs.Err_t) {
	raw := make([]byte, ip.Size)
	n, err := fsys.Readi(ip, &byteUio{buf: raw}, 0, len(raw))
	if err != 0 {
		return Image{}, err
	}
	raw = raw[:n]

	ef, perr := elf.NewFile(bytes.NewReader(raw))
	if perr != nil {
		return Image{}, defs.EINVAL
	}
	if ef.Class != elf.ELFCLASS64 || ef.Data != elf.ELFDATA2LSB {
		return Image{}, defs.EINVAL
	}
	if ef.Type != elf.ET_EXEC {
		return Image{}, defs.EINVAL
	}
	if ef.Machine != elf.EM_RISCV {
		return Image{}, defs.EINVAL
	}

	var maxend uintptr
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		vaddr := uintptr(p.Vaddr)
		memsz := uintptr(p.Memsz)
		filesz := uintptr(p.Filesz)

		start := pgRoundDown(vaddr)
		end := pgRoundUp(vaddr + memsz)
		npages := int((end - start) / mem.PGSIZE)
		for i := 0; i < npages; i++ {
			pa, ok := mem.Phys.AllocPage()
			if !ok {
				return Image{}, defs.ENOMEM
			}
			va := start + uintptr(i)*mem.PGSIZE
			if !as.MapPage(va, pa, vm.PteR|vm.PteW|vm.PteX|vm.PteU) {
				mem.Phys.FreePage(pa)
				return Image{}, defs.ENOMEM
			}
		}

		if filesz > 0 {
			off := uintptr(p.Off)
			if int(off+filesz) > len(raw) {
				return Image{}, defs.EINVAL
			}
			if werr := as.CopyOut(vaddr, raw[off:off+filesz]); werr != 0 {
				return Image{}, werr
			}
		}
		if end > maxend {
			maxend = end
		}
	}
	as.Sz = maxend
	return Image{Entry: uintptr(ef.Entry), Sz: maxend}, 0
}
