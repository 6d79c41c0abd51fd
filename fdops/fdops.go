// Package fdops declares the interfaces that connect an open file
// descriptor (fd.Fd_t) to whatever backs it — a regular file's inode, a
// pipe's ring buffer, or the console device — without those backends
// importing fd, and without fd needing to know which kind of backend it
// holds.
package fdops

import (
	"defs"
	"stat"
)

// Userio_i abstracts a source or destination for a data transfer: real
// user memory (vm.Userbuf_t), a plain Go byte slice standing in for it
// (vm.Fakeubuf_t), or any other span callers want Read/Write to move
// bytes into or out of without caring which.
type Userio_i interface {
	// Uioread copies data out of the underlying source into dst.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Uiowrite copies src into the underlying destination.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Remain reports how many bytes are left untransferred.
	Remain() int
	// Totalsz reports the transfer's total size.
	Totalsz() int
}

// Fdops_i is the set of operations every open file descriptor supports,
// regardless of what it is backed by. Read and Write move bytes through
// a Userio_i rather than a plain slice so the same implementation serves
// both real syscalls (user memory) and in-kernel callers (a
// Fakeubuf_t) identically.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(*stat.Stat_t) defs.Err_t
	Lseek(off int, whence int) (int, defs.Err_t)
	Read(dst Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
	Truncate(newlen uint) defs.Err_t
	Write(src Userio_i) (int, defs.Err_t)
}
