// Package sysc implements the syscall dispatch spec.md §4.12 describes:
// the a0..a5/a7 register convention an ecall trap arrives with, the
// argument-fetching helpers every handler builds on, and the ~21
// syscall bodies themselves, each delegating to the component package
// that actually owns the operation (proc for fork/exit/wait/kill/exec,
// fs/file/pipe for the filesystem and I/O calls). Install wires this
// package's dispatcher into trap.SetSyscallHook, the one registration
// point trap/trap.go leaves for a higher layer to fill.
package sysc

import (
	"encoding/binary"

	"defs"
	"fd"
	"fdops"
	"fs"
	"proc"
	"stat"
	"trap"
	"ustr"
)

// MAXPATH and MAXARGLEN bound how many bytes a path or a single exec
// argument may occupy once copied into a kernel buffer; NMAXARG bounds
// how many argv pointers exec will walk before giving up. None of
// these are defined elsewhere in the tree (grepped defs/, limits/,
// fs/): the reference design this is grounded on (xv6-style
// consts::{MAXPATH, MAXARG, MAXARGLEN}) keeps them as syscall-layer
// constants rather than filesystem limits, since nothing below this
// layer needs to know them.
const (
	MAXPATH   = 128
	MAXARGLEN = 128
	NMAXARG   = 32
)

// fsIface narrows *fs.Fs_t to what the syscall handlers call (plus what
// proc.Proc_t.Exec and file.MkFile each need from a filesystem), so a
// test can swap in a fake one without a real disk/cache/log stack.
type fsIface interface {
	Namex(cwd *fs.Inode_t, path ustr.Ustr, nameOut *ustr.Ustr, parent bool) (*fs.Inode_t, defs.Err_t)
	Create(cwd *fs.Inode_t, path ustr.Ustr, typ uint, major, minor uint, reuse bool) (*fs.Inode_t, defs.Err_t)
	Ilock(ip *fs.Inode_t)
	Iunlock(ip *fs.Inode_t)
	Iput(ip *fs.Inode_t)
	Iupdate(ip *fs.Inode_t)
	Stat(ip *fs.Inode_t, st *stat.Stat_t)
	Truncate(ip *fs.Inode_t)
	Unlink(dp *fs.Inode_t, name ustr.Ustr) defs.Err_t
	DirLink(dp *fs.Inode_t, name ustr.Ustr, inum int) defs.Err_t
	Readi(ip *fs.Inode_t, dst fdops.Userio_i, off, n int) (int, defs.Err_t)
	Writei(ip *fs.Inode_t, src fdops.Userio_i, off, n int) (int, defs.Err_t)
}

// fsys is the filesystem the dispatcher resolves paths against. Tests
// install a fake one directly; a real boot installs the mounted
// fs.Fs_t via InstallFS.
var fsys fsIface

// InstallFS records the mounted filesystem the open/stat/chdir/mknod/
// unlink/link/mkdir handlers operate on. cmd/simhost calls this once,
// after fs.MkFS has replayed the log and mounted the root.
func InstallFS(f fsIface) { fsys = f }

// Install wires Syscall into trap's syscall hook, the way boot installs
// every other component's hook (lock.SetHartProvider,
// trap.SetProcHooks, and so on).
func Install() { trap.SetSyscallHook(Syscall) }

// argInt reads the n'th syscall argument (0-indexed, a0..a5) as a
// signed integer.
func argInt(tf *trap.TrapFrame, n int) int {
	return int(int64(argRaw(tf, n)))
}

// argRaw reads the n'th syscall argument's raw 64-bit register value.
func argRaw(tf *trap.TrapFrame, n int) uint64 {
	switch n {
	case 0:
		return tf.A0
	case 1:
		return tf.A1
	case 2:
		return tf.A2
	case 3:
		return tf.A3
	case 4:
		return tf.A4
	case 5:
		return tf.A5
	default:
		panic("sysc: argument index out of range")
	}
}

// argAddr reads the n'th argument as a user virtual address.
func argAddr(tf *trap.TrapFrame, n int) uintptr {
	return uintptr(argRaw(tf, n))
}

// argFd reads the n'th argument as a file descriptor, validating it
// names an open slot in p's file table (0 <= fd < len(p.Fds), slot
// occupied) before returning it.
func argFd(p *proc.Proc_t, tf *trap.TrapFrame, n int) (int, *fd.Fd_t, defs.Err_t) {
	fdn := argInt(tf, n)
	if fdn < 0 || fdn >= len(p.Fds) || p.Fds[fdn] == nil {
		return 0, nil, defs.EBADF
	}
	return fdn, p.Fds[fdn], 0
}

// fetchAddr reads a uintptr-sized value out of user memory at uva,
// the shape exec uses to walk an argv pointer array one entry at a
// time.
func fetchAddr(p *proc.Proc_t, uva uintptr) (uintptr, defs.Err_t) {
	var buf [8]byte
	if err := p.Vm.CopyIn(uva, buf[:]); err != 0 {
		return 0, err
	}
	return uintptr(binary.LittleEndian.Uint64(buf[:])), 0
}

// fetchStr copies a NUL-terminated string out of user memory at uva
// into a kernel buffer of at most max bytes, returning ENAMETOOLONG if
// no NUL turns up in range.
func fetchStr(p *proc.Proc_t, uva uintptr, max int) (ustr.Ustr, defs.Err_t) {
	buf := make([]byte, max)
	n, err := p.Vm.CopyInStr(uva, buf)
	if err != 0 {
		return nil, err
	}
	if n == max {
		return nil, defs.ENAMETOOLONG
	}
	return ustr.MkUstrSlice(buf[:n]), 0
}

// argStr fetches the n'th argument as a user address and reads the
// NUL-terminated path string it points at.
func argStr(p *proc.Proc_t, tf *trap.TrapFrame, n int, max int) (ustr.Ustr, defs.Err_t) {
	return fetchStr(p, argAddr(tf, n), max)
}

// canonpath resolves path against p's current working directory the
// way proc.Exec resolves the program path it is handed, so every
// path-taking handler sees the same absolute-path semantics exec does.
func canonpath(p *proc.Proc_t, path ustr.Ustr) ustr.Ustr {
	if p.Cwd != nil {
		return p.Cwd.Canonicalpath(path)
	}
	return path
}

// allocFd finds a free slot in p's file table, returning EMFILE if
// none remain.
func allocFd(p *proc.Proc_t) (int, defs.Err_t) {
	for i, f := range p.Fds {
		if f == nil {
			return i, 0
		}
	}
	return 0, defs.EMFILE
}

// Syscall is the dispatcher trap.SetSyscallHook installs: it resolves
// the calling process, reads the syscall number from a7, runs the
// matching handler, and writes the result (or -1 on error) back to a0,
// exactly spec.md §4.12's "a0 on return holds the result; -1 on
// error" convention. An unknown a7 is a programming/invariant
// violation (spec.md §7), so it panics rather than returning an error
// code a well-formed caller could never have produced.
func Syscall(tf *trap.TrapFrame) {
	p := proc.Current()
	switch tf.A7 {
	case defs.SYS_FORK:
		tf.A0 = rc(sysFork(p))
	case defs.SYS_EXIT:
		sysExit(p, tf)
		return
	case defs.SYS_WAIT:
		tf.A0 = rc(sysWait(p, tf))
	case defs.SYS_PIPE:
		tf.A0 = rc(sysPipe(p, tf))
	case defs.SYS_READ:
		tf.A0 = rc(sysRead(p, tf))
	case defs.SYS_KILL:
		tf.A0 = rc(sysKill(tf))
	case defs.SYS_EXEC:
		tf.A0 = rc(sysExec(p, tf))
	case defs.SYS_FSTAT:
		tf.A0 = rc(sysFstat(p, tf))
	case defs.SYS_CHDIR:
		tf.A0 = rc(sysChdir(p, tf))
	case defs.SYS_DUP:
		tf.A0 = rc(sysDup(p, tf))
	case defs.SYS_GETPID:
		tf.A0 = uint64(p.Pid)
	case defs.SYS_SBRK:
		tf.A0 = rc(sysSbrk(p, tf))
	case defs.SYS_SLEEP:
		tf.A0 = rc(sysSleep(p, tf))
	case defs.SYS_UPTIME:
		tf.A0 = uint64(trap.Ticks())
	case defs.SYS_OPEN:
		tf.A0 = rc(sysOpen(p, tf))
	case defs.SYS_WRITE:
		tf.A0 = rc(sysWrite(p, tf))
	case defs.SYS_MKNOD:
		tf.A0 = rc(sysMknod(p, tf))
	case defs.SYS_UNLINK:
		tf.A0 = rc(sysUnlink(p, tf))
	case defs.SYS_LINK:
		tf.A0 = rc(sysLink(p, tf))
	case defs.SYS_MKDIR:
		tf.A0 = rc(sysMkdir(p, tf))
	case defs.SYS_CLOSE:
		tf.A0 = rc(sysClose(p, tf))
	default:
		panic("sysc: unknown syscall number")
	}
}

// rc packs a (value, Err_t) handler result into the -1-on-error
// register convention Syscall writes to a0.
func rc(val int, err defs.Err_t) uint64 {
	if err != 0 {
		return uint64(int64(-1))
	}
	return uint64(int64(val))
}
