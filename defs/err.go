package defs

// Err_t is the kernel's error-or-success return type. Zero is success;
// a nonzero (positive) value is an errno-like code. Every component operation that
// can fail for a non-fatal, user-triggerable reason returns one of these
// instead of a Go error, matching the reference kernel's convention (see
// e.g. Bdev_block_t's Disk_i.Start or Vm_t.Userdmap8_inner) so the
// syscall layer can pass the value straight back to a0 on return.
//
//go:generate stringer -type=Err_t
type Err_t int

// Errno values. Numbering matches what a RISC-V Unix-like user C library
// (e.g. xv6's user/user.h) expects to find on the stack after a syscall.
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	ESRCH        Err_t = 3
	EINTR        Err_t = 4
	EIO          Err_t = 5
	ENXIO        Err_t = 6
	E2BIG        Err_t = 7
	EBADF        Err_t = 9
	ECHILD       Err_t = 10
	EAGAIN       Err_t = 11
	ENOMEM       Err_t = 12
	EACCES       Err_t = 13
	EFAULT       Err_t = 14
	ENOTBLK      Err_t = 15
	EBUSY        Err_t = 16
	EEXIST       Err_t = 17
	EXDEV        Err_t = 18
	ENODEV       Err_t = 19
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	ENFILE       Err_t = 23
	EMFILE       Err_t = 24
	ENOTTY       Err_t = 25
	EFBIG        Err_t = 27
	ENOSPC       Err_t = 28
	ESPIPE       Err_t = 29
	EROFS        Err_t = 30
	EMLINK       Err_t = 31
	EPIPE        Err_t = 32
	ENAMETOOLONG Err_t = 36
	ENOTEMPTY    Err_t = 39
	ENOSYS       Err_t = 38
	ENOHEAP      Err_t = 48 // kernel-internal: out of kernel heap, never reaches user space uninterpreted
)

// Rc packages a return value and an Err_t the way a syscall handler hands
// its result to the trapframe: on error a0 becomes -1 and the errno would
// normally travel out of band (errno global in libc); the kernel side only
// needs to know success/failure plus the value to place in a0.
func (e Err_t) Rc(val int) int {
	if e != 0 {
		return -1
	}
	return val
}
