package defs

// Syscall numbers, matching spec.md §6 exactly. a7 carries the number.
const (
	SYS_FORK   = 1
	SYS_EXIT   = 2
	SYS_WAIT   = 3
	SYS_PIPE   = 4
	SYS_READ   = 5
	SYS_KILL   = 6
	SYS_EXEC   = 7
	SYS_FSTAT  = 8
	SYS_CHDIR  = 9
	SYS_DUP    = 10
	SYS_GETPID = 11
	SYS_SBRK   = 12
	SYS_SLEEP  = 13
	SYS_UPTIME = 14
	SYS_OPEN   = 15
	SYS_WRITE  = 16
	SYS_MKNOD  = 17
	SYS_UNLINK = 18
	SYS_LINK   = 19
	SYS_MKDIR  = 20
	SYS_CLOSE  = 21
)

// Open flags (bitmask), matching spec.md §6.
const (
	O_RDONLY = 0x000
	O_WRONLY = 0x001
	O_RDWR   = 0x002
	O_CREAT  = 0x200
	O_TRUNC  = 0x400
)

const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// Inode types, stored in the on-disk inode's Type field.
const (
	T_EMPTY = 0
	T_FILE  = 1
	T_DIR   = 2
	T_DEV   = 3
)

// Tid_t identifies a kernel thread; in this kernel each process has exactly
// one, so Tid_t and Pid_t are interchangeable but kept distinct in the type
// system the way the reference kernel keeps them distinct (it supports
// multiple threads per process; we do not, per spec.md Non-goals, but the
// distinction documents intent at call sites).
type Tid_t int

// Pid_t identifies a process (a process-table slot between ALLOCATED and
// the slot's reuse).
type Pid_t int
