// Package limits centralizes the system-wide resource ceilings referenced
// throughout the kernel: process table slots, open files, buffer-cache
// frames, inode-cache entries, log capacity, virtio descriptors, and pipe
// bytes. The reference kernel kept these as a Syslimit_t singleton with
// atomically-adjusted Sysatomic_t counters; this package keeps that shape,
// trimmed to the resources spec.md's component list actually exhausts.
package limits

import "sync/atomic"

// Lhits counts how many times some Sysatomic_t has refused an allocation,
// exported for diagnostics the way the reference kernel tracked it.
var Lhits int64

// Sysatomic_t is a numeric limit that can be atomically taken and given
// back, used for any resource exhaustion point that must fail a syscall
// (−1) rather than panic.
type Sysatomic_t int64

// Taken tries to decrement the counter by n. It returns false, leaving the
// counter unchanged, if doing so would take it negative.
func (s *Sysatomic_t) Taken(n uint) bool {
	if atomic.AddInt64((*int64)(s), -int64(n)) >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), int64(n))
	atomic.AddInt64(&Lhits, 1)
	return false
}

// Given increases the counter by n, returning a resource to the pool.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64((*int64)(s), int64(n))
}

// Take is shorthand for Taken(1).
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Give is shorthand for Given(1).
func (s *Sysatomic_t) Give() { s.Given(1) }

// Syslimit_t holds the fixed pool sizes and the live counters drawn from
// them. Pool sizes are constant after boot; counters start equal to their
// pool size and are taken/given as resources are claimed/released.
type Syslimit_t struct {
	Nproc  int // process table slots
	Nofile int // open file descriptors per process
	Nbuf   int // buffer-cache frames
	Ninode int // inode-cache entries
	Nlog   int // log area size, in blocks
	Ndesc  int // virtio virtqueue descriptors
	Pipesz int // pipe ring-buffer capacity, in bytes

	Files  Sysatomic_t // global open-file-table slots remaining
	Inodes Sysatomic_t // inode-cache slots remaining
	Bufs   Sysatomic_t // buffer-cache frames remaining
}

// Syslimit holds the configured system-wide limits for this boot.
var Syslimit *Syslimit_t = MkSysLimit()

// MkSysLimit returns the default limit set.
func MkSysLimit() *Syslimit_t {
	s := &Syslimit_t{
		Nproc:  64,
		Nofile: 16,
		Nbuf:   64,
		Ninode: 64,
		Nlog:   30,
		Ndesc:  8,
		Pipesz: 512,
	}
	s.Files = Sysatomic_t(s.Nproc * s.Nofile)
	s.Inodes = Sysatomic_t(s.Ninode)
	s.Bufs = Sysatomic_t(s.Nbuf)
	return s
}
