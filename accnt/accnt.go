// Package accnt tracks per-process CPU time. Each proc.Proc_t embeds an
// Accnt_t; proc's sleep hook calls Sleep_time for every sleep, and
// nothing else in the kernel charges it.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"util"
)

// Accnt_t accumulates one process's user and system time, in nanoseconds.
// The embedded mutex lets Fetch take a consistent snapshot while Add or
// another Fetch runs concurrently on a different hart.
type Accnt_t struct {
	Userns int64 // nanoseconds of user-mode time consumed
	Sysns  int64 // nanoseconds of kernel-mode time consumed
	sync.Mutex
}

// Utadd credits delta nanoseconds of user time.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd credits delta nanoseconds of system time. delta may be negative,
// used to back out time later reclassified as I/O or sleep wait.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

// Io_time backs time spent blocked on device I/O out of system time; since
// was the timestamp recorded when the wait began.
func (a *Accnt_t) Io_time(since int) {
	a.Systadd(-(a.Now() - since))
}

// Sleep_time backs time spent parked in proc's sleep hook out of system time;
// since was the timestamp recorded when the sleep began.
func (a *Accnt_t) Sleep_time(since int) {
	a.Systadd(-(a.Now() - since))
}

// Finish charges the time since inttime (the timestamp the current
// syscall or trap entered the kernel) to system time.
func (a *Accnt_t) Finish(inttime int) {
	a.Systadd(a.Now() - inttime)
}

// Add merges a child's exited accounting (n) into the parent's, the way
// wait4 folds a reaped zombie's usage into the caller's own rusage.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	a.Unlock()
}

// Fetch returns a consistent snapshot encoded as a struct rusage.
func (a *Accnt_t) Fetch() []uint8 {
	a.Lock()
	ru := a.To_rusage()
	a.Unlock()
	return ru
}

// To_rusage packs Userns/Sysns as two {sec, usec} timeval pairs, the
// layout struct rusage's ru_utime/ru_stime fields expect.
func (a *Accnt_t) To_rusage() []uint8 {
	const words = 4
	ret := make([]uint8, words*8)
	totv := func(nano int64) (int, int) {
		secs := int(nano / 1e9)
		usecs := int((nano % 1e9) / 1000)
		return secs, usecs
	}
	off := 0
	s, us := totv(a.Userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	s, us = totv(a.Sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	return ret
}
