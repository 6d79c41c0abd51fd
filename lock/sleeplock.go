package lock

import "unsafe"

// Sleeplock_t is a (spinlock, taken flag) pair. The taken flag doubles as
// the wait channel: contenders block on its address until it clears. Use
// a sleeplock instead of a spinlock when the critical section can take
// long enough that spinning would waste a hart (disk I/O, inode content).
type Sleeplock_t struct {
	inner Spinlock_t
	taken bool
	Name  string
}

// MkSleeplock returns a named, unheld sleeplock.
func MkSleeplock(name string) *Sleeplock_t {
	return &Sleeplock_t{inner: Spinlock_t{owner: NoHart, Name: name + "_inner"}, Name: name}
}

func (l *Sleeplock_t) chan_() Channel {
	return Channel(unsafe.Pointer(&l.taken))
}

// Acquire may suspend the caller. It takes the inner spinlock; while the
// taken flag is set, it sleeps on the flag's address, which atomically
// drops the inner spinlock for the duration of the sleep. On each wake it
// rechecks the flag; when it observes false it claims the lock and
// returns holding nothing but the sleeplock itself.
func (l *Sleeplock_t) Acquire() {
	l.inner.Acquire()
	for l.taken {
		sleepOn(l.chan_(), &l.inner)
	}
	l.taken = true
	l.inner.Release()
}

// Release takes the inner spinlock, clears the taken flag, and wakes every
// sleeper waiting on the flag's address.
func (l *Sleeplock_t) Release() {
	l.inner.Acquire()
	l.taken = false
	l.inner.Release()
	wakeupOn(l.chan_())
}

// Holding reports whether the lock is currently taken by anyone. Unlike a
// spinlock, a sleeplock does not track which hart holds it, since the
// holder may have parked a goroutine other than the one asking.
func (l *Sleeplock_t) Holding() bool {
	l.inner.Acquire()
	t := l.taken
	l.inner.Release()
	return t
}
