package lock

import (
	"runtime"
	"sync/atomic"

	"caller"
)

// Spinlock_t is an (atomic boolean, owner hart id, debug name) tuple. The
// boolean is true iff some hart owns the lock; the owner field is that
// hart's id while held, NoHart otherwise. Acquire disables interrupts on
// the current hart; Release restores them when the outermost nested
// acquisition releases. Zero value is a valid, unheld lock.
type Spinlock_t struct {
	taken int32
	owner int32
	Name  string
}

// MkSpinlock returns a named, unheld spinlock. The name is cosmetic, used
// only in panic messages when an invariant is violated.
func MkSpinlock(name string) *Spinlock_t {
	return &Spinlock_t{owner: NoHart, Name: name}
}

// Acquire disables interrupts on the calling hart and spins until the lock
// is free, then takes it.
func (l *Spinlock_t) Acquire() {
	h := callerHart()
	h.Pushcli()
	if atomic.LoadInt32(&l.taken) == 1 && atomic.LoadInt32(&l.owner) == int32(h.Hartid()) {
		h.Popcli()
		caller.Fatal("recursive acquire of spinlock " + l.Name)
	}
	for !atomic.CompareAndSwapInt32(&l.taken, 0, 1) {
		// Go has no real busy-wait-forever primitive that doesn't starve
		// the OS thread backing this hart; yield it to another runnable
		// goroutine between CAS attempts.
		runtime.Gosched()
	}
	atomic.StoreInt32(&l.owner, int32(h.Hartid()))
}

// Release restores the calling hart's interrupt-enable state by one
// nesting level. Panics if the calling hart does not hold the lock.
func (l *Spinlock_t) Release() {
	h := callerHart()
	if atomic.LoadInt32(&l.taken) != 1 || atomic.LoadInt32(&l.owner) != int32(h.Hartid()) {
		caller.Fatal("release of spinlock " + l.Name + " not held by this hart")
	}
	atomic.StoreInt32(&l.owner, int32(NoHart))
	atomic.StoreInt32(&l.taken, 0)
	h.Popcli()
}

// Holding reports whether the calling hart holds the lock.
func (l *Spinlock_t) Holding() bool {
	return atomic.LoadInt32(&l.taken) == 1 && atomic.LoadInt32(&l.owner) == int32(callerHart().Hartid())
}
