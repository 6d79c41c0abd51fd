// Package lock implements the kernel's two lock primitives: Spinlock_t, a
// busy-wait mutex that disables interrupts on the owning hart, and
// Sleeplock_t, built atop a spinlock, for critical sections long enough to
// warrant rescheduling instead of spinning.
//
// lock is a leaf package: it must not import proc, since proc is the thing
// that acquires and releases locks. Everything it needs from the scheduler
// — "who am I", "disable/enable my interrupts", "suspend me on this
// channel until woken" — is supplied through registration hooks the proc
// package installs once during boot, the same indirection the reference
// kernel used for Cpumap (APIC-id translation registered into vm).
package lock

import "unsafe"

// NoHart is the owner sentinel for a free spinlock.
const NoHart = -1

// Hart is the minimal per-hart state a spinlock needs: an identity and an
// interrupt-disable nesting counter. proc's Proc_t implements this.
type Hart interface {
	Hartid() int
	Pushcli()
	Popcli()
}

var myhart func() Hart

// SetHartProvider records the hook used to find the calling hart. proc
// calls this once, early in boot, before any lock not on the boot path is
// touched.
func SetHartProvider(f func() Hart) {
	myhart = f
}

func callerHart() Hart {
	if myhart == nil {
		panic("lock: no hart provider registered")
	}
	return myhart()
}

// Channel identifies a sleep address: some stable memory location both the
// sleeper and the waker can name without sharing any other state.
type Channel unsafe.Pointer

var sleepHook func(Channel, *Spinlock_t)
var wakeupHook func(Channel)

// SetSchedHooks records the scheduler's sleep/wakeup entry points.
// sleep must atomically drop guard and suspend the caller until a wakeup
// names the same channel, and reacquire guard before returning —
// Sleeplock_t.Acquire rechecks its taken flag holding the inner spinlock
// that sleep hands back.
func SetSchedHooks(sleep func(Channel, *Spinlock_t), wakeup func(Channel)) {
	sleepHook = sleep
	wakeupHook = wakeup
}

func sleepOn(c Channel, guard *Spinlock_t) {
	if sleepHook == nil {
		panic("lock: no sched hooks registered")
	}
	sleepHook(c, guard)
}

func wakeupOn(c Channel) {
	if wakeupHook == nil {
		// Without hooks nothing can be asleep (sleepOn panics first), so
		// there is nobody to wake.
		return
	}
	wakeupHook(c)
}

// Sleep suspends the calling hart on channel c until a matching Wakeup,
// atomically releasing guard for the duration. Exported for the other
// leaf-ish packages (trap's tick wait, wal's begin-op admission wait,
// the pipe, uart, console and virtio buffer waits) that need the same channel-sleep primitive Sleeplock_t uses
// internally, without each reimplementing the hook indirection.
func Sleep(c Channel, guard *Spinlock_t) { sleepOn(c, guard) }

// Wakeup wakes every hart sleeping on channel c.
func Wakeup(c Channel) { wakeupOn(c) }
