// Package proc implements the process table, scheduler, and the
// fork/exec/exit/wait/kill operations spec.md §4.11 describes.
//
// Mapping kernel threads onto Go: spec.md assumes a language that can
// save and restore a callee-saved register context (the reference
// design's hand-written swtch). Go exposes no such primitive to
// ordinary packages, so this package maps it as follows: whatever
// goroutine runs a process's code (trap dispatch, a syscall, a test)
// does so inside Proc_t.RunOn, which binds that goroutine to the
// process's identity and takes one of NCPU hart slots for the
// duration. A lock.Sleep performed anywhere inside RunOn's fn parks
// that same goroutine on a condition variable exactly where the
// spec's scheduler would context-switch away, and resumes it exactly
// where the spec's scheduler would switch back — a blocked goroutine
// is a blocked kernel thread, not an async callback. The NCPU-sized
// buffered channel of tokens stands in for the spec's "one PCB per
// hart" invariant without a literal per-hart scheduler loop: acquiring
// a token is "being scheduled onto a hart", releasing one is "yielding
// it back".
//
// Hart identity: lock.Spinlock_t needs a stable, unique owner id per
// concurrently-running holder, used only to detect recursive acquire
// and to drive the interrupt-disable nesting counter — it never needs
// to be a literal hart number 0..NCPU-1. Since this kernel gives every
// process exactly one Pid for its whole life, that pid already is such
// an id; Proc_t implements lock.Hart directly rather than introducing
// a separate Cpu_t, and a small goroutine-id-keyed registry (the only
// way a hosted Go program can recover "which goroutine is this"
// without real per-hart register state) resolves the calling goroutine
// back to its Proc_t.
package proc

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"lock"
)

// NCPU bounds how many process kernel threads may be simultaneously
// RUNNING, matching the reference design's fixed hart count.
const NCPU = 4

var hartSlots = make(chan struct{}, NCPU)

func init() {
	for i := 0; i < NCPU; i++ {
		hartSlots <- struct{}{}
	}
}

func acquireHart() { <-hartSlots }
func releaseHart() { hartSlots <- struct{}{} }

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

var (
	identityMu sync.Mutex
	identity   = map[uint64]*Proc_t{}
)

// bindCurrentGoroutine associates the calling goroutine with p, so
// every lock.Acquire it performs resolves to p's identity. Called once
// when p's kernel-thread goroutine starts running (including the boot
// goroutine, bound to a synthetic "process").
func bindCurrentGoroutine(p *Proc_t) {
	identityMu.Lock()
	identity[goroutineID()] = p
	identityMu.Unlock()
}

func unbindCurrentGoroutine() {
	identityMu.Lock()
	delete(identity, goroutineID())
	identityMu.Unlock()
}

func callerProc() lock.Hart {
	identityMu.Lock()
	p := identity[goroutineID()]
	identityMu.Unlock()
	if p == nil {
		panic("proc: lock touched from a goroutine with no bound process identity")
	}
	return p
}

// InstallHartProvider registers this package's identity lookup as
// lock's hart provider and binds the calling goroutine (boot) to a
// placeholder process identity, the way the reference kernel's boot
// hart acquires locks before any real process exists.
func InstallHartProvider() {
	lock.SetHartProvider(callerProc)
	bindCurrentGoroutine(&Proc_t{Pid: -1, Name: "boot"})
}

func (p *Proc_t) Hartid() int { return int(p.Pid) }
func (p *Proc_t) Pushcli()    { p.hartNest++ }
func (p *Proc_t) Popcli()     { p.hartNest-- }
