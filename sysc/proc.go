package sysc

import (
	"encoding/binary"

	"defs"
	"lock"
	"proc"
	"trap"
	"ustr"
)

// sysFork clones the calling process. The parent sees the child's pid;
// the child's trapframe already carries a0 = 0 courtesy of proc.Fork.
// The child is left RUNNABLE: neither Fork nor this syscall starts a
// goroutine for it, so it runs only once some caller invokes RunOn on
// it, as proc's and sysc's own tests do for a forked child's first run.
// Nothing under cmd/ does so.
func sysFork(p *proc.Proc_t) (int, defs.Err_t) {
	child, err := p.Fork()
	if err != 0 {
		return 0, err
	}
	return int(child.Pid), 0
}

// sysExit tears the calling process down with a0 as its exit status,
// which the parent's wait collects; the trapframe is left untouched.
// Exit never returns to user mode, matching spec.md
// §4.12: "exit never returns".
func sysExit(p *proc.Proc_t, tf *trap.TrapFrame) {
	status := argInt(tf, 0)
	p.Exit(status)
}

// sysWait blocks until a child exits, writes its exit status to the
// address in a0 if non-zero, and returns the child's pid.
func sysWait(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	pid, status, err := p.Wait()
	if err != 0 {
		return 0, err
	}
	if addr := argAddr(tf, 0); addr != 0 {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(status))
		if cerr := p.Vm.CopyOut(addr, buf[:]); cerr != 0 {
			return 0, cerr
		}
	}
	return int(pid), 0
}

// sysKill marks the target pid killed, per spec.md §4.11's kill.
func sysKill(tf *trap.TrapFrame) (int, defs.Err_t) {
	pid := defs.Pid_t(argInt(tf, 0))
	if err := proc.Kill(pid); err != 0 {
		return 0, err
	}
	return 0, 0
}

// sysExec reads the path and argv out of user memory and replaces the
// calling process's address space with the named executable. An argv
// of NMAXARG or more entries, or any single argument of MAXARGLEN or
// more bytes (no room left for its NUL), fails the call rather than
// truncating it silently.
func sysExec(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	path, err := argStr(p, tf, 0, MAXPATH)
	if err != 0 {
		return 0, err
	}

	uargv := argAddr(tf, 1)
	var argv []ustr.Ustr
	for i := 0; i < NMAXARG; i++ {
		uarg, aerr := fetchAddr(p, uargv+uintptr(i)*8)
		if aerr != 0 {
			return 0, aerr
		}
		if uarg == 0 {
			break
		}
		arg, serr := fetchStr(p, uarg, MAXARGLEN)
		if serr != 0 {
			return 0, serr
		}
		argv = append(argv, arg)
		if i == NMAXARG-1 {
			return 0, defs.E2BIG
		}
	}

	if fsys == nil {
		return 0, defs.ENOSYS
	}
	if eerr := p.Exec(fsys, canonpath(p, path), argv); eerr != 0 {
		return 0, eerr
	}
	return 0, 0
}

// sysSbrk grows or shrinks the calling process's address space by n
// bytes (n may be negative) and returns the address space's size
// before the change, the conventional sbrk return value.
func sysSbrk(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	n := argInt(tf, 0)
	old := p.Vm.Sz
	if n >= 0 {
		if _, err := p.Vm.Alloc(old, old+uintptr(n)); err != 0 {
			return 0, err
		}
	} else {
		shrink := uintptr(-n)
		if shrink > old {
			shrink = old
		}
		p.Vm.Dealloc(old-shrink, old)
	}
	return int(old), 0
}

var sleepGuard lock.Spinlock_t

// sysSleep blocks the calling process for n ticks, or until it is
// killed, via trap.ClockSleep. A throwaway package-level spinlock
// stands in for the per-call guard ClockSleep expects; sleep has no
// actual data to protect, only a rendezvous point, matching the
// reference design's clock_sleep taking the tick lock for the same
// reason.
func sysSleep(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	n := argInt(tf, 0)
	if n < 0 {
		return 0, defs.EINVAL
	}
	isKilled := func() bool {
		return p.Killed
	}
	if !trap.ClockSleep(uint64(n), isKilled, &sleepGuard) {
		return 0, defs.EINTR
	}
	return 0, 0
}
