package proc

import (
	"encoding/binary"
	"sync"

	"accnt"
	"defs"
	"elfload"
	"fd"
	"fdops"
	"fs"
	"lock"
	"trap"
	"ustr"
	"vm"
)

// State is a process's scheduling state, matching spec.md §4.11's PCB
// state machine.
type State int

const (
	UNUSED State = iota
	EMBRYO
	RUNNABLE
	RUNNING
	SLEEPING
	ZOMBIE
)

// Proc_t is one process's kernel-visible state: its address space,
// trapframe, open files, and scheduling bookkeeping. Unlike the
// reference design there is no separate per-hart Cpu_t or swtch context
// — see cpu.go's package doc comment for how this package maps a PCB
// onto a goroutine instead.
type Proc_t struct {
	Pid  defs.Pid_t
	Name string

	State    State
	waitChan lock.Channel
	Killed   bool

	ExitStatus int

	Vm *vm.Vm_t
	Tf *trap.TrapFrame

	Fds []*fd.Fd_t
	Cwd *fd.Cwd_t

	Parent *Proc_t

	Accnt accnt.Accnt_t

	hartNest int
}

var (
	ptableMu   sync.Mutex
	ptableCond = sync.NewCond(&ptableMu)
	ptable     = map[defs.Pid_t]*Proc_t{}
	nextPid    = defs.Pid_t(1)

	initProc *Proc_t
)

// allocPid must be called with ptableMu held.
func allocPid() defs.Pid_t {
	pid := nextPid
	nextPid++
	return pid
}

// SetInit records p as the init process: the reparenting target for
// orphaned children, and the one process Exit refuses to kill.
func SetInit(p *Proc_t) { initProc = p }

// MkFirstProc creates the first process's PCB, with a fresh empty
// address space and no open files. The caller is expected to map a
// trapframe/stack and load an executable into it (the reference
// design's userinit) before running it.
func MkFirstProc(name string, nofile int) *Proc_t {
	as, ok := vm.MkVm()
	if !ok {
		panic("proc: out of memory for first process's page table")
	}
	p := &Proc_t{
		Name: name,
		Vm:   as,
		Tf:   &trap.TrapFrame{},
		Fds:  make([]*fd.Fd_t, nofile),
	}

	ptableMu.Lock()
	p.Pid = allocPid()
	p.State = RUNNABLE
	ptable[p.Pid] = p
	ptableMu.Unlock()
	return p
}

// RunOn binds the calling goroutine to p's identity for the duration of
// fn, acquiring one of the NCPU hart slots first and releasing it when
// fn returns. Every place user code (or a test standing in for it) runs
// "as" a process — trap dispatch, a syscall handler, a unit test —
// does so inside a RunOn call; a lock.Sleep anywhere under fn blocks
// this goroutine exactly where a real kernel thread would block, and
// resumes it exactly where wakeup would switch back to it.
func (p *Proc_t) RunOn(fn func()) {
	acquireHart()
	bindCurrentGoroutine(p)
	ptableMu.Lock()
	p.State = RUNNING
	ptableMu.Unlock()

	fn()

	unbindCurrentGoroutine()
	releaseHart()
}

func currentProc() *Proc_t {
	identityMu.Lock()
	p := identity[goroutineID()]
	identityMu.Unlock()
	return p
}

// Current returns the Proc_t bound to the calling goroutine by the
// RunOn call it is executing under. sysc's installed trap.SetSyscallHook
// callback only receives a *trap.TrapFrame, not a process pointer, so it
// resolves "who is making this syscall" through this accessor instead.
func Current() *Proc_t { return currentProc() }

// schedSleep is installed as lock's sleep hook: it releases guard only
// once it holds ptableMu (so no wakeup can fall between the two),
// marks the calling process SLEEPING on channel c, and blocks this
// goroutine until some schedWakeup(c) (or a Kill) makes it RUNNABLE
// again, then reacquires guard before returning, matching the contract
// every lock.Sleep caller (uart, pipe, wal, virtio) already relies on.
func schedSleep(c lock.Channel, guard *lock.Spinlock_t) {
	p := currentProc()
	since := p.Accnt.Now()
	releaseHart()

	ptableMu.Lock()
	guard.Release()
	p.State = SLEEPING
	p.waitChan = c
	for p.State == SLEEPING {
		ptableCond.Wait()
	}
	ptableMu.Unlock()

	acquireHart()
	p.Accnt.Sleep_time(since)
	guard.Acquire()
}

// schedWakeup is installed as lock's wakeup hook: every process
// SLEEPING on channel c becomes RUNNABLE, which lets its own blocked
// schedSleep call return.
func schedWakeup(c lock.Channel) {
	ptableMu.Lock()
	for _, p := range ptable {
		if p.State == SLEEPING && p.waitChan == c {
			p.State = RUNNABLE
		}
	}
	ptableCond.Broadcast()
	ptableMu.Unlock()
}

// InstallSchedHooks registers this package's sleep/wakeup as lock's
// scheduler hooks, the way boot wires the reference design's sleep/
// wakeup1 into every Sleeplock_t and Spinlock_t.
func InstallSchedHooks() {
	lock.SetSchedHooks(schedSleep, schedWakeup)
}

// Yield_ gives up p's hart slot and reacquires one, the hosted stand-in
// for the reference scheduler's "mark RUNNABLE, swtch to the scheduler,
// swtch back once rescheduled".
func (p *Proc_t) Yield_() {
	ptableMu.Lock()
	p.State = RUNNABLE
	ptableMu.Unlock()

	releaseHart()
	acquireHart()

	ptableMu.Lock()
	p.State = RUNNING
	ptableMu.Unlock()
}

// killed reports whether the current process has been killed, wired
// into trap.SetProcHooks.
func killed() bool {
	p := currentProc()
	ptableMu.Lock()
	defer ptableMu.Unlock()
	return p.Killed
}

func yield() { currentProc().Yield_() }

// InstallProcHooks wires this package's killed check and yield into
// trap's per-process hooks.
func InstallProcHooks() {
	trap.SetProcHooks(killed, yield)
}

// Kill marks pid killed and, if it is sleeping, wakes it so it can
// observe the kill and unwind, matching spec.md §4.11's kill.
func Kill(pid defs.Pid_t) defs.Err_t {
	ptableMu.Lock()
	defer ptableMu.Unlock()
	p, ok := ptable[pid]
	if !ok {
		return defs.ESRCH
	}
	p.Killed = true
	if p.State == SLEEPING {
		p.State = RUNNABLE
	}
	ptableCond.Broadcast()
	return 0
}

// Fork clones p's address space and open files into a new process,
// runnable but not yet started; the caller decides when (and on what
// goroutine) to RunOn the child. The child's trapframe is a copy of
// p's with a0 zeroed, spec.md §4.11's "fork returns 0 in the child".
func (p *Proc_t) Fork() (*Proc_t, defs.Err_t) {
	nas, err := p.Vm.Clone(p.Vm.Sz)
	if err != 0 {
		return nil, err
	}

	child := &Proc_t{
		Name:   p.Name,
		Vm:     nas,
		Parent: p,
	}
	ctf := *p.Tf
	ctf.A0 = 0
	child.Tf = &ctf

	child.Fds = make([]*fd.Fd_t, len(p.Fds))
	for i, f := range p.Fds {
		if f == nil {
			continue
		}
		nf, ferr := fd.Copyfd(f)
		if ferr != 0 {
			continue
		}
		child.Fds[i] = nf
	}
	if p.Cwd != nil {
		cwdfd, ferr := fd.Copyfd(p.Cwd.Fd)
		if ferr == 0 {
			child.Cwd = &fd.Cwd_t{Fd: cwdfd, Path: p.Cwd.Path.Clone()}
		}
	}

	ptableMu.Lock()
	child.Pid = allocPid()
	child.State = RUNNABLE
	ptable[child.Pid] = child
	ptableMu.Unlock()

	return child, 0
}

// execFS narrows *fs.Fs_t to what Exec needs (path resolution plus what
// elfload.Load itself needs to read the executable), so tests can
// supply a fake filesystem instead of a real disk/cache/log stack.
type execFS interface {
	Namex(cwd *fs.Inode_t, path ustr.Ustr, nameOut *ustr.Ustr, parent bool) (*fs.Inode_t, defs.Err_t)
	Ilock(ip *fs.Inode_t)
	Iunlock(ip *fs.Inode_t)
	Iput(ip *fs.Inode_t)
	Readi(ip *fs.Inode_t, dst fdops.Userio_i, off, n int) (int, defs.Err_t)
}

// stackTop is an arbitrary fixed ceiling for the user stack; MapUstack
// maps one page below it for the stack and leaves the page below that
// unmapped as an implicit guard.
const stackTop uintptr = 0x40000000

// Exec replaces p's address space with the program at path, the way
// spec.md §4.11 describes: resolve and validate the executable, build a
// fresh address space with the loaded segments plus a guard page and one
// stack page below stackTop, lay out argv on the stack, point the
// trapframe at the new entry point and stack pointer, then free the old
// address space. p keeps its pid, open files, and parent across Exec.
func (p *Proc_t) Exec(fsys execFS, path ustr.Ustr, argv []ustr.Ustr) defs.Err_t {
	canon := path
	if p.Cwd != nil {
		canon = p.Cwd.Canonicalpath(path)
	}

	ip, err := fsys.Namex(nil, canon, nil, false)
	if err != 0 {
		return err
	}
	fsys.Ilock(ip)
	if ip.Type != defs.T_FILE {
		fsys.Iunlock(ip)
		fsys.Iput(ip)
		return defs.EACCES
	}
	fsys.Iunlock(ip)

	nas, ok := vm.MkVm()
	if !ok {
		fsys.Iput(ip)
		return defs.ENOMEM
	}

	img, lerr := elfload.Load(fsys, ip, nas)
	fsys.Iput(ip)
	if lerr != 0 {
		nas.Free()
		return lerr
	}

	if verr := nas.MapUstack(stackTop); verr != 0 {
		nas.Free()
		return verr
	}

	sp, argc, aerr := layoutArgv(nas, argv)
	if aerr != 0 {
		nas.Free()
		return aerr
	}

	old := p.Vm
	p.Vm = nas
	p.Tf = &trap.TrapFrame{
		Epc: uint64(img.Entry),
		Sp:  uint64(sp),
		A0:  uint64(argc),
		A1:  uint64(sp),
	}
	old.Free()
	return 0
}

// layoutArgv writes argv's strings and a zero-terminated pointer array
// onto as's stack page, growing down from stackTop, and returns the
// resulting stack pointer (which doubles as the argv array's address)
// along with argc.
func layoutArgv(as *vm.Vm_t, argv []ustr.Ustr) (uintptr, int, defs.Err_t) {
	sp := stackTop
	addrs := make([]uintptr, len(argv))
	for i, a := range argv {
		buf := append(append([]byte{}, a...), 0)
		sp -= uintptr(len(buf))
		sp &^= 0xf
		if err := as.CopyOut(sp, buf); err != 0 {
			return 0, 0, err
		}
		addrs[i] = sp
	}

	ptrs := make([]byte, (len(addrs)+1)*8)
	for i, a := range addrs {
		binary.LittleEndian.PutUint64(ptrs[i*8:], uint64(a))
	}
	sp -= uintptr(len(ptrs))
	sp &^= 0xf
	if err := as.CopyOut(sp, ptrs); err != 0 {
		return 0, 0, err
	}
	return sp, len(argv), 0
}

// Exit tears down p: closes its files, releases its working directory,
// reparents its children to init, and marks it ZOMBIE with status so a
// Wait()ing parent can reap it. Per spec.md §4.11 the caller must not
// run any more of p's code after Exit returns; RunOn's fn is expected
// to return immediately afterward.
func (p *Proc_t) Exit(status int) {
	if p == initProc {
		panic("proc: init exited")
	}

	for _, f := range p.Fds {
		if f != nil {
			fd.Close_panic(f)
		}
	}
	if p.Cwd != nil && p.Cwd.Fd != nil {
		fd.Close_panic(p.Cwd.Fd)
	}

	ptableMu.Lock()
	for _, c := range ptable {
		if c.Parent == p {
			c.Parent = initProc
		}
	}
	p.ExitStatus = status
	p.State = ZOMBIE
	ptableCond.Broadcast()
	ptableMu.Unlock()
}

// Wait blocks until one of p's children exits, reaps it, and returns
// its pid and exit status. It returns ECHILD immediately if p has no
// children at all.
func (p *Proc_t) Wait() (defs.Pid_t, int, defs.Err_t) {
	ptableMu.Lock()
	defer ptableMu.Unlock()
	for {
		haveChild := false
		for _, c := range ptable {
			if c.Parent != p {
				continue
			}
			haveChild = true
			if c.State == ZOMBIE {
				pid := c.Pid
				st := c.ExitStatus
				delete(ptable, pid)
				return pid, st, 0
			}
		}
		if !haveChild {
			return 0, 0, defs.ECHILD
		}
		if p.Killed {
			return 0, 0, defs.EINTR
		}
		ptableCond.Wait()
	}
}
