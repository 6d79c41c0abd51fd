// Package trap implements the kernel's trap and interrupt dispatch: the
// scause-driven decision tree a real RISC-V kernel runs in its user and
// kernel trap handlers, the trapframe register-save layout the
// trampoline would build on real hardware, and the tick counter the
// timer interrupt drives. Since this kernel is hosted rather than
// running on real silicon, there is no trampoline assembly and no
// machine-mode timer handler to speak of — Tick plays the role the
// reference design's machine-mode timer handler and kernelvec/
// trampoline.S would otherwise play, and HandleUser/HandleKernel are
// called directly wherever a real kernel would instead trap into them.
package trap

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/arch/riscv64/riscv64asm"

	"lock"
)

// Scause values this kernel's dispatch recognizes. The interrupt bit
// (bit 63 on Sv39/64) distinguishes interrupts from exceptions; the low
// bits are the RISC-V privileged-spec cause codes.
const (
	interruptBit uint64 = 1 << 63

	ScauseSSoft        uint64 = interruptBit | 1 // supervisor software interrupt (our timer)
	ScauseSExt         uint64 = interruptBit | 9 // supervisor external interrupt (PLIC)
	ScauseUEcall       uint64 = 8                // ecall from user mode
	ScauseIllegalInstr uint64 = 2                // illegal instruction
)

// UART0IRQ and VIRTIO0IRQ are the PLIC interrupt source numbers this
// kernel's fixed device wiring assigns, matching the convention real
// RISC-V virt-machine device trees use.
const (
	UART0IRQ   = 10
	VIRTIO0IRQ = 1
)

// TrapFrame is the register save area built on a trap into the kernel.
// On real hardware the trampoline page constructs this in user memory
// before switching page tables; fields through KernelHartid are the
// kernel-side bookkeeping the return path needs, the rest the saved
// user integer registers.
type TrapFrame struct {
	KernelSatp   uint64
	KernelSp     uint64
	KernelTrap   uint64
	Epc          uint64
	KernelHartid uint64

	Ra, Sp, Gp, Tp         uint64
	T0, T1, T2             uint64
	S0, S1                 uint64
	A0, A1, A2, A3         uint64
	A4, A5, A6, A7         uint64
	S2, S3, S4, S5         uint64
	S6, S7, S8, S9         uint64
	S10, S11               uint64
	T3, T4, T5, T6         uint64
}

// AdmitEcall advances the saved PC past the ecall instruction that
// trapped, so re-entering the user program after a syscall continues
// with the instruction following it rather than retrying the ecall.
func (tf *TrapFrame) AdmitEcall() { tf.Epc += 4 }

// Scause reads the trap cause a hart last recorded. A real kernel reads
// the scause CSR directly; this hosted one is handed the cause value by
// its caller (see HandleUser/HandleKernel), so Scause exists only to
// name the bit layout in one place for callers building test cases.
func Scause(raw uint64) uint64 { return raw }

var (
	syscallHook      func(tf *TrapFrame)
	killedHook       func() bool
	yieldHook        func()
	plicClaimHook    func() uint
	plicCompleteHook func(uint)
	uartIntrHook     func()
	virtioIntrHook   func()
)

// SetSyscallHook records the syscall dispatch entry point (sysc's
// Syscall), called on a user ecall with interrupts enabled.
func SetSyscallHook(f func(tf *TrapFrame)) { syscallHook = f }

// SetProcHooks records proc's per-process killed check and the
// scheduler's yield entry point.
func SetProcHooks(killed func() bool, yield func()) {
	killedHook = killed
	yieldHook = yield
}

// SetPlicHooks records the PLIC claim/complete entry points.
func SetPlicHooks(claim func() uint, complete func(uint)) {
	plicClaimHook = claim
	plicCompleteHook = complete
}

// SetDeviceHooks records the UART and virtio interrupt handlers a
// claimed external interrupt is routed to.
func SetDeviceHooks(uartIntr, virtioIntr func()) {
	uartIntrHook = uartIntr
	virtioIntrHook = virtioIntr
}

// instrFetchHook reads the 4 raw bytes at a kernel or user virtual
// address, the way a real trap handler would read the faulting
// instruction word out of the address Epc names. Hosted boot wires
// this against vm.Vm_t.CopyIn; without it, an illegal-instruction
// panic can still name the address but not disassemble the opcode.
var instrFetchHook func(addr uint64) ([4]byte, bool)

// SetInstrFetchHook records the instruction-fetch entry point used to
// decode the faulting instruction on an illegal-instruction trap.
func SetInstrFetchHook(f func(addr uint64) ([4]byte, bool)) { instrFetchHook = f }

// decodeIllegal renders the faulting instruction at tf.Epc, using
// riscv64asm to turn the raw word into the mnemonic a human reading a
// panic trace can recognize, the same decode step the reference
// kernel's own disassembler-backed panic path performs.
func decodeIllegal(tf *TrapFrame) string {
	if instrFetchHook == nil {
		return fmt.Sprintf("illegal instruction at pc=0x%x (no instruction fetch hook installed)", tf.Epc)
	}
	raw, ok := instrFetchHook(tf.Epc)
	if !ok {
		return fmt.Sprintf("illegal instruction at pc=0x%x (fetch faulted)", tf.Epc)
	}
	inst, err := riscv64asm.Decode(raw[:])
	if err != nil {
		return fmt.Sprintf("illegal instruction at pc=0x%x, raw=%#08x (%v)", tf.Epc, raw, err)
	}
	return fmt.Sprintf("illegal instruction at pc=0x%x: %s", tf.Epc, inst.String())
}

var (
	ticklk lock.Spinlock_t
	ticks  uint64
)

// tickChan is the sleep address clock_sleep waits on and each timer
// interrupt wakes: any stable address both sides can name works, since
// lock.Channel never dereferences it.
var tickChan = lock.Channel(&ticks)

// Ticks returns the number of timer interrupts observed since boot.
func Ticks() uint64 { return atomic.LoadUint64(&ticks) }

// tick advances the tick counter and wakes every hart sleeping on it.
// Only hart 0 calls this, matching the reference design's
// "CpuManager::cpu_id() == 0" gate — every hart takes timer interrupts,
// but only one of them should drive the shared counter forward.
func tick() {
	ticklk.Acquire()
	ticks++
	ticklk.Release()
	lock.Wakeup(tickChan)
}

// ClockSleep blocks the calling hart until n further ticks have
// elapsed or isKilled reports true, matching on each wakeup. It returns
// false if it woke up because the process was killed.
func ClockSleep(n uint64, isKilled func() bool, guard *lock.Spinlock_t) bool {
	guard.Acquire()
	start := Ticks()
	for Ticks()-start < n {
		if isKilled != nil && isKilled() {
			guard.Release()
			return false
		}
		lock.Sleep(tickChan, guard)
	}
	guard.Release()
	return true
}

// handleExternal claims, routes, and completes one PLIC interrupt. It
// is shared by HandleUser and HandleKernel: a RISC-V external interrupt
// is handled identically regardless of which mode trapped.
func handleExternal() {
	if plicClaimHook == nil {
		return
	}
	irq := plicClaimHook()
	switch irq {
	case UART0IRQ:
		if uartIntrHook != nil {
			uartIntrHook()
		}
	case VIRTIO0IRQ:
		if virtioIntrHook != nil {
			virtioIntrHook()
		}
	}
	if irq > 0 && plicCompleteHook != nil {
		plicCompleteHook(irq)
	}
}

// HandleUser dispatches a trap taken from user mode. onHart0 tells the
// caller whether the current hart is hart 0, the only one that drives
// the shared tick counter forward, matching the reference kernel's
// single-updater rule.
func HandleUser(scause uint64, tf *TrapFrame, onHart0 bool) {
	switch scause {
	case ScauseUEcall:
		tf.AdmitEcall()
		if syscallHook != nil {
			syscallHook(tf)
		}
	case ScauseSExt:
		handleExternal()
	case ScauseSSoft:
		if onHart0 {
			tick()
		}
		if yieldHook != nil {
			yieldHook()
		}
	case ScauseIllegalInstr:
		panic(decodeIllegal(tf))
	default:
		if killedHook != nil && killedHook() {
			return // process was already marked killed; let its caller tear it down
		}
		panic(fmt.Sprintf("trap: unhandled user trap, scause=%#x", scause))
	}
}

// HandleKernel dispatches a trap taken while already in the kernel.
// Only external and software interrupts are legal here; anything else
// is a kernel bug.
func HandleKernel(scause uint64, onHart0 bool) {
	switch scause {
	case ScauseSExt:
		handleExternal()
	case ScauseSSoft:
		if onHart0 {
			tick()
		}
		if yieldHook != nil {
			yieldHook()
		}
	default:
		panic("trap: fatal trap in kernel mode")
	}
}
