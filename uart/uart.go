// Package uart implements the 16550 UART driver: register initialization,
// a blocking PutcSync used by the console for echo and output, an
// asynchronous Putc that queues through a spinlocked transmit ring, and
// the interrupt handler that drains both directions. Since this kernel
// runs hosted rather than owning real MMIO, the register file is a
// plain byte array a host-side Feed call and an optional Sink hook
// stand in for the receive and transmit wires a real boot would have.
package uart

import (
	"unsafe"

	"lock"
	"ring"
)

const txBufSize = 32

// Uart_t is one UART device instance.
type Uart_t struct {
	lk   lock.Spinlock_t
	tx   *ring.Ring_t
	regs [8]byte

	// Sink receives each byte this device transmits, standing in for
	// the wire a real UART would drive; the console's host terminal
	// hooks in here.
	Sink func(byte)
	// RecvIntr is called, under no lock, with each received byte
	// before it reaches the console layer.
	RecvIntr func(byte)
}

// Mk constructs a UART device with interrupts and 38.4k 8N1 framing
// enabled, as Init's register sequence would on real hardware.
func Mk() *Uart_t {
	u := &Uart_t{tx: ring.MkRing(txBufSize)}
	u.regs[ier] = 0x00
	u.regs[lcr] = 0x03
	u.regs[fcr] = 0x07
	u.regs[lsr] = lsrTxIdle
	u.regs[ier] = 0x03 // receive interrupt enabled
	return u
}

func (u *Uart_t) isIdle() bool { return u.regs[lsr]&lsrTxIdle != 0 }

func (u *Uart_t) txChan() lock.Channel { return lock.Channel(unsafe.Pointer(u.tx)) }

// PutcSync blocks until the transmitter is idle and writes c directly,
// bypassing the ring. Its only caller is the console, for both echo of
// typed input (under the console lock, where Putc's sleep path is not
// used) and Console_t.Write's output.
func (u *Uart_t) PutcSync(c byte) {
	for !u.isIdle() {
	}
	u.regs[thr] = c
	if u.Sink != nil {
		u.Sink(c)
	}
}

// Putc appends c to the transmit ring, sleeping on the ring's read
// index if it is full, and starts the transmitter if it was idle.
func (u *Uart_t) Putc(c byte) {
	u.lk.Acquire()
	for u.tx.Full() {
		lock.Sleep(u.txChan(), &u.lk)
	}
	u.tx.PushByte(c)
	u.transmit()
	u.lk.Release()
}

// transmit drains the ring into the transmit-holding register while it
// stays idle, waking a sleeper in Putc each time a slot frees. Caller
// must hold u.lk.
func (u *Uart_t) transmit() {
	for !u.tx.Empty() && u.isIdle() {
		c := u.tx.PopByte()
		lock.Wakeup(u.txChan())
		u.regs[thr] = c
		if u.Sink != nil {
			u.Sink(c)
		}
	}
}

// Intr services a UART interrupt: drains every received byte into the
// console layer, then drains the transmit ring under the spinlock.
func (u *Uart_t) Intr() {
	for u.regs[lsr]&lsrRxReady != 0 {
		c := u.regs[rhr]
		u.regs[lsr] &^= lsrRxReady
		if u.RecvIntr != nil {
			u.RecvIntr(c)
		}
	}
	u.lk.Acquire()
	u.transmit()
	u.lk.Release()
}

// Feed simulates a byte arriving on the wire: it latches the byte into
// the receive holding register and services the interrupt exactly as a
// real PLIC-routed UART interrupt would. Host-side harnesses (simhost,
// tests) call this in place of real serial hardware.
func (u *Uart_t) Feed(c byte) {
	u.regs[rhr] = c
	u.regs[lsr] |= lsrRxReady
	u.Intr()
}
