package uart

import (
	"defs"
	"fdops"
	"lock"
	"stat"
	"unsafe"
)

// Control characters the line discipline treats specially.
const (
	ctrlBS    = 0x08 // backspace
	ctrlDel   = 0x7f // delete
	ctrlLF    = '\n'
	ctrlCR    = '\r'
	ctrlEOT   = 0x04 // ^D, end of transmission
	ctrlKillL = 0x15 // ^U, kill line
)

const consoleBufSize = 128

// Console_t is the line discipline sitting between the UART and a
// reader/writer fd: raw bytes arriving from the UART's receive
// interrupt accumulate in buf under three monotonically increasing
// indices — read (ri), write (wi) and edit (ei) — so a partially typed
// line can be edited (backspace, kill-line) before it becomes visible
// to Read at wi.
type Console_t struct {
	lk  lock.Spinlock_t
	uart *Uart_t

	buf [consoleBufSize]byte
	ri  int
	wi  int
	ei  int

	// Killed reports whether the calling process was killed, checked
	// each time Read would otherwise sleep forever. Wired by proc.
	Killed func() bool
}

// MkConsole attaches a line discipline to uart, wiring uart's receive
// interrupt to feed this console and PutcSync to echo through it.
func MkConsole(u *Uart_t) *Console_t {
	c := &Console_t{uart: u}
	u.RecvIntr = c.intr
	return c
}

func (c *Console_t) chan_() lock.Channel { return lock.Channel(unsafe.Pointer(&c.ri)) }

// Read copies up to n bytes of the next typed line into dst, sleeping
// while no line is available. It stops after a newline (copied) or
// ^D (never copied: consumed when it is the first byte read, otherwise
// left in the buffer so the next Read returns 0), matching the
// reference console's line-buffered read.
func (c *Console_t) Read(dst fdops.Userio_i, n int) (int, defs.Err_t) {
	c.lk.Acquire()
	got := 0
	one := make([]byte, 1)
	for got < n {
		for c.ri == c.wi {
			if c.Killed != nil && c.Killed() {
				c.lk.Release()
				return got, defs.EINTR
			}
			lock.Sleep(c.chan_(), &c.lk)
		}
		ch := c.buf[c.ri%consoleBufSize]
		c.ri++
		if ch == ctrlEOT {
			if got > 0 {
				c.ri--
			}
			break
		}
		one[0] = ch
		if _, err := dst.Uiowrite(one); err != 0 {
			c.lk.Release()
			return got, err
		}
		got++
		if ch == ctrlLF {
			break
		}
	}
	c.lk.Release()
	return got, 0
}

// Write sends each byte of src to the UART transmitter, synchronously
// echoing backspace/delete as an erase sequence and everything else as
// written.
func (c *Console_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	n := 0
	one := make([]byte, 1)
	for {
		got, err := src.Uioread(one)
		if err != 0 {
			return n, err
		}
		if got == 0 {
			break
		}
		c.putc(one[0])
		n++
	}
	return n, 0
}

// putc writes a single output byte, synchronously: backspace/delete
// erase the previous character on the terminal (backspace, space,
// backspace) rather than emitting the raw control byte.
func (c *Console_t) putc(b byte) {
	if b == ctrlBS || b == ctrlDel {
		c.uart.PutcSync(ctrlBS)
		c.uart.PutcSync(' ')
		c.uart.PutcSync(ctrlBS)
		return
	}
	c.uart.PutcSync(b)
}

// intr is the UART receive callback: it applies the line discipline to
// one typed byte under c.lk — echoing it, editing the in-progress line
// on backspace/kill-line, and publishing the line to readers (wi = ei)
// on newline, ^D, or a full buffer.
func (c *Console_t) intr(b byte) {
	c.lk.Acquire()
	defer c.lk.Release()

	switch b {
	case ctrlKillL:
		for c.ei != c.wi && c.buf[(c.ei-1)%consoleBufSize] != ctrlLF {
			c.ei--
			c.putc(ctrlBS)
		}
	case ctrlBS, ctrlDel:
		if c.ei != c.wi {
			c.ei--
			c.putc(ctrlBS)
		}
	default:
		if b == 0 {
			return
		}
		if c.ei-c.ri >= consoleBufSize {
			return
		}
		if b == ctrlCR {
			b = ctrlLF
		}
		c.putc(b)
		c.buf[c.ei%consoleBufSize] = b
		c.ei++
		if b == ctrlLF || b == ctrlEOT || c.ei-c.ri == consoleBufSize {
			c.wi = c.ei
			lock.Wakeup(c.chan_())
		}
	}
}

// consoleFd_t adapts Console_t to fdops.Fdops_i so it can be opened as
// the console device file.
type consoleFd_t struct {
	c *Console_t
}

func MkConsoleFd(c *Console_t) fdops.Fdops_i { return &consoleFd_t{c: c} }

func (cf *consoleFd_t) Close() defs.Err_t { return 0 }

func (cf *consoleFd_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wdev(1)
	return 0
}

func (cf *consoleFd_t) Lseek(int, int) (int, defs.Err_t) { return 0, defs.ESPIPE }

func (cf *consoleFd_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return cf.c.Read(dst, dst.Remain())
}

func (cf *consoleFd_t) Reopen() defs.Err_t { return 0 }

func (cf *consoleFd_t) Truncate(uint) defs.Err_t { return defs.EINVAL }

func (cf *consoleFd_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return cf.c.Write(src)
}
