// Package pipe implements an in-kernel pipe: a fixed-capacity byte
// ring with blocking read/write, reachable from two file descriptors
// (the read and write ends) that share one Pipe_t.
package pipe

import (
	"unsafe"

	"defs"
	"fdops"
	"limits"
	"lock"
	"ring"
)

// Pipe_t is one pipe's shared state: a byte ring plus the two
// half-close flags that let either end observe the other going away.
type Pipe_t struct {
	lk lock.Spinlock_t
	rb *ring.Ring_t

	readOpen  bool
	writeOpen bool

	// notEmpty and notFull exist only to give lock.Sleep/Wakeup
	// distinct, stable addresses to rendezvous on: readers sleep on
	// notEmpty until a writer adds data, writers sleep on notFull
	// until a reader drains some, matching spec.md's "sleep on
	// &read_cnt"/"sleep on &write_cnt" channels.
	notEmpty, notFull int

	// Killed reports whether the calling process has been killed, so
	// a blocked read/write can abandon the wait rather than hang
	// forever on a dead peer.
	Killed func() bool
}

func MkPipe() *Pipe_t {
	return &Pipe_t{rb: ring.MkRing(limits.Syslimit.Pipesz), readOpen: true, writeOpen: true}
}

func (p *Pipe_t) notEmptyChan() lock.Channel { return lock.Channel(unsafe.Pointer(&p.notEmpty)) }
func (p *Pipe_t) notFullChan() lock.Channel  { return lock.Channel(unsafe.Pointer(&p.notFull)) }

// Read copies up to n bytes out of the pipe into dst, blocking while
// the pipe is empty and the write end is still open.
func (p *Pipe_t) Read(dst fdops.Userio_i, n int) (int, defs.Err_t) {
	p.lk.Acquire()
	for p.rb.Empty() && p.writeOpen {
		if p.Killed != nil && p.Killed() {
			p.lk.Release()
			return 0, defs.EINTR
		}
		lock.Sleep(p.notEmptyChan(), &p.lk)
	}

	got := 0
	for got < n && !p.rb.Empty() {
		b := p.rb.PopByte()
		c, err := dst.Uiowrite([]byte{b})
		got += c
		if err != 0 {
			p.lk.Release()
			return got, err
		}
		if c == 0 {
			break
		}
	}
	lock.Wakeup(p.notFullChan())
	p.lk.Release()
	return got, 0
}

// Write copies up to n bytes from src into the pipe, blocking while
// the pipe is full and the read end is still open. It stops early,
// returning what was written so far, if the read end closes or the
// calling process is killed mid-write.
func (p *Pipe_t) Write(src fdops.Userio_i, n int) (int, defs.Err_t) {
	p.lk.Acquire()
	defer p.lk.Release()

	put := 0
	for put < n {
		if !p.readOpen {
			return put, defs.EPIPE
		}
		if p.Killed != nil && p.Killed() {
			return put, defs.EINTR
		}
		if p.rb.Full() {
			lock.Sleep(p.notFullChan(), &p.lk)
			continue
		}
		var b [1]byte
		c, err := src.Uioread(b[:])
		if err != 0 {
			return put, err
		}
		if c == 0 {
			break
		}
		p.rb.PushByte(b[0])
		put++
	}
	lock.Wakeup(p.notEmptyChan())
	return put, 0
}

// Close marks one end of the pipe closed and wakes whatever was
// sleeping on the other end's channel, so it observes the closure
// instead of hanging.
func (p *Pipe_t) Close(isWrite bool) {
	p.lk.Acquire()
	if isWrite {
		p.writeOpen = false
		lock.Wakeup(p.notEmptyChan())
	} else {
		p.readOpen = false
		lock.Wakeup(p.notFullChan())
	}
	p.lk.Release()
}
