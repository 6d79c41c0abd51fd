package vm

import "defs"

// Userbuf_t adapts a span of one process's user memory to the Userio_i
// interface file and pipe code read and write through, so that code
// never needs to know whether the other end of an I/O request is user
// memory, a pipe's ring buffer, or a kernel-internal buffer standing in
// for one.
type Userbuf_t struct {
	userva uintptr
	len    int
	off    int // 0 <= off <= len
	as     *Vm_t
}

// Ub_init (re)initializes ub to span len bytes of as's user memory
// starting at uva.
func (ub *Userbuf_t) Ub_init(as *Vm_t, uva uintptr, len int) {
	ub.userva = uva
	ub.len = len
	ub.off = 0
	ub.as = as
}

func (ub *Userbuf_t) Remain() int  { return ub.len - ub.off }
func (ub *Userbuf_t) Totalsz() int { return ub.len }

// Uioread copies data from user memory into dst, advancing past
// whatever was copied.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := len(dst)
	if rem := ub.Remain(); n > rem {
		n = rem
	}
	if n == 0 {
		return 0, 0
	}
	ub.as.Lock_pmap()
	err := ub.as.CopyIn(ub.userva+uintptr(ub.off), dst[:n])
	ub.as.Unlock_pmap()
	if err != 0 {
		return 0, err
	}
	ub.off += n
	return n, 0
}

// Uiowrite copies src into user memory, advancing past whatever was
// copied.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := len(src)
	if rem := ub.Remain(); n > rem {
		n = rem
	}
	if n == 0 {
		return 0, 0
	}
	ub.as.Lock_pmap()
	err := ub.as.CopyOut(ub.userva+uintptr(ub.off), src[:n])
	ub.as.Unlock_pmap()
	if err != 0 {
		return 0, err
	}
	ub.off += n
	return n, 0
}

// Fakeubuf_t implements the same Userio_i shape as Userbuf_t but moves
// bytes into or out of an ordinary Go slice instead of a user address
// space. Callers with no user address space (cmd/mkfs, copying seed
// files into an image) use it to reuse Fdops_i implementations written against Userio_i without a real process on the
// other end.
type Fakeubuf_t struct {
	fbuf []uint8
	len  int
}

// Fake_init sets up the fake buffer with the provided slice.
func (fb *Fakeubuf_t) Fake_init(buf []uint8) {
	fb.fbuf = buf
	fb.len = len(buf)
}

func (fb *Fakeubuf_t) Remain() int  { return len(fb.fbuf) }
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, fb.fbuf)
	fb.fbuf = fb.fbuf[n:]
	return n, 0
}

func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(fb.fbuf, src)
	fb.fbuf = fb.fbuf[n:]
	return n, 0
}
