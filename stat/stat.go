// Package stat defines the wire layout of the fstat syscall result: a
// packed {device:32, inum:32, type:16, nlink:16, size:64} record copied
// into user memory verbatim, the same getter/setter-over-private-field
// shape the reference kernel used for its (much larger) x86 stat buffer.
package stat

import "unsafe"

const Size = 4 + 4 + 2 + 2 + 8

// Stat_t mirrors the on-the-wire fstat record. Fields are private so every
// mutation goes through a typed setter, matching the reference kernel's
// convention of never exposing raw stat fields for direct assignment.
type Stat_t struct {
	_dev   uint32
	_ino   uint32
	_type  uint16
	_nlink uint16
	_size  uint64
}

// Wdev stores the device id.
func (st *Stat_t) Wdev(v uint) { st._dev = uint32(v) }

// Wino stores the inode number.
func (st *Stat_t) Wino(v uint) { st._ino = uint32(v) }

// Wtype stores the inode type (T_FILE, T_DIR, T_DEV).
func (st *Stat_t) Wtype(v uint) { st._type = uint16(v) }

// Wnlink stores the link count.
func (st *Stat_t) Wnlink(v uint) { st._nlink = uint16(v) }

// Wsize stores the file size in bytes.
func (st *Stat_t) Wsize(v uint) { st._size = uint64(v) }

// Dev returns the device id.
func (st *Stat_t) Dev() uint { return uint(st._dev) }

// Ino returns the inode number.
func (st *Stat_t) Ino() uint { return uint(st._ino) }

// Type returns the inode type.
func (st *Stat_t) Type() uint { return uint(st._type) }

// Nlink returns the link count.
func (st *Stat_t) Nlink() uint { return uint(st._nlink) }

// Size returns the file size in bytes.
func (st *Stat_t) Size() uint { return uint(st._size) }

// Bytes exposes the packed record for copying into user memory.
func (st *Stat_t) Bytes() []uint8 {
	sl := (*[Size]uint8)(unsafe.Pointer(st))
	return sl[:]
}
