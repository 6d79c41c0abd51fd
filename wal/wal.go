// Package wal implements the write-ahead log: a fixed on-disk region
// (one header block followed by up to size-1 data-block slots) that
// makes a group of buffer-cache writes durable and recoverable as a
// unit. A transaction is begin_op/end_op-bracketed; end_op for the
// last concurrent operation in a group runs the commit sequence
// (copy-to-log, write header, install-to-home, clear header) that
// gives the crash invariant spec.md requires: after the header write,
// the whole group is durable; before it, nothing is installed.
package wal

import (
	"encoding/binary"
	"unsafe"

	"bcache"
	"lock"
)

// MaxOpBlocks bounds how many distinct blocks a single begin_op/end_op
// transaction may log, the same ceiling the reference kernel enforces
// to keep one transaction from ever overflowing the log area.
const MaxOpBlocks = 10

// Log_t is one device's write-ahead log.
type Log_t struct {
	lk lock.Spinlock_t

	cache    *bcache.Cache_t
	dev      int
	logstart int
	size     int // total log area blocks, including the header block

	outstanding int
	committing  bool
	blocks      []int // in-memory mirror of the on-disk header's block list
}

// MkLog opens the log at logstart on dev (size blocks total, including
// the header) and replays any committed-but-not-installed transaction
// left behind by a prior crash.
func MkLog(cache *bcache.Cache_t, dev, logstart, size int) *Log_t {
	l := &Log_t{cache: cache, dev: dev, logstart: logstart, size: size}
	l.recover()
	return l
}

func (l *Log_t) chan_() lock.Channel { return lock.Channel(unsafe.Pointer(l)) }

// BeginOp reserves room in the log for one more operation, blocking
// while a commit is in progress or while admitting this operation
// could overflow the log area assuming every outstanding operation
// still logs its maximum.
func (l *Log_t) BeginOp() {
	l.lk.Acquire()
	for l.committing || 1+len(l.blocks)+(l.outstanding+1)*MaxOpBlocks > l.size {
		lock.Sleep(l.chan_(), &l.lk)
	}
	l.outstanding++
	l.lk.Release()
}

// EndOp closes out one begin_op. The last outstanding operation in a
// group commits it; every other caller just wakes the waiters (room
// may have freed for a blocked BeginOp).
func (l *Log_t) EndOp() {
	l.lk.Acquire()
	if l.committing {
		l.lk.Release()
		panic("wal: end_op called while a commit is in progress")
	}
	l.outstanding--
	doCommit := false
	if l.outstanding == 0 {
		l.committing = true
		doCommit = true
	} else {
		lock.Wakeup(l.chan_())
	}
	l.lk.Release()

	if doCommit {
		l.commit()
		l.lk.Acquire()
		l.committing = false
		l.blocks = nil
		lock.Wakeup(l.chan_())
		l.lk.Release()
	}
}

// Write logs h's current contents as part of the active transaction.
// The buffer is pinned in the cache so it survives until installed;
// a block logged twice within one transaction is only pinned once.
func (l *Log_t) Write(h *bcache.Handle_t) {
	l.lk.Acquire()
	defer l.lk.Release()
	if l.outstanding == 0 {
		panic("wal: write called outside a transaction")
	}
	if 1+len(l.blocks) >= l.size {
		panic("wal: log is full")
	}
	bn := h.Blockno()
	for _, b := range l.blocks {
		if b == bn {
			return
		}
	}
	l.cache.Pin(h)
	l.blocks = append(l.blocks, bn)
}

// commit runs the durable three-phase install: copy every logged
// block into its log slot (synchronous writes), write the header
// (the commit point), then copy log slots to their home blocks
// (synchronous writes) and clear the header. It is only ever called
// with committing already set, so no other transaction can begin_op
// past the capacity check concurrently.
func (l *Log_t) commit() {
	blocks := l.blocks

	for i, bn := range blocks {
		h, _ := l.cache.Read(l.dev, bn)
		logh, _ := l.cache.Read(l.dev, l.logstart+1+i)
		*logh.Data() = *h.Data()
		l.cache.Write(logh)
		l.cache.Release(logh)
		l.cache.Release(h)
	}

	l.writeHeader(blocks)

	for i, bn := range blocks {
		logh, _ := l.cache.Read(l.dev, l.logstart+1+i)
		h, _ := l.cache.Read(l.dev, bn)
		*h.Data() = *logh.Data()
		l.cache.Write(h)
		l.cache.Release(logh)
		l.cache.Unpin(h)
		l.cache.Release(h)
	}

	l.clearHeader()
}

func (l *Log_t) writeHeader(blocks []int) {
	h, _ := l.cache.Read(l.dev, l.logstart)
	d := h.Data()
	binary.LittleEndian.PutUint32(d[0:4], uint32(len(blocks)))
	for i, bn := range blocks {
		binary.LittleEndian.PutUint32(d[4+4*i:8+4*i], uint32(bn))
	}
	l.cache.Write(h)
	l.cache.Release(h)
}

func (l *Log_t) clearHeader() {
	h, _ := l.cache.Read(l.dev, l.logstart)
	binary.LittleEndian.PutUint32(h.Data()[0:4], 0)
	l.cache.Write(h)
	l.cache.Release(h)
}

// recover replays a committed-but-not-installed transaction found at
// mount time: a nonzero header count means the crash happened after
// the commit point but before (or during) installation, so the log's
// copy is still the authoritative one.
func (l *Log_t) recover() {
	h, _ := l.cache.Read(l.dev, l.logstart)
	d := h.Data()
	count := binary.LittleEndian.Uint32(d[0:4])
	blocks := make([]int, count)
	for i := range blocks {
		blocks[i] = int(binary.LittleEndian.Uint32(d[4+4*i : 8+4*i]))
	}
	l.cache.Release(h)
	if count == 0 {
		return
	}
	for i, bn := range blocks {
		logh, _ := l.cache.Read(l.dev, l.logstart+1+i)
		hh, _ := l.cache.Read(l.dev, bn)
		*hh.Data() = *logh.Data()
		l.cache.Write(hh)
		l.cache.Release(logh)
		l.cache.Release(hh)
	}
	l.clearHeader()
}
