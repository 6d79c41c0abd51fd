// Package bcache implements the kernel's buffer cache: a fixed pool of
// block-sized buffers arranged on an LRU list, each with its own data
// sleeplock so a slow disk I/O on one buffer never blocks lookups of
// another. A hashtable secondary index makes the common "is this
// (dev, blockno) already cached and leased" check O(1) without
// changing the cache's externally observable eviction behavior, which
// is still driven entirely by the tail-scan-for-refcount-zero rule.
package bcache

import (
	"container/list"

	"defs"
	"hashtable"
	"lock"
)

// BSIZE is the size in bytes of one disk block, matching the page size
// every physical frame in mem uses.
const BSIZE = 4096

// Bdevcmd_t enumerates disk request types.
type Bdevcmd_t uint

const (
	BDEV_READ  Bdevcmd_t = 1
	BDEV_WRITE Bdevcmd_t = 2
	BDEV_FLUSH Bdevcmd_t = 3
)

// Bdev_req_t describes one block device request. AckCh is sent on once
// the request completes, for callers that asked for Sync.
type Bdev_req_t struct {
	Cmd     Bdevcmd_t
	Blockno int
	Data    *[BSIZE]byte
	AckCh   chan bool
}

func MkRequest(cmd Bdevcmd_t, blockno int, data *[BSIZE]byte) *Bdev_req_t {
	return &Bdev_req_t{Cmd: cmd, Blockno: blockno, Data: data, AckCh: make(chan bool)}
}

// Disk_i is the contract a block device driver (virtio, or any test
// double) presents to the buffer cache.
type Disk_i interface {
	// Start submits req. It returns true if the caller must wait on
	// req.AckCh for completion, false if the request was already
	// serviced synchronously.
	Start(req *Bdev_req_t) bool
	Stats() string
}

// Buf_t is one cached block: its data, its own sleeplock guarding that
// data, and the identity/refcount bookkeeping the cache's spinlock
// guards.
type Buf_t struct {
	Dev     int
	Blockno int
	Data    [BSIZE]byte

	valid  bool
	refcnt int
	le     *list.Element

	Sleep *lock.Sleeplock_t
}

type bufkey_t = int

func mkkey(dev, blockno int) bufkey_t { return dev<<40 | blockno }

// Cache_t is the fixed buffer pool. lru orders buffers from head (most
// recently released) to tail (least recently used); idx maps a live
// (dev, blockno) to its buffer so a hit need not scan the list.
type Cache_t struct {
	lk   lock.Spinlock_t
	lru  *list.List
	idx  *hashtable.Hashtable_t
	disk Disk_i
}

// MkCache allocates an n-buffer pool backed by disk.
func MkCache(n int, disk Disk_i) *Cache_t {
	c := &Cache_t{lru: list.New(), idx: hashtable.MkHash(n), disk: disk}
	for i := 0; i < n; i++ {
		b := &Buf_t{Sleep: lock.MkSleeplock("bcache_buf")}
		b.le = c.lru.PushFront(b)
	}
	return c
}

// Handle_t is a leased reference to a cached buffer. The data sleeplock
// is held for the handle's lifetime; Release drops it.
type Handle_t struct {
	buf *Buf_t
	c   *Cache_t
}

func (h *Handle_t) Data() *[BSIZE]byte { return &h.buf.Data }
func (h *Handle_t) Blockno() int       { return h.buf.Blockno }

// Read returns a leased handle on block (dev, blockno), reading it from
// disk if it was not already cached.
func (c *Cache_t) Read(dev, blockno int) (*Handle_t, defs.Err_t) {
	c.lk.Acquire()
	key := mkkey(dev, blockno)
	if v, ok := c.idx.Get(key); ok {
		b := v.(*Buf_t)
		if b.refcnt > 0 && b.Dev == dev && b.Blockno == blockno {
			b.refcnt++
			c.lk.Release()
			b.Sleep.Acquire()
			return &Handle_t{buf: b, c: c}, 0
		}
	}

	var victim *Buf_t
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*Buf_t)
		if b.refcnt == 0 {
			victim = b
			break
		}
	}
	if victim == nil {
		c.lk.Release()
		return nil, defs.ENOMEM
	}
	victim.Dev = dev
	victim.Blockno = blockno
	victim.valid = false
	victim.refcnt = 1
	c.idx.Set(key, victim)
	c.lk.Release()

	victim.Sleep.Acquire()
	if !victim.valid {
		if err := c.diskIO(BDEV_READ, victim); err != 0 {
			victim.Sleep.Release()
			c.lk.Acquire()
			victim.refcnt--
			c.lk.Release()
			return nil, err
		}
		victim.valid = true
	}
	return &Handle_t{buf: victim, c: c}, 0
}

// Release drops the data sleeplock and, if this was the last lease,
// moves the buffer to the head of the LRU list.
func (c *Cache_t) Release(h *Handle_t) {
	b := h.buf
	b.Sleep.Release()
	c.lk.Acquire()
	b.refcnt--
	if b.refcnt == 0 {
		c.lru.MoveToFront(b.le)
	}
	c.lk.Release()
}

// Pin and Unpin adjust a lease's refcount without moving it on the LRU
// list, so the log can hold a buffer in cache across a commit.
func (c *Cache_t) Pin(h *Handle_t)   { c.lk.Acquire(); h.buf.refcnt++; c.lk.Release() }
func (c *Cache_t) Unpin(h *Handle_t) { c.lk.Acquire(); h.buf.refcnt--; c.lk.Release() }

// Write synchronously writes h's data to its home block.
func (c *Cache_t) Write(h *Handle_t) defs.Err_t {
	return c.diskIO(BDEV_WRITE, h.buf)
}

func (c *Cache_t) diskIO(cmd Bdevcmd_t, b *Buf_t) defs.Err_t {
	req := MkRequest(cmd, b.Blockno, &b.Data)
	if c.disk.Start(req) {
		<-req.AckCh
	}
	return 0
}
