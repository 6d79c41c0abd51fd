package fs

import (
	"encoding/binary"

	"bcache"
	"defs"
	"fdops"
	"lock"
	"wal"
)

// Inode_t is one cached inode: Dev/Inum/refcnt are guarded by the
// shared Icache_t spinlock; everything else (the on-disk copy and the
// valid flag) is guarded by this inode's own sleeplock, acquired via
// Ilock.
type Inode_t struct {
	Dev  int
	Inum int

	refcnt int

	sleep *lock.Sleeplock_t
	valid bool

	Type   uint
	Major  uint
	Minor  uint
	Nlink  uint
	Size   uint
	Direct [NDirect]int
	Indir  int
}

// Icache_t is the fixed-size inode cache.
type Icache_t struct {
	lk    lock.Spinlock_t
	nodes []*Inode_t

	fs *Fs_t
}

func mkIcache(fs *Fs_t, n int) *Icache_t {
	ic := &Icache_t{fs: fs}
	ic.nodes = make([]*Inode_t, n)
	for i := range ic.nodes {
		ic.nodes[i] = &Inode_t{sleep: lock.MkSleeplock("inode")}
	}
	return ic
}

// Get returns a reference to the cached inode for (dev, inum),
// without touching disk.
func (ic *Icache_t) Get(dev, inum int) *Inode_t {
	ic.lk.Acquire()
	defer ic.lk.Release()

	var empty *Inode_t
	for _, ip := range ic.nodes {
		if ip.refcnt > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.refcnt++
			return ip
		}
		if empty == nil && ip.refcnt == 0 {
			empty = ip
		}
	}
	if empty == nil {
		panic("fs: inode cache exhausted")
	}
	empty.Dev = dev
	empty.Inum = inum
	empty.refcnt = 1
	empty.valid = false
	return empty
}

// Ilock acquires ip's data lock, reading it from disk the first time
// it is locked since being claimed by Get.
func (ic *Icache_t) Ilock(ip *Inode_t) {
	ip.sleep.Acquire()
	if !ip.valid {
		ic.fs.readDinode(ip)
		ip.valid = true
		if ip.Type == defs.T_EMPTY {
			panic("fs: locking an inode with no on-disk type")
		}
	}
}

// Iunlock releases ip's data lock.
func (ic *Icache_t) Iunlock(ip *Inode_t) {
	ip.sleep.Release()
}

// Iput drops one reference. If this was the last reference and the
// inode's link count has dropped to zero, the inode (and its data)
// are freed.
func (ic *Icache_t) Iput(ip *Inode_t) {
	ic.lk.Acquire()
	r := ip.refcnt
	ic.lk.Release()

	if r == 1 {
		ic.Ilock(ip)
		if ip.valid && ip.Nlink == 0 {
			ic.fs.itrunc(ip)
			ip.Type = defs.T_EMPTY
			ic.fs.writeDinode(ip)
			ip.valid = false
		}
		ic.Iunlock(ip)
	}

	ic.lk.Acquire()
	ip.refcnt--
	ic.lk.Release()
}

// --- on-disk (de)serialization ---

func dinodeOffset(inum int) (blockno int, byteOff int) {
	return inum / ipb, (inum % ipb) * dinodeSize
}

func (fs *Fs_t) readDinode(ip *Inode_t) {
	blk, off := dinodeOffset(ip.Inum)
	h, err := fs.cache.Read(fs.dev, fs.sb.Inodestart+blk)
	if err != 0 {
		panic("fs: read inode block failed")
	}
	d := h.Data()[off : off+dinodeSize]
	ip.Type = uint(binary.LittleEndian.Uint16(d[0:2]))
	ip.Major = uint(binary.LittleEndian.Uint16(d[2:4]))
	ip.Minor = uint(binary.LittleEndian.Uint16(d[4:6]))
	ip.Nlink = uint(binary.LittleEndian.Uint16(d[6:8]))
	ip.Size = uint(binary.LittleEndian.Uint32(d[8:12]))
	for i := 0; i < NDirect; i++ {
		ip.Direct[i] = int(binary.LittleEndian.Uint32(d[12+4*i : 16+4*i]))
	}
	ip.Indir = int(binary.LittleEndian.Uint32(d[12+4*NDirect : 16+4*NDirect]))
	fs.cache.Release(h)
}

func (fs *Fs_t) writeDinode(ip *Inode_t) {
	blk, off := dinodeOffset(ip.Inum)
	h, err := fs.cache.Read(fs.dev, fs.sb.Inodestart+blk)
	if err != 0 {
		panic("fs: read inode block failed")
	}
	d := h.Data()[off : off+dinodeSize]
	binary.LittleEndian.PutUint16(d[0:2], uint16(ip.Type))
	binary.LittleEndian.PutUint16(d[2:4], uint16(ip.Major))
	binary.LittleEndian.PutUint16(d[4:6], uint16(ip.Minor))
	binary.LittleEndian.PutUint16(d[6:8], uint16(ip.Nlink))
	binary.LittleEndian.PutUint32(d[8:12], uint32(ip.Size))
	for i := 0; i < NDirect; i++ {
		binary.LittleEndian.PutUint32(d[12+4*i:16+4*i], uint32(ip.Direct[i]))
	}
	binary.LittleEndian.PutUint32(d[12+4*NDirect:16+4*NDirect], uint32(ip.Indir))
	fs.log.Write(h)
	fs.cache.Release(h)
}

// Iupdate writes ip's in-memory fields back to disk, logged as part
// of the caller's transaction.
func (fs *Fs_t) Iupdate(ip *Inode_t) {
	fs.writeDinode(ip)
}

// --- block (de)allocation ---

func (fs *Fs_t) balloc() int {
	nbitmap := nbitmapBlocks(fs.sb.Size)
	for bi := 0; bi < nbitmap; bi++ {
		h, _ := fs.cache.Read(fs.dev, fs.sb.Bmapstart+bi)
		d := h.Data()
		for bit := 0; bit < bcache.BSIZE*8; bit++ {
			blockno := bi*bcache.BSIZE*8 + bit
			if blockno >= fs.sb.Size {
				break
			}
			byteIdx, mask := bit/8, byte(1<<uint(bit%8))
			if d[byteIdx]&mask == 0 {
				d[byteIdx] |= mask
				fs.log.Write(h)
				fs.cache.Release(h)
				var zero [bcache.BSIZE]byte
				zh, _ := fs.cache.Read(fs.dev, blockno)
				*zh.Data() = zero
				fs.log.Write(zh)
				fs.cache.Release(zh)
				return blockno
			}
		}
		fs.cache.Release(h)
	}
	panic("fs: disk out of space")
}

func (fs *Fs_t) bfree(blockno int) {
	bi := blockno / (bcache.BSIZE * 8)
	bit := blockno % (bcache.BSIZE * 8)
	h, _ := fs.cache.Read(fs.dev, fs.sb.Bmapstart+bi)
	d := h.Data()
	byteIdx, mask := bit/8, byte(1<<uint(bit%8))
	if d[byteIdx]&mask == 0 {
		panic("fs: freeing a free block")
	}
	d[byteIdx] &^= mask
	fs.log.Write(h)
	fs.cache.Release(h)
}

// mapBlock returns the physical block number backing logical block bn
// of ip, allocating it (and, for an indirect-range bn, the indirect
// block itself) on first use.
func (fs *Fs_t) mapBlock(ip *Inode_t, bn int) int {
	if bn < NDirect {
		if ip.Direct[bn] == 0 {
			ip.Direct[bn] = fs.balloc()
			fs.Iupdate(ip)
		}
		return ip.Direct[bn]
	}
	bn -= NDirect
	if bn < NIndirect {
		if ip.Indir == 0 {
			ip.Indir = fs.balloc()
			fs.Iupdate(ip)
		}
		h, _ := fs.cache.Read(fs.dev, ip.Indir)
		d := h.Data()
		addr := int(binary.LittleEndian.Uint32(d[4*bn : 4*bn+4]))
		if addr == 0 {
			addr = fs.balloc()
			binary.LittleEndian.PutUint32(d[4*bn:4*bn+4], uint32(addr))
			fs.log.Write(h)
		}
		fs.cache.Release(h)
		return addr
	}
	panic("fs: logical block number out of range")
}

// itrunc frees all of ip's data blocks (direct, then indirect, then
// the indirect block itself) and resets its size to zero.
func (fs *Fs_t) itrunc(ip *Inode_t) {
	for i := 0; i < NDirect; i++ {
		if ip.Direct[i] != 0 {
			fs.bfree(ip.Direct[i])
			ip.Direct[i] = 0
		}
	}
	if ip.Indir != 0 {
		h, _ := fs.cache.Read(fs.dev, ip.Indir)
		d := h.Data()
		for i := 0; i < NIndirect; i++ {
			addr := int(binary.LittleEndian.Uint32(d[4*i : 4*i+4]))
			if addr != 0 {
				fs.bfree(addr)
			}
		}
		fs.cache.Release(h)
		fs.bfree(ip.Indir)
		ip.Indir = 0
	}
	ip.Size = 0
	fs.Iupdate(ip)
}

// Ialloc finds a free on-disk inode of the given type, claims it by
// writing its type, and returns a cache handle for it. Callers must
// already hold an active transaction (Create wraps its whole body in
// one).
func (fs *Fs_t) Ialloc(typ uint) *Inode_t {
	for inum := RootIno; inum < fs.sb.Ninodes; inum++ {
		blk, off := dinodeOffset(inum)
		h, _ := fs.cache.Read(fs.dev, fs.sb.Inodestart+blk)
		d := h.Data()[off : off+dinodeSize]
		if binary.LittleEndian.Uint16(d[0:2]) == defs.T_EMPTY {
			binary.LittleEndian.PutUint16(d[0:2], uint16(typ))
			fs.log.Write(h)
			fs.cache.Release(h)
			return fs.icache.Get(fs.dev, inum)
		}
		fs.cache.Release(h)
	}
	panic("fs: no free inodes")
}

// Readi copies up to n bytes starting at off from ip's data into dst.
func (fs *Fs_t) Readi(ip *Inode_t, dst fdops.Userio_i, off, n int) (int, defs.Err_t) {
	if off > int(ip.Size) {
		return 0, 0
	}
	if off+n > int(ip.Size) {
		n = int(ip.Size) - off
	}
	var buf [bcache.BSIZE]byte
	got := 0
	for got < n {
		bn := (off + got) / bcache.BSIZE
		boff := (off + got) % bcache.BSIZE
		m := bcache.BSIZE - boff
		if m > n-got {
			m = n - got
		}
		h, err := fs.cache.Read(fs.dev, fs.mapBlock(ip, bn))
		if err != 0 {
			return got, err
		}
		copy(buf[:m], h.Data()[boff:boff+m])
		fs.cache.Release(h)
		c, err := dst.Uiowrite(buf[:m])
		got += c
		if err != 0 {
			return got, err
		}
		if c < m {
			break
		}
	}
	return got, 0
}

// Writei copies up to n bytes from src into ip's data starting at
// off, extending the file (but never past MaxFile blocks) as needed.
// Logged in chunks of at most (wal.MaxOpBlocks-4)/2 blocks, the cap
// spec.md sets so one write never overflows a single transaction.
func (fs *Fs_t) Writei(ip *Inode_t, src fdops.Userio_i, off, n int) (int, defs.Err_t) {
	if off < 0 || off > int(ip.Size) {
		return 0, defs.EINVAL
	}
	if off+n > MaxFile*bcache.BSIZE {
		return 0, defs.EFBIG
	}
	maxBlocksPerOp := (wal.MaxOpBlocks - 4) / 2
	if maxBlocksPerOp < 1 {
		maxBlocksPerOp = 1
	}

	put := 0
	for put < n {
		fs.log.BeginOp()
		blocksThisOp := 0
		for put < n && blocksThisOp < maxBlocksPerOp {
			bn := (off + put) / bcache.BSIZE
			boff := (off + put) % bcache.BSIZE
			m := bcache.BSIZE - boff
			if m > n-put {
				m = n - put
			}
			var buf [bcache.BSIZE]byte
			c, err := src.Uioread(buf[:m])
			if err != 0 {
				fs.log.EndOp()
				return put, err
			}
			h, ferr := fs.cache.Read(fs.dev, fs.mapBlock(ip, bn))
			if ferr != 0 {
				fs.log.EndOp()
				return put, ferr
			}
			copy(h.Data()[boff:boff+c], buf[:c])
			fs.log.Write(h)
			fs.cache.Release(h)
			put += c
			blocksThisOp++
			if c < m {
				break
			}
		}
		if off+put > int(ip.Size) {
			ip.Size = uint(off + put)
		}
		fs.Iupdate(ip)
		fs.log.EndOp()
	}
	return put, 0
}
