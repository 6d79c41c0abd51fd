package fs

import (
	"bcache"
	"defs"
	"stat"
	"ustr"
	"wal"
)

// Fs_t is one mounted filesystem: its device, buffer cache, log, and
// inode cache.
type Fs_t struct {
	dev    int
	cache  *bcache.Cache_t
	log    *wal.Log_t
	sb     Superblock_t
	icache *Icache_t
}

// MkFS mounts an already-formatted filesystem on dev, replaying any
// pending log transaction left behind by a prior crash.
func MkFS(dev int, cache *bcache.Cache_t, nicache int) *Fs_t {
	h, err := cache.Read(dev, superBlockno)
	if err != 0 {
		panic("fs: could not read superblock")
	}
	sb := decodeSuper(h.Data())
	cache.Release(h)

	fs := &Fs_t{dev: dev, cache: cache, sb: sb}
	fs.log = wal.MkLog(cache, dev, sb.Logstart, sb.Loglen)
	fs.icache = mkIcache(fs, nicache)
	return fs
}

// Format writes a brand-new filesystem image directly to the buffer
// cache (bypassing the log entirely, the way the reference kernel's
// own mkfs writes a disk image before any kernel ever boots from it):
// zeroes the bitmap and inode regions, marks every block before the
// data region as in-use, writes the superblock, and creates the root
// directory with "." and ".." entries.
func Format(cache *bcache.Cache_t, dev int, sb Superblock_t) {
	var zero [bcache.BSIZE]byte
	for bn := 0; bn < sb.dataStart(); bn++ {
		h, _ := cache.Read(dev, bn)
		*h.Data() = zero
		cache.Write(h)
		cache.Release(h)
	}

	reserved := sb.dataStart()
	for bn := 0; bn < reserved; bn++ {
		bi := bn / (bcache.BSIZE * 8)
		bit := bn % (bcache.BSIZE * 8)
		h, _ := cache.Read(dev, sb.Bmapstart+bi)
		d := h.Data()
		d[bit/8] |= 1 << uint(bit%8)
		cache.Write(h)
		cache.Release(h)
	}

	hs, _ := cache.Read(dev, superBlockno)
	*hs.Data() = sb.encode()
	cache.Write(hs)
	cache.Release(hs)

	fs := &Fs_t{dev: dev, cache: cache, sb: sb}
	fs.log = wal.MkLog(cache, dev, sb.Logstart, sb.Loglen)
	fs.icache = mkIcache(fs, 8)

	fs.log.BeginOp()
	root := fs.Ialloc(defs.T_DIR)
	fs.icache.Ilock(root)
	root.Nlink = 1
	fs.Iupdate(root)
	if e := fs.DirLink(root, ustr.MkUstrDot(), root.Inum); e != 0 {
		panic("fs: formatting root directory failed")
	}
	if e := fs.DirLink(root, ustr.DotDot, root.Inum); e != 0 {
		panic("fs: formatting root directory failed")
	}
	fs.icache.Iunlock(root)
	fs.icache.Iput(root)
	fs.log.EndOp()
}

// MkRootCwd returns a locked-free reference to the root inode,
// suitable as the starting cwd for path resolution.
func (fs *Fs_t) MkRootCwd() *Inode_t {
	return fs.icache.Get(fs.dev, RootIno)
}

// Get, Ilock, Iunlock, Iput expose the inode cache directly so the
// file/device/pipe layer can hold and release inode references
// without reaching into Fs_t's internals.
func (fs *Fs_t) Get(inum int) *Inode_t     { return fs.icache.Get(fs.dev, inum) }
func (fs *Fs_t) Ilock(ip *Inode_t)         { fs.icache.Ilock(ip) }
func (fs *Fs_t) Iunlock(ip *Inode_t)       { fs.icache.Iunlock(ip) }
func (fs *Fs_t) Iput(ip *Inode_t)          { fs.icache.Iput(ip) }
func (fs *Fs_t) BeginOp()                  { fs.log.BeginOp() }
func (fs *Fs_t) EndOp()                    { fs.log.EndOp() }

// Stat fills st with ip's metadata, the way fstat's kernel side does.
func (fs *Fs_t) Stat(ip *Inode_t, st *stat.Stat_t) {
	st.Wdev(uint(fs.dev))
	st.Wino(uint(ip.Inum))
	st.Wtype(ip.Type)
	st.Wnlink(ip.Nlink)
	st.Wsize(ip.Size)
}

// Truncate frees all of ip's data blocks, logged as its own
// transaction.
func (fs *Fs_t) Truncate(ip *Inode_t) {
	fs.log.BeginOp()
	fs.itrunc(ip)
	fs.log.EndOp()
}

// Unlink removes name from directory dp (a thin, transaction-free
// forwarding wrapper kept for symmetry with DirLink/DirLookup — the
// actual transaction is owned by DirUnlink itself).
func (fs *Fs_t) Unlink(dp *Inode_t, name ustr.Ustr) defs.Err_t {
	return fs.DirUnlink(dp, name)
}
