package fs

import (
	"encoding/binary"

	"bcache"
	"defs"
	"ustr"
)

// Directory entries are fixed-size records: a 2-byte inode number
// followed by a fixed-width name field.
const dirsiz = 14
const direntSize = 2 + dirsiz
const ndirents = bcache.BSIZE / direntSize

type dirent struct {
	inum int
	name ustr.Ustr
}

func decodeDirent(b []byte) dirent {
	inum := int(binary.LittleEndian.Uint16(b[0:2]))
	return dirent{inum: inum, name: ustr.MkUstrSlice(b[2 : 2+dirsiz])}
}

func encodeDirent(b []byte, inum int, name ustr.Ustr) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(inum))
	for i := range b[2 : 2+dirsiz] {
		b[2+i] = 0
	}
	copy(b[2:2+dirsiz], name)
}

// kernelUio is a fdops.Userio_i over a plain kernel byte slice, used
// internally by directory operations that never cross the user/kernel
// boundary.
type kernelUio struct {
	buf []byte
	off int
}

func mkKernelUio(buf []byte) *kernelUio { return &kernelUio{buf: buf} }

func (u *kernelUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.buf[u.off:])
	u.off += n
	return n, 0
}
func (u *kernelUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(u.buf[u.off:], src)
	u.off += n
	return n, 0
}
func (u *kernelUio) Remain() int   { return len(u.buf) - u.off }
func (u *kernelUio) Totalsz() int  { return len(u.buf) }

// DirLookup scans dp (which must already be locked and be a
// directory) for name, skipping empty (inum == 0) slots. It returns
// the child inode number and the byte offset of its dirent.
func (fs *Fs_t) DirLookup(dp *Inode_t, name ustr.Ustr) (int, int, bool) {
	var raw [direntSize]byte
	for off := 0; off < int(dp.Size); off += direntSize {
		n, _ := fs.Readi(dp, mkKernelUio(raw[:]), off, direntSize)
		if n != direntSize {
			panic("fs: short directory read")
		}
		de := decodeDirent(raw[:])
		if de.inum == 0 {
			continue
		}
		if de.name.Eq(name) {
			return de.inum, off, true
		}
	}
	return 0, 0, false
}

// DirLink adds a (name, inum) entry to directory dp, reusing the
// first empty slot or appending a new one. It refuses a duplicate
// name.
func (fs *Fs_t) DirLink(dp *Inode_t, name ustr.Ustr, inum int) defs.Err_t {
	if _, _, found := fs.DirLookup(dp, name); found {
		return defs.EEXIST
	}

	var raw [direntSize]byte
	off := 0
	for ; off < int(dp.Size); off += direntSize {
		n, _ := fs.Readi(dp, mkKernelUio(raw[:]), off, direntSize)
		if n != direntSize {
			panic("fs: short directory read")
		}
		if decodeDirent(raw[:]).inum == 0 {
			break
		}
	}
	encodeDirent(raw[:], inum, name)
	n, err := fs.Writei(dp, mkKernelUio(raw[:]), off, direntSize)
	if err != 0 || n != direntSize {
		if err == 0 {
			err = defs.EIO
		}
		return err
	}
	return 0
}

// DirUnlink removes name from directory dp. "." and ".." may never be
// removed; removing a non-empty subdirectory is refused.
func (fs *Fs_t) DirUnlink(dp *Inode_t, name ustr.Ustr) defs.Err_t {
	if name.Isdot() || name.Isdotdot() {
		return defs.EPERM
	}
	fs.log.BeginOp()
	defer fs.log.EndOp()

	inum, off, found := fs.DirLookup(dp, name)
	if !found {
		return defs.ENOENT
	}

	ip := fs.icache.Get(fs.dev, inum)
	fs.icache.Ilock(ip)
	if ip.Nlink < 1 {
		fs.icache.Iunlock(ip)
		fs.icache.Iput(ip)
		panic("fs: unlinking an inode with nlink < 1")
	}
	if ip.Type == defs.T_DIR && !fs.dirIsEmpty(ip) {
		fs.icache.Iunlock(ip)
		fs.icache.Iput(ip)
		return defs.ENOTEMPTY
	}

	var zero [direntSize]byte
	n, err := fs.Writei(dp, mkKernelUio(zero[:]), off, direntSize)
	if err != 0 || n != direntSize {
		fs.icache.Iunlock(ip)
		fs.icache.Iput(ip)
		if err == 0 {
			err = defs.EIO
		}
		return err
	}

	if ip.Type == defs.T_DIR {
		dp.Nlink--
		fs.Iupdate(dp)
	}
	ip.Nlink--
	fs.Iupdate(ip)
	fs.icache.Iunlock(ip)
	fs.icache.Iput(ip)
	return 0
}

func (fs *Fs_t) dirIsEmpty(dp *Inode_t) bool {
	var raw [direntSize]byte
	for off := 2 * direntSize; off < int(dp.Size); off += direntSize {
		n, _ := fs.Readi(dp, mkKernelUio(raw[:]), off, direntSize)
		if n != direntSize {
			panic("fs: short directory read")
		}
		if decodeDirent(raw[:]).inum != 0 {
			return false
		}
	}
	return true
}

// Namex resolves path relative to cwd. If parent is true and path has
// a final component, it returns cwd/path's parent directory (referenced
// but not locked) with the final component copied into nameOut instead of resolving
// all the way through; otherwise it returns the fully resolved inode.
func (fs *Fs_t) Namex(cwd *Inode_t, path ustr.Ustr, nameOut *ustr.Ustr, parent bool) (*Inode_t, defs.Err_t) {
	var ip *Inode_t
	if path.IsAbsolute() {
		ip = fs.icache.Get(fs.dev, RootIno)
	} else {
		fs.icache.lk.Acquire()
		cwd.refcnt++
		fs.icache.lk.Release()
		ip = cwd
	}

	i := 0
	for i < len(path) {
		for i < len(path) && path[i] == '/' {
			i++
		}
		if i >= len(path) {
			break
		}
		start := i
		for i < len(path) && path[i] != '/' {
			i++
		}
		name := path[start:i]

		rest := i
		for rest < len(path) && path[rest] == '/' {
			rest++
		}
		last := rest >= len(path)

		if parent && last {
			*nameOut = name.Clone()
			return ip, 0
		}

		fs.icache.Ilock(ip)
		if ip.Type != defs.T_DIR {
			fs.icache.Iunlock(ip)
			fs.icache.Iput(ip)
			return nil, defs.ENOTDIR
		}
		inum, _, found := fs.DirLookup(ip, name)
		fs.icache.Iunlock(ip)
		if !found {
			fs.icache.Iput(ip)
			return nil, defs.ENOENT
		}
		next := fs.icache.Get(fs.dev, inum)
		fs.icache.Iput(ip)
		ip = next
	}

	if parent {
		// Path was "/" or "" with no final component: no parent exists.
		fs.icache.Iput(ip)
		return nil, defs.ENOENT
	}
	return ip, 0
}

// Create resolves path's parent, then either returns the existing
// child (if reuse is true) or allocates and links a fresh inode of
// the given type/major/minor. For a fresh directory, "." and ".." are
// linked and the parent's link count is bumped.
func (fs *Fs_t) Create(cwd *Inode_t, path ustr.Ustr, typ uint, major, minor uint, reuse bool) (*Inode_t, defs.Err_t) {
	fs.log.BeginOp()
	defer fs.log.EndOp()

	var name ustr.Ustr
	dp, err := fs.Namex(cwd, path, &name, true)
	if err != 0 {
		return nil, err
	}
	fs.icache.Ilock(dp)

	if inum, _, found := fs.DirLookup(dp, name); found {
		fs.icache.Iunlock(dp)
		fs.icache.Iput(dp)
		if !reuse {
			return nil, defs.EEXIST
		}
		ip := fs.icache.Get(fs.dev, inum)
		return ip, 0
	}

	ip := fs.Ialloc(typ)
	fs.icache.Ilock(ip)
	ip.Major = major
	ip.Minor = minor
	ip.Nlink = 1
	fs.Iupdate(ip)

	if typ == defs.T_DIR {
		dp.Nlink++
		fs.Iupdate(dp)
		if e := fs.DirLink(ip, ustr.MkUstrDot(), ip.Inum); e != 0 {
			panic("fs: linking . into fresh directory failed")
		}
		if e := fs.DirLink(ip, ustr.DotDot, dp.Inum); e != 0 {
			panic("fs: linking .. into fresh directory failed")
		}
	}

	if e := fs.DirLink(dp, name, ip.Inum); e != 0 {
		fs.icache.Iunlock(ip)
		fs.icache.Iput(ip)
		fs.icache.Iunlock(dp)
		fs.icache.Iput(dp)
		return nil, e
	}

	fs.icache.Iunlock(ip)
	fs.icache.Iunlock(dp)
	fs.icache.Iput(dp)
	return ip, 0
}
