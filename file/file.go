package file

import (
	"defs"
	"fdops"
	"fs"
	"stat"
)

// fsIface is the subset of *fs.Fs_t this package calls, kept as an
// interface so tests can stand in a fake filesystem without dragging
// in bcache/wal/a real disk.
type fsIface interface {
	Ilock(*fs.Inode_t)
	Iunlock(*fs.Inode_t)
	Iput(*fs.Inode_t)
	Stat(*fs.Inode_t, *stat.Stat_t)
	Truncate(*fs.Inode_t)
	Readi(*fs.Inode_t, fdops.Userio_i, int, int) (int, defs.Err_t)
	Writei(*fs.Inode_t, fdops.Userio_i, int, int) (int, defs.Err_t)
}

// Inode_t adapts an open regular file, directory, or device-special
// file to fdops.Fdops_i. A device-special inode's Read/Write forward
// to the device table by major number instead of touching the
// filesystem, and leave the file offset unchanged.
type Inode_t struct {
	fs   fsIface
	ip   *fs.Inode_t
	off  int
	apnd bool
}

// MkFile opens ip as a file descriptor backend. append forces every
// write to seek to the current end-of-file first, the way O_APPEND
// opens behave.
func MkFile(fsys fsIface, ip *fs.Inode_t, append bool) *Inode_t {
	return &Inode_t{fs: fsys, ip: ip, apnd: append}
}

func (f *Inode_t) Close() defs.Err_t {
	f.fs.Iput(f.ip)
	return 0
}

func (f *Inode_t) Fstat(st *stat.Stat_t) defs.Err_t {
	f.fs.Ilock(f.ip)
	f.fs.Stat(f.ip, st)
	f.fs.Iunlock(f.ip)
	return 0
}

func (f *Inode_t) Lseek(off int, whence int) (int, defs.Err_t) {
	f.fs.Ilock(f.ip)
	sz := int(f.ip.Size)
	f.fs.Iunlock(f.ip)

	switch whence {
	case defs.SEEK_SET:
		f.off = off
	case defs.SEEK_CUR:
		f.off += off
	case defs.SEEK_END:
		f.off = sz + off
	default:
		return 0, defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
		return 0, defs.EINVAL
	}
	return f.off, 0
}

func (f *Inode_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.fs.Ilock(f.ip)
	defer f.fs.Iunlock(f.ip)

	if f.ip.Type == defs.T_DEV {
		ops, err := deviceOps(int(f.ip.Major))
		if err != 0 {
			return 0, err
		}
		if ops.Read == nil {
			return 0, defs.EINVAL
		}
		return ops.Read(dst)
	}

	n, err := f.fs.Readi(f.ip, dst, f.off, dst.Remain())
	f.off += n
	return n, err
}

func (f *Inode_t) Reopen() defs.Err_t { return 0 }

func (f *Inode_t) Truncate(newlen uint) defs.Err_t {
	if newlen != 0 {
		return defs.EINVAL
	}
	f.fs.Ilock(f.ip)
	f.fs.Truncate(f.ip)
	f.fs.Iunlock(f.ip)
	f.off = 0
	return 0
}

func (f *Inode_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.fs.Ilock(f.ip)
	defer f.fs.Iunlock(f.ip)

	if f.ip.Type == defs.T_DEV {
		ops, err := deviceOps(int(f.ip.Major))
		if err != 0 {
			return 0, err
		}
		if ops.Write == nil {
			return 0, defs.EINVAL
		}
		return ops.Write(src)
	}

	if f.apnd {
		f.off = int(f.ip.Size)
	}
	n, err := f.fs.Writei(f.ip, src, f.off, src.Remain())
	f.off += n
	return n, err
}
