package sysc

import (
	"encoding/binary"

	"defs"
	"fd"
	"file"
	"fs"
	"pipe"
	"proc"
	"stat"
	"trap"
	"ustr"
	"vm"
)

// userio builds a vm.Userbuf_t spanning n bytes of p's user memory
// starting at uva, the Userio_i every Fdops_i.Read/Write moves bytes
// through.
func userio(p *proc.Proc_t, uva uintptr, n int) *vm.Userbuf_t {
	ub := &vm.Userbuf_t{}
	ub.Ub_init(p.Vm, uva, n)
	return ub
}

// permsFromFlags maps an open(2) flags word to the fd.FD_READ/FD_WRITE
// bits MkFile's caller records on the resulting Fd_t.
func permsFromFlags(flags int) int {
	switch flags & 0x3 {
	case defs.O_WRONLY:
		return fd.FD_WRITE
	case defs.O_RDWR:
		return fd.FD_READ | fd.FD_WRITE
	default:
		return fd.FD_READ
	}
}

// sysOpen resolves (or, with O_CREAT, creates) path and installs it as
// a new file descriptor. Opening a directory is only permitted
// read-only; O_TRUNC truncates an existing regular file.
func sysOpen(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	if fsys == nil {
		return 0, defs.ENOSYS
	}
	path, err := argStr(p, tf, 0, MAXPATH)
	if err != 0 {
		return 0, err
	}
	flags := argInt(tf, 1)
	canon := canonpath(p, path)

	var ip *fs.Inode_t
	var ferr defs.Err_t
	if flags&defs.O_CREAT != 0 {
		ip, ferr = fsys.Create(nil, canon, defs.T_FILE, 0, 0, true)
	} else {
		ip, ferr = fsys.Namex(nil, canon, nil, false)
	}
	if ferr != 0 {
		return 0, ferr
	}

	fsys.Ilock(ip)
	if ip.Type == defs.T_DIR && flags&0x3 != defs.O_RDONLY {
		fsys.Iunlock(ip)
		fsys.Iput(ip)
		return 0, defs.EISDIR
	}
	if flags&defs.O_TRUNC != 0 && ip.Type == defs.T_FILE {
		fsys.Truncate(ip)
	}
	fsys.Iunlock(ip)

	fdn, aerr := allocFd(p)
	if aerr != 0 {
		fsys.Iput(ip)
		return 0, aerr
	}

	backend := file.MkFile(fsys, ip, false)
	p.Fds[fdn] = &fd.Fd_t{Fops: backend, Perms: permsFromFlags(flags)}
	return fdn, 0
}

// sysClose closes and clears the calling process's fd slot.
func sysClose(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	fdn, f, err := argFd(p, tf, 0)
	if err != 0 {
		return 0, err
	}
	fd.Close_panic(f)
	p.Fds[fdn] = nil
	return 0, 0
}

// sysRead copies up to count bytes from fd into the user buffer at addr.
func sysRead(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	_, f, err := argFd(p, tf, 0)
	if err != 0 {
		return 0, err
	}
	addr := argAddr(tf, 1)
	count := argInt(tf, 2)
	if count < 0 {
		return 0, defs.EINVAL
	}
	n, rerr := f.Fops.Read(userio(p, addr, count))
	return n, rerr
}

// sysWrite copies up to count bytes from the user buffer at addr into fd.
func sysWrite(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	_, f, err := argFd(p, tf, 0)
	if err != 0 {
		return 0, err
	}
	addr := argAddr(tf, 1)
	count := argInt(tf, 2)
	if count < 0 {
		return 0, defs.EINVAL
	}
	n, werr := f.Fops.Write(userio(p, addr, count))
	return n, werr
}

// sysFstat copies fd's metadata into the stat.Stat_t-shaped buffer at
// addr, spec.md §6's packed {device,inum,type,nlink,size} record.
func sysFstat(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	_, f, err := argFd(p, tf, 0)
	if err != 0 {
		return 0, err
	}
	addr := argAddr(tf, 1)
	var st stat.Stat_t
	if serr := f.Fops.Fstat(&st); serr != 0 {
		return 0, serr
	}
	if cerr := p.Vm.CopyOut(addr, st.Bytes()); cerr != 0 {
		return 0, cerr
	}
	return 0, 0
}

// sysDup duplicates fd into a fresh slot, sharing the same backend the
// way fd.Copyfd's Reopen contract guarantees.
func sysDup(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	_, f, err := argFd(p, tf, 0)
	if err != 0 {
		return 0, err
	}
	nfdn, aerr := allocFd(p)
	if aerr != 0 {
		return 0, aerr
	}
	nf, cerr := fd.Copyfd(f)
	if cerr != 0 {
		return 0, cerr
	}
	p.Fds[nfdn] = nf
	return nfdn, 0
}

// sysPipe allocates two fd slots and a pipe.Pipe_t joining them,
// writing the (read, write) fd pair as two little-endian 32-bit ints
// to the address in a0, atomically in the sense that both slots are
// reserved before either is installed.
func sysPipe(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	addr := argAddr(tf, 0)

	rfdn, err := allocFd(p)
	if err != 0 {
		return 0, err
	}
	p.Fds[rfdn] = &fd.Fd_t{}
	wfdn, err := allocFd(p)
	if err != 0 {
		p.Fds[rfdn] = nil
		return 0, err
	}

	pp := pipe.MkPipe()
	pp.Killed = func() bool { return p.Killed }
	p.Fds[rfdn] = &fd.Fd_t{Fops: file.MkPipeFd(pp, false), Perms: fd.FD_READ}
	p.Fds[wfdn] = &fd.Fd_t{Fops: file.MkPipeFd(pp, true), Perms: fd.FD_WRITE}

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rfdn))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wfdn))
	if cerr := p.Vm.CopyOut(addr, buf[:]); cerr != 0 {
		fd.Close_panic(p.Fds[rfdn])
		fd.Close_panic(p.Fds[wfdn])
		p.Fds[rfdn] = nil
		p.Fds[wfdn] = nil
		return 0, cerr
	}
	return 0, 0
}

// sysChdir replaces the calling process's working directory with
// path, which must resolve to a directory.
func sysChdir(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	if fsys == nil {
		return 0, defs.ENOSYS
	}
	path, err := argStr(p, tf, 0, MAXPATH)
	if err != 0 {
		return 0, err
	}
	canon := canonpath(p, path)

	ip, nerr := fsys.Namex(nil, canon, nil, false)
	if nerr != 0 {
		return 0, nerr
	}
	fsys.Ilock(ip)
	if ip.Type != defs.T_DIR {
		fsys.Iunlock(ip)
		fsys.Iput(ip)
		return 0, defs.ENOTDIR
	}
	fsys.Iunlock(ip)

	old := p.Cwd
	p.Cwd = &fd.Cwd_t{Fd: &fd.Fd_t{Fops: file.MkFile(fsys, ip, false)}, Path: canon}
	if old != nil && old.Fd != nil {
		fd.Close_panic(old.Fd)
	}
	return 0, 0
}

// sysMknod creates a device-special file at path with the given major/
// minor, reusing an existing entry if one is already there.
func sysMknod(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	if fsys == nil {
		return 0, defs.ENOSYS
	}
	path, err := argStr(p, tf, 0, MAXPATH)
	if err != 0 {
		return 0, err
	}
	major := argInt(tf, 1)
	minor := argInt(tf, 2)
	if major < 0 || minor < 0 {
		return 0, defs.EINVAL
	}
	ip, cerr := fsys.Create(nil, canonpath(p, path), defs.T_DEV, uint(major), uint(minor), true)
	if cerr != 0 {
		return 0, cerr
	}
	fsys.Iput(ip)
	return 0, 0
}

// sysUnlink removes path's final component from its parent directory.
func sysUnlink(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	if fsys == nil {
		return 0, defs.ENOSYS
	}
	path, err := argStr(p, tf, 0, MAXPATH)
	if err != 0 {
		return 0, err
	}

	var name ustr.Ustr
	dp, nerr := fsys.Namex(nil, canonpath(p, path), &name, true)
	if nerr != 0 {
		return 0, nerr
	}
	fsys.Ilock(dp)
	uerr := fsys.Unlink(dp, name)
	fsys.Iunlock(dp)
	fsys.Iput(dp)
	return 0, uerr
}

// sysLink adds newpath as another name for the inode oldpath names.
// Directories may not be hard-linked.
func sysLink(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	if fsys == nil {
		return 0, defs.ENOSYS
	}
	oldpath, err := argStr(p, tf, 0, MAXPATH)
	if err != 0 {
		return 0, err
	}
	newpath, err := argStr(p, tf, 1, MAXPATH)
	if err != 0 {
		return 0, err
	}

	ip, nerr := fsys.Namex(nil, canonpath(p, oldpath), nil, false)
	if nerr != 0 {
		return 0, nerr
	}
	fsys.Ilock(ip)
	if ip.Type == defs.T_DIR {
		fsys.Iunlock(ip)
		fsys.Iput(ip)
		return 0, defs.EPERM
	}
	ip.Nlink++
	fsys.Iupdate(ip)
	fsys.Iunlock(ip)

	var name ustr.Ustr
	dp, perr := fsys.Namex(nil, canonpath(p, newpath), &name, true)
	if perr != 0 {
		ip.Nlink--
		fsys.Iupdate(ip)
		fsys.Iput(ip)
		return 0, perr
	}
	fsys.Ilock(dp)
	if lerr := fsys.DirLink(dp, name, ip.Inum); lerr != 0 {
		fsys.Iunlock(dp)
		fsys.Iput(dp)
		ip.Nlink--
		fsys.Iupdate(ip)
		fsys.Iput(ip)
		return 0, lerr
	}
	fsys.Iunlock(dp)
	fsys.Iput(dp)
	fsys.Iput(ip)
	return 0, 0
}

// sysMkdir creates a fresh, empty directory at path.
func sysMkdir(p *proc.Proc_t, tf *trap.TrapFrame) (int, defs.Err_t) {
	if fsys == nil {
		return 0, defs.ENOSYS
	}
	path, err := argStr(p, tf, 0, MAXPATH)
	if err != 0 {
		return 0, err
	}
	ip, cerr := fsys.Create(nil, canonpath(p, path), defs.T_DIR, 0, 0, false)
	if cerr != 0 {
		return 0, cerr
	}
	fsys.Iput(ip)
	return 0, 0
}
