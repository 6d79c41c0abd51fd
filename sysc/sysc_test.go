package sysc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"defs"
	"fdops"
	"fs"
	"mem"
	"proc"
	"stat"
	"trap"
	"ustr"
)

func TestMain(m *testing.M) {
	proc.InstallHartProvider()
	proc.InstallSchedHooks()
	mem.Init(0x80000000, 256, 0)
	os.Exit(m.Run())
}

// fakeFS is a minimal flat-namespace fsIface, in the same spirit as the
// file package's own fakeFS test double: a single directory's worth of
// named inodes backed by in-memory byte slices, enough to drive open/
// read/write/stat/unlink/link/mkdir without a real disk/cache/log.
type fakeFS struct {
	byPath map[string]*fs.Inode_t
	data   map[*fs.Inode_t][]byte
	nextIn int
}

func mkFakeFS() *fakeFS {
	root := &fs.Inode_t{Inum: 1, Type: defs.T_DIR}
	return &fakeFS{
		byPath: map[string]*fs.Inode_t{"/": root},
		data:   map[*fs.Inode_t][]byte{},
		nextIn: 2,
	}
}

func (f *fakeFS) Namex(cwd *fs.Inode_t, path ustr.Ustr, nameOut *ustr.Ustr, parent bool) (*fs.Inode_t, defs.Err_t) {
	p := path.String()
	if parent {
		i := len(p) - 1
		for i > 0 && p[i] != '/' {
			i--
		}
		dir := p[:i]
		if dir == "" {
			dir = "/"
		}
		dp, ok := f.byPath[dir]
		if !ok {
			return nil, defs.ENOENT
		}
		if nameOut != nil {
			*nameOut = ustr.MkUstrSlice([]byte(p[i+1:]))
		}
		return dp, 0
	}
	ip, ok := f.byPath[p]
	if !ok {
		return nil, defs.ENOENT
	}
	return ip, 0
}

func (f *fakeFS) Create(cwd *fs.Inode_t, path ustr.Ustr, typ uint, major, minor uint, reuse bool) (*fs.Inode_t, defs.Err_t) {
	p := path.String()
	if ip, ok := f.byPath[p]; ok {
		if !reuse {
			return nil, defs.EEXIST
		}
		return ip, 0
	}
	ip := &fs.Inode_t{Inum: f.nextIn, Type: typ, Major: major, Minor: minor, Nlink: 1}
	f.nextIn++
	f.byPath[p] = ip
	return ip, 0
}

func (f *fakeFS) Ilock(*fs.Inode_t)   {}
func (f *fakeFS) Iunlock(*fs.Inode_t) {}
func (f *fakeFS) Iput(*fs.Inode_t)    {}
func (f *fakeFS) Iupdate(*fs.Inode_t) {}

func (f *fakeFS) Stat(ip *fs.Inode_t, st *stat.Stat_t) {
	st.Wdev(uint(ip.Dev))
	st.Wino(uint(ip.Inum))
	st.Wtype(ip.Type)
	st.Wnlink(ip.Nlink)
	st.Wsize(uint(len(f.data[ip])))
}

func (f *fakeFS) Truncate(ip *fs.Inode_t) {
	f.data[ip] = nil
	ip.Size = 0
}

func (f *fakeFS) Unlink(dp *fs.Inode_t, name ustr.Ustr) defs.Err_t {
	for p := range f.byPath {
		if p != "/" && p[1:] == name.String() {
			delete(f.byPath, p)
			return 0
		}
	}
	return defs.ENOENT
}

func (f *fakeFS) DirLink(dp *fs.Inode_t, name ustr.Ustr, inum int) defs.Err_t {
	for _, ip := range f.byPath {
		if ip.Inum == inum {
			f.byPath["/"+name.String()] = ip
			return 0
		}
	}
	return defs.ENOENT
}

func (f *fakeFS) Readi(ip *fs.Inode_t, dst fdops.Userio_i, off, n int) (int, defs.Err_t) {
	d := f.data[ip]
	if off >= len(d) {
		return 0, 0
	}
	end := off + n
	if end > len(d) {
		end = len(d)
	}
	return dst.Uiowrite(d[off:end])
}

func (f *fakeFS) Writei(ip *fs.Inode_t, src fdops.Userio_i, off, n int) (int, defs.Err_t) {
	buf := make([]byte, n)
	c, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	d := f.data[ip]
	need := off + c
	if need > len(d) {
		grown := make([]byte, need)
		copy(grown, d)
		d = grown
	}
	copy(d[off:], buf[:c])
	f.data[ip] = d
	ip.Size = uint(len(d))
	return c, 0
}

func mkTestProc(t *testing.T, name string) *proc.Proc_t {
	// Each test runs on its own goroutine; bind it the way TestMain's
	// goroutine is bound so allocation outside RunOn can take locks.
	proc.InstallHartProvider()
	p := proc.MkFirstProc(name, 8)
	// Map user pages 0x0-0x4fff: the tests use addresses up to 0x4000.
	if _, err := p.Vm.Alloc(0, 5*mem.PGSIZE); err != 0 {
		t.Fatalf("alloc user pages: %v", err)
	}
	return p
}

func mkSyscallFrame(num int, a0, a1, a2 uint64) *trap.TrapFrame {
	return &trap.TrapFrame{A7: uint64(num), A0: a0, A1: a1, A2: a2}
}

const errRc = uint64(0xffffffffffffffff)

func TestGetpidReturnsCallingProcessPid(t *testing.T) {
	p := mkTestProc(t, "getpid")
	var tf *trap.TrapFrame
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_GETPID, 0, 0, 0)
		Syscall(tf)
	})
	assert.Equal(t, uint64(p.Pid), tf.A0)
}

func TestUnknownSyscallNumberPanics(t *testing.T) {
	p := mkTestProc(t, "badsys")
	assert.Panics(t, func() {
		p.RunOn(func() {
			Syscall(mkSyscallFrame(999, 0, 0, 0))
		})
	})
}

func TestSbrkGrowsAddressSpaceAndReturnsOldSize(t *testing.T) {
	p := mkTestProc(t, "sbrk")
	old := p.Vm.Sz
	var tf *trap.TrapFrame
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_SBRK, uint64(mem.PGSIZE), 0, 0)
		Syscall(tf)
	})
	assert.Equal(t, uint64(old), tf.A0)
	assert.Equal(t, old+mem.PGSIZE, p.Vm.Sz)
}

func TestPipeWriteThenReadRoundTrips(t *testing.T) {
	p := mkTestProc(t, "piper")
	addr := uintptr(0x2000)

	var tf *trap.TrapFrame
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_PIPE, uint64(addr), 0, 0)
		Syscall(tf)
	})
	assert.Equal(t, uint64(0), tf.A0)

	var fds [8]byte
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyIn(addr, fds[:]))
	rfd := uint64(fds[0])
	wfd := uint64(fds[4])

	msg := []byte("hi")
	wbuf := uintptr(0x3000)
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyOut(wbuf, msg))

	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_WRITE, wfd, uint64(wbuf), uint64(len(msg)))
		Syscall(tf)
	})
	assert.Equal(t, uint64(len(msg)), tf.A0)

	rbuf := uintptr(0x4000)
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_READ, rfd, uint64(rbuf), uint64(len(msg)))
		Syscall(tf)
	})
	assert.Equal(t, uint64(len(msg)), tf.A0)

	var got [2]byte
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyIn(rbuf, got[:]))
	assert.Equal(t, msg, got[:])
}

func TestOpenCreateWriteReadCloseRoundTrips(t *testing.T) {
	InstallFS(mkFakeFS())
	defer InstallFS(nil)

	p := mkTestProc(t, "opener")
	pathAddr := uintptr(0x1000)
	path := []byte("/hello.txt\x00")
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyOut(pathAddr, path))

	var tf *trap.TrapFrame
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_OPEN, uint64(pathAddr), uint64(defs.O_CREAT|defs.O_RDWR), 0)
		Syscall(tf)
	})
	assert.NotEqual(t, errRc, tf.A0)
	wfd := tf.A0

	msg := []byte("hello")
	wbuf := uintptr(0x2000)
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyOut(wbuf, msg))
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_WRITE, wfd, uint64(wbuf), uint64(len(msg)))
		Syscall(tf)
	})
	assert.Equal(t, uint64(len(msg)), tf.A0)

	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_CLOSE, wfd, 0, 0)
		Syscall(tf)
	})
	assert.Equal(t, uint64(0), tf.A0)

	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_OPEN, uint64(pathAddr), uint64(defs.O_RDONLY), 0)
		Syscall(tf)
	})
	rfd := tf.A0

	rbuf := uintptr(0x3000)
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_READ, rfd, uint64(rbuf), uint64(len(msg)))
		Syscall(tf)
	})
	assert.Equal(t, uint64(len(msg)), tf.A0)

	var got [5]byte
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyIn(rbuf, got[:]))
	assert.Equal(t, msg, got[:])
}

func TestOpenMissingFileFails(t *testing.T) {
	InstallFS(mkFakeFS())
	defer InstallFS(nil)

	p := mkTestProc(t, "opener2")
	pathAddr := uintptr(0x1000)
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyOut(pathAddr, []byte("/nope\x00")))

	var tf *trap.TrapFrame
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_OPEN, uint64(pathAddr), uint64(defs.O_RDONLY), 0)
		Syscall(tf)
	})
	assert.Equal(t, errRc, tf.A0)
}

func TestMknodUnlinkLinkMkdirRoundTrip(t *testing.T) {
	InstallFS(mkFakeFS())
	defer InstallFS(nil)

	p := mkTestProc(t, "fsops")
	pathAddr := uintptr(0x1000)
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyOut(pathAddr, []byte("/dev0\x00")))

	var tf *trap.TrapFrame
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_MKNOD, uint64(pathAddr), 1, 2)
		Syscall(tf)
	})
	assert.Equal(t, uint64(0), tf.A0)

	newPathAddr := uintptr(0x1100)
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyOut(newPathAddr, []byte("/dev1\x00")))
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_LINK, uint64(pathAddr), uint64(newPathAddr), 0)
		Syscall(tf)
	})
	assert.Equal(t, uint64(0), tf.A0)

	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_UNLINK, uint64(pathAddr), 0, 0)
		Syscall(tf)
	})
	assert.Equal(t, uint64(0), tf.A0)

	dirPathAddr := uintptr(0x1200)
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyOut(dirPathAddr, []byte("/sub\x00")))
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_MKDIR, uint64(dirPathAddr), 0, 0)
		Syscall(tf)
	})
	assert.Equal(t, uint64(0), tf.A0)
}

func TestChdirRejectsNonDirectory(t *testing.T) {
	InstallFS(mkFakeFS())
	defer InstallFS(nil)

	p := mkTestProc(t, "chdirer")
	pathAddr := uintptr(0x1000)
	assert.Equal(t, defs.Err_t(0), p.Vm.CopyOut(pathAddr, []byte("/afile\x00")))

	var tf *trap.TrapFrame
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_OPEN, uint64(pathAddr), uint64(defs.O_CREAT|defs.O_RDONLY), 0)
		Syscall(tf)
	})
	assert.NotEqual(t, errRc, tf.A0)

	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_CHDIR, uint64(pathAddr), 0, 0)
		Syscall(tf)
	})
	assert.Equal(t, errRc, tf.A0)
}

func TestForkExitWaitRoundTrip(t *testing.T) {
	p := mkTestProc(t, "parent")

	child, ferr := p.Fork()
	assert.Equal(t, defs.Err_t(0), ferr)

	done := make(chan struct{})
	go child.RunOn(func() {
		exitTf := mkSyscallFrame(defs.SYS_EXIT, 3, 0, 0)
		Syscall(exitTf)
		close(done)
	})
	<-done

	var waitTf *trap.TrapFrame
	p.RunOn(func() {
		waitTf = mkSyscallFrame(defs.SYS_WAIT, 0, 0, 0)
		Syscall(waitTf)
	})
	assert.Equal(t, uint64(child.Pid), waitTf.A0)
}

func TestSleepOfZeroTicksReturnsZero(t *testing.T) {
	p := mkTestProc(t, "sleeper")
	var tf *trap.TrapFrame
	p.RunOn(func() {
		tf = mkSyscallFrame(defs.SYS_SLEEP, 0, 0, 0)
		Syscall(tf)
	})
	assert.Equal(t, uint64(0), tf.A0)
}
