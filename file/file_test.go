package file

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"defs"
	"fdops"
	"fs"
	"stat"
)

// fakeUio is a plain-slice Userio_i test double. Built from a slice it
// is a source that hands out buf; built from nil it is a sink that
// appends to buf and has room for up to sinkCap bytes.
type fakeUio struct {
	buf  []byte
	sink bool
}

const sinkCap = 4096

func mkFakeUio(buf []byte) *fakeUio { return &fakeUio{buf: buf, sink: buf == nil} }

func (u *fakeUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.buf)
	u.buf = u.buf[n:]
	return n, 0
}
func (u *fakeUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	u.buf = append(u.buf, src...)
	return len(src), 0
}
func (u *fakeUio) Remain() int {
	if u.sink {
		return sinkCap - len(u.buf)
	}
	return len(u.buf)
}
func (u *fakeUio) Totalsz() int { return len(u.buf) }

// fakeFS is a minimal fsIface backed by an in-memory byte slice per
// inode, standing in for a real mounted filesystem.
type fakeFS struct {
	data     map[*fs.Inode_t][]byte
	iputs    int
	trunc    int
}

func mkFakeFS() *fakeFS { return &fakeFS{data: map[*fs.Inode_t][]byte{}} }

func (f *fakeFS) Ilock(*fs.Inode_t)   {}
func (f *fakeFS) Iunlock(*fs.Inode_t) {}
func (f *fakeFS) Iput(ip *fs.Inode_t) { f.iputs++ }
func (f *fakeFS) Stat(ip *fs.Inode_t, st *stat.Stat_t) {
	st.Wtype(ip.Type)
	st.Wsize(uint(len(f.data[ip])))
}
func (f *fakeFS) Truncate(ip *fs.Inode_t) {
	f.trunc++
	f.data[ip] = nil
	ip.Size = 0
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

func TestWriteThenReadRoundTripsThroughInode(t *testing.T) {
	fsys := mkFakeFS()
	ip := &fs.Inode_t{Type: defs.T_FILE}
	fd := MkFile(fsys, ip, false)

	n, err := fd.Write(mkFakeUio([]byte("hello")))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 5, n)

	_, err = fd.Lseek(0, defs.SEEK_SET)
	assert.Equal(t, defs.Err_t(0), err)

	got := mkFakeUio(nil)
	n, err = fd.Read(got)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), got.buf)
}

func TestAppendAlwaysWritesAtEnd(t *testing.T) {
	fsys := mkFakeFS()
	ip := &fs.Inode_t{Type: defs.T_FILE}
	fd := MkFile(fsys, ip, false)
	fd.Write(mkFakeUio([]byte("abc")))

	afd := MkFile(fsys, ip, true)
	n, err := afd.Write(mkFakeUio([]byte("def")))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 3, n)

	got := mkFakeUio(nil)
	fd2 := MkFile(fsys, ip, false)
	fd2.Read(got)
	assert.Equal(t, []byte("abcdef"), got.buf)
}

func TestFstatReportsSize(t *testing.T) {
	fsys := mkFakeFS()
	ip := &fs.Inode_t{Type: defs.T_FILE}
	fd := MkFile(fsys, ip, false)
	fd.Write(mkFakeUio([]byte("xyz")))

	var st stat.Stat_t
	err := fd.Fstat(&st)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, uint(3), st.Size())
}

func TestDeviceFileDispatchesToDevNull(t *testing.T) {
	fsys := mkFakeFS()
	ip := &fs.Inode_t{Type: defs.T_DEV, Major: uint(defs.D_DEVNULL)}
	fd := MkFile(fsys, ip, false)

	n, err := fd.Write(mkFakeUio([]byte("ignored")))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 7, n)

	got := mkFakeUio(nil)
	n, err = fd.Read(got)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0, n)
}

func TestUnregisteredDeviceReturnsENXIO(t *testing.T) {
	fsys := mkFakeFS()
	ip := &fs.Inode_t{Type: defs.T_DEV, Major: 200}
	fd := MkFile(fsys, ip, false)

	_, err := fd.Read(mkFakeUio(nil))
	assert.Equal(t, defs.ENXIO, err)
}

func TestCloseCallsIput(t *testing.T) {
	fsys := mkFakeFS()
	ip := &fs.Inode_t{Type: defs.T_FILE}
	fd := MkFile(fsys, ip, false)
	fd.Close()
	assert.Equal(t, 1, fsys.iputs)
}
