package fs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"bcache"
	"defs"
	"lock"
	"ustr"
)

type singleHart struct{ nest int }

func (h *singleHart) Hartid() int { return 0 }
func (h *singleHart) Pushcli()    { h.nest++ }
func (h *singleHart) Popcli()     { h.nest-- }

func TestMain(m *testing.M) {
	lock.SetHartProvider(func() lock.Hart { return &singleHart{} })
	os.Exit(m.Run())
}

type memDisk struct{ store map[int][bcache.BSIZE]byte }

func newMemDisk() *memDisk { return &memDisk{store: map[int][bcache.BSIZE]byte{}} }

func (d *memDisk) Start(req *bcache.Bdev_req_t) bool {
	switch req.Cmd {
	case bcache.BDEV_READ:
		if b, ok := d.store[req.Blockno]; ok {
			*req.Data = b
		}
	case bcache.BDEV_WRITE:
		d.store[req.Blockno] = *req.Data
	}
	return false
}
func (d *memDisk) Stats() string { return "" }

func mkTestFS(t *testing.T) *Fs_t {
	disk := newMemDisk()
	cache := bcache.MkCache(128, disk)
	sb := MkSuperblock(1024, 200, 31) // header + 30 slots: room for Writei's BeginOp nested in Create's
	Format(cache, 0, sb)
	return MkFS(0, cache, 32)
}

func TestCreateFileThenLookupFromRoot(t *testing.T) {
	fs := mkTestFS(t)
	root := fs.MkRootCwd()

	ip, err := fs.Create(root, ustr.Ustr("/hello"), defs.T_FILE, 0, 0, false)
	assert.Equal(t, defs.Err_t(0), err)
	assert.NotNil(t, ip)

	got, err := fs.Namex(root, ustr.Ustr("/hello"), nil, false)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, ip.Inum, got.Inum)
}

func TestCreateDuplicateFails(t *testing.T) {
	fs := mkTestFS(t)
	root := fs.MkRootCwd()

	_, err := fs.Create(root, ustr.Ustr("/x"), defs.T_FILE, 0, 0, false)
	assert.Equal(t, defs.Err_t(0), err)

	_, err = fs.Create(root, ustr.Ustr("/x"), defs.T_FILE, 0, 0, false)
	assert.Equal(t, defs.EEXIST, err)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	fs := mkTestFS(t)
	root := fs.MkRootCwd()

	ip, err := fs.Create(root, ustr.Ustr("/data"), defs.T_FILE, 0, 0, false)
	assert.Equal(t, defs.Err_t(0), err)

	fs.Ilock(ip)
	payload := []byte("hello, filesystem")
	n, err := fs.Writei(ip, mkKernelUio(payload), 0, len(payload))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, len(payload), n)

	got := make([]byte, len(payload))
	n, err = fs.Readi(ip, mkKernelUio(got), 0, len(got))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)
	fs.Iunlock(ip)
}

func TestWriteAcrossManyBlocksRoundTrips(t *testing.T) {
	fs := mkTestFS(t)
	root := fs.MkRootCwd()
	ip, _ := fs.Create(root, ustr.Ustr("/big"), defs.T_FILE, 0, 0, false)

	payload := make([]byte, bcache.BSIZE*3+100)
	for i := range payload {
		payload[i] = byte(i)
	}
	fs.Ilock(ip)
	n, err := fs.Writei(ip, mkKernelUio(payload), 0, len(payload))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, len(payload), n)

	got := make([]byte, len(payload))
	n, err = fs.Readi(ip, mkKernelUio(got), 0, len(got))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, payload, got)
	fs.Iunlock(ip)
}

func TestMkdirAndNestedCreate(t *testing.T) {
	fs := mkTestFS(t)
	root := fs.MkRootCwd()

	_, err := fs.Create(root, ustr.Ustr("/sub"), defs.T_DIR, 0, 0, false)
	assert.Equal(t, defs.Err_t(0), err)

	_, err = fs.Create(root, ustr.Ustr("/sub/leaf"), defs.T_FILE, 0, 0, false)
	assert.Equal(t, defs.Err_t(0), err)

	got, err := fs.Namex(root, ustr.Ustr("/sub/leaf"), nil, false)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, uint(defs.T_FILE), got.Type)
}

func TestUnlinkRemovesEntry(t *testing.T) {
	fs := mkTestFS(t)
	root := fs.MkRootCwd()
	fs.Create(root, ustr.Ustr("/gone"), defs.T_FILE, 0, 0, false)

	fs.Ilock(root)
	err := fs.DirUnlink(root, ustr.Ustr("gone"))
	fs.Iunlock(root)
	assert.Equal(t, defs.Err_t(0), err)

	_, err = fs.Namex(root, ustr.Ustr("/gone"), nil, false)
	assert.Equal(t, defs.ENOENT, err)
}

func TestUnlinkRefusesNonEmptyDirectory(t *testing.T) {
	fs := mkTestFS(t)
	root := fs.MkRootCwd()
	fs.Create(root, ustr.Ustr("/d"), defs.T_DIR, 0, 0, false)
	fs.Create(root, ustr.Ustr("/d/f"), defs.T_FILE, 0, 0, false)

	fs.Ilock(root)
	err := fs.DirUnlink(root, ustr.Ustr("d"))
	fs.Iunlock(root)
	assert.Equal(t, defs.ENOTEMPTY, err)
}
