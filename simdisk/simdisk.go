// Package simdisk is a file-backed block store: the disk a hosted
// boot (cmd/simhost, or a test) hands to virtio.Disk_t in place of
// real storage hardware, the same role the teacher's ahci_disk_t
// played against its own Fs_t.
package simdisk

import (
	"os"

	"golang.org/x/sys/unix"

	"bcache"
)

// Disk is a virtio.BlockStore backed by a single host file, addressed
// at a fixed per-block byte offset the way a real block device is.
type Disk struct {
	f *os.File
}

// Open opens (creating if needed) path as the backing store for an
// nblocks-block disk, zero-extending it if it is smaller than that.
func Open(path string, nblocks int) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	want := int64(nblocks) * bcache.BSIZE
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &Disk{f: f}, nil
}

func (d *Disk) ReadBlock(blockno int, dst *[bcache.BSIZE]byte) error {
	off := int64(blockno) * bcache.BSIZE
	n, err := unix.Pread(int(d.f.Fd()), dst[:], off)
	if err != nil {
		return err
	}
	for i := n; i < bcache.BSIZE; i++ {
		dst[i] = 0
	}
	return nil
}

func (d *Disk) WriteBlock(blockno int, src *[bcache.BSIZE]byte) error {
	off := int64(blockno) * bcache.BSIZE
	_, err := unix.Pwrite(int(d.f.Fd()), src[:], off)
	return err
}

func (d *Disk) Flush() error {
	return d.f.Sync()
}

func (d *Disk) Close() error {
	return d.f.Close()
}
