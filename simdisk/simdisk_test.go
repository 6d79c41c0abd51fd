package simdisk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"bcache"
)

func TestWriteThenReadRoundTripsThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Open(path, 16)
	assert.NoError(t, err)
	defer d.Close()

	var buf [bcache.BSIZE]byte
	buf[0], buf[1] = 'h', 'i'
	assert.NoError(t, d.WriteBlock(3, &buf))

	var got [bcache.BSIZE]byte
	assert.NoError(t, d.ReadBlock(3, &got))
	assert.Equal(t, byte('h'), got[0])
	assert.Equal(t, byte('i'), got[1])
}

func TestReadOfUntouchedBlockIsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Open(path, 4)
	assert.NoError(t, err)
	defer d.Close()

	var got [bcache.BSIZE]byte
	got[0] = 'x'
	assert.NoError(t, d.ReadBlock(1, &got))
	assert.Equal(t, byte(0), got[0])
}

func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d1, _ := Open(path, 4)
	var buf [bcache.BSIZE]byte
	buf[0] = 'z'
	assert.NoError(t, d1.WriteBlock(0, &buf))
	assert.NoError(t, d1.Close())

	d2, err := Open(path, 4)
	assert.NoError(t, err)
	defer d2.Close()
	var got [bcache.BSIZE]byte
	assert.NoError(t, d2.ReadBlock(0, &got))
	assert.Equal(t, byte('z'), got[0])
}
