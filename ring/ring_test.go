package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingWriteReadRoundtrip(t *testing.T) {
	r := MkRing(4)
	assert.True(t, r.Empty())
	n := r.Write([]uint8{1, 2, 3})
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, r.Used())
	assert.Equal(t, 1, r.Left())

	out := make([]uint8, 3)
	n = r.Read(out)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint8{1, 2, 3}, out)
	assert.True(t, r.Empty())
}

func TestRingFullStopsWrite(t *testing.T) {
	r := MkRing(2)
	n := r.Write([]uint8{1, 2, 3})
	assert.Equal(t, 2, n)
	assert.True(t, r.Full())
}

func TestRingWraparound(t *testing.T) {
	r := MkRing(3)
	r.Write([]uint8{1, 2})
	out := make([]uint8, 1)
	r.Read(out)
	r.Write([]uint8{3, 4})
	assert.Equal(t, 3, r.Used())
	full := make([]uint8, 3)
	n := r.Read(full)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint8{2, 3, 4}, full)
}
