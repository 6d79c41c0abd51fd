package hashtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGetDel(t *testing.T) {
	ht := MkHash(8)
	_, ok := ht.Get(int64(42))
	assert.False(t, ok)

	_, inserted := ht.Set(int64(42), "block-42")
	assert.True(t, inserted)

	v, ok := ht.Get(int64(42))
	assert.True(t, ok)
	assert.Equal(t, "block-42", v)

	_, inserted = ht.Set(int64(42), "replaced")
	assert.False(t, inserted)
	v, _ = ht.Get(int64(42))
	assert.Equal(t, "block-42", v)

	ht.Del(int64(42))
	_, ok = ht.Get(int64(42))
	assert.False(t, ok)
}

func TestSizeAndElems(t *testing.T) {
	ht := MkHash(4)
	ht.Set(int64(1), "a")
	ht.Set(int64(2), "b")
	ht.Set(int64(3), "c")
	assert.Equal(t, 3, ht.Size())
	assert.Len(t, ht.Elems(), 3)
}

func TestIterStopsOnTrue(t *testing.T) {
	ht := MkHash(4)
	ht.Set(int64(1), "a")
	ht.Set(int64(2), "b")
	seen := 0
	stopped := ht.Iter(func(k, v interface{}) bool {
		seen++
		return true
	})
	assert.True(t, stopped)
	assert.Equal(t, 1, seen)
}
