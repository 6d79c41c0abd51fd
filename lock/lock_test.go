package lock

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// goroutineID parses the "goroutine N [...]" header runtime.Stack always
// emits. proc's real hart registry uses the same trick to resolve "which
// hart is the calling goroutine bound to" without true goroutine-local
// storage, which stock Go does not provide.
func goroutineID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	buf = buf[:bytes.IndexByte(buf, ' ')]
	id, _ := strconv.ParseInt(string(buf), 10, 64)
	return id
}

// fakeHart is a single-goroutine stand-in for proc.Proc_t: good enough to
// exercise the nesting/ownership bookkeeping without a real scheduler.
type fakeHart struct {
	id    int
	nest  int
	mu    sync.Mutex
}

func (h *fakeHart) Hartid() int { return h.id }
func (h *fakeHart) Pushcli() {
	h.mu.Lock()
	h.nest++
	h.mu.Unlock()
}
func (h *fakeHart) Popcli() {
	h.mu.Lock()
	h.nest--
	h.mu.Unlock()
}

func withFakeHart(t *testing.T, id int, f func()) {
	h := &fakeHart{id: id}
	SetHartProvider(func() Hart { return h })
	defer SetHartProvider(nil)
	f()
}

func TestSpinlockAcquireRelease(t *testing.T) {
	withFakeHart(t, 0, func() {
		l := MkSpinlock("test")
		assert.False(t, l.Holding())
		l.Acquire()
		assert.True(t, l.Holding())
		l.Release()
		assert.False(t, l.Holding())
	})
}

func TestSpinlockRecursiveAcquirePanics(t *testing.T) {
	withFakeHart(t, 0, func() {
		l := MkSpinlock("test")
		l.Acquire()
		assert.Panics(t, func() { l.Acquire() })
	})
}

func TestSpinlockReleaseNotHeldPanics(t *testing.T) {
	withFakeHart(t, 0, func() {
		l := MkSpinlock("test")
		assert.Panics(t, func() { l.Release() })
	})
}

func TestSpinlockCrossHartExclusion(t *testing.T) {
	var mu sync.Mutex
	hartOf := map[int64]int{}
	SetHartProvider(func() Hart {
		mu.Lock()
		id := hartOf[goroutineID()]
		mu.Unlock()
		return &fakeHart{id: id}
	})
	defer SetHartProvider(nil)
	register := func(id int) {
		mu.Lock()
		hartOf[goroutineID()] = id
		mu.Unlock()
	}

	l := MkSpinlock("test")
	register(0)
	l.Acquire()

	acquired := make(chan struct{})
	go func() {
		register(1)
		l.Acquire()
		close(acquired)
		l.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("hart 1 acquired a lock held by hart 0")
	default:
	}

	l.Release()
	<-acquired
}

func TestSleeplockAcquireReleaseRoundtrip(t *testing.T) {
	var wakeups int
	var mu sync.Mutex
	SetSchedHooks(
		func(c Channel, guard *Spinlock_t) {
			guard.Release()
			guard.Acquire()
		},
		func(c Channel) {
			mu.Lock()
			wakeups++
			mu.Unlock()
		},
	)
	defer SetSchedHooks(nil, nil)

	withFakeHart(t, 0, func() {
		sl := MkSleeplock("ino")
		assert.False(t, sl.Holding())
		sl.Acquire()
		assert.True(t, sl.Holding())
		sl.Release()
		assert.False(t, sl.Holding())
		assert.Equal(t, 1, wakeups)
	})
}
