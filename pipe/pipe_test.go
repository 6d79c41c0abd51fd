package pipe

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"defs"
	"lock"
)

type singleHart struct{ nest int }

func (h *singleHart) Hartid() int { return 0 }
func (h *singleHart) Pushcli()    { h.nest++ }
func (h *singleHart) Popcli()     { h.nest-- }

func TestMain(m *testing.M) {
	lock.SetHartProvider(func() lock.Hart { return &singleHart{} })
	os.Exit(m.Run())
}

// withSchedHooks wires a condition variable as the sleep/wakeup
// backend, mirroring uart's test harness for the same hooks.
func withSchedHooks() func() {
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	lock.SetSchedHooks(
		func(c lock.Channel, guard *lock.Spinlock_t) {
			guard.Release()
			mu.Lock()
			cond.Wait()
			mu.Unlock()
			guard.Acquire()
		},
		func(c lock.Channel) {
			mu.Lock()
			cond.Broadcast()
			mu.Unlock()
		},
	)
	return func() { lock.SetSchedHooks(nil, nil) }
}

// fakeUio is a plain-slice Userio_i test double, standing in for
// vm.Fakeubuf_t.
type fakeUio struct{ buf []byte }

func mkFakeUio(buf []byte) *fakeUio { return &fakeUio{buf: buf} }

func (u *fakeUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.buf)
	u.buf = u.buf[n:]
	return n, 0
}
func (u *fakeUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	u.buf = append(u.buf, src...)
	return len(src), 0
}
func (u *fakeUio) Remain() int  { return len(u.buf) }
func (u *fakeUio) Totalsz() int { return len(u.buf) }

func TestWriteThenReadRoundTrips(t *testing.T) {
	p := MkPipe()
	src := mkFakeUio([]byte("hello"))
	n, err := p.Write(src, 5)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 5, n)

	dst := mkFakeUio(nil)
	n, err = p.Read(dst, 5)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), dst.buf)
}

func TestReadBlocksUntilWriterClosesThenReturnsEOF(t *testing.T) {
	defer withSchedHooks()()
	p := MkPipe()

	done := make(chan struct{})
	var got int
	go func() {
		dst := mkFakeUio(nil)
		n, err := p.Read(dst, 10)
		got = n
		assert.Equal(t, defs.Err_t(0), err)
		close(done)
	}()

	p.Close(true)
	<-done
	assert.Equal(t, 0, got)
}

func TestWriteAfterReaderClosedReturnsEPIPE(t *testing.T) {
	p := MkPipe()
	p.Close(false)

	src := mkFakeUio([]byte("x"))
	n, err := p.Write(src, 1)
	assert.Equal(t, defs.EPIPE, err)
	assert.Equal(t, 0, n)
}

func TestWriteBlocksWhenFullUntilReaderDrains(t *testing.T) {
	defer withSchedHooks()()
	p := MkPipe()

	filler := make([]byte, limitsPipesz(p))
	n, err := p.Write(mkFakeUio(filler), len(filler))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, len(filler), n)

	blocked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(blocked)
		extra := mkFakeUio([]byte("!"))
		n, err := p.Write(extra, 1)
		assert.Equal(t, defs.Err_t(0), err)
		assert.Equal(t, 1, n)
		close(done)
	}()
	<-blocked

	select {
	case <-done:
		t.Fatal("Write must block while the ring is full")
	default:
	}

	dst := mkFakeUio(nil)
	_, err = p.Read(dst, 1)
	assert.Equal(t, defs.Err_t(0), err)

	<-done
}

func limitsPipesz(p *Pipe_t) int { return p.rb.Cap() }
