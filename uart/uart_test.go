package uart

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

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
// backend, the minimal stand-in for a scheduler that still exercises
// the sleep-when-full and sleep-when-empty paths faithfully.
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

func TestPutcSyncWritesToSink(t *testing.T) {
	u := Mk()
	var out []byte
	u.Sink = func(b byte) { out = append(out, b) }
	u.PutcSync('a')
	assert.Equal(t, []byte{'a'}, out)
}

func TestPutcQueuesAndDrainsImmediatelyWhenIdle(t *testing.T) {
	u := Mk()
	var out []byte
	u.Sink = func(b byte) { out = append(out, b) }
	u.Putc('x')
	u.Putc('y')
	assert.Equal(t, []byte{'x', 'y'}, out, "transmit should drain immediately while the line is idle")
}

func TestPutcBlocksWhenRingFullUntilDrained(t *testing.T) {
	defer withSchedHooks()()
	u := Mk()
	u.regs[lsr] &^= lsrTxIdle // simulate a busy transmitter

	for i := 0; i < txBufSize; i++ {
		u.tx.PushByte(byte('0' + i%10))
	}
	assert.True(t, u.tx.Full())

	var out []byte
	u.Sink = func(b byte) { out = append(out, b) }

	blocked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(blocked)
		u.Putc('!')
		close(done)
	}()
	<-blocked

	select {
	case <-done:
		t.Fatal("Putc must block while the ring is full")
	default:
	}

	u.lk.Acquire()
	u.regs[lsr] |= lsrTxIdle
	u.transmit()
	u.lk.Release()

	<-done
	assert.Equal(t, byte('!'), out[len(out)-1], "the queued byte must drain once the ring has room")
}

func TestFeedDeliversByteToRecvIntr(t *testing.T) {
	u := Mk()
	var got []byte
	u.RecvIntr = func(b byte) { got = append(got, b) }
	u.Feed('q')
	assert.Equal(t, []byte{'q'}, got)
}
