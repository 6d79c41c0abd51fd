package proc

import (
	"os"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"defs"
	"fdops"
	"fs"
	"lock"
	"mem"
	"ustr"
)

func TestMain(m *testing.M) {
	InstallHartProvider()
	InstallSchedHooks()
	mem.Init(0x80000000, 256, 0)
	os.Exit(m.Run())
}

func mkTestProc(t *testing.T, name string) *Proc_t {
	// Each test runs on its own goroutine; bind it the way TestMain's
	// goroutine is bound so allocation outside RunOn can take locks.
	InstallHartProvider()
	p := MkFirstProc(name, 8)
	return p
}

func TestForkCopiesAddressSpaceAndZeroesChildA0(t *testing.T) {
	parent := mkTestProc(t, "parent")
	parent.Tf.A0 = 99

	child, err := parent.Fork()
	assert.Equal(t, defs.Err_t(0), err)
	assert.NotEqual(t, parent.Pid, child.Pid)
	assert.Equal(t, parent, child.Parent)
	assert.Equal(t, uint64(0), child.Tf.A0)
	assert.Equal(t, RUNNABLE, child.State)
}

func TestWaitReapsExitedChild(t *testing.T) {
	parent := mkTestProc(t, "parent")
	child, err := parent.Fork()
	assert.Equal(t, defs.Err_t(0), err)

	done := make(chan struct{})
	go child.RunOn(func() {
		child.Exit(7)
		close(done)
	})
	<-done

	pid, status, werr := parent.Wait()
	assert.Equal(t, defs.Err_t(0), werr)
	assert.Equal(t, child.Pid, pid)
	assert.Equal(t, 7, status)
}

func TestWaitReturnsEChildWithNoChildren(t *testing.T) {
	p := mkTestProc(t, "lonely")
	_, _, err := p.Wait()
	assert.Equal(t, defs.ECHILD, err)
}

func TestSleepWakeupRendezvousAcrossGoroutines(t *testing.T) {
	p := mkTestProc(t, "sleeper")

	var lk lock.Spinlock_t
	var chanVar int
	c := lock.Channel(unsafe.Pointer(&chanVar))

	woke := make(chan struct{})
	go p.RunOn(func() {
		lk.Acquire()
		lock.Sleep(c, &lk)
		lk.Release()
		close(woke)
	})

	// Give the sleeper a moment to actually park before waking it.
	time.Sleep(20 * time.Millisecond)
	lock.Wakeup(c)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("sleeper never woke up")
	}
}

func TestKillWakesSleepingProcess(t *testing.T) {
	p := mkTestProc(t, "killable")

	var lk lock.Spinlock_t
	var chanVar int
	c := lock.Channel(unsafe.Pointer(&chanVar))

	isKilled := func() bool {
		ptableMu.Lock()
		defer ptableMu.Unlock()
		return p.Killed
	}

	returned := make(chan struct{})
	go p.RunOn(func() {
		lk.Acquire()
		for !isKilled() {
			lock.Sleep(c, &lk)
		}
		lk.Release()
		close(returned)
	})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, defs.Err_t(0), Kill(p.Pid))

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("killed process never woke up")
	}
}

func TestHartSlotsBoundConcurrentRunners(t *testing.T) {
	var mu sync.Mutex
	max := 0
	cur := 0

	var wg sync.WaitGroup
	for i := 0; i < NCPU*3; i++ {
		p := mkTestProc(t, "runner")
		wg.Add(1)
		go p.RunOn(func() {
			mu.Lock()
			cur++
			if cur > max {
				max = cur
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			cur--
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, max, NCPU)
}

// fakeFS implements execFS over an in-memory single-file root, enough
// to drive Exec's path-resolution-then-load sequence without a real
// disk/cache/log stack.
type fakeFS struct {
	mu   sync.Mutex
	root *fs.Inode_t
	bins map[string]*fs.Inode_t
	data map[*fs.Inode_t][]byte
}

func (f *fakeFS) Namex(cwd *fs.Inode_t, path ustr.Ustr, nameOut *ustr.Ustr, parent bool) (*fs.Inode_t, defs.Err_t) {
	ip, ok := f.bins[path.String()]
	if !ok {
		return nil, defs.ENOENT
	}
	return ip, 0
}
func (f *fakeFS) Ilock(ip *fs.Inode_t)   {}
func (f *fakeFS) Iunlock(ip *fs.Inode_t) {}
func (f *fakeFS) Iput(ip *fs.Inode_t)    {}
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

func TestExecReturnsENOENTForMissingPath(t *testing.T) {
	p := mkTestProc(t, "execer")
	fsys := &fakeFS{bins: map[string]*fs.Inode_t{}, data: map[*fs.Inode_t][]byte{}}
	err := p.Exec(fsys, ustr.MkUstrSlice([]byte("/nope")), nil)
	assert.Equal(t, defs.ENOENT, err)
}
