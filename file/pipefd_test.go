package file

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"defs"
	"lock"
	"pipe"
)

type singleHart struct{ nest int }

func (h *singleHart) Hartid() int { return 0 }
func (h *singleHart) Pushcli()    { h.nest++ }
func (h *singleHart) Popcli()     { h.nest-- }

func TestMain(m *testing.M) {
	lock.SetHartProvider(func() lock.Hart { return &singleHart{} })
	os.Exit(m.Run())
}

func TestPipeFdReadAndWriteEndsRoundTrip(t *testing.T) {
	p := pipe.MkPipe()
	rfd := MkPipeFd(p, false)
	wfd := MkPipeFd(p, true)

	n, err := wfd.Write(mkFakeUio([]byte("pipehello")))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 9, n)

	got := mkFakeUio(nil)
	n, err = rfd.Read(got)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 9, n)
	assert.Equal(t, []byte("pipehello"), got.buf)
}

func TestPipeFdWriteEndRejectsRead(t *testing.T) {
	p := pipe.MkPipe()
	wfd := MkPipeFd(p, true)
	_, err := wfd.Read(mkFakeUio(nil))
	assert.Equal(t, defs.EINVAL, err)
}

func TestPipeFdCloseMarksEndClosed(t *testing.T) {
	p := pipe.MkPipe()
	rfd := MkPipeFd(p, false)
	wfd := MkPipeFd(p, true)
	wfd.Close()

	got := mkFakeUio(nil)
	n, err := rfd.Read(got)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0, n)
}
