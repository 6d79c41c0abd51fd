package file

import (
	"defs"
	"fdops"
	"pipe"
	"stat"
)

// PipeFd_t adapts one end of a pipe.Pipe_t to fdops.Fdops_i.
type PipeFd_t struct {
	p       *pipe.Pipe_t
	isWrite bool
}

// MkPipeFd wraps p as the read end (isWrite false) or write end
// (isWrite true) of a pipe file descriptor.
func MkPipeFd(p *pipe.Pipe_t, isWrite bool) *PipeFd_t {
	return &PipeFd_t{p: p, isWrite: isWrite}
}

func (pf *PipeFd_t) Close() defs.Err_t {
	pf.p.Close(pf.isWrite)
	return 0
}

func (pf *PipeFd_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wtype(defs.T_DEV)
	return 0
}

func (pf *PipeFd_t) Lseek(int, int) (int, defs.Err_t) { return 0, defs.ESPIPE }

func (pf *PipeFd_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if pf.isWrite {
		return 0, defs.EINVAL
	}
	return pf.p.Read(dst, dst.Remain())
}

func (pf *PipeFd_t) Reopen() defs.Err_t { return 0 }

func (pf *PipeFd_t) Truncate(uint) defs.Err_t { return defs.EINVAL }

func (pf *PipeFd_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if !pf.isWrite {
		return 0, defs.EINVAL
	}
	return pf.p.Write(src, src.Remain())
}
