package file

import (
	"bytes"

	"github.com/google/pprof/profile"

	"defs"
	"fdops"
)

// RegisterProfDevice installs D_PROF, the pprof-format tick histogram
// spec.md's device table names but the reference kernel's own
// implementation never filled in on this hosted port: reading
// /dev/prof returns a single-sample profile.Profile whose one sample
// carries the tick count ticks() reports at read time, gzip-encoded
// the way every other pprof consumer (go tool pprof, net/http/pprof)
// expects.
func RegisterProfDevice(ticks func() uint64) {
	RegisterDevice(defs.D_PROF, &DevOps{
		Read: func(dst fdops.Userio_i) (int, defs.Err_t) {
			buf, err := encodeTickProfile(ticks())
			if err != nil {
				return 0, defs.EIO
			}
			return dst.Uiowrite(buf)
		},
	})
}

func encodeTickProfile(ticks uint64) ([]byte, error) {
	fn := &profile.Function{ID: 1, Name: "kernel", SystemName: "kernel"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "ticks", Unit: "count"}},
		Sample: []*profile.Sample{
			{Value: []int64{int64(ticks)}, Location: []*profile.Location{loc}},
		},
		Location: []*profile.Location{loc},
		Function: []*profile.Function{fn},
	}
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
