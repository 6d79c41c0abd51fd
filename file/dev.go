// Package file adapts the objects a file descriptor can point at — a
// filesystem inode, a pipe end, or a device — to fdops.Fdops_i, the
// single interface the syscall layer's read/write/stat/close dispatch
// through without caring which kind of descriptor it holds.
package file

import (
	"defs"
	"fdops"
)

// DevOps is the pair of functions a device major number registers: how
// to read from it and how to write to it. Either may be nil, the way
// the reference kernel's device table left write-only or read-only
// slots unset.
type DevOps struct {
	Read  func(dst fdops.Userio_i) (int, defs.Err_t)
	Write func(src fdops.Userio_i) (int, defs.Err_t)
}

var devtab [defs.D_LAST + 1]*DevOps

// RegisterDevice installs the read/write functions for major. This
// package registers /dev/null itself at init; cmd/simhost registers the
// stat and prof pseudo-files at boot. The console and the raw disk have
// no entry in this table.
func RegisterDevice(major int, ops *DevOps) {
	devtab[major] = ops
}

func deviceOps(major int) (*DevOps, defs.Err_t) {
	if major < 0 || major >= len(devtab) || devtab[major] == nil {
		return nil, defs.ENXIO
	}
	return devtab[major], 0
}

func init() {
	RegisterDevice(defs.D_DEVNULL, &DevOps{
		Read: func(fdops.Userio_i) (int, defs.Err_t) { return 0, 0 },
		Write: func(src fdops.Userio_i) (int, defs.Err_t) {
			n := 0
			buf := make([]byte, 512)
			for {
				c, err := src.Uioread(buf)
				n += c
				if err != 0 || c == 0 {
					return n, err
				}
			}
		},
	})
}
