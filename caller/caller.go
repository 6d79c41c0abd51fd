// Package caller prints kernel call stacks for fatal diagnostics. Every
// invariant violation in spec.md §7 ("Programming/invariant violation ...
// halt the kernel with a diagnostic") goes through Fatal so the panic
// message always carries a stack, the way the reference kernel's panic
// path always ran Callerdump first.
package caller

import (
	"fmt"
	"runtime"
)

// Callerdump prints the call stack starting at the given depth.
func Callerdump(start int) {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	fmt.Printf("%s", s)
}

// Fatal prints msg, dumps the caller's stack, and panics. It passes 2 to
// Callerdump, skipping Callerdump's and Fatal's own frames so the dump
// starts at the function that called Fatal.
func Fatal(msg string) {
	fmt.Printf("FATAL: %s\n", msg)
	Callerdump(2)
	panic(msg)
}
