//go:build tools

// Package tools pins the code-generation binaries this repository's
// go:generate directives depend on (defs/err_string.go is committed
// stringer output) so `go mod tidy` keeps golang.org/x/tools in the
// module graph without requiring a global install. It is never
// compiled into the kernel itself.
package tools

import (
	_ "golang.org/x/tools/cmd/stringer"
)
