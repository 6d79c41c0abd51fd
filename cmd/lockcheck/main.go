// Command lockcheck is a lightweight static check for two of spec.md
// §5's lock-discipline rules: every Acquire on a lock.Spinlock_t or
// lock.Sleeplock_t reached on a given path has a matching Release
// before the enclosing function returns, and no function acquires a
// leaf lock (recognised by name: the log lock, the disk lock, the
// parents-map lock, or the pid allocator lock; PCB locks are not in the
// set) and then acquires a
// second lock while still holding it — leaf locks are the bottom of
// the lock order and must never be held across another Acquire.
//
// This is a syntactic approximation, not the whole-program points-to
// analysis a real deadlock checker would run: it reasons about one
// function body at a time, identifies a lock by the source text of its
// receiver expression, and does not follow calls across function
// boundaries. It catches the common mistakes — a forgotten Release on
// an early-return path, a leaf lock held across a nested Acquire — at
// the cost of also being fooled by aliasing it cannot see through.
package main

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"os"

	"golang.org/x/tools/go/packages"
)

// leafLockNames approximates spec.md §5's named leaf locks by exact
// field/variable name, looked up by an Acquire receiver's last selector
// (log, disk, parents map and pid allocator locks). PCB locks are not in
// the set, and no lock field in this tree carries one of these names.
var leafLockNames = map[string]bool{
	"loglk":     true,
	"disklk":    true,
	"pidlk":     true,
	"parentslk": true,
}

type finding struct {
	pos  token.Position
	msg  string
}

func main() {
	dir := "."
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedSyntax | packages.NeedTypes |
			packages.NeedTypesInfo | packages.NeedFiles,
		Dir: dir,
	}
	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		fmt.Fprintf(os.Stderr, "lockcheck: load: %v\n", err)
		os.Exit(2)
	}

	var findings []finding
	for _, pkg := range pkgs {
		for _, f := range pkg.Syntax {
			ast.Inspect(f, func(n ast.Node) bool {
				fn, ok := n.(*ast.FuncDecl)
				if !ok || fn.Body == nil {
					return true
				}
				findings = append(findings, checkFunc(pkg, fn)...)
				return true
			})
		}
	}

	for _, f := range findings {
		fmt.Printf("%s: %s\n", f.pos, f.msg)
	}
	if len(findings) > 0 {
		os.Exit(1)
	}
}

// checkFunc walks one function body in statement order, tracking the
// set of locks acquired and not yet released. It flags: (1) a lock
// still held at a return statement, (2) an Acquire on a second lock
// while a leaf lock is already held.
func checkFunc(pkg *packages.Package, fn *ast.FuncDecl) []finding {
	held := map[string]token.Pos{}
	var leafHeld string
	var out []finding

	ast.Inspect(fn.Body, func(n ast.Node) bool {
		switch stmt := n.(type) {
		case *ast.ReturnStmt:
			for name, pos := range held {
				out = append(out, finding{
					pos: pkg.Fset.Position(pos),
					msg: fmt.Sprintf("%s: lock %q acquired but not released before return in %s",
						pkg.Fset.Position(stmt.Pos()), name, fn.Name.Name),
				})
			}
		case *ast.ExprStmt:
			call, ok := stmt.X.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			if !isLockType(pkg, sel.X) {
				return true
			}
			recv := exprString(sel.X)
			switch sel.Sel.Name {
			case "Acquire":
				if leafHeld != "" && leafHeld != recv {
					out = append(out, finding{
						pos: pkg.Fset.Position(call.Pos()),
						msg: fmt.Sprintf("%s: acquiring %q while leaf lock %q is held — violates the leaf-lock rule",
							pkg.Fset.Position(call.Pos()), recv, leafHeld),
					})
				}
				held[recv] = call.Pos()
				if leafLockNames[lastSelector(recv)] {
					leafHeld = recv
				}
			case "Release":
				delete(held, recv)
				if leafHeld == recv {
					leafHeld = ""
				}
			}
		}
		return true
	})
	return out
}

// isLockType reports whether e's static type is lock.Spinlock_t,
// *lock.Spinlock_t, lock.Sleeplock_t, or *lock.Sleeplock_t.
func isLockType(pkg *packages.Package, e ast.Expr) bool {
	t := pkg.TypesInfo.TypeOf(e)
	if t == nil {
		return false
	}
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}
	name := named.Obj().Name()
	return name == "Spinlock_t" || name == "Sleeplock_t"
}

func exprString(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.Ident:
		return v.Name
	case *ast.SelectorExpr:
		return exprString(v.X) + "." + v.Sel.Name
	case *ast.StarExpr:
		return exprString(v.X)
	default:
		return "?"
	}
}

func lastSelector(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[i+1:]
		}
	}
	return s
}
