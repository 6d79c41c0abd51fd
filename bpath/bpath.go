// Package bpath canonicalizes path strings the way namex (fs package)
// expects to walk them: no "." components, no empty components from
// doubled slashes, and ".." left in place for namex to resolve against
// whatever directory it is currently visiting (bpath does not need to know
// the directory tree to strip ".." the way a host OS's realpath would).
package bpath

import "ustr"

// Canonicalize rewrites p into an equivalent path with redundant
// separators and "." components removed. A leading "/" is preserved.
// ".." components are left alone; namex resolves them against the live
// directory tree, which is the only place that can know what ".." means.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	abs := p.IsAbsolute()
	parts := Split(p)
	out := make(ustr.Ustr, 0, len(p))
	if abs {
		out = append(out, '/')
	}
	for i, c := range parts {
		if i > 0 && len(out) > 0 && out[len(out)-1] != '/' {
			out = append(out, '/')
		}
		out = append(out, c...)
	}
	if len(out) == 0 {
		return ustr.MkUstrDot()
	}
	return out
}

// Split breaks p into non-empty, non-"." components.
func Split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		c := p[start:end]
		if !(len(c) == 1 && c[0] == '.') {
			parts = append(parts, c)
		}
		start = -1
	}
	for i, b := range p {
		if b == '/' {
			flush(i)
		} else if start < 0 {
			start = i
		}
	}
	flush(len(p))
	return parts
}

// Dir returns all but the last component of p, or "/" if p has none.
func Dir(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	if len(parts) <= 1 {
		if p.IsAbsolute() {
			return ustr.MkUstrRoot()
		}
		return ustr.MkUstrDot()
	}
	out := ustr.Ustr{}
	if p.IsAbsolute() {
		out = append(out, '/')
	}
	for i, c := range parts[:len(parts)-1] {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, c...)
	}
	return out
}

// Base returns the last component of p.
func Base(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	if len(parts) == 0 {
		return ustr.MkUstrRoot()
	}
	return parts[len(parts)-1]
}
