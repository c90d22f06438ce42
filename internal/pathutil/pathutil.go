package pathutil

import (
	"path"
	"path/filepath"
	"strings"
)

// NormalizePath converts all path separators to forward slashes.
// Go's os.Open/os.Stat accept forward slashes on all platforms.
func NormalizePath(p string) string {
	return filepath.ToSlash(p)
}

// HasNul reports whether the string contains a NUL byte. NUL is never
// valid in a path and is a reliable sign of a crafted input.
func HasNul(s string) bool {
	return strings.IndexByte(s, 0) >= 0
}

// CleanRelPath normalizes a relative path used as a registry or event key:
// separators become forward slashes, redundant segments collapse, and a
// leading slash is dropped. The result is "" for the root, otherwise a
// slash-separated path with no leading or trailing slash. Cleaning is rooted,
// so ".." cannot climb above the top; escape attempts clamp to the root
// instead of leaking a relative prefix. This is a normalization helper only;
// filesystem access is authorized by the resolver, never here.
func CleanRelPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// SanitizeName reduces a client-supplied file or directory name to a single
// safe path element. Directory components are dropped, control characters are
// stripped, and Windows-hostile trailing dots and spaces are trimmed. Returns
// "" when nothing usable remains ("", ".", "..", names made of control
// characters).
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	name = strings.TrimRight(b.String(), ". ")
	name = strings.TrimSpace(name)

	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}

// ParentDir returns the slash-separated parent of a relative path, "" when
// the path is at the top of the tree.
func ParentDir(rel string) string {
	rel = CleanRelPath(rel)
	if rel == "" {
		return ""
	}
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}

// IsAncestor reports whether ancestor contains p (or equals it), comparing
// cleaned slash-separated relative paths. The root ("") is an ancestor of
// everything.
func IsAncestor(ancestor, p string) bool {
	ancestor = CleanRelPath(ancestor)
	p = CleanRelPath(p)
	if ancestor == "" {
		return true
	}
	return p == ancestor || strings.HasPrefix(p, ancestor+"/")
}
