package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/slipdock/slipdock/internal/pathutil"
)

// Resolver turns client-supplied relative paths into absolute paths confined
// to the share root. It is the single path-construction point of the server:
// every component that touches the tree resolves through it, and nothing else
// joins client input onto a filesystem path.
type Resolver struct {
	root string
}

// NewResolver canonicalizes the share root (absolute, symlinks resolved) and
// verifies it is an existing directory. The root is immutable for the process
// lifetime.
func NewResolver(root string) (*Resolver, error) {
	if root == "" {
		return nil, errors.New("share root is required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve share root: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve share root: %w", err)
	}

	info, err := os.Stat(canon)
	if err != nil {
		return nil, fmt.Errorf("stat share root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("share root is not a directory: %s", canon)
	}

	return &Resolver{root: canon}, nil
}

// Root returns the canonical absolute share root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve validates a relative path and returns the canonical absolute path
// it names under the root. The empty path (or ".") names the root itself.
//
// The input is rejected outright when it carries a NUL byte or an absolute
// prefix. Otherwise it is joined onto the root and canonicalized, symlinks
// included, down to the deepest existing ancestor when the leaf does not
// exist yet. Only the canonical result is checked for containment.
// Checking after canonicalization is what makes a symlink pointing outside
// the root an ErrPathViolation instead of a hole. Note filepath.Join
// collapses ".." lexically before any symlink is consulted, so a dot-dot
// sequence can never be smuggled through link indirection either.
func (r *Resolver) Resolve(rel string) (string, error) {
	if pathutil.HasNul(rel) {
		return "", ErrPathViolation
	}

	slashed := strings.ReplaceAll(rel, "\\", "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", ErrPathViolation
	}

	joined := filepath.Join(r.root, filepath.FromSlash(slashed))

	canon, err := canonicalize(joined)
	if err != nil {
		return "", mapOSError("canonicalize", err)
	}

	if canon != r.root && !strings.HasPrefix(canon, r.root+string(filepath.Separator)) {
		return "", ErrPathViolation
	}
	return canon, nil
}

// ResolveDir resolves rel and additionally requires an existing directory.
func (r *Resolver) ResolveDir(rel string) (string, error) {
	abs, err := r.Resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", mapOSError("stat", err)
	}
	if !info.IsDir() {
		return "", ErrNotADirectory
	}
	return abs, nil
}

// Rel maps a resolved absolute path back to its slash-separated relative
// identifier, "" for the root itself.
func (r *Resolver) Rel(abs string) string {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// canonicalize resolves symlinks in p. When the leaf (or a tail of the path)
// does not exist yet, the deepest existing ancestor is resolved and the
// remaining elements are appended unchanged, so not-yet-created upload and
// mkdir targets still canonicalize against their real parent directory.
func canonicalize(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	resolvedParent, err := canonicalize(parent)
	if err != nil {
		return "", err
	}
	// A dangling symlink reports not-exist from EvalSymlinks yet still has an
	// Lstat entry. It must never stand in for a parent directory: a later
	// create would traverse wherever the link points once its target appears.
	if fi, lerr := os.Lstat(resolvedParent); lerr == nil && fi.Mode()&fs.ModeSymlink != 0 {
		return "", fs.ErrNotExist
	}
	return filepath.Join(resolvedParent, filepath.Base(p)), nil
}
