package filesystem

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/slipdock/slipdock/internal/pathutil"
)

// TempPrefix marks in-flight upload files. The maintenance sweep removes
// stale ones, so anything carrying this prefix is fair game for cleanup.
const TempPrefix = ".slipdock-upload-"

// DefaultMaxUploadSize caps uploads when no limit is configured.
const DefaultMaxUploadSize int64 = 1 << 30 // 1 GiB

// Service performs every file-system operation of the server. Each entry
// point resolves its path arguments through the Resolver before touching the
// disk; there is no unresolved path anywhere below this API.
type Service struct {
	resolver    *Resolver
	maxUpload   int64
	allowDelete bool
	logger      zerolog.Logger
}

// NewService creates the file service over an already-validated resolver.
func NewService(resolver *Resolver, maxUploadSize int64, logger zerolog.Logger) *Service {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &Service{
		resolver:    resolver,
		maxUpload:   maxUploadSize,
		allowDelete: true,
		logger:      logger.With().Str("component", "filesystem").Logger(),
	}
}

// SetAllowDelete switches the read-mostly mode where deletes are refused.
func (s *Service) SetAllowDelete(allow bool) {
	s.allowDelete = allow
}

// Resolver exposes the path resolver for collaborators that need to map
// identifiers themselves (batch coordinator, share links).
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// List returns the entries of one directory, directories first, each group
// ordered case-insensitively by name. Upload temp files are not listed.
func (s *Service) List(ctx context.Context, dir string) (*Listing, error) {
	abs, err := s.resolver.ResolveDir(dir)
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, mapOSError("read dir", err)
	}

	rel := s.resolver.Rel(abs)
	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if strings.HasPrefix(de.Name(), TempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info. Normal under
			// concurrent mutation; skip it.
			continue
		}
		entries = append(entries, s.toEntry(abs, rel, de.Name(), info))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind == KindDirectory
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	return &Listing{
		Path:    rel,
		Parent:  pathutil.ParentDir(rel),
		Entries: entries,
	}, nil
}

// Stat returns the entry for one path.
func (s *Service) Stat(ctx context.Context, path string) (*Entry, error) {
	abs, err := s.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, mapOSError("stat", err)
	}

	rel := s.resolver.Rel(abs)
	entry := s.toEntry(filepath.Dir(abs), pathutil.ParentDir(rel), filepath.Base(abs), info)
	entry.Path = rel
	return &entry, nil
}

// OpenRead opens a file for download. Directories are ErrNotADirectory's
// inverse case and come back as a typed failure too.
func (s *Service) OpenRead(ctx context.Context, path string) (*os.File, *Entry, error) {
	entry, err := s.Stat(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if entry.Kind == KindDirectory {
		return nil, nil, ErrIsADirectory
	}

	abs, err := s.resolver.Resolve(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, nil, mapOSError("open", err)
	}
	return f, entry, nil
}

// WriteUpload streams r into dir under filename. Bytes go to a temp file in
// the target directory through a hard size cap, then an atomic rename makes
// the finished file visible; concurrent listers never observe a partial
// write. A failed or aborted upload removes the temp file. Name collisions
// disambiguate with a counter suffix unless opts.Overwrite is set.
func (s *Service) WriteUpload(ctx context.Context, dir, filename string, r io.Reader, opts UploadOptions) (*Entry, error) {
	absDir, err := s.resolver.ResolveDir(dir)
	if err != nil {
		return nil, err
	}

	name := pathutil.SanitizeName(filename)
	if name == "" {
		return nil, ErrInvalidName
	}

	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = s.maxUpload
	}

	tmpPath := filepath.Join(absDir, TempPrefix+uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, mapOSError("create temp file", err)
	}

	committed := false
	defer func() {
		tmp.Close()
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	// LimitReader bounds the copy at cap+1: seeing the extra byte means the
	// stream is over the cap, without ever buffering the body.
	written, err := copyContext(ctx, tmp, io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if written > maxSize {
		return nil, ErrQuotaExceeded
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("sync upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close upload: %w", err)
	}

	finalName := name
	if !opts.Overwrite {
		finalName, err = availableName(absDir, name)
		if err != nil {
			return nil, err
		}
	}

	finalPath := filepath.Join(absDir, finalName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, mapOSError("finalize upload", err)
	}
	committed = true

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, mapOSError("stat upload", err)
	}

	rel := s.resolver.Rel(absDir)
	entry := s.toEntry(absDir, rel, finalName, info)
	s.logger.Info().Str("path", entry.Path).Int64("size", entry.Size).Msg("upload stored")
	return &entry, nil
}

// Delete removes a file or, recursively, a directory. The share root itself
// is never deletable.
func (s *Service) Delete(ctx context.Context, path string) (*Entry, error) {
	if !s.allowDelete {
		return nil, ErrAccessDenied
	}
	abs, err := s.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	if abs == s.resolver.Root() {
		return nil, ErrPathViolation
	}

	entry, err := s.Stat(ctx, path)
	if err != nil {
		return nil, err
	}

	if entry.Kind == KindDirectory {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return nil, mapOSError("delete", err)
	}

	s.logger.Info().Str("path", entry.Path).Msg("deleted")
	return entry, nil
}

// Rename gives a file or directory a new name within its parent.
func (s *Service) Rename(ctx context.Context, path, newName string) (*Entry, error) {
	abs, err := s.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	if abs == s.resolver.Root() {
		return nil, ErrPathViolation
	}
	if _, err := os.Lstat(abs); err != nil {
		return nil, mapOSError("stat", err)
	}

	name := pathutil.SanitizeName(newName)
	if name == "" {
		return nil, ErrInvalidName
	}

	dest := filepath.Join(filepath.Dir(abs), name)
	if dest == abs {
		return s.Stat(ctx, path)
	}
	if _, err := os.Lstat(dest); err == nil {
		return nil, ErrAlreadyExists
	}

	if err := os.Rename(abs, dest); err != nil {
		return nil, mapOSError("rename", err)
	}

	s.logger.Info().Str("from", s.resolver.Rel(abs)).Str("to", s.resolver.Rel(dest)).Msg("renamed")
	return s.Stat(ctx, s.resolver.Rel(dest))
}

// Move relocates a file or directory into destDir, disambiguating name
// collisions the same way uploads do.
func (s *Service) Move(ctx context.Context, path, destDir string) (*Entry, error) {
	srcAbs, destAbs, err := s.resolveTransfer(path, destDir)
	if err != nil {
		return nil, err
	}

	// Moving into the parent it already lives in is a no-op, not a
	// collision to disambiguate.
	if destAbs == filepath.Dir(srcAbs) {
		return s.Stat(ctx, path)
	}

	name, err := availableName(destAbs, filepath.Base(srcAbs))
	if err != nil {
		return nil, err
	}
	target := filepath.Join(destAbs, name)

	if err := os.Rename(srcAbs, target); err != nil {
		return nil, mapOSError("move", err)
	}

	s.logger.Info().Str("from", s.resolver.Rel(srcAbs)).Str("to", s.resolver.Rel(target)).Msg("moved")
	return s.Stat(ctx, s.resolver.Rel(target))
}

// Copy duplicates a file or directory tree into destDir. Directory copies
// are deep but never follow symlinks: a link is recreated as a link only
// when its target stays inside the share root, otherwise it is skipped.
func (s *Service) Copy(ctx context.Context, path, destDir string) (*Entry, error) {
	srcAbs, destAbs, err := s.resolveTransfer(path, destDir)
	if err != nil {
		return nil, err
	}

	name, err := availableName(destAbs, filepath.Base(srcAbs))
	if err != nil {
		return nil, err
	}
	target := filepath.Join(destAbs, name)

	info, err := os.Lstat(srcAbs)
	if err != nil {
		return nil, mapOSError("stat", err)
	}
	if info.IsDir() {
		err = s.copyTree(ctx, srcAbs, target)
	} else {
		err = copyFile(srcAbs, target, info)
	}
	if err != nil {
		os.RemoveAll(target)
		return nil, err
	}

	s.logger.Info().Str("from", s.resolver.Rel(srcAbs)).Str("to", s.resolver.Rel(target)).Msg("copied")
	return s.Stat(ctx, s.resolver.Rel(target))
}

// Mkdir creates one new directory under dir.
func (s *Service) Mkdir(ctx context.Context, dir, name string) (*Entry, error) {
	absDir, err := s.resolver.ResolveDir(dir)
	if err != nil {
		return nil, err
	}

	clean := pathutil.SanitizeName(name)
	if clean == "" {
		return nil, ErrInvalidName
	}

	target := filepath.Join(absDir, clean)
	if err := os.Mkdir(target, 0o755); err != nil {
		return nil, mapOSError("mkdir", err)
	}

	rel := s.resolver.Rel(target)
	s.logger.Info().Str("path", rel).Msg("directory created")
	return s.Stat(ctx, rel)
}

// resolveTransfer resolves the source and destination of a move/copy and
// enforces the containment rules shared by both: the source must exist and
// not be the root, the destination must be a directory, and a directory can
// never be transferred into itself or a descendant.
func (s *Service) resolveTransfer(path, destDir string) (srcAbs, destAbs string, err error) {
	srcAbs, err = s.resolver.Resolve(path)
	if err != nil {
		return "", "", err
	}
	if srcAbs == s.resolver.Root() {
		return "", "", ErrPathViolation
	}
	if _, err := os.Lstat(srcAbs); err != nil {
		return "", "", mapOSError("stat", err)
	}

	destAbs, err = s.resolver.ResolveDir(destDir)
	if err != nil {
		return "", "", err
	}

	if destAbs == srcAbs || strings.HasPrefix(destAbs, srcAbs+string(filepath.Separator)) {
		return "", "", ErrPathViolation
	}
	return srcAbs, destAbs, nil
}

// copyTree deep-copies a directory. Symlinks are recreated only when their
// resolved target remains inside the share root; anything pointing outside
// is silently dropped rather than traversed.
func (s *Service) copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return mapOSError("walk", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			resolved, err := filepath.EvalSymlinks(p)
			if err != nil {
				return nil // dangling link, skip
			}
			root := s.resolver.Root()
			if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
				s.logger.Warn().Str("path", s.resolver.Rel(p)).Msg("skipping symlink escaping share root")
				return nil
			}
			link, err := os.Readlink(p)
			if err != nil {
				return mapOSError("readlink", err)
			}
			return os.Symlink(link, target)

		case d.IsDir():
			return os.MkdirAll(target, 0o755)

		default:
			info, err := d.Info()
			if err != nil {
				return mapOSError("stat", err)
			}
			return copyFile(p, target, info)
		}
	})
}

func copyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return mapOSError("open", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return mapOSError("create", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}

// copyContext copies like io.Copy but observes cancellation between chunks,
// so an aborted upload stops promptly instead of draining the body.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

// availableName returns name if it is free in dir, otherwise the first
// "name (n).ext" that is.
func availableName(dir, name string) (string, error) {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; ; i++ {
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		_, err := os.Lstat(filepath.Join(dir, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", mapOSError("stat", err)
		}
		if i >= 10000 {
			return "", ErrAlreadyExists
		}
	}
}

// SweepTempFiles removes upload temp files older than olderThan. A crashed
// or cancelled upload leaves its temp file behind; this is the cleanup path.
func (s *Service) SweepTempFiles(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	err := filepath.WalkDir(s.resolver.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), TempPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
			s.logger.Debug().Str("path", path).Msg("removed stale upload temp file")
		}
		return nil
	})
	return removed, err
}

func (s *Service) toEntry(absDir, relDir, name string, info fs.FileInfo) Entry {
	entry := Entry{
		Name:     name,
		Path:     joinRel(relDir, name),
		Size:     info.Size(),
		Modified: info.ModTime().UTC(),
		Kind:     KindFile,
	}
	if info.IsDir() {
		entry.Kind = KindDirectory
		entry.Size = 0
		return entry
	}
	if mt, err := mimetype.DetectFile(filepath.Join(absDir, name)); err == nil {
		entry.MimeType = mt.String()
	}
	return entry
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
