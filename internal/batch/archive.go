package batch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/slipdock/slipdock/internal/pathutil"
)

// ArchiveSummary reports what ended up in (and out of) a batch download.
type ArchiveSummary struct {
	Files   int          `json:"files"`
	Bytes   int64        `json:"bytes"`
	Skipped []ItemResult `json:"skipped,omitempty"`
}

// WriteArchive streams the matched files into a single ZIP on w, in the
// order given. Directories are included recursively. Duplicate final names
// disambiguate with the same counter suffix uploads use. Unreadable or
// vanished items are skipped and reported in the summary; the archive itself
// never aborts over one bad item. The ZIP is written straight to the
// response, so a summary is all a caller can get once streaming started.
func (c *Coordinator) WriteArchive(ctx context.Context, w io.Writer, paths []string) (*ArchiveSummary, error) {
	paths = lo.Uniq(lo.Map(paths, func(p string, _ int) string {
		return pathutil.CleanRelPath(p)
	}))

	zw := zip.NewWriter(w)
	summary := &ArchiveSummary{}
	used := make(map[string]bool)

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return summary, err
		}

		abs, err := c.store.Resolver().Resolve(rel)
		if err != nil {
			summary.Skipped = append(summary.Skipped, ItemResult{Path: rel, Reason: FailureReason(err)})
			continue
		}
		info, err := os.Lstat(abs)
		if err != nil {
			summary.Skipped = append(summary.Skipped, ItemResult{Path: rel, Reason: "not_found"})
			continue
		}

		if info.IsDir() {
			c.archiveTree(ctx, zw, abs, rel, used, summary)
			continue
		}
		if !info.Mode().IsRegular() {
			summary.Skipped = append(summary.Skipped, ItemResult{Path: rel, Reason: "io_error"})
			continue
		}
		c.archiveFile(zw, abs, path.Base(rel), info, used, summary, rel)
	}

	if err := zw.Close(); err != nil {
		return summary, fmt.Errorf("finalize archive: %w", err)
	}
	return summary, nil
}

// archiveTree adds a whole directory under its own top-level name. Symlinks
// inside the tree are not followed.
func (c *Coordinator) archiveTree(ctx context.Context, zw *zip.Writer, absRoot, rel string, used map[string]bool, summary *ArchiveSummary) {
	top := archiveName(used, path.Base(rel))

	filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			if err != nil {
				summary.Skipped = append(summary.Skipped, ItemResult{Path: rel, Reason: "io_error"})
			}
			return nil
		}

		inner, relErr := filepath.Rel(absRoot, p)
		if relErr != nil {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		name := top + "/" + filepath.ToSlash(inner)
		c.writeZipEntry(zw, p, name, info, summary, rel)
		return nil
	})
}

// archiveFile adds a single file at the archive root with a collision-free
// name.
func (c *Coordinator) archiveFile(zw *zip.Writer, abs, base string, info fs.FileInfo, used map[string]bool, summary *ArchiveSummary, rel string) {
	c.writeZipEntry(zw, abs, archiveName(used, base), info, summary, rel)
}

func (c *Coordinator) writeZipEntry(zw *zip.Writer, abs, name string, info fs.FileInfo, summary *ArchiveSummary, rel string) {
	f, err := os.Open(abs)
	if err != nil {
		summary.Skipped = append(summary.Skipped, ItemResult{Path: rel, Reason: "io_error"})
		return
	}
	defer f.Close()

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		summary.Skipped = append(summary.Skipped, ItemResult{Path: rel, Reason: "io_error"})
		return
	}
	header.Name = name
	header.Method = zip.Deflate

	entry, err := zw.CreateHeader(header)
	if err != nil {
		summary.Skipped = append(summary.Skipped, ItemResult{Path: rel, Reason: "io_error"})
		return
	}
	n, err := io.Copy(entry, f)
	if err != nil {
		// The stream is already corrupt at this point; log and move on, the
		// client's unzip will report the short entry.
		c.logger.Warn().Err(err).Str("path", rel).Msg("archive entry truncated")
	}
	summary.Files++
	summary.Bytes += n
}

// archiveName reserves a top-level name inside the archive, suffixing a
// counter on collision.
func archiveName(used map[string]bool, name string) string {
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
	used[candidate] = true
	return candidate
}
