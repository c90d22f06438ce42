package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	r, err := NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return NewService(r, 0, zerolog.Nop()), r.Root()
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListOrdering(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "beta.txt"), "b")
	mustWrite(t, filepath.Join(root, "Alpha.txt"), "a")
	mustWrite(t, filepath.Join(root, TempPrefix+"inflight"), "x")
	if err := os.Mkdir(filepath.Join(root, "zdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	listing, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	var names []string
	for _, e := range listing.Entries {
		names = append(names, e.Name)
	}
	want := []string{"zdir", "Alpha.txt", "beta.txt"}
	if len(names) != len(want) {
		t.Fatalf("List returned %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("List order %v, want %v", names, want)
		}
	}
	if listing.Entries[0].Kind != KindDirectory {
		t.Error("directory should sort first")
	}
}

func TestListErrors(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	if _, err := svc.List(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("List(missing) error = %v, want ErrNotFound", err)
	}
	mustWrite(t, filepath.Join(root, "plain.txt"), "x")
	if _, err := svc.List(ctx, "plain.txt"); !errors.Is(err, ErrNotADirectory) {
		t.Errorf("List(file) error = %v, want ErrNotADirectory", err)
	}
}

func TestWriteUploadRoundTrip(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	entry, err := svc.WriteUpload(ctx, "", "hello.txt", strings.NewReader("hello world"), UploadOptions{})
	if err != nil {
		t.Fatalf("WriteUpload: %v", err)
	}
	if entry.Path != "hello.txt" || entry.Size != 11 {
		t.Errorf("entry = %+v", entry)
	}

	data, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("content = %q", data)
	}

	// No temp file left behind.
	assertNoTempFiles(t, root)
}

func TestWriteUploadCollision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.WriteUpload(ctx, "", "report.pdf", strings.NewReader("one"), UploadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.WriteUpload(ctx, "", "report.pdf", strings.NewReader("two"), UploadOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if first.Name != "report.pdf" {
		t.Errorf("first name = %q", first.Name)
	}
	if second.Name != "report (1).pdf" {
		t.Errorf("second name = %q, want report (1).pdf", second.Name)
	}

	// Overwrite replaces in place instead.
	third, err := svc.WriteUpload(ctx, "", "report.pdf", strings.NewReader("three"), UploadOptions{Overwrite: true})
	if err != nil {
		t.Fatal(err)
	}
	if third.Name != "report.pdf" || third.Size != 5 {
		t.Errorf("overwrite entry = %+v", third)
	}
}

func TestWriteUploadQuota(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	_, err := svc.WriteUpload(ctx, "", "big.bin", strings.NewReader(strings.Repeat("x", 100)), UploadOptions{MaxSize: 10})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("error = %v, want ErrQuotaExceeded", err)
	}

	// The partial temp file must be gone and nothing visible stored.
	assertNoTempFiles(t, root)
	if _, err := os.Stat(filepath.Join(root, "big.bin")); !os.IsNotExist(err) {
		t.Error("partial upload became visible")
	}
}

func TestWriteUploadBadNames(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"", ".", "..", "///"} {
		if _, err := svc.WriteUpload(ctx, "", name, strings.NewReader("x"), UploadOptions{}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("WriteUpload(%q) error = %v, want ErrInvalidName", name, err)
		}
	}

	// A name carrying directory parts is flattened to its base, not treated
	// as a path.
	entry, err := svc.WriteUpload(ctx, "", "a/b/evil.txt", strings.NewReader("x"), UploadOptions{})
	if err != nil {
		t.Fatalf("WriteUpload: %v", err)
	}
	if strings.ContainsAny(entry.Name, `/\`) {
		t.Errorf("stored name %q contains separators", entry.Name)
	}
}

func TestWriteUploadAbort(t *testing.T) {
	svc, root := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.WriteUpload(ctx, "", "aborted.txt", strings.NewReader(strings.Repeat("x", 1<<16)), UploadOptions{})
	if err == nil {
		t.Fatal("expected error from cancelled upload")
	}
	assertNoTempFiles(t, root)
}

func TestDelete(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "doomed", "file.txt"), "x")

	entry, err := svc.Delete(ctx, "doomed")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if entry.Kind != KindDirectory {
		t.Errorf("entry kind = %v", entry.Kind)
	}

	// Deleting again reports not found, never a crash.
	if _, err := svc.Delete(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}

	// The root is never deletable.
	if _, err := svc.Delete(ctx, ""); !errors.Is(err, ErrPathViolation) {
		t.Errorf("delete root error = %v, want ErrPathViolation", err)
	}
}

func TestDeleteDisabled(t *testing.T) {
	svc, root := newTestService(t)
	svc.SetAllowDelete(false)
	mustWrite(t, filepath.Join(root, "kept.txt"), "x")

	if _, err := svc.Delete(context.Background(), "kept.txt"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("error = %v, want ErrAccessDenied", err)
	}
	if _, err := os.Stat(filepath.Join(root, "kept.txt")); err != nil {
		t.Error("file was deleted despite allow_delete=false")
	}
}

func TestRename(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "old.txt"), "x")
	mustWrite(t, filepath.Join(root, "taken.txt"), "y")

	entry, err := svc.Rename(ctx, "old.txt", "new.txt")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if entry.Path != "new.txt" {
		t.Errorf("entry path = %q", entry.Path)
	}

	if _, err := svc.Rename(ctx, "new.txt", "taken.txt"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("rename onto existing error = %v, want ErrAlreadyExists", err)
	}
	if _, err := svc.Rename(ctx, "new.txt", ".."); !errors.Is(err, ErrInvalidName) {
		t.Errorf("rename to dot-dot error = %v, want ErrInvalidName", err)
	}
	if _, err := svc.Rename(ctx, "", "root2"); !errors.Is(err, ErrPathViolation) {
		t.Errorf("rename root error = %v, want ErrPathViolation", err)
	}
}

func TestRenameRaceSameSource(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	// Two goroutines fight over the same source. Exactly one wins each
	// round; the loser sees a typed error and the tree never ends up with
	// both the old name and a duplicated new one.
	for i := 0; i < 50; i++ {
		src := fmt.Sprintf("contested-%d.txt", i)
		dst := fmt.Sprintf("claimed-%d.txt", i)
		mustWrite(t, filepath.Join(root, src), "x")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j := range errs {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, errs[j] = svc.Rename(ctx, src, dst)
			}(j)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists):
			default:
				t.Fatalf("round %d: unexpected error %v", i, err)
			}
		}
		if wins != 1 {
			t.Fatalf("round %d: %d renames succeeded, want 1", i, wins)
		}
		if _, err := os.Lstat(filepath.Join(root, src)); !os.IsNotExist(err) {
			t.Fatalf("round %d: source survived the rename", i)
		}
		if _, err := os.Lstat(filepath.Join(root, dst)); err != nil {
			t.Fatalf("round %d: renamed entry missing: %v", i, err)
		}
	}
}

func TestMove(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "src", "doc.txt"), "content")
	if err := os.MkdirAll(filepath.Join(root, "dst"), 0o755); err != nil {
		t.Fatal(err)
	}

	entry, err := svc.Move(ctx, "src/doc.txt", "dst")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if entry.Path != "dst/doc.txt" {
		t.Errorf("entry path = %q", entry.Path)
	}
	if _, err := os.Stat(filepath.Join(root, "src", "doc.txt")); !os.IsNotExist(err) {
		t.Error("source still present after move")
	}

	// Moving a directory into its own descendant is refused.
	mustWrite(t, filepath.Join(root, "tree", "inner", "f.txt"), "x")
	if _, err := svc.Move(ctx, "tree", "tree/inner"); !errors.Is(err, ErrPathViolation) {
		t.Errorf("move into descendant error = %v, want ErrPathViolation", err)
	}
	// And the root can never be moved.
	if _, err := svc.Move(ctx, "", "dst"); !errors.Is(err, ErrPathViolation) {
		t.Errorf("move root error = %v, want ErrPathViolation", err)
	}
}

func TestMoveIntoOwnParent(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "docs", "f.txt"), "x")

	// The file already lives there; nothing to do and nothing to rename.
	entry, err := svc.Move(ctx, "docs/f.txt", "docs")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if entry.Path != "docs/f.txt" {
		t.Errorf("entry path = %q, want docs/f.txt", entry.Path)
	}
	if _, err := os.Lstat(filepath.Join(root, "docs", "f (1).txt")); !os.IsNotExist(err) {
		t.Error("no-op move duplicated the file")
	}
}

func TestCopyTree(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "proj", "a.txt"), "alpha")
	mustWrite(t, filepath.Join(root, "proj", "sub", "b.txt"), "beta")
	if err := os.MkdirAll(filepath.Join(root, "backup"), 0o755); err != nil {
		t.Fatal(err)
	}

	entry, err := svc.Copy(ctx, "proj", "backup")
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if entry.Path != "backup/proj" {
		t.Errorf("entry path = %q", entry.Path)
	}

	data, err := os.ReadFile(filepath.Join(root, "backup", "proj", "sub", "b.txt"))
	if err != nil {
		t.Fatalf("copied file missing: %v", err)
	}
	if string(data) != "beta" {
		t.Errorf("copied content = %q", data)
	}

	// Source is untouched.
	if _, err := os.Stat(filepath.Join(root, "proj", "a.txt")); err != nil {
		t.Error("source damaged by copy")
	}

	// Copying into the same directory disambiguates the name.
	entry2, err := svc.Copy(ctx, "proj/a.txt", "proj")
	if err != nil {
		t.Fatalf("Copy collision: %v", err)
	}
	if entry2.Name != "a (1).txt" {
		t.Errorf("collision name = %q, want a (1).txt", entry2.Name)
	}
}

func TestCopySkipsEscapingSymlink(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	outside := t.TempDir()
	mustWrite(t, filepath.Join(outside, "secret.txt"), "secret")

	mustWrite(t, filepath.Join(root, "proj", "keep.txt"), "keep")
	if err := os.Symlink(outside, filepath.Join(root, "proj", "esc")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "backup"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Copy(ctx, "proj", "backup"); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	// The regular sibling arrives; the link pointing outside the root is
	// neither recreated nor traversed.
	if _, err := os.Stat(filepath.Join(root, "backup", "proj", "keep.txt")); err != nil {
		t.Errorf("sibling not copied: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(root, "backup", "proj", "esc")); !os.IsNotExist(err) {
		t.Error("escaping symlink recreated in the copy")
	}
	if _, err := os.Stat(filepath.Join(root, "backup", "proj", "esc", "secret.txt")); !os.IsNotExist(err) {
		t.Error("outside content pulled into the copy")
	}
}

func TestMkdir(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Mkdir(ctx, "", "photos")
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if entry.Kind != KindDirectory || entry.Path != "photos" {
		t.Errorf("entry = %+v", entry)
	}

	if _, err := svc.Mkdir(ctx, "", "photos"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate mkdir error = %v, want ErrAlreadyExists", err)
	}
	if _, err := svc.Mkdir(ctx, "", ".."); !errors.Is(err, ErrInvalidName) {
		t.Errorf("mkdir bad name error = %v, want ErrInvalidName", err)
	}
	if _, err := os.Stat(filepath.Join(root, "photos")); err != nil {
		t.Error("directory not created")
	}
}

func TestOpenRead(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "read.txt"), "payload")
	if err := os.Mkdir(filepath.Join(root, "adir"), 0o755); err != nil {
		t.Fatal(err)
	}

	f, entry, err := svc.OpenRead(ctx, "read.txt")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "payload" || entry.Name != "read.txt" {
		t.Errorf("read %q, entry %+v", data, entry)
	}

	if _, _, err := svc.OpenRead(ctx, "adir"); !errors.Is(err, ErrIsADirectory) {
		t.Errorf("OpenRead(dir) error = %v, want ErrIsADirectory", err)
	}
	if _, _, err := svc.OpenRead(ctx, "nope.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenRead(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSweepTempFiles(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	stale := filepath.Join(root, TempPrefix+"stale")
	fresh := filepath.Join(root, TempPrefix+"fresh")
	mustWrite(t, stale, "x")
	mustWrite(t, fresh, "x")
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	removed, err := svc.SweepTempFiles(ctx, time.Hour)
	if err != nil {
		t.Fatalf("SweepTempFiles: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh temp file was swept")
	}
}

func assertNoTempFiles(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), TempPrefix) {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
