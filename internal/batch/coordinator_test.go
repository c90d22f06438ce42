package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/slipdock/slipdock/internal/filesystem"
	"github.com/slipdock/slipdock/internal/websocket"
)

type recordingHub struct {
	events []websocket.ChangeEvent
}

func (r *recordingHub) BroadcastChange(ev websocket.ChangeEvent) {
	r.events = append(r.events, ev)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *recordingHub, string) {
	t.Helper()
	root := t.TempDir()
	resolver, err := filesystem.NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	store := filesystem.NewService(resolver, 0, zerolog.Nop())
	hub := &recordingHub{}
	return NewCoordinator(store, hub, nil, zerolog.Nop()), hub, resolver.Root()
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

func TestApplyDeletePartialFailure(t *testing.T) {
	coord, hub, root := newTestCoordinator(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "a.txt"), "a")
	mustWrite(t, filepath.Join(root, "c.txt"), "c")

	result, err := coord.Apply(ctx, "test", Request{
		Operation: OpDelete,
		Paths:     []string{"a.txt", "b.txt", "c.txt"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if result.Total != 3 || result.Succeeded != 2 || result.Failed != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/2/1", result.Total, result.Succeeded, result.Failed)
	}

	byPath := map[string]ItemResult{}
	for _, item := range result.Items {
		byPath[item.Path] = item
	}
	if !byPath["a.txt"].OK || !byPath["c.txt"].OK {
		t.Error("existing items should succeed")
	}
	if byPath["b.txt"].OK || byPath["b.txt"].Reason != "not_found" {
		t.Errorf("missing item = %+v, want not_found failure", byPath["b.txt"])
	}

	// One success is enough to notify viewers.
	if len(hub.events) == 0 {
		t.Error("no change events broadcast")
	}
}

func TestApplyDeduplicates(t *testing.T) {
	coord, _, root := newTestCoordinator(t)
	mustWrite(t, filepath.Join(root, "x.txt"), "x")

	result, err := coord.Apply(context.Background(), "test", Request{
		Operation: OpDelete,
		Paths:     []string{"x.txt", "./x.txt", "x.txt"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Total != 1 || result.Succeeded != 1 {
		t.Errorf("counts = %d/%d, want 1/1 after dedupe", result.Total, result.Succeeded)
	}
}

func TestApplyUnknownOperation(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	_, err := coord.Apply(context.Background(), "test", Request{Operation: "shred", Paths: []string{"a"}})
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("error = %v, want ErrUnknownOperation", err)
	}
}

func TestApplyMoveBadDestinationFailsFast(t *testing.T) {
	coord, _, root := newTestCoordinator(t)
	mustWrite(t, filepath.Join(root, "keep.txt"), "x")

	_, err := coord.Apply(context.Background(), "test", Request{
		Operation:   OpMove,
		Paths:       []string{"keep.txt"},
		Destination: "nonexistent",
	})
	if !errors.Is(err, filesystem.ErrNotFound) {
		t.Fatalf("error = %v, want wrapped ErrNotFound", err)
	}

	// Fail-fast means nothing moved.
	if _, statErr := os.Stat(filepath.Join(root, "keep.txt")); statErr != nil {
		t.Error("item was touched despite invalid destination")
	}
}

func TestApplyCopy(t *testing.T) {
	coord, _, root := newTestCoordinator(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "one.txt"), "1")
	mustWrite(t, filepath.Join(root, "two.txt"), "2")
	if err := os.Mkdir(filepath.Join(root, "dest"), 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := coord.Apply(ctx, "test", Request{
		Operation:   OpCopy,
		Paths:       []string{"one.txt", "two.txt"},
		Destination: "dest",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Succeeded != 2 {
		t.Fatalf("succeeded = %d, want 2", result.Succeeded)
	}
	for _, name := range []string{"one.txt", "two.txt"} {
		if _, err := os.Stat(filepath.Join(root, "dest", name)); err != nil {
			t.Errorf("copy of %s missing: %v", name, err)
		}
	}
}

func TestWriteArchive(t *testing.T) {
	coord, _, root := newTestCoordinator(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "readme.md"), "hello")
	mustWrite(t, filepath.Join(root, "docs", "guide.md"), "guide")
	mustWrite(t, filepath.Join(root, "docs", "sub", "deep.md"), "deep")

	var buf bytes.Buffer
	summary, err := coord.WriteArchive(ctx, &buf, []string{"readme.md", "docs", "ghost.txt"})
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	if summary.Files != 3 {
		t.Errorf("files = %d, want 3", summary.Files)
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0].Path != "ghost.txt" {
		t.Errorf("skipped = %+v, want ghost.txt", summary.Skipped)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}

	want := map[string]string{
		"readme.md":        "hello",
		"docs/guide.md":    "guide",
		"docs/sub/deep.md": "deep",
	}
	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		got[f.Name] = string(data)
	}
	for name, content := range want {
		if got[name] != content {
			t.Errorf("entry %q = %q, want %q", name, got[name], content)
		}
	}
}

func TestWriteArchiveNameCollision(t *testing.T) {
	coord, _, root := newTestCoordinator(t)

	mustWrite(t, filepath.Join(root, "a", "data.csv"), "first")
	mustWrite(t, filepath.Join(root, "b", "data.csv"), "second")

	var buf bytes.Buffer
	summary, err := coord.WriteArchive(context.Background(), &buf, []string{"a/data.csv", "b/data.csv"})
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	if summary.Files != 2 {
		t.Fatalf("files = %d, want 2", summary.Files)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["data.csv"] || !names["data (1).csv"] {
		t.Errorf("archive names = %v, want data.csv and data (1).csv", names)
	}
}
