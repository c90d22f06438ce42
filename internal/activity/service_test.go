package activity

import (
	"context"
	"testing"
	"time"

	"github.com/slipdock/slipdock/internal/testutil"
)

func TestRecordAndList(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db.Conn, testutil.NopLogger())
	ctx := context.Background()

	svc.Record(ctx, EventUpload, "alice", "docs", []string{"a.pdf", "b.pdf"}, map[string]any{"bytes": float64(42)})
	svc.Record(ctx, EventDelete, "bob", "docs", []string{"old.txt"}, nil)
	svc.Record(ctx, EventMkdir, "alice", "", []string{"photos"}, nil)

	resp, err := svc.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if resp.TotalCount != 3 || len(resp.Items) != 3 {
		t.Fatalf("total = %d, items = %d, want 3/3", resp.TotalCount, len(resp.Items))
	}

	// Newest first.
	if resp.Items[0].EventType != EventMkdir || resp.Items[2].EventType != EventUpload {
		t.Errorf("ordering wrong: %s ... %s", resp.Items[0].EventType, resp.Items[2].EventType)
	}

	first := resp.Items[2]
	if first.Actor != "alice" || first.Path != "docs" {
		t.Errorf("entry = %+v", first)
	}
	if len(first.Names) != 2 || first.Names[0] != "a.pdf" {
		t.Errorf("names = %v", first.Names)
	}
	if first.Detail["bytes"] != float64(42) {
		t.Errorf("detail = %v", first.Detail)
	}
}

func TestListFilterAndPaging(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db.Conn, testutil.NopLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.Record(ctx, EventUpload, "alice", "", nil, nil)
	}
	svc.Record(ctx, EventLogin, "alice", "", nil, nil)

	resp, err := svc.List(ctx, ListOptions{EventType: "upload", PageSize: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if resp.TotalCount != 5 || resp.TotalPages != 3 || len(resp.Items) != 2 {
		t.Fatalf("total=%d pages=%d items=%d, want 5/3/2", resp.TotalCount, resp.TotalPages, len(resp.Items))
	}

	last, err := svc.List(ctx, ListOptions{EventType: "upload", PageSize: 2, Page: 3})
	if err != nil {
		t.Fatalf("List page 3: %v", err)
	}
	if len(last.Items) != 1 {
		t.Errorf("last page items = %d, want 1", len(last.Items))
	}

	none, err := svc.List(ctx, ListOptions{EventType: "share_access"})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if none.TotalCount != 0 {
		t.Errorf("filtered total = %d, want 0", none.TotalCount)
	}
}

func TestPrune(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db.Conn, testutil.NopLogger())
	ctx := context.Background()

	old := time.Now().Add(-40 * 24 * time.Hour).UTC()
	_, err := db.Conn.ExecContext(ctx, `
		INSERT INTO activity (event_type, actor, path, created_at) VALUES (?, '', '', ?)
	`, string(EventUpload), old)
	if err != nil {
		t.Fatal(err)
	}
	svc.Record(ctx, EventUpload, "alice", "", nil, nil)

	removed, err := svc.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	resp, err := svc.List(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.TotalCount != 1 {
		t.Errorf("remaining = %d, want 1", resp.TotalCount)
	}
}
