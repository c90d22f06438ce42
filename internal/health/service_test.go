package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/slipdock/slipdock/internal/testutil"
)

func checkByName(r Report, name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

func TestRunHealthy(t *testing.T) {
	db := testutil.NewTestDB(t)
	root := t.TempDir()
	index := t.TempDir()

	svc := NewService(db.Conn, root, index, testutil.NopLogger())
	report := svc.Run(context.Background())

	if report.Status == StatusError {
		t.Fatalf("status = %s: %+v", report.Status, report.Checks)
	}
	// disk_space legitimately warns on a nearly full volume; the rest must
	// be clean here.
	for _, name := range []string{"share_root", "database", "search_index"} {
		check, ok := checkByName(report, name)
		if !ok {
			t.Errorf("check %s missing", name)
			continue
		}
		if check.Status != StatusOK {
			t.Errorf("check %s = %+v", name, check)
		}
	}
	if _, ok := checkByName(report, "disk_space"); !ok {
		t.Error("check disk_space missing")
	}

	// The writability probe leaves no marker behind.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("share root not clean after probe: %v", entries)
	}
}

func TestRunMissingShareRoot(t *testing.T) {
	db := testutil.NewTestDB(t)

	svc := NewService(db.Conn, filepath.Join(t.TempDir(), "gone"), "", testutil.NopLogger())
	report := svc.Run(context.Background())

	if report.Status != StatusError {
		t.Fatalf("status = %s, want error", report.Status)
	}
	check, _ := checkByName(report, "share_root")
	if check.Status != StatusError || check.Message == "" {
		t.Errorf("share_root check = %+v", check)
	}
}

func TestRunShareRootIsFile(t *testing.T) {
	db := testutil.NewTestDB(t)
	file := filepath.Join(t.TempDir(), "notadir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	svc := NewService(db.Conn, file, "", testutil.NopLogger())
	report := svc.Run(context.Background())
	if report.Status != StatusError {
		t.Fatalf("status = %s, want error", report.Status)
	}
}

func TestRunIndexNotBuilt(t *testing.T) {
	db := testutil.NewTestDB(t)
	root := t.TempDir()

	svc := NewService(db.Conn, root, filepath.Join(root, "no-index-yet"), testutil.NopLogger())
	report := svc.Run(context.Background())

	check, _ := checkByName(report, "search_index")
	if check.Status != StatusWarning {
		t.Errorf("search_index check = %+v", check)
	}
	if report.Status == StatusOK {
		t.Errorf("status = %s, the warning should surface", report.Status)
	}
}

func TestRunSearchDisabled(t *testing.T) {
	db := testutil.NewTestDB(t)

	svc := NewService(db.Conn, t.TempDir(), "", testutil.NopLogger())
	report := svc.Run(context.Background())

	if _, ok := checkByName(report, "search_index"); ok {
		t.Error("search_index probed with search disabled")
	}
}

func TestWorse(t *testing.T) {
	tests := []struct {
		a, b, want Status
	}{
		{StatusOK, StatusOK, StatusOK},
		{StatusOK, StatusWarning, StatusWarning},
		{StatusWarning, StatusOK, StatusWarning},
		{StatusWarning, StatusError, StatusError},
		{StatusError, StatusWarning, StatusError},
	}
	for _, tt := range tests {
		if got := worse(tt.a, tt.b); got != tt.want {
			t.Errorf("worse(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDiskUsage(t *testing.T) {
	free, total, err := DiskUsage(t.TempDir())
	if err != nil {
		t.Fatalf("DiskUsage: %v", err)
	}
	if total == 0 || free > total {
		t.Errorf("free = %d, total = %d", free, total)
	}
}
