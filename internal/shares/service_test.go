package shares

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slipdock/slipdock/internal/testutil"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t)
	return NewService(db.Conn, testutil.NopLogger())
}

func TestCreateAndAccess(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	share, err := svc.Create(ctx, CreateInput{Path: "docs/report.pdf"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if share.Token == "" || share.Path != "docs/report.pdf" || share.HasPassword {
		t.Fatalf("share = %+v", share)
	}

	got, err := svc.Access(ctx, share.Token, "")
	if err != nil {
		t.Fatalf("Access: %v", err)
	}
	if got.ID != share.ID {
		t.Errorf("resolved share %d, want %d", got.ID, share.ID)
	}

	if _, err := svc.Access(ctx, "no-such-token", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown token error = %v, want ErrNotFound", err)
	}
}

func TestAccessPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	share, err := svc.Create(ctx, CreateInput{Path: "secret.txt", Password: "open sesame"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !share.HasPassword {
		t.Fatal("HasPassword not set")
	}

	if _, err := svc.Access(ctx, share.Token, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("no password error = %v, want ErrPasswordRequired", err)
	}
	if _, err := svc.Access(ctx, share.Token, "wrong"); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("wrong password error = %v, want ErrPasswordRequired", err)
	}
	if _, err := svc.Access(ctx, share.Token, "open sesame"); err != nil {
		t.Errorf("correct password error = %v", err)
	}
}

func TestAccessExpiry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	share, err := svc.Create(ctx, CreateInput{Path: "a.txt", ExpiresIn: time.Hour})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Backdate the expiry rather than sleeping through it.
	past := time.Now().Add(-time.Minute).UTC()
	if _, err := svc.db.ExecContext(ctx, "UPDATE shares SET expires_at = ? WHERE id = ?", past, share.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Access(ctx, share.Token, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired share error = %v, want ErrNotFound", err)
	}
}

func TestAccessDownloadLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	share, err := svc.Create(ctx, CreateInput{Path: "a.txt", MaxDownloads: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := svc.Access(ctx, share.Token, "")
		if err != nil {
			t.Fatalf("Access %d: %v", i, err)
		}
		if err := svc.CountDownload(ctx, got.ID); err != nil {
			t.Fatalf("CountDownload: %v", err)
		}
	}

	if _, err := svc.Access(ctx, share.Token, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("exhausted share error = %v, want ErrNotFound", err)
	}
}

func TestListAndRevoke(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateInput{Path: "one.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, CreateInput{Path: "two.txt"}); err != nil {
		t.Fatal(err)
	}

	shares, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(shares) != 2 || shares[0].Path != "two.txt" {
		t.Fatalf("shares = %+v, want two newest-first", shares)
	}

	if err := svc.Revoke(ctx, first.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second revoke error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Access(ctx, first.Token, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoked share still accessible")
	}
}

func TestPurgeExpired(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	expired, err := svc.Create(ctx, CreateInput{Path: "expired.txt"})
	if err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour).UTC()
	if _, err := svc.db.ExecContext(ctx, "UPDATE shares SET expires_at = ? WHERE id = ?", past, expired.ID); err != nil {
		t.Fatal(err)
	}

	exhausted, err := svc.Create(ctx, CreateInput{Path: "done.txt", MaxDownloads: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.CountDownload(ctx, exhausted.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Create(ctx, CreateInput{Path: "alive.txt"}); err != nil {
		t.Fatal(err)
	}

	purged, err := svc.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if purged != 2 {
		t.Errorf("purged = %d, want 2", purged)
	}

	remaining, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].Path != "alive.txt" {
		t.Errorf("remaining = %+v, want only alive.txt", remaining)
	}
}
