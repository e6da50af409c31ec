package attachments

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteConfig{Driver: DriverModernc, Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func TestSQLiteStore_CRUD(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "attachments.db")
	s := newTestSQLite(t, path)
	defer s.Close()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		Backend: "chatgpt", ContentHash: "abc", RemoteFileID: "file-1", RemoteName: "a.png",
		MIME: "image/png", UseCase: UseCaseMultimodal, Size: 42, Width: 3, Height: 4,
		CreatedAt: base, LastUsedAt: base,
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "chatgpt", "abc")
	if err != nil || got == nil {
		t.Fatalf("Get: %v %v", got, err)
	}
	if got.RemoteFileID != "file-1" || got.Width != 3 || !got.LastUsedAt.Equal(base) {
		t.Errorf("unexpected record %+v", got)
	}

	if miss, err := s.Get(ctx, "deepseek", "abc"); err != nil || miss != nil {
		t.Errorf("records must be scoped per backend, got %v %v", miss, err)
	}

	// Overwrite supersedes the old remote id.
	rec.RemoteFileID = "file-2"
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].RemoteFileID != "file-2" {
		t.Errorf("expected one superseded record, got %+v", all)
	}

	later := base.Add(48 * time.Hour)
	if err := s.Touch(ctx, "chatgpt", "abc", later); err != nil {
		t.Fatal(err)
	}
	if n, err := s.Prune(ctx, base.Add(24*time.Hour)); err != nil || n != 0 {
		t.Errorf("touched record must survive prune, n=%d err=%v", n, err)
	}
	if n, err := s.Prune(ctx, later.Add(time.Hour)); err != nil || n != 1 {
		t.Errorf("expected 1 pruned record, n=%d err=%v", n, err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSQLiteStore_Durable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "attachments.db")

	s := newTestSQLite(t, path)
	if err := s.Put(ctx, &Record{Backend: "chatgpt", ContentHash: "h", RemoteFileID: "file-9"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened := newTestSQLite(t, path)
	defer reopened.Close()
	got, err := reopened.Get(ctx, "chatgpt", "h")
	if err != nil || got == nil || got.RemoteFileID != "file-9" {
		t.Fatalf("record lost across restart: %v %v", got, err)
	}
}

func TestSQLiteDSN(t *testing.T) {
	modern, err := sqliteDSN(SQLiteConfig{Driver: DriverModernc, Path: "a.db", BusyTimeout: time.Second})
	if err != nil || !strings.Contains(modern, "_pragma=busy_timeout(1000)") {
		t.Errorf("modernc dsn = %q, %v", modern, err)
	}
	mattn, err := sqliteDSN(SQLiteConfig{Driver: DriverMattn, Path: "a.db", BusyTimeout: time.Second})
	if err != nil || !strings.Contains(mattn, "_busy_timeout=1000") {
		t.Errorf("mattn dsn = %q, %v", mattn, err)
	}
	if _, err := sqliteDSN(SQLiteConfig{Driver: "postgres"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestOpenStore_Memory(t *testing.T) {
	s, err := OpenStore("memory", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected MemoryStore, got %T", s)
	}
}
