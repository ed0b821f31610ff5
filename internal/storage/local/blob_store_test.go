package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty base dir")
	}
}

func TestPutObjectWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	uri, err := store.PutObject(
		context.Background(),
		"raw/threads/abc.json",
		"application/json",
		strings.NewReader(`{"ok":true}`),
	)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Fatalf("expected file:// URI, got %s", uri)
	}

	body, err := os.ReadFile(filepath.Join(dir, "raw", "threads", "abc.json"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected content: %s", body)
	}
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := store.PutObject(context.Background(), "../escape.json", "", strings.NewReader("x")); err == nil {
		t.Fatal("expected traversal error")
	}
}
