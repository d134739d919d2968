package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "kv.json")

	a, err := OpenFile(path, nil)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer a.Close()

	b, err := OpenFile(path, nil)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer b.Close()

	exerciseStore(t, a, b)
}

func TestFile_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	ctx := context.Background()

	a, err := OpenFile(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Set(ctx, "access_token", "tok"); err != nil {
		t.Fatal(err)
	}
	a.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	b, err := OpenFile(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	v, ok, err := b.Get(ctx, "access_token")
	if err != nil || !ok || v != "tok" {
		t.Errorf("Get = %q, %v, %v; want tok", v, ok, err)
	}
}

func TestFile_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenFile(path, nil); err == nil {
		t.Error("OpenFile should fail on a corrupt document")
	}
}

func TestFile_Closed(t *testing.T) {
	f, err := OpenFile(filepath.Join(t.TempDir(), "kv.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := f.Set(context.Background(), "k", "v"); err != ErrClosed {
		t.Errorf("Set after Close = %v, want ErrClosed", err)
	}
	// Second Close is a no-op.
	if err := f.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
