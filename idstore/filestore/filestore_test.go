package filestore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bwesterb/rpki/idstore"
	"github.com/bwesterb/rpki/idstore/filestore"
	"github.com/bwesterb/rpki/idstore/storetest"
	"github.com/bwesterb/rpki/internal/testutil"
)

type testStore struct {
	*filestore.Store
}

func (s *testStore) Prepare(t *testing.T, ctx context.Context) {
	store, err := filestore.Open(filepath.Join(t.TempDir(), "store"), filestore.Opts{})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	s.Store = store
}

func TestStore(t *testing.T) {
	storetest.Run(t, &testStore{}, storetest.Config{})
}

func putOne(t *testing.T, path string) idstore.Entry {
	t.Helper()
	store, err := filestore.Open(path, filestore.Opts{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	e, err := idstore.NewEntry(storetest.Messages(t)[0], testutil.Now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	e := putOne(t, path)

	store, err := filestore.Open(path, filestore.Opts{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	got, err := store.Get(ctx, e.Role, e.Handle)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(e) {
		t.Fatal("entry changed after reopening")
	}
}

func TestLayout(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	e := putOne(t, path)

	for _, name := range []string{"tmp", "child", "parent", "publisher",
		"repository"} {
		if _, err := os.Stat(filepath.Join(path, name)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(filepath.Join(path, "lock")); !os.IsNotExist(err) {
		t.Fatalf("lock left behind: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "child", e.Handle.PathForm())); err != nil {
		t.Fatal(err)
	}

	// Leftovers from an interrupted write are removed, and files that are
	// not entries are skipped.
	stale := filepath.Join(path, "tmp", "child-123")
	if err := os.WriteFile(stale, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "child", "not an entry"),
		nil, 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := filestore.Open(path, filestore.Opts{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale temporary file: %v", err)
	}
	es, err := store.List(ctx, idstore.RoleChild)
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 1 || !es[0].Equal(e) {
		t.Fatalf("List: %v", es)
	}
}

func TestCorrupt(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	e := putOne(t, path)

	entryPath := filepath.Join(path, "child", e.Handle.PathForm())
	buf, err := os.ReadFile(entryPath)
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-1] ^= 1
	if err := os.WriteFile(entryPath, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := filestore.Open(path, filestore.Opts{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Get(ctx, e.Role, e.Handle); !errors.Is(err, idstore.ErrChecksumInvalid) {
		t.Fatalf("Get: expected ErrChecksumInvalid, got %v", err)
	}
	if _, err := store.List(ctx, e.Role); !errors.Is(err, idstore.ErrChecksumInvalid) {
		t.Fatalf("List: expected ErrChecksumInvalid, got %v", err)
	}
}

func TestMisfiled(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	e := putOne(t, path)

	buf, err := os.ReadFile(filepath.Join(path, "child", e.Handle.PathForm()))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "child", "Mallory"), buf, 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := filestore.Open(path, filestore.Opts{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	_, err = store.Get(ctx, idstore.RoleChild, "Mallory")
	if err == nil || errors.Is(err, idstore.ErrNotFound) {
		t.Fatalf("Get: expected error, got %v", err)
	}
}

func TestNotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := filestore.Open(path, filestore.Opts{}); err == nil {
		t.Fatal("expected error")
	}
}
