// Package storetest checks implementations of idstore.Store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/bwesterb/rpki/idcert"
	"github.com/bwesterb/rpki/idexchange"
	"github.com/bwesterb/rpki/idstore"
	"github.com/bwesterb/rpki/internal/testutil"
	"github.com/bwesterb/rpki/uri"
)

var (
	// DefaultTimeout is the default timeout for a single test.
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	Timeout time.Duration
}

func (cfg *Config) InitDefaults() {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
}

// TestableStore extends idstore.Store with what is needed for testing.
type TestableStore interface {
	idstore.Store

	// Prepare should open a new, empty store.
	Prepare(*testing.T, context.Context)
}

// Run runs the test suite against the store. Every implementation should
// have a test that calls it.
func Run(t *testing.T, store TestableStore, cfg Config) {
	cfg.InitDefaults()
	tests := []struct {
		name string
		test func(*testing.T, context.Context, idstore.Store)
	}{
		{"PutGet", testPutGet},
		{"Overwrite", testOverwrite},
		{"NotFound", testNotFound},
		{"List", testList},
		{"Delete", testDelete},
		{"Revalidate", testRevalidate},
		{"InvalidKey", testInvalidKey},
		{"Concurrent", testConcurrent},
		{"Closed", testClosed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			store.Prepare(t, ctx)
			defer store.Close()
			tc.test(t, ctx, store)
		})
	}
}

func idCert(t *testing.T, name string) *idcert.IdCert {
	t.Helper()
	cert, err := idcert.Parse(testutil.SelfSigned(t, testutil.CertOpts{
		Subject: name,
	}))
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

// Messages returns one message of each kind.
func Messages(t *testing.T) []idstore.Message {
	t.Helper()
	return []idstore.Message{
		idexchange.NewChildRequest(idCert(t, "Carol"),
			idexchange.MustParseHandle("Carol")),
		idexchange.NewParentResponse(idCert(t, "Bob"),
			idexchange.MustParseHandle("Bob"),
			idexchange.MustParseHandle("Bob-Carol"),
			idexchange.MustParseServiceURI("https://bob.example/rfc6492/Carol")),
		idexchange.NewPublisherRequest(idCert(t, "Carol"),
			idexchange.MustParseHandle("Bob/Carol")).WithTag("A0001"),
		idexchange.NewRepositoryResponse(idCert(t, "Alice"),
			idexchange.MustParseHandle("Alice/Bob-42"),
			idexchange.MustParseServiceURI("https://a.example/publication/Alice/Bob-42"),
			uri.MustParseRsync("rsync://a.example/rpki/Alice/Bob-42/")).
			WithRRDPNotificationURI(uri.MustParseHTTPS(
				"https://rrdp.example/notification.xml")),
	}
}

func mustEntry(t *testing.T, m idstore.Message) idstore.Entry {
	t.Helper()
	e, err := idstore.NewEntry(m, testutil.Now)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func childEntry(t *testing.T, handle, tag string) idstore.Entry {
	t.Helper()
	m := idexchange.NewChildRequest(idCert(t, "child"),
		idexchange.MustParseHandle(handle))
	if tag != "" {
		m = m.WithTag(tag)
	}
	return mustEntry(t, m)
}

func entryEqual(t *testing.T, got, want idstore.Entry) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("entries differ: %s", cmp.Diff(want, got))
	}
}

func testPutGet(t *testing.T, ctx context.Context, store idstore.Store) {
	for _, m := range Messages(t) {
		e := mustEntry(t, m)
		isNew, err := store.Put(ctx, e)
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if !isNew {
			t.Fatalf("Put %s %s: not new", e.Role, e.Handle)
		}

		got, err := store.Get(ctx, e.Role, e.Handle)
		if err != nil {
			t.Fatalf("Get %s %s: %v", e.Role, e.Handle, err)
		}
		entryEqual(t, got, e)

		m2, err := got.Decode(testutil.Now)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !messageEqual(m, m2) {
			t.Fatalf("%s %s: decoded message differs", e.Role, e.Handle)
		}
	}
}

func messageEqual(a, b idstore.Message) bool {
	switch a := a.(type) {
	case *idexchange.ChildRequest:
		b, ok := b.(*idexchange.ChildRequest)
		return ok && a.Equal(b)
	case *idexchange.ParentResponse:
		b, ok := b.(*idexchange.ParentResponse)
		return ok && a.Equal(b)
	case *idexchange.PublisherRequest:
		b, ok := b.(*idexchange.PublisherRequest)
		return ok && a.Equal(b)
	case *idexchange.RepositoryResponse:
		b, ok := b.(*idexchange.RepositoryResponse)
		return ok && a.Equal(b)
	}
	return false
}

func testOverwrite(t *testing.T, ctx context.Context, store idstore.Store) {
	first := childEntry(t, "Carol", "first")
	second := childEntry(t, "Carol", "second")

	if isNew, err := store.Put(ctx, first); err != nil || !isNew {
		t.Fatalf("Put first: %v %v", isNew, err)
	}
	if isNew, err := store.Put(ctx, second); err != nil || isNew {
		t.Fatalf("Put second: %v %v", isNew, err)
	}
	got, err := store.Get(ctx, idstore.RoleChild, "Carol")
	if err != nil {
		t.Fatal(err)
	}
	entryEqual(t, got, second)

	// The same handle in another role is a different entry.
	pr := mustEntry(t, idexchange.NewPublisherRequest(idCert(t, "child"),
		idexchange.MustParseHandle("Carol")))
	if isNew, err := store.Put(ctx, pr); err != nil || !isNew {
		t.Fatalf("Put publisher: %v %v", isNew, err)
	}
	got, err = store.Get(ctx, idstore.RoleChild, "Carol")
	if err != nil {
		t.Fatal(err)
	}
	entryEqual(t, got, second)
}

func testNotFound(t *testing.T, ctx context.Context, store idstore.Store) {
	for _, role := range idstore.Roles {
		_, err := store.Get(ctx, role, "nobody")
		if !errors.Is(err, idstore.ErrNotFound) {
			t.Fatalf("Get %s: expected ErrNotFound, got %v", role, err)
		}
		found, err := store.Delete(ctx, role, "nobody")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatalf("Delete %s: found", role)
		}
		es, err := store.List(ctx, role)
		if err != nil {
			t.Fatal(err)
		}
		if len(es) != 0 {
			t.Fatalf("List %s: %d entries", role, len(es))
		}
	}
}

func testList(t *testing.T, ctx context.Context, store idstore.Store) {
	handles := []string{"dave", "Bob/x", "alice", "Bob", "Bob-2", `c\d`, "0"}
	for _, h := range handles {
		if _, err := store.Put(ctx, childEntry(t, h, "")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Put(ctx, mustEntry(t, Messages(t)[2])); err != nil {
		t.Fatal(err)
	}

	es, err := store.List(ctx, idstore.RoleChild)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{}
	for _, e := range es {
		if e.Role != idstore.RoleChild {
			t.Fatalf("List returned %s", e.Role)
		}
		got = append(got, e.Handle.String())
	}
	want := []string{"0", "Bob", "Bob-2", "Bob/x", "alice", `c\d`, "dave"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("List: (-want +got)\n%s", diff)
	}

	es, err = store.List(ctx, idstore.RolePublisher)
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 1 || es[0].Handle != "Bob/Carol" {
		t.Fatalf("List publishers: %v", es)
	}
}

func testDelete(t *testing.T, ctx context.Context, store idstore.Store) {
	for _, m := range Messages(t) {
		if _, err := store.Put(ctx, mustEntry(t, m)); err != nil {
			t.Fatal(err)
		}
	}

	found, err := store.Delete(ctx, idstore.RoleParent, "Bob")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("Delete: not found")
	}
	if _, err := store.Get(ctx, idstore.RoleParent, "Bob"); !errors.Is(err, idstore.ErrNotFound) {
		t.Fatalf("Get after Delete: %v", err)
	}
	found, err = store.Delete(ctx, idstore.RoleParent, "Bob")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("Delete twice: found")
	}

	// Other entries are untouched.
	for _, role := range []idstore.Role{
		idstore.RoleChild, idstore.RolePublisher, idstore.RoleRepository,
	} {
		es, err := store.List(ctx, role)
		if err != nil {
			t.Fatal(err)
		}
		if len(es) != 1 {
			t.Fatalf("List %s: %d entries", role, len(es))
		}
	}
}

func testRevalidate(t *testing.T, ctx context.Context, store idstore.Store) {
	e := mustEntry(t, Messages(t)[3])
	if _, err := store.Put(ctx, e); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, e.Role, e.Handle)
	if err != nil {
		t.Fatal(err)
	}
	_, err = got.Decode(testutil.DefaultNotAfter.Add(time.Hour))
	if !idexchange.IsKind(err, idexchange.KindCertificate) {
		t.Fatalf("expected certificate error, got %v", err)
	}
	if !errors.Is(err, idcert.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func testInvalidKey(t *testing.T, ctx context.Context, store idstore.Store) {
	_, err := store.Get(ctx, idstore.RoleChild, "not a handle")
	if !errors.Is(err, idexchange.ErrInvalidHandle) {
		t.Fatalf("Get: expected ErrInvalidHandle, got %v", err)
	}
	_, err = store.Get(ctx, idstore.Role(0), "Carol")
	if !errors.Is(err, idstore.ErrUnknownRole) {
		t.Fatalf("Get: expected ErrUnknownRole, got %v", err)
	}
	_, err = store.List(ctx, idstore.Role(42))
	if !errors.Is(err, idstore.ErrUnknownRole) {
		t.Fatalf("List: expected ErrUnknownRole, got %v", err)
	}
	e := childEntry(t, "Carol", "")
	e.Handle = "../Carol"
	if _, err := store.Put(ctx, e); !errors.Is(err, idexchange.ErrInvalidHandle) {
		t.Fatalf("Put: expected ErrInvalidHandle, got %v", err)
	}
}

func testConcurrent(t *testing.T, ctx context.Context, store idstore.Store) {
	const n = 16
	entries := make([]idstore.Entry, n)
	for i := range entries {
		entries[i] = childEntry(t, fmt.Sprintf("child-%02d", i), "")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if _, err := store.Put(gctx, e); err != nil {
				return err
			}
			got, err := store.Get(gctx, e.Role, e.Handle)
			if err != nil {
				return err
			}
			if !got.Equal(e) {
				return fmt.Errorf("%s: read back different entry", e.Handle)
			}
			_, err = store.List(gctx, e.Role)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	es, err := store.List(ctx, idstore.RoleChild)
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != n {
		t.Fatalf("List: %d entries", len(es))
	}
	for i, e := range es {
		entryEqual(t, e, entries[i])
	}
}

func testClosed(t *testing.T, ctx context.Context, store idstore.Store) {
	e := childEntry(t, "Carol", "")
	if _, err := store.Put(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Put(ctx, e); !errors.Is(err, idstore.ErrClosed) {
		t.Fatalf("Put: expected ErrClosed, got %v", err)
	}
	if _, err := store.Get(ctx, e.Role, e.Handle); !errors.Is(err, idstore.ErrClosed) {
		t.Fatalf("Get: expected ErrClosed, got %v", err)
	}
	if _, err := store.List(ctx, e.Role); !errors.Is(err, idstore.ErrClosed) {
		t.Fatalf("List: expected ErrClosed, got %v", err)
	}
	if _, err := store.Delete(ctx, e.Role, e.Handle); !errors.Is(err, idstore.ErrClosed) {
		t.Fatalf("Delete: expected ErrClosed, got %v", err)
	}
	if err := store.Close(); !errors.Is(err, idstore.ErrClosed) {
		t.Fatalf("Close twice: expected ErrClosed, got %v", err)
	}
}
