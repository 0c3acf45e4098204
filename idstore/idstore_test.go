package idstore_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bwesterb/rpki"
	"github.com/bwesterb/rpki/idcert"
	"github.com/bwesterb/rpki/idexchange"
	"github.com/bwesterb/rpki/idstore"
	"github.com/bwesterb/rpki/idstore/storetest"
	"github.com/bwesterb/rpki/internal/testutil"
)

func TestRole(t *testing.T) {
	for _, r := range idstore.Roles {
		r2, err := idstore.ParseRole(r.String())
		if err != nil {
			t.Fatal(err)
		}
		if r2 != r {
			t.Fatalf("%s: got %s", r, r2)
		}
	}
	if _, err := idstore.ParseRole("grandparent"); !errors.Is(err, idstore.ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if idstore.Role(9).String() != "role(9)" {
		t.Fatal(idstore.Role(9).String())
	}

	var r idstore.Role
	if err := r.UnmarshalText([]byte("publisher")); err != nil {
		t.Fatal(err)
	}
	if r != idstore.RolePublisher {
		t.Fatal(r)
	}
	if _, err := idstore.Role(0).MarshalText(); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewEntry(t *testing.T) {
	added := time.Date(2024, 6, 1, 12, 30, 15, 999, time.FixedZone("CEST", 7200))
	for i, want := range []struct {
		role   idstore.Role
		handle idexchange.Handle
	}{
		{idstore.RoleChild, "Carol"},
		{idstore.RoleParent, "Bob"},
		{idstore.RolePublisher, "Bob/Carol"},
		{idstore.RoleRepository, "Alice/Bob-42"},
	} {
		m := storetest.Messages(t)[i]
		e, err := idstore.NewEntry(m, added)
		if err != nil {
			t.Fatal(err)
		}
		if e.Role != want.role || e.Handle != want.handle {
			t.Fatalf("%d: got %s %s", i, e.Role, e.Handle)
		}
		if !e.Added.Equal(added.Truncate(time.Second)) || e.Added.Location() != time.UTC {
			t.Fatalf("%d: added %v", i, e.Added)
		}

		var buf bytes.Buffer
		if err := m.WriteXML(&buf); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf.Bytes(), e.Message) {
			t.Fatalf("%d: message differs", i)
		}

		m2, err := e.Decode(testutil.Now)
		if err != nil {
			t.Fatal(err)
		}
		var buf2 bytes.Buffer
		if err := m2.WriteXML(&buf2); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf.Bytes(), buf2.Bytes()) {
			t.Fatalf("%d: decoded message differs", i)
		}
	}
}

type otherMessage struct{}

func (otherMessage) WriteXML(w io.Writer) error { return nil }

func TestNewEntryUnsupported(t *testing.T) {
	if _, err := idstore.NewEntry(otherMessage{}, testutil.Now); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeErrors(t *testing.T) {
	e, err := idstore.NewEntry(storetest.Messages(t)[1], testutil.Now)
	if err != nil {
		t.Fatal(err)
	}

	m, err := e.Decode(testutil.DefaultNotBefore.Add(-time.Hour))
	if !errors.Is(err, idcert.ErrNotYetValid) {
		t.Fatalf("expected ErrNotYetValid, got %v", err)
	}
	if m != nil {
		t.Fatal("message returned with error")
	}

	// A parent response is not a child request.
	e.Role = idstore.RoleChild
	if _, err := e.Decode(testutil.Now); !idexchange.IsKind(err, idexchange.KindMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}

	e.Role = 0
	if _, err := e.Decode(testutil.Now); !errors.Is(err, idstore.ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestEntryBinary(t *testing.T) {
	e, err := idstore.NewEntry(storetest.Messages(t)[3], testutil.Now)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := e.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	// checksum | role | handle | added | message
	if len(buf) != 32+1+1+len(e.Handle)+8+3+len(e.Message) {
		t.Fatalf("unexpected length %d", len(buf))
	}
	if buf[32] != byte(idstore.RoleRepository) || buf[33] != byte(len(e.Handle)) {
		t.Fatalf("unexpected header %x", buf[32:34])
	}

	var e2 idstore.Entry
	if err := e2.UnmarshalBinary(buf); err != nil {
		t.Fatal(err)
	}
	if !e2.Equal(e) {
		t.Fatal("entry differs")
	}

	// The entry does not alias the buffer.
	for i := range buf {
		buf[i] = 0
	}
	if !e2.Equal(e) {
		t.Fatal("entry changed with buffer")
	}
}

func TestEntryBinaryErrors(t *testing.T) {
	e, err := idstore.NewEntry(storetest.Messages(t)[0], testutil.Now)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := e.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	var e2 idstore.Entry
	if err := e2.UnmarshalBinary(buf[:20]); !errors.Is(err, rpki.ErrTruncated) {
		t.Fatalf("short checksum: %v", err)
	}

	flipped := bytes.Clone(buf)
	flipped[40] ^= 0x80
	if err := e2.UnmarshalBinary(flipped); !errors.Is(err, idstore.ErrChecksumInvalid) {
		t.Fatalf("flipped bit: %v", err)
	}

	if err := e2.UnmarshalBinary(buf[:len(buf)-1]); !errors.Is(err, idstore.ErrChecksumInvalid) {
		t.Fatalf("cut short: %v", err)
	}

	bad := e
	bad.Handle = "no spaces"
	if _, err := bad.MarshalBinary(); !errors.Is(err, idexchange.ErrInvalidHandle) {
		t.Fatalf("invalid handle: %v", err)
	}
	bad = e
	bad.Role = 7
	if _, err := bad.MarshalBinary(); !errors.Is(err, idstore.ErrUnknownRole) {
		t.Fatalf("invalid role: %v", err)
	}
}
