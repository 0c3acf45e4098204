package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwesterb/rpki/idcert"
	"github.com/bwesterb/rpki/idexchange"
	"github.com/bwesterb/rpki/internal/testutil"
)

const at = "2024-06-01T12:00:00Z"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"rpkisetup", "--at", at}, args...))
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func childRequest(t *testing.T) *idexchange.ChildRequest {
	t.Helper()
	cert, err := idcert.Parse(testutil.SelfSigned(t, testutil.CertOpts{
		Subject: "Carol",
	}))
	if err != nil {
		t.Fatal(err)
	}
	return idexchange.NewChildRequest(cert,
		idexchange.MustParseHandle("Carol")).WithTag("A0001")
}

func TestInspect(t *testing.T) {
	m := childRequest(t)
	path := writeFile(t, t.TempDir(), "carol.xml", m.XML())

	out, err := run(t, "inspect", "child-request", path)
	if err != nil {
		t.Fatal(err)
	}
	lines := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		lines[strings.Join(strings.Fields(line), " ")] = true
	}
	for _, want := range []string{
		"type child_request",
		"child_handle Carol",
		"tag A0001",
		"id_cert subject CN=Carol",
		"id_cert subject_key_id " + m.IdCert().SubjectKeyID(),
		"id_cert signature_algorithm sha256WithRSAEncryption",
		"id_cert fingerprint " + m.IdCert().Fingerprint(),
	} {
		if !lines[want] {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}

	if _, err := run(t, "inspect", "parent-response", path); !idexchange.IsKind(
		err, idexchange.KindMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
	if _, err := run(t, "inspect", "grandchild-request", path); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := run(t, "inspect"); err != errArgs {
		t.Fatalf("expected errArgs, got %v", err)
	}
}

func TestReencode(t *testing.T) {
	m := childRequest(t)
	formatted := "<?xml version=\"1.0\"?>\n<!-- from Carol -->\n" +
		strings.Replace(m.XML(), "><", ">\n  <", 1)
	path := writeFile(t, t.TempDir(), "carol.xml", formatted)

	out, err := run(t, "reencode", "child-request", path)
	if err != nil {
		t.Fatal(err)
	}
	if out != m.XML() {
		t.Fatalf("got %s\nexpected %s", out, m.XML())
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.xml", childRequest(t).XML())
	bad := writeFile(t, dir, "bad.xml", "<child_request/>")
	missing := filepath.Join(dir, "missing.xml")

	out, err := run(t, "verify", "child-request", good)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, good+" ✅") {
		t.Fatalf("unexpected output\n%s", out)
	}

	out, err = run(t, "verify", "--jobs", "2", "child-request", good, bad, missing)
	if err == nil || err.Error() != "2 of 3 files failed to verify" {
		t.Fatalf("unexpected error %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 ||
		!strings.HasPrefix(lines[0], good) || !strings.Contains(lines[0], "✅") ||
		!strings.HasPrefix(lines[1], bad) || !strings.Contains(lines[1], "❌") ||
		!strings.HasPrefix(lines[2], missing) || !strings.Contains(lines[2], "❌") {
		t.Fatalf("unexpected output\n%s", out)
	}
}

func TestExpired(t *testing.T) {
	path := writeFile(t, t.TempDir(), "carol.xml", childRequest(t).XML())
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run([]string{"rpkisetup", "--at", "2041-01-01T00:00:00Z",
		"inspect", "child-request", path})
	if !idexchange.IsKind(err, idexchange.KindCertificate) {
		t.Fatalf("expected certificate error, got %v", err)
	}
}

func TestStore(t *testing.T) {
	for _, backend := range []string{"fs", "bbolt"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, "carol.xml", childRequest(t).XML())
			store := []string{"store", "--backend", backend,
				"--store", filepath.Join(dir, "store")}
			storeRun := func(args ...string) (string, error) {
				return run(t, append(append([]string{}, store...), args...)...)
			}

			out, err := storeRun("add", "child-request", path)
			if err != nil {
				t.Fatal(err)
			}
			if out != "Added child Carol\n" {
				t.Fatalf("add: %q", out)
			}
			out, err = storeRun("add", "child-request", path)
			if err != nil {
				t.Fatal(err)
			}
			if out != "Replaced child Carol\n" {
				t.Fatalf("add again: %q", out)
			}

			out, err = storeRun("list")
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(out, "child Carol ") {
				t.Fatalf("list: %q", out)
			}
			out, err = storeRun("list", "parent")
			if err != nil {
				t.Fatal(err)
			}
			if out != "" {
				t.Fatalf("list parent: %q", out)
			}

			out, err = storeRun("show", "child", "Carol")
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out, "as child-request") ||
				!strings.Contains(out, "child_handle") {
				t.Fatalf("show: %q", out)
			}
			out, err = storeRun("show", "--xml", "child", "Carol")
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(out, "<child_request") ||
				!strings.Contains(out, `child_handle="Carol"`) {
				t.Fatalf("show --xml: %q", out)
			}

			out, err = storeRun("remove", "child", "Carol")
			if err != nil {
				t.Fatal(err)
			}
			if out != "Removed child Carol\n" {
				t.Fatalf("remove: %q", out)
			}
			if _, err := storeRun("remove", "child", "Carol"); err == nil {
				t.Fatal("expected error removing twice")
			}
			if _, err := storeRun("show", "child", "Carol"); err == nil {
				t.Fatal("expected error showing removed entry")
			}
			if _, err := storeRun("show", "cousin", "Carol"); err == nil {
				t.Fatal("expected error for unknown role")
			}
		})
	}

	if _, err := run(t, "store", "--backend", "sql", "list"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
