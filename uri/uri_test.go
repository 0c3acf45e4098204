package uri

import (
	"errors"
	"testing"
)

func TestParseHTTPS(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out string
		err error
	}{
		{"https://rpki.example.net/rrdp/notify.xml", "https://rpki.example.net/rrdp/notify.xml", nil},
		{"HTTPS://RPKI.Example.NET/Up-Down/Bob", "https://rpki.example.net/Up-Down/Bob", nil},
		{"https://[2001:db8::1]:8443/rfc8181", "https://[2001:db8::1]:8443/rfc8181", nil},
		{"https://host/path?q=1", "https://host/path?q=1", nil},
		{"http://host/path", "", ErrBadScheme},
		{"ftp://host/path", "", ErrBadScheme},
		{"https:/host", "", ErrBadScheme},
		{"https:///path", "", ErrMissingHost},
		{"https://user@host/", "", ErrUserInfo},
		{"https://host/#frag", "", ErrFragment},
		{"https://host/a b", "", ErrNotASCII},
		{"https://host/é", "", ErrNotASCII},
		{"https://host:port/", "", ErrInvalidAuthority},
	} {
		u, err := ParseHTTPS(tc.in)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("%q: expected %v, got %v", tc.in, tc.err, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if u.String() != tc.out {
			t.Fatalf("%q: got %q, expected %q", tc.in, u, tc.out)
		}
	}
}

func TestHTTPSText(t *testing.T) {
	u := MustParseHTTPS("https://Example.com:443/x")
	if u.Host() != "example.com:443" {
		t.Fatalf("Host() = %q", u.Host())
	}
	text, err := u.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var u2 HTTPS
	if err := u2.UnmarshalText(text); err != nil {
		t.Fatal(err)
	}
	if u != u2 {
		t.Fatalf("%v != %v", u, u2)
	}
	if err := u2.UnmarshalText([]byte("rsync://x/y")); err == nil {
		t.Fatal("expected error")
	}
	if !(HTTPS{}).IsZero() || u.IsZero() {
		t.Fatal("IsZero")
	}
}

func TestParseRsync(t *testing.T) {
	for _, tc := range []struct {
		in     string
		out    string
		module string
		path   string
		err    error
	}{
		{"rsync://rpki.example.net/repo/bob/", "rsync://rpki.example.net/repo/bob/", "repo", "bob/", nil},
		{"RSYNC://RPKI.example.net/Repo", "rsync://rpki.example.net/Repo", "Repo", "", nil},
		{"rsync://host:873/mod/a/b.cer", "rsync://host:873/mod/a/b.cer", "mod", "a/b.cer", nil},
		{"rsync://host/", "", "", "", ErrMissingModule},
		{"rsync://host", "", "", "", ErrMissingModule},
		{"rsync://host/mod?x", "", "", "", ErrQuery},
		{"https://host/mod", "", "", "", ErrBadScheme},
		{"rsync://user@host/mod", "", "", "", ErrUserInfo},
	} {
		u, err := ParseRsync(tc.in)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("%q: expected %v, got %v", tc.in, tc.err, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if u.String() != tc.out {
			t.Fatalf("%q: got %q, expected %q", tc.in, u, tc.out)
		}
		if u.Module() != tc.module {
			t.Fatalf("%q: module %q", tc.in, u.Module())
		}
		if u.Path() != tc.path {
			t.Fatalf("%q: path %q", tc.in, u.Path())
		}
	}

	if !MustParseRsync("rsync://h/m/").IsDirectory() {
		t.Fatal("expected directory")
	}
}
