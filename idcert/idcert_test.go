package idcert

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwesterb/rpki/internal/testutil"
)

func TestValidTA(t *testing.T) {
	der := testutil.SelfSigned(t, testutil.CertOpts{Subject: "alice"})
	cert, err := Parse(der)
	if err != nil {
		t.Fatal(err)
	}
	if err := cert.ValidateTAAt(testutil.Now); err != nil {
		t.Fatal(err)
	}
	if time.Now().Before(testutil.DefaultNotAfter) {
		if err := cert.ValidateTA(); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(cert.Bytes(), der) {
		t.Fatal("Bytes() differs from input")
	}
	if !cert.SignatureAlgorithm().HasParameter() {
		t.Fatal("expected NULL parameter in signature algorithm")
	}
	if cert.Certificate().Subject.CommonName != "alice" {
		t.Fatal("wrong subject")
	}
	if len(cert.Fingerprint()) != 64 || len(cert.SubjectKeyID()) != 40 {
		t.Fatalf("fingerprint %s, ski %s", cert.Fingerprint(), cert.SubjectKeyID())
	}
}

func TestFromBase64(t *testing.T) {
	der := testutil.SelfSigned(t, testutil.CertOpts{Subject: "alice"})
	b64 := base64.StdEncoding.EncodeToString(der)

	// Wrapped at 64 columns and indented, as found in the wild.
	var wrapped strings.Builder
	wrapped.WriteString("\n")
	for i := 0; i < len(b64); i += 64 {
		wrapped.WriteString("    ")
		wrapped.WriteString(b64[i:min(i+64, len(b64))])
		wrapped.WriteString("\r\n")
	}

	cert, err := FromBase64(wrapped.String())
	if err != nil {
		t.Fatal(err)
	}
	if cert.Base64() != b64 {
		t.Fatal("Base64() differs")
	}
	orig, err := Parse(der)
	if err != nil {
		t.Fatal(err)
	}
	if !cert.Equal(orig) {
		t.Fatal("certificates differ")
	}
	other, err := Parse(testutil.SelfSigned(t, testutil.CertOpts{Subject: "bob"}))
	if err != nil {
		t.Fatal(err)
	}
	if cert.Equal(other) {
		t.Fatal("different certificates compare equal")
	}

	if _, err := FromBase64("not base64!"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseMalformed(t *testing.T) {
	der := testutil.SelfSigned(t, testutil.CertOpts{})
	for _, tc := range []struct {
		name string
		der  []byte
	}{
		{"empty", nil},
		{"garbage", []byte("hello world")},
		{"truncated", der[:len(der)-1]},
		{"trailing", append(append([]byte{}, der...), 0)},
	} {
		if _, err := Parse(tc.der); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", tc.name, err)
		}
	}
}

func TestValidateTAFailures(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts testutil.CertOpts
		when time.Time
		err  error
	}{
		{
			name: "expired",
			opts: testutil.CertOpts{NotAfter: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)},
			when: testutil.Now,
			err:  ErrExpired,
		},
		{
			name: "not yet valid",
			opts: testutil.CertOpts{NotBefore: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
			when: testutil.Now,
			err:  ErrNotYetValid,
		},
		{
			name: "before default validity",
			opts: testutil.CertOpts{},
			when: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
			err:  ErrNotYetValid,
		},
		{
			name: "end entity",
			opts: testutil.CertOpts{NotCA: true},
			when: testutil.Now,
			err:  ErrInvalid,
		},
		{
			name: "issuer differs",
			opts: testutil.CertOpts{Subject: "carol", Issuer: "dave"},
			when: testutil.Now,
			err:  ErrInvalid,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cert, err := Parse(testutil.SelfSigned(t, tc.opts))
			if err != nil {
				t.Fatal(err)
			}
			if err := cert.ValidateTAAt(tc.when); !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestValidateTATampered(t *testing.T) {
	der := testutil.SelfSigned(t, testutil.CertOpts{})
	der = append([]byte{}, der...)

	// The last byte is part of the signature value.
	der[len(der)-1] ^= 1

	cert, err := Parse(der)
	if err != nil {
		t.Fatal(err)
	}
	if err := cert.ValidateTAAt(testutil.Now); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}
