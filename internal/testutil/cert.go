// Package testutil creates identity certificates for tests.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/sha3"
)

var (
	// Reference time at which certificates created with default options
	// are valid.
	Now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	DefaultNotBefore = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	DefaultNotAfter  = time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC)
)

var (
	keysMux sync.Mutex
	keys    = make(map[string]*rsa.PrivateKey)
)

// Key returns an RSA key for the given name. Keys are cached for the life
// of the test binary, so certificates made with the same name share a key.
// The SHAKE128 stream is seeded with the name, but rsa.GenerateKey may
// skip a byte of it at random, so keys differ between runs.
func Key(t testing.TB, name string) *rsa.PrivateKey {
	t.Helper()
	keysMux.Lock()
	defer keysMux.Unlock()

	if key, ok := keys[name]; ok {
		return key
	}
	h := sha3.NewShake128()
	h.Write([]byte("rpki test key " + name))
	key, err := rsa.GenerateKey(h, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keys[name] = key
	return key
}

type CertOpts struct {
	// Name of the key to use, see Key. Defaults to the subject.
	Key string

	// Common name of the subject. Defaults to "test".
	Subject string

	// Common name of the issuer. Defaults to the subject.
	Issuer string

	NotBefore time.Time
	NotAfter  time.Time

	// Create an end-entity certificate instead of a CA certificate.
	NotCA bool
}

// SelfSigned returns the DER encoding of an identity certificate signed
// by its own key.
func SelfSigned(t testing.TB, opts CertOpts) []byte {
	t.Helper()
	if opts.Subject == "" {
		opts.Subject = "test"
	}
	if opts.Key == "" {
		opts.Key = opts.Subject
	}
	if opts.Issuer == "" {
		opts.Issuer = opts.Subject
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = DefaultNotBefore
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = DefaultNotAfter
	}

	key := Key(t, opts.Key)
	pub := x509.MarshalPKCS1PublicKey(&key.PublicKey)
	ski := sha1.Sum(pub)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatal(err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: opts.Subject},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		SignatureAlgorithm:    x509.SHA256WithRSA,
		BasicConstraintsValid: true,
		IsCA:                  !opts.NotCA,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		SubjectKeyId:          ski[:],
	}
	if opts.NotCA {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	}

	parent := tmpl
	if opts.Issuer != opts.Subject {
		parent = &x509.Certificate{
			Subject:      pkix.Name{CommonName: opts.Issuer},
			SubjectKeyId: tmpl.SubjectKeyId,
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, key)
	if err != nil {
		t.Fatal(fmt.Errorf("creating test certificate: %w", err))
	}
	return der
}
