// Package rpki holds the cryptographic building blocks shared by the RPKI
// objects in this module: the signature algorithm identifier and signatures.
package rpki

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// PublicKeyFormat names the kind of public key a signature algorithm uses.
type PublicKeyFormat uint8

const (
	PublicKeyFormatRSA PublicKeyFormat = iota + 1
)

func (f PublicKeyFormat) String() string {
	switch f {
	case PublicKeyFormatRSA:
		return "rsa"
	}
	return fmt.Sprintf("unknown:%d", uint8(f))
}

// SignatureAlgorithm is the signature algorithm used by RPKI.
//
// RFC 7935 allows only RSA PKCS #1 v1.5 with SHA-256. There are, however,
// two encodings of its (non-existent) parameters: an explicit NULL, or no
// parameters field at all. Re-encoding has to reproduce the bytes that were
// signed, so the two are kept apart and do not compare equal.
//
// The zero value is the algorithm as RPKI prefers to construct it, that is
// with the NULL parameter present.
type SignatureAlgorithm struct {
	// Set when the parameters field was missing in the decoded identifier.
	omitParameter bool
}

// DefaultSignatureAlgorithm returns the signature algorithm preferred for
// newly constructed objects. Same as the zero value.
func DefaultSignatureAlgorithm() SignatureAlgorithm {
	return SignatureAlgorithm{}
}

// HasParameter reports whether the identifier this value was decoded from
// carried a NULL parameters field. Always true for constructed values.
func (a SignatureAlgorithm) HasParameter() bool {
	return !a.omitParameter
}

// PublicKeyFormat returns the public key format used with this algorithm.
func (a SignatureAlgorithm) PublicKeyFormat() PublicKeyFormat {
	return PublicKeyFormatRSA
}

func (a SignatureAlgorithm) String() string {
	if a.omitParameter {
		return "sha256WithRSAEncryption (no parameters)"
	}
	return "sha256WithRSAEncryption"
}

// Signature algorithm identifiers appear in certificates, CRLs and
// certification requests (X.509 context) and in signed objects (CMS
// context):
//
//	AlgorithmIdentifier ::= SEQUENCE {
//	     algorithm   OBJECT IDENTIFIER,
//	     parameters  ANY DEFINED BY algorithm OPTIONAL }
//
// RFC 7935 uses sha256WithRSAEncryption in the X.509 context. Signed
// objects must be constructed with rsaEncryption, but both identifiers
// must be accepted when reading them. The parameters must be NULL when
// present; we accept a missing field in both contexts and remember which
// form we saw. When encoding we always write NULL.

// X509SignatureAlgorithmFrom reads an X.509 signature algorithm identifier
// from s, advancing it past the identifier.
func X509SignatureAlgorithmFrom(s *cryptobyte.String) (SignatureAlgorithm, error) {
	return signatureAlgorithmFrom(s, func(oid asn1.ObjectIdentifier) bool {
		return oid.Equal(OIDSHA256WithRSAEncryption)
	})
}

// CMSSignatureAlgorithmFrom reads a signed object signature algorithm
// identifier from s, advancing it past the identifier.
func CMSSignatureAlgorithmFrom(s *cryptobyte.String) (SignatureAlgorithm, error) {
	return signatureAlgorithmFrom(s, func(oid asn1.ObjectIdentifier) bool {
		return oid.Equal(OIDRSAEncryption) ||
			oid.Equal(OIDSHA256WithRSAEncryption)
	})
}

// ParseX509SignatureAlgorithm parses a DER encoded X.509 signature algorithm
// identifier. The identifier has to span all of der.
func ParseX509SignatureAlgorithm(der []byte) (SignatureAlgorithm, error) {
	return parseSignatureAlgorithm(der, X509SignatureAlgorithmFrom)
}

// ParseCMSSignatureAlgorithm parses a DER encoded signed object signature
// algorithm identifier. The identifier has to span all of der.
func ParseCMSSignatureAlgorithm(der []byte) (SignatureAlgorithm, error) {
	return parseSignatureAlgorithm(der, CMSSignatureAlgorithmFrom)
}

func parseSignatureAlgorithm(der []byte,
	from func(*cryptobyte.String) (SignatureAlgorithm, error)) (
	SignatureAlgorithm, error) {
	s := cryptobyte.String(der)
	a, err := from(&s)
	if err != nil {
		return SignatureAlgorithm{}, err
	}
	if !s.Empty() {
		return SignatureAlgorithm{}, ErrExtraBytes
	}
	return a, nil
}

func signatureAlgorithmFrom(s *cryptobyte.String,
	accept func(asn1.ObjectIdentifier) bool) (SignatureAlgorithm, error) {
	var (
		seq cryptobyte.String
		oid asn1.ObjectIdentifier
	)

	if s.Empty() {
		return SignatureAlgorithm{}, ErrTruncated
	}
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) {
		return SignatureAlgorithm{}, fmt.Errorf(
			"%w: expected AlgorithmIdentifier SEQUENCE", ErrMalformed)
	}
	if !seq.ReadASN1ObjectIdentifier(&oid) {
		return SignatureAlgorithm{}, fmt.Errorf(
			"%w: expected algorithm OBJECT IDENTIFIER", ErrMalformed)
	}
	if !accept(oid) {
		return SignatureAlgorithm{}, fmt.Errorf(
			"%w: signature algorithm %s not allowed", ErrMalformed, oid)
	}

	ret := SignatureAlgorithm{omitParameter: true}
	if seq.PeekASN1Tag(cbasn1.NULL) {
		var null cryptobyte.String
		if !seq.ReadASN1(&null, cbasn1.NULL) || !null.Empty() {
			return SignatureAlgorithm{}, fmt.Errorf(
				"%w: NULL parameters with content", ErrMalformed)
		}
		ret.omitParameter = false
	}
	if !seq.Empty() {
		return SignatureAlgorithm{}, fmt.Errorf(
			"%w: unexpected content in AlgorithmIdentifier", ErrMalformed)
	}
	return ret, nil
}

// AddX509 appends the X.509 encoding of the algorithm identifier to b.
//
// The NULL parameters field is always written, regardless of
// HasParameter().
func (a SignatureAlgorithm) AddX509(b *cryptobyte.Builder) {
	addAlgorithmIdentifier(b, OIDSHA256WithRSAEncryption)
}

// AddCMS appends the signed object encoding of the algorithm identifier
// to b. This always uses rsaEncryption with NULL parameters.
func (a SignatureAlgorithm) AddCMS(b *cryptobyte.Builder) {
	addAlgorithmIdentifier(b, OIDRSAEncryption)
}

// MarshalX509 returns the DER encoding produced by AddX509.
func (a SignatureAlgorithm) MarshalX509() ([]byte, error) {
	var b cryptobyte.Builder
	a.AddX509(&b)
	return b.Bytes()
}

// MarshalCMS returns the DER encoding produced by AddCMS.
func (a SignatureAlgorithm) MarshalCMS() ([]byte, error) {
	var b cryptobyte.Builder
	a.AddCMS(&b)
	return b.Bytes()
}

func addAlgorithmIdentifier(b *cryptobyte.Builder, oid asn1.ObjectIdentifier) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		b.AddASN1NULL()
	})
}

// Signature is a signature value together with the algorithm that
// produced it. It is not verified; see Verifier.
type Signature struct {
	algorithm SignatureAlgorithm
	value     []byte
}

func NewSignature(algorithm SignatureAlgorithm, value []byte) Signature {
	return Signature{algorithm: algorithm, value: value}
}

func (s Signature) Algorithm() SignatureAlgorithm { return s.algorithm }

// Value returns the raw signature. The caller must not modify it.
func (s Signature) Value() []byte { return s.value }

func (s Signature) Equal(rhs Signature) bool {
	return s.algorithm == rhs.algorithm && bytes.Equal(s.value, rhs.value)
}

// Verify checks the signature over message with the given public key.
func (s Signature) Verify(v Verifier, message []byte) error {
	return v.Verify(message, s.value)
}

// Verifier checks signatures made with the RPKI signature algorithm.
type Verifier interface {
	Verify(message, signature []byte) error
	Bytes() []byte
}

type pkcs1Verifier struct {
	pk *rsa.PublicKey
}

func (v *pkcs1Verifier) Bytes() []byte {
	return x509.MarshalPKCS1PublicKey(v.pk)
}

func (v *pkcs1Verifier) Verify(msg, sig []byte) error {
	hashed := sha256.Sum256(msg)
	return rsa.VerifyPKCS1v15(v.pk, crypto.SHA256, hashed[:], sig)
}

// NewVerifier returns a Verifier for the given public key, which has to
// be an RSA key.
func NewVerifier(pk crypto.PublicKey) (Verifier, error) {
	rpk, ok := pk.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("Expected *rsa.PublicKey")
	}
	return &pkcs1Verifier{pk: rpk}, nil
}

// Returns [format]:[sha256]
func VerifierFingerprint(v Verifier) string {
	h := sha256.Sum256(v.Bytes())
	return fmt.Sprintf("%s:%x", PublicKeyFormatRSA, h)
}
