// Package idcert handles identity certificates: the self-signed BPKI
// certificates that RPKI parties exchange to identify each other in the
// provisioning and publication protocols.
package idcert

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwesterb/rpki"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	// ErrMalformed is returned when the certificate cannot be decoded.
	ErrMalformed = errors.New("malformed identity certificate")

	// ErrInvalid is returned when a certificate decodes fine, but is not
	// a valid identity trust anchor.
	ErrInvalid = errors.New("invalid identity certificate")

	ErrSignature   = errors.New("identity certificate signature invalid")
	ErrExpired     = errors.New("identity certificate expired")
	ErrNotYetValid = errors.New("identity certificate not yet valid")
)

// IdCert is a decoded identity certificate. It retains the exact bytes
// it was decoded from.
type IdCert struct {
	raw       []byte
	tbs       []byte
	cert      *x509.Certificate
	signature rpki.Signature
}

// Parse decodes a DER encoded identity certificate. This does not check
// whether the certificate is valid; see ValidateTAAt.
func Parse(der []byte) (*IdCert, error) {
	var (
		outer, tbs cryptobyte.String
		sig        asn1.BitString
	)

	s := cryptobyte.String(der)
	if !s.ReadASN1(&outer, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: expected Certificate SEQUENCE", ErrMalformed)
	}
	if !s.Empty() {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, rpki.ErrExtraBytes)
	}

	if !outer.ReadASN1Element(&tbs, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: expected TBSCertificate", ErrMalformed)
	}
	algorithm, err := rpki.X509SignatureAlgorithmFrom(&outer)
	if err != nil {
		return nil, fmt.Errorf("%w: signatureAlgorithm: %w", ErrMalformed, err)
	}
	if !outer.ReadASN1BitString(&sig) || sig.BitLength%8 != 0 {
		return nil, fmt.Errorf("%w: expected signatureValue", ErrMalformed)
	}
	if !outer.Empty() {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, rpki.ErrExtraBytes)
	}

	// The algorithm is repeated inside the signed part and the two have
	// to agree, down to the encoding of the parameters.
	var tbsContent cryptobyte.String
	inner := tbs
	if !inner.ReadASN1(&tbsContent, cbasn1.SEQUENCE) ||
		!tbsContent.SkipOptionalASN1(
			cbasn1.Tag(0).Constructed().ContextSpecific()) ||
		!tbsContent.SkipASN1(cbasn1.INTEGER) {
		return nil, fmt.Errorf("%w: bad TBSCertificate", ErrMalformed)
	}
	tbsAlgorithm, err := rpki.X509SignatureAlgorithmFrom(&tbsContent)
	if err != nil {
		return nil, fmt.Errorf("%w: TBSCertificate signature: %w",
			ErrMalformed, err)
	}
	if tbsAlgorithm != algorithm {
		return nil, fmt.Errorf("%w: signature algorithms differ", ErrMalformed)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return &IdCert{
		raw:       der,
		tbs:       tbs,
		cert:      cert,
		signature: rpki.NewSignature(algorithm, sig.RightAlign()),
	}, nil
}

// FromBase64 decodes a certificate from base64 as it appears in XML
// messages. Whitespace is ignored.
func FromBase64(text string) (*IdCert, error) {
	text = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, text)
	der, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return Parse(der)
}

// ValidateTA checks that the certificate is a valid trust anchor now.
func (c *IdCert) ValidateTA() error {
	return c.ValidateTAAt(time.Now())
}

// ValidateTAAt checks that the certificate is a valid identity trust
// anchor at the given time: a self-signed CA certificate whose key
// identifiers are consistent and whose signature checks out.
func (c *IdCert) ValidateTAAt(when time.Time) error {
	cert := c.cert

	if cert.Version != 3 {
		return fmt.Errorf("%w: version %d", ErrInvalid, cert.Version)
	}
	if !cert.BasicConstraintsValid || !cert.IsCA {
		return fmt.Errorf("%w: not a CA certificate", ErrInvalid)
	}
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return fmt.Errorf("%w: issuer differs from subject", ErrInvalid)
	}

	// RFC 6487 4.8.2: SHA-1 of the subjectPublicKey bits.
	if len(cert.SubjectKeyId) == 0 {
		return fmt.Errorf("%w: missing subject key identifier", ErrInvalid)
	}
	if !bytes.Equal(cert.SubjectKeyId, c.keyIdentifier()) {
		return fmt.Errorf("%w: subject key identifier does not match key",
			ErrInvalid)
	}
	if len(cert.AuthorityKeyId) != 0 &&
		!bytes.Equal(cert.AuthorityKeyId, cert.SubjectKeyId) {
		return fmt.Errorf("%w: authority key identifier differs", ErrInvalid)
	}

	if when.Before(cert.NotBefore) {
		return fmt.Errorf("%w: valid from %s", ErrNotYetValid, cert.NotBefore)
	}
	if when.After(cert.NotAfter) {
		return fmt.Errorf("%w: valid until %s", ErrExpired, cert.NotAfter)
	}

	verifier, err := rpki.NewVerifier(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.signature.Verify(verifier, c.tbs); err != nil {
		return fmt.Errorf("%w: %w", ErrSignature, err)
	}
	return nil
}

func (c *IdCert) keyIdentifier() []byte {
	var (
		spki, alg cryptobyte.String
		key       asn1.BitString
	)
	s := cryptobyte.String(c.cert.RawSubjectPublicKeyInfo)
	if !s.ReadASN1(&spki, cbasn1.SEQUENCE) ||
		!spki.ReadASN1(&alg, cbasn1.SEQUENCE) ||
		!spki.ReadASN1BitString(&key) {
		return nil
	}
	h := sha1.Sum(key.RightAlign())
	return h[:]
}

// Bytes returns the DER encoding the certificate was decoded from. The
// caller must not modify it.
func (c *IdCert) Bytes() []byte {
	return c.raw
}

// Base64 returns the DER encoding in base64 without line breaks.
func (c *IdCert) Base64() string {
	return base64.StdEncoding.EncodeToString(c.raw)
}

// Certificate returns the parsed certificate.
func (c *IdCert) Certificate() *x509.Certificate {
	return c.cert
}

func (c *IdCert) SignatureAlgorithm() rpki.SignatureAlgorithm {
	return c.signature.Algorithm()
}

func (c *IdCert) Signature() rpki.Signature {
	return c.signature
}

// SubjectKeyID returns the subject key identifier in hex.
func (c *IdCert) SubjectKeyID() string {
	return hex.EncodeToString(c.cert.SubjectKeyId)
}

// Fingerprint returns the SHA-256 hash of the DER encoding in hex.
func (c *IdCert) Fingerprint() string {
	h := sha256.Sum256(c.raw)
	return hex.EncodeToString(h[:])
}

// Equal reports whether both certificates have the same encoding.
func (c *IdCert) Equal(rhs *IdCert) bool {
	if c == nil || rhs == nil {
		return c == rhs
	}
	return bytes.Equal(c.raw, rhs.raw)
}
