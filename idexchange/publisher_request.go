package idexchange

import (
	"io"
	"time"

	"github.com/bwesterb/rpki/idcert"
	"github.com/bwesterb/rpki/internal/xmlcodec"
)

// PublisherRequest is the <publisher_request/> a CA sends to a
// publication server, RFC 8183 section 5.2.3.
type PublisherRequest struct {
	idCert          *idcert.IdCert
	publisherHandle PublisherHandle
	tag             optional[string]
}

func NewPublisherRequest(idCert *idcert.IdCert,
	publisherHandle PublisherHandle) *PublisherRequest {
	return &PublisherRequest{idCert: idCert, publisherHandle: publisherHandle}
}

// WithTag returns a copy of the request with the given tag.
func (m *PublisherRequest) WithTag(tag string) *PublisherRequest {
	ret := *m
	ret.tag = some(tag)
	return &ret
}

func (m *PublisherRequest) IdCert() *idcert.IdCert { return m.idCert }

// PublisherHandle returns the name the publisher would like to be known
// by. The server may choose another.
func (m *PublisherRequest) PublisherHandle() PublisherHandle {
	return m.publisherHandle
}

func (m *PublisherRequest) Tag() (string, bool) { return m.tag.get() }

// Unpack returns all fields at once.
func (m *PublisherRequest) Unpack() (*idcert.IdCert, PublisherHandle, string, bool) {
	tag, ok := m.tag.get()
	return m.idCert, m.publisherHandle, tag, ok
}

func (m *PublisherRequest) Equal(rhs *PublisherRequest) bool {
	if m == nil || rhs == nil {
		return m == rhs
	}
	return m.idCert.Equal(rhs.idCert) &&
		m.publisherHandle == rhs.publisherHandle &&
		m.tag == rhs.tag
}

// ParsePublisherRequest parses a <publisher_request/> and validates its
// identity certificate as of now.
func ParsePublisherRequest(r io.Reader) (*PublisherRequest, error) {
	return ParsePublisherRequestAt(r, time.Now())
}

func ParsePublisherRequestAt(r io.Reader, when time.Time) (
	*PublisherRequest, error) {
	ret, err := decodePublisherRequest(xmlcodec.NewReader(r), when)
	if err != nil {
		return nil, classify(err)
	}
	return ret, nil
}

func decodePublisherRequest(r *xmlcodec.Reader, when time.Time) (
	*PublisherRequest, error) {
	attrs := newAttrSet("publisher_handle", "tag")
	outer, err := decodeRoot(r, publisherRequestElement, true, attrs)
	if err != nil {
		return nil, err
	}

	raw, err := attrs.required(publisherRequestElement, "publisher_handle")
	if err != nil {
		return nil, err
	}
	publisherHandle, err := ParseHandle(raw)
	if err != nil {
		return nil, invalidField("publisher_handle", err)
	}

	cert, err := takeIdCert(outer, publisherBPKITAElement, when)
	if err != nil {
		return nil, err
	}
	if err := finish(r, outer); err != nil {
		return nil, err
	}

	ret := &PublisherRequest{idCert: cert, publisherHandle: publisherHandle}
	if tag, ok := attrs.get("tag"); ok {
		ret.tag = some(tag)
	}
	return ret, nil
}

// WriteXML writes the request. It only fails if w does.
func (m *PublisherRequest) WriteXML(w io.Writer) error {
	attrs := rootAttrs()
	attrs.Add("publisher_handle", m.publisherHandle.String())
	tag, ok := m.tag.get()
	attrs.AddOpt("tag", tag, ok)
	return writeMessage(w, publisherRequestElement, attrs,
		publisherBPKITAElement, m.idCert)
}

func (m *PublisherRequest) XML() string {
	return xmlString(m)
}
