package idexchange

import (
	"io"
	"time"

	"github.com/bwesterb/rpki/idcert"
	"github.com/bwesterb/rpki/internal/xmlcodec"
	"github.com/bwesterb/rpki/uri"
)

// RepositoryResponse is the <repository_response/> a publication server
// gives a publisher in reply to a PublisherRequest, RFC 8183 section
// 5.2.4.
type RepositoryResponse struct {
	idCert              *idcert.IdCert
	publisherHandle     PublisherHandle
	serviceURI          ServiceURI
	siaBase             uri.Rsync
	rrdpNotificationURI optional[uri.HTTPS]
	tag                 optional[string]
}

func NewRepositoryResponse(idCert *idcert.IdCert,
	publisherHandle PublisherHandle, serviceURI ServiceURI,
	siaBase uri.Rsync) *RepositoryResponse {
	return &RepositoryResponse{
		idCert:          idCert,
		publisherHandle: publisherHandle,
		serviceURI:      serviceURI,
		siaBase:         siaBase,
	}
}

// WithRRDPNotificationURI returns a copy of the response with the given
// RRDP notification URI.
func (m *RepositoryResponse) WithRRDPNotificationURI(
	u uri.HTTPS) *RepositoryResponse {
	ret := *m
	ret.rrdpNotificationURI = some(u)
	return &ret
}

// WithTag returns a copy of the response with the given tag.
func (m *RepositoryResponse) WithTag(tag string) *RepositoryResponse {
	ret := *m
	ret.tag = some(tag)
	return &ret
}

func (m *RepositoryResponse) IdCert() *idcert.IdCert { return m.idCert }

func (m *RepositoryResponse) PublisherHandle() PublisherHandle {
	return m.publisherHandle
}

// ServiceURI returns where the publisher sends its RFC 8181 messages.
func (m *RepositoryResponse) ServiceURI() ServiceURI { return m.serviceURI }

// SIABase returns the rsync URI under which the publisher may publish.
func (m *RepositoryResponse) SIABase() uri.Rsync { return m.siaBase }

func (m *RepositoryResponse) RRDPNotificationURI() (uri.HTTPS, bool) {
	return m.rrdpNotificationURI.get()
}

func (m *RepositoryResponse) Tag() (string, bool) { return m.tag.get() }

func (m *RepositoryResponse) Equal(rhs *RepositoryResponse) bool {
	if m == nil || rhs == nil {
		return m == rhs
	}
	return m.idCert.Equal(rhs.idCert) &&
		m.publisherHandle == rhs.publisherHandle &&
		m.serviceURI == rhs.serviceURI &&
		m.siaBase == rhs.siaBase &&
		m.rrdpNotificationURI == rhs.rrdpNotificationURI &&
		m.tag == rhs.tag
}

// ParseRepositoryResponse parses a <repository_response/> and validates
// its identity certificate as of now.
func ParseRepositoryResponse(r io.Reader) (*RepositoryResponse, error) {
	return ParseRepositoryResponseAt(r, time.Now())
}

// ParseRepositoryResponseAt parses a <repository_response/> and validates
// its identity certificate as of when. Unknown attributes on the root are
// ignored.
func ParseRepositoryResponseAt(r io.Reader, when time.Time) (
	*RepositoryResponse, error) {
	ret, err := decodeRepositoryResponse(xmlcodec.NewReader(r), when)
	if err != nil {
		return nil, classify(err)
	}
	return ret, nil
}

func decodeRepositoryResponse(r *xmlcodec.Reader, when time.Time) (
	*RepositoryResponse, error) {
	attrs := newAttrSet("publisher_handle", "service_uri", "sia_base",
		"rrdp_notification_uri", "tag")
	outer, err := decodeRoot(r, repositoryResponseElement, false, attrs)
	if err != nil {
		return nil, err
	}

	ret := &RepositoryResponse{}

	raw, err := attrs.required(repositoryResponseElement, "service_uri")
	if err != nil {
		return nil, err
	}
	if ret.serviceURI, err = ParseServiceURI(raw); err != nil {
		return nil, invalidField("service_uri", err)
	}

	raw, err = attrs.required(repositoryResponseElement, "publisher_handle")
	if err != nil {
		return nil, err
	}
	if ret.publisherHandle, err = ParseHandle(raw); err != nil {
		return nil, invalidField("publisher_handle", err)
	}

	raw, err = attrs.required(repositoryResponseElement, "sia_base")
	if err != nil {
		return nil, err
	}
	if ret.siaBase, err = uri.ParseRsync(raw); err != nil {
		return nil, invalidField("sia_base", err)
	}

	if raw, ok := attrs.get("rrdp_notification_uri"); ok {
		u, err := uri.ParseHTTPS(raw)
		if err != nil {
			return nil, invalidField("rrdp_notification_uri", err)
		}
		ret.rrdpNotificationURI = some(u)
	}

	if tag, ok := attrs.get("tag"); ok {
		ret.tag = some(tag)
	}

	if ret.idCert, err = takeIdCert(outer, repositoryBPKITAElement, when); err != nil {
		return nil, err
	}
	if err := finish(r, outer); err != nil {
		return nil, err
	}
	return ret, nil
}

// WriteXML writes the response. It only fails if w does.
func (m *RepositoryResponse) WriteXML(w io.Writer) error {
	attrs := rootAttrs()
	attrs.Add("publisher_handle", m.publisherHandle.String())
	attrs.Add("service_uri", m.serviceURI.String())
	attrs.Add("sia_base", m.siaBase.String())
	rrdp, ok := m.rrdpNotificationURI.get()
	attrs.AddOpt("rrdp_notification_uri", rrdp.String(), ok)
	tag, ok := m.tag.get()
	attrs.AddOpt("tag", tag, ok)
	return writeMessage(w, repositoryResponseElement, attrs,
		repositoryBPKITAElement, m.idCert)
}

func (m *RepositoryResponse) XML() string {
	return xmlString(m)
}
