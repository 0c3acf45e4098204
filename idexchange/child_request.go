package idexchange

import (
	"io"
	"time"

	"github.com/bwesterb/rpki/idcert"
	"github.com/bwesterb/rpki/internal/xmlcodec"
)

// ChildRequest is the <child_request/> a CA sends to its prospective
// parent, RFC 8183 section 5.2.1.
type ChildRequest struct {
	idCert      *idcert.IdCert
	childHandle ChildHandle
	tag         optional[string]
}

// NewChildRequest returns a request without tag. The parent is not
// bound to use the handle the child asks for.
func NewChildRequest(idCert *idcert.IdCert, childHandle ChildHandle) *ChildRequest {
	return &ChildRequest{idCert: idCert, childHandle: childHandle}
}

// WithTag returns a copy of the request with the given tag.
func (m *ChildRequest) WithTag(tag string) *ChildRequest {
	ret := *m
	ret.tag = some(tag)
	return &ret
}

func (m *ChildRequest) IdCert() *idcert.IdCert { return m.idCert }
func (m *ChildRequest) ChildHandle() ChildHandle { return m.childHandle }
func (m *ChildRequest) Tag() (string, bool) { return m.tag.get() }

// Unpack returns all fields at once.
func (m *ChildRequest) Unpack() (*idcert.IdCert, ChildHandle, string, bool) {
	tag, ok := m.tag.get()
	return m.idCert, m.childHandle, tag, ok
}

func (m *ChildRequest) Equal(rhs *ChildRequest) bool {
	if m == nil || rhs == nil {
		return m == rhs
	}
	return m.idCert.Equal(rhs.idCert) &&
		m.childHandle == rhs.childHandle &&
		m.tag == rhs.tag
}

// ParseChildRequest parses a <child_request/> and validates its identity
// certificate as of now.
func ParseChildRequest(r io.Reader) (*ChildRequest, error) {
	return ParseChildRequestAt(r, time.Now())
}

// ParseChildRequestAt parses a <child_request/> and validates its identity
// certificate as of when.
func ParseChildRequestAt(r io.Reader, when time.Time) (*ChildRequest, error) {
	ret, err := decodeChildRequest(xmlcodec.NewReader(r), when)
	if err != nil {
		return nil, classify(err)
	}
	return ret, nil
}

func decodeChildRequest(r *xmlcodec.Reader, when time.Time) (
	*ChildRequest, error) {
	attrs := newAttrSet("child_handle", "tag")
	outer, err := decodeRoot(r, childRequestElement, true, attrs)
	if err != nil {
		return nil, err
	}

	raw, err := attrs.required(childRequestElement, "child_handle")
	if err != nil {
		return nil, err
	}
	childHandle, err := ParseHandle(raw)
	if err != nil {
		return nil, invalidField("child_handle", err)
	}

	cert, err := takeIdCert(outer, childBPKITAElement, when)
	if err != nil {
		return nil, err
	}
	if err := finish(r, outer); err != nil {
		return nil, err
	}

	ret := &ChildRequest{idCert: cert, childHandle: childHandle}
	if tag, ok := attrs.get("tag"); ok {
		ret.tag = some(tag)
	}
	return ret, nil
}

// WriteXML writes the request. It only fails if w does.
func (m *ChildRequest) WriteXML(w io.Writer) error {
	attrs := rootAttrs()
	attrs.Add("child_handle", m.childHandle.String())
	tag, ok := m.tag.get()
	attrs.AddOpt("tag", tag, ok)
	return writeMessage(w, childRequestElement, attrs, childBPKITAElement,
		m.idCert)
}

// XML returns the request as a string.
func (m *ChildRequest) XML() string {
	return xmlString(m)
}
