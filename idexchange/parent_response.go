package idexchange

import (
	"io"
	"time"

	"github.com/bwesterb/rpki/idcert"
	"github.com/bwesterb/rpki/internal/xmlcodec"
)

// ParentResponse is the <parent_response/> a parent CA gives a child in
// reply to a ChildRequest, RFC 8183 section 5.2.2.
//
// Referral and offer hints are skipped when parsing and never written.
type ParentResponse struct {
	idCert       *idcert.IdCert
	parentHandle ParentHandle
	childHandle  ChildHandle
	serviceURI   ServiceURI
	tag          optional[string]
}

func NewParentResponse(idCert *idcert.IdCert, parentHandle ParentHandle,
	childHandle ChildHandle, serviceURI ServiceURI) *ParentResponse {
	return &ParentResponse{
		idCert:       idCert,
		parentHandle: parentHandle,
		childHandle:  childHandle,
		serviceURI:   serviceURI,
	}
}

// WithTag returns a copy of the response with the given tag.
func (m *ParentResponse) WithTag(tag string) *ParentResponse {
	ret := *m
	ret.tag = some(tag)
	return &ret
}

func (m *ParentResponse) IdCert() *idcert.IdCert { return m.idCert }
func (m *ParentResponse) ParentHandle() ParentHandle { return m.parentHandle }

// ChildHandle returns the handle the parent chose for the child, which
// need not be the one the child asked for.
func (m *ParentResponse) ChildHandle() ChildHandle { return m.childHandle }

// ServiceURI returns where the child sends its RFC 6492 messages.
func (m *ParentResponse) ServiceURI() ServiceURI { return m.serviceURI }

func (m *ParentResponse) Tag() (string, bool) { return m.tag.get() }

func (m *ParentResponse) Equal(rhs *ParentResponse) bool {
	if m == nil || rhs == nil {
		return m == rhs
	}
	return m.idCert.Equal(rhs.idCert) &&
		m.parentHandle == rhs.parentHandle &&
		m.childHandle == rhs.childHandle &&
		m.serviceURI == rhs.serviceURI &&
		m.tag == rhs.tag
}

// ParseParentResponse parses a <parent_response/> and validates its
// identity certificate as of now.
func ParseParentResponse(r io.Reader) (*ParentResponse, error) {
	return ParseParentResponseAt(r, time.Now())
}

// ParseParentResponseAt parses a <parent_response/> and validates its
// identity certificate as of when. Unknown attributes on the root are
// ignored.
func ParseParentResponseAt(r io.Reader, when time.Time) (
	*ParentResponse, error) {
	ret, err := decodeParentResponse(xmlcodec.NewReader(r), when)
	if err != nil {
		return nil, classify(err)
	}
	return ret, nil
}

func decodeParentResponse(r *xmlcodec.Reader, when time.Time) (
	*ParentResponse, error) {
	attrs := newAttrSet("parent_handle", "child_handle", "service_uri", "tag")
	outer, err := decodeRoot(r, parentResponseElement, false, attrs)
	if err != nil {
		return nil, err
	}

	ret := &ParentResponse{}

	raw, err := attrs.required(parentResponseElement, "service_uri")
	if err != nil {
		return nil, err
	}
	if ret.serviceURI, err = ParseServiceURI(raw); err != nil {
		return nil, invalidField("service_uri", err)
	}

	raw, err = attrs.required(parentResponseElement, "parent_handle")
	if err != nil {
		return nil, err
	}
	if ret.parentHandle, err = ParseHandle(raw); err != nil {
		return nil, invalidField("parent_handle", err)
	}

	raw, err = attrs.required(parentResponseElement, "child_handle")
	if err != nil {
		return nil, err
	}
	if ret.childHandle, err = ParseHandle(raw); err != nil {
		return nil, invalidField("child_handle", err)
	}

	if tag, ok := attrs.get("tag"); ok {
		ret.tag = some(tag)
	}

	// The identity certificate can come before or after the optional
	// referral and offer elements.
	for {
		var name string
		inner, err := outer.TakeOptElement(func(e xmlcodec.Element) error {
			for _, n := range []string{
				parentBPKITAElement,
				parentReferralElement,
				parentOfferElement,
			} {
				if isElement(e, n) {
					name = n
					return nil
				}
			}
			return malformed("unexpected <%s> in <%s>",
				e.Name().Local, parentResponseElement)
		})
		if err != nil {
			return nil, err
		}
		if inner == nil {
			break
		}

		if name != parentBPKITAElement {
			if err := inner.Skip(); err != nil {
				return nil, err
			}
			continue
		}

		if ret.idCert != nil {
			return nil, malformed("more than one <%s>", parentBPKITAElement)
		}
		if ret.idCert, err = readIdCert(inner, when); err != nil {
			return nil, err
		}
	}

	if ret.idCert == nil {
		return nil, malformed("missing <%s>", parentBPKITAElement)
	}
	if err := finish(r, outer); err != nil {
		return nil, err
	}
	return ret, nil
}

// WriteXML writes the response. It only fails if w does.
func (m *ParentResponse) WriteXML(w io.Writer) error {
	attrs := rootAttrs()
	attrs.Add("parent_handle", m.parentHandle.String())
	attrs.Add("child_handle", m.childHandle.String())
	attrs.Add("service_uri", m.serviceURI.String())
	tag, ok := m.tag.get()
	attrs.AddOpt("tag", tag, ok)
	return writeMessage(w, parentResponseElement, attrs, parentBPKITAElement,
		m.idCert)
}

func (m *ParentResponse) XML() string {
	return xmlString(m)
}
