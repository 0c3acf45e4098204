// Package idexchange implements the out-of-band setup messages of RFC 8183
// that RPKI CAs exchange with their parent CAs and publication servers to
// learn each other's handles, service URIs and identity certificates.
//
// Parse functions validate the embedded identity certificate as a trust
// anchor. Messages are immutable once parsed or constructed.
package idexchange

import (
	"encoding/xml"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bwesterb/rpki/idcert"
	"github.com/bwesterb/rpki/internal/xmlcodec"
)

const (
	// Namespace of all RFC 8183 elements.
	Namespace = "http://www.hactrn.net/uris/rpki/rpki-setup/"

	// Version is the only value accepted for the version attribute.
	Version = "1"
)

// Element names.
const (
	childRequestElement       = "child_request"
	childBPKITAElement        = "child_bpki_ta"
	parentResponseElement     = "parent_response"
	parentBPKITAElement       = "parent_bpki_ta"
	parentReferralElement     = "referral"
	parentOfferElement        = "offer"
	publisherRequestElement   = "publisher_request"
	publisherBPKITAElement    = "publisher_bpki_ta"
	repositoryResponseElement = "repository_response"
	repositoryBPKITAElement   = "repository_bpki_ta"
)

type optional[T comparable] struct {
	v  T
	ok bool
}

func some[T comparable](v T) optional[T] {
	return optional[T]{v: v, ok: true}
}

func (o optional[T]) get() (T, bool) {
	return o.v, o.ok
}

// attrSet collects the values of the attributes a root element may have.
type attrSet map[string]*optional[string]

func newAttrSet(names ...string) attrSet {
	ret := make(attrSet, len(names))
	for _, name := range names {
		ret[name] = &optional[string]{}
	}
	return ret
}

func (a attrSet) get(name string) (string, bool) {
	return a[name].get()
}

// required returns the value of a mandatory attribute.
func (a attrSet) required(element, name string) (string, error) {
	v, ok := a.get(name)
	if !ok {
		return "", malformed("missing attribute %s in <%s>", name, element)
	}
	return v, nil
}

func isElement(e xmlcodec.Element, name string) bool {
	return e.Name() == xml.Name{Space: Namespace, Local: name}
}

// decodeRoot reads the root element, which must be called name, checks
// its version and stores the attributes in attrs.
//
// If strict is set, attributes not in attrs are malformed. Otherwise they
// are logged and ignored.
func decodeRoot(r *xmlcodec.Reader, name string, strict bool,
	attrs attrSet) (*xmlcodec.Content, error) {
	return r.Start(func(e xmlcodec.Element) error {
		if !isElement(e, name) {
			return malformed("expected <%s>, got <%s>", name, e.Name().Local)
		}

		sawVersion := false
		err := e.Attributes(func(attr, value string) error {
			if attr == "version" {
				if value != Version {
					return &Error{
						Kind: KindInvalidField,
						Msg:  "unsupported version " + value,
					}
				}
				sawVersion = true
				return nil
			}
			if p, ok := attrs[attr]; ok {
				*p = some(value)
				return nil
			}
			if strict {
				return malformed("unexpected attribute %s in <%s>", attr, name)
			}
			slog.Debug("Ignoring attribute",
				"element", name,
				"attribute", attr)
			return nil
		})
		if err != nil {
			return err
		}
		if !sawVersion {
			return malformed("missing attribute version in <%s>", name)
		}
		return nil
	})
}

// readIdCert reads the base64 text of a *_bpki_ta element and its end
// tag, and validates the certificate as a trust anchor at when.
func readIdCert(content *xmlcodec.Content, when time.Time) (
	*idcert.IdCert, error) {
	text, err := content.TakeText()
	if err != nil {
		return nil, err
	}
	if err := content.TakeEnd(); err != nil {
		return nil, err
	}
	cert, err := idcert.FromBase64(text)
	if err != nil {
		return nil, certificateError(err)
	}
	if err := cert.ValidateTAAt(when); err != nil {
		return nil, certificateError(err)
	}
	return cert, nil
}

// takeIdCert reads the single *_bpki_ta element called name.
func takeIdCert(outer *xmlcodec.Content, name string, when time.Time) (
	*idcert.IdCert, error) {
	content, err := outer.TakeElement(func(e xmlcodec.Element) error {
		if !isElement(e, name) {
			return malformed("expected <%s>, got <%s>", name, e.Name().Local)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return readIdCert(content, when)
}

// finish reads the end of the root element and the document.
func finish(r *xmlcodec.Reader, outer *xmlcodec.Content) error {
	if err := outer.TakeEnd(); err != nil {
		return err
	}
	return r.End()
}

// rootAttrs starts the attribute list of a root element.
func rootAttrs() xmlcodec.Attrs {
	var attrs xmlcodec.Attrs
	attrs.Add("xmlns", Namespace)
	attrs.Add("version", Version)
	return attrs
}

func writeMessage(w io.Writer, name string, attrs xmlcodec.Attrs,
	taName string, cert *idcert.IdCert) error {
	xw := xmlcodec.NewWriter(w)
	xw.Element(name, attrs, func(xw *xmlcodec.Writer) {
		xw.Element(taName, nil, func(xw *xmlcodec.Writer) {
			xw.Base64(cert.Bytes())
		})
	})
	if err := xw.Done(); err != nil {
		return &Error{Kind: KindIO, Err: err}
	}
	return nil
}

func xmlString(m interface{ WriteXML(io.Writer) error }) string {
	var buf strings.Builder
	if err := m.WriteXML(&buf); err != nil {
		// strings.Builder does not fail.
		panic(err)
	}
	return buf.String()
}
