package xmlcodec

import (
	"encoding/base64"
	"encoding/xml"
	"io"
)

// Attrs is the list of attributes of an element, in the order in which
// they are written.
type Attrs []xml.Attr

// Add appends an attribute.
func (a *Attrs) Add(name, value string) {
	*a = append(*a, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// AddOpt appends an attribute if ok is set.
func (a *Attrs) AddOpt(name, value string, ok bool) {
	if ok {
		a.Add(name, value)
	}
}

// Writer writes an XML document without indentation.
//
// Like cryptobyte.Builder, the first error is kept and all later calls
// are ignored; it is returned by Done.
type Writer struct {
	enc *xml.Encoder
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: xml.NewEncoder(w)}
}

// Element writes an element with the given attributes, calling content to
// write what goes between its start and end tags. The default namespace
// is declared by passing an "xmlns" attribute.
func (w *Writer) Element(name string, attrs Attrs, content func(*Writer)) {
	if w.err != nil {
		return
	}
	start := xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs}
	if w.err = w.enc.EncodeToken(start); w.err != nil {
		return
	}
	if content != nil {
		content(w)
	}
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(start.End())
}

// Text writes escaped character data.
func (w *Writer) Text(s string) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.CharData(s))
}

// Base64 writes data as standard base64 without line breaks.
func (w *Writer) Base64(data []byte) {
	w.Text(base64.StdEncoding.EncodeToString(data))
}

// Done flushes the output and returns the first error encountered.
func (w *Writer) Done() error {
	if w.err != nil {
		return w.err
	}
	return w.enc.Close()
}
