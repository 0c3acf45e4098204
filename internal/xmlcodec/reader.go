// Package xmlcodec is a small forward-only layer over encoding/xml for
// documents with a fixed shape: a root element with attributes, child
// elements and text content. Comments, processing instructions and
// whitespace between elements are skipped.
package xmlcodec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed is wrapped by every error the Reader returns because the
// document is not well-formed or does not have the expected shape.
// Errors from the underlying io.Reader are returned as they are, and
// errors returned by callbacks are passed through unchanged.
var ErrMalformed = errors.New("malformed XML")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// ioReader records the first error of the wrapped reader, so that we can
// tell I/O failures apart from syntax errors reported by the decoder.
type ioReader struct {
	r   io.Reader
	err error
}

func (r *ioReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF && r.err == nil {
		r.err = err
	}
	return n, err
}

// Reader reads a single XML document.
type Reader struct {
	src  *ioReader
	dec  *xml.Decoder
	next xml.Token // lookahead; nil if none
}

func NewReader(r io.Reader) *Reader {
	src := &ioReader{r: r}
	return &Reader{
		src: src,
		dec: xml.NewDecoder(src),
	}
}

// Element is a start tag as seen by a callback.
type Element struct {
	start xml.StartElement
}

// Name returns the name of the element with its namespace resolved.
func (e Element) Name() xml.Name {
	return e.start.Name
}

// Attributes calls f for every attribute of the element other than
// namespace declarations. Attributes in a namespace are passed with a
// name of the form "{namespace}local". Duplicate attributes are
// malformed.
func (e Element) Attributes(f func(name, value string) error) error {
	seen := make(map[xml.Name]struct{}, len(e.start.Attr))
	for _, attr := range e.start.Attr {
		if attr.Name.Space == "xmlns" ||
			(attr.Name.Space == "" && attr.Name.Local == "xmlns") {
			continue
		}
		if _, ok := seen[attr.Name]; ok {
			return malformed("duplicate attribute %s", attr.Name.Local)
		}
		seen[attr.Name] = struct{}{}

		name := attr.Name.Local
		if attr.Name.Space != "" {
			name = "{" + attr.Name.Space + "}" + name
		}
		if err := f(name, attr.Value); err != nil {
			return err
		}
	}
	return nil
}

// Content is the content of an element that has been started but not yet
// ended.
type Content struct {
	r    *Reader
	name xml.Name
}

func (r *Reader) err(err error) error {
	if r.src.err != nil {
		return r.src.err
	}
	if err == io.EOF {
		return err
	}
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

// eof turns a clean end of input into an error for callers that expect
// more tokens.
func eof(err error) error {
	if err == io.EOF {
		return malformed("unexpected end of document")
	}
	return err
}

// peek returns the next token that isn't a comment, processing
// instruction or directive. Character data is returned as is. At the end
// of the input, which the decoder only reports outside the root element,
// io.EOF is returned.
func (r *Reader) peek() (xml.Token, error) {
	for r.next == nil {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, r.err(err)
		}
		switch tok.(type) {
		case xml.Comment, xml.ProcInst, xml.Directive:
			continue
		}
		r.next = xml.CopyToken(tok)
	}
	return r.next, nil
}

func (r *Reader) consume() {
	r.next = nil
}

// peekStructural is peek but also skips whitespace-only character data.
// Other character data is returned.
func (r *Reader) peekStructural() (xml.Token, error) {
	for {
		tok, err := r.peek()
		if err != nil {
			return nil, err
		}
		if cd, ok := tok.(xml.CharData); ok && len(bytes.TrimSpace(cd)) == 0 {
			r.consume()
			continue
		}
		return tok, nil
	}
}

func (r *Reader) start(f func(Element) error) (*Content, error) {
	tok, err := r.peekStructural()
	if err != nil {
		return nil, eof(err)
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return nil, malformed("expected element, got %s", describe(tok))
	}
	r.consume()
	if err := f(Element{start: start}); err != nil {
		return nil, err
	}
	return &Content{r: r, name: start.Name}, nil
}

// Start reads the root element of the document, skipping anything that
// precedes it, and calls f with its start tag.
func (r *Reader) Start(f func(Element) error) (*Content, error) {
	return r.start(f)
}

// End checks that nothing but comments, processing instructions and
// whitespace follows the root element.
func (r *Reader) End() error {
	tok, err := r.peekStructural()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	return malformed("unexpected %s after root element", describe(tok))
}

// TakeElement reads the next child element and calls f with its start
// tag. Anything other than an element is malformed.
func (c *Content) TakeElement(f func(Element) error) (*Content, error) {
	tok, err := c.r.peekStructural()
	if err != nil {
		return nil, eof(err)
	}
	if _, ok := tok.(xml.StartElement); !ok {
		return nil, malformed("expected element in %s, got %s",
			c.name.Local, describe(tok))
	}
	return c.r.start(f)
}

// TakeOptElement is like TakeElement, but returns nil if the content has
// no more child elements.
func (c *Content) TakeOptElement(f func(Element) error) (*Content, error) {
	tok, err := c.r.peekStructural()
	if err != nil {
		return nil, eof(err)
	}
	switch tok.(type) {
	case xml.EndElement:
		return nil, nil
	case xml.StartElement:
		return c.r.start(f)
	}
	return nil, malformed("unexpected %s in %s", describe(tok), c.name.Local)
}

// TakeText reads the character data of an element that has no child
// elements. Whitespace is preserved.
func (c *Content) TakeText() (string, error) {
	var buf bytes.Buffer
	for {
		tok, err := c.r.peek()
		if err != nil {
			return "", eof(err)
		}
		switch tok := tok.(type) {
		case xml.CharData:
			buf.Write(tok)
			c.r.consume()
		case xml.EndElement:
			return buf.String(), nil
		default:
			return "", malformed("unexpected %s in text of %s",
				describe(tok), c.name.Local)
		}
	}
}

// Skip discards the remaining content of the element, child elements
// included, and reads its end tag.
func (c *Content) Skip() error {
	depth := 0
	for {
		tok, err := c.r.peek()
		if err != nil {
			return eof(err)
		}
		c.r.consume()
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return nil
			}
			depth--
		}
	}
}

// TakeEnd reads the end tag of the element. Any remaining content other
// than whitespace is malformed.
func (c *Content) TakeEnd() error {
	tok, err := c.r.peekStructural()
	if err != nil {
		return eof(err)
	}
	if _, ok := tok.(xml.EndElement); !ok {
		return malformed("unexpected %s in %s", describe(tok), c.name.Local)
	}
	c.r.consume()
	return nil
}

func describe(tok xml.Token) string {
	switch tok := tok.(type) {
	case xml.StartElement:
		return "element " + tok.Name.Local
	case xml.EndElement:
		return "end of " + tok.Name.Local
	case xml.CharData:
		return "character data"
	}
	return fmt.Sprintf("%T", tok)
}
