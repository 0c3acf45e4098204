package idexchange

import (
	"errors"
	"fmt"

	"github.com/bwesterb/rpki/internal/xmlcodec"
)

// Kind is the category of an *Error.
type Kind string

const (
	// The document is not well-formed XML, or lacks or has unexpected
	// elements or attributes.
	KindMalformed Kind = "Malformed"

	// An attribute is present but its value is unacceptable: a bad
	// handle or URI, or a version other than 1.
	KindInvalidField Kind = "InvalidField"

	// The embedded identity certificate failed to decode or validate.
	KindCertificate Kind = "Certificate"

	// Reading or writing the underlying stream failed.
	KindIO Kind = "IO"
)

var (
	// ErrMalformed matches errors of kind KindMalformed and
	// KindInvalidField with errors.Is.
	ErrMalformed = errors.New("malformed out-of-band message")

	ErrInvalidHandle = errors.New(
		"handle must match [-_A-Za-z0-9/\\]{1,255}")
)

// Error is returned by the Parse functions and by WriteXML.
//
// Use errors.As to get at the Kind, or IsKind. Errors of kind
// KindCertificate wrap the idcert error, and errors of kind KindIO wrap
// the error of the reader or writer.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrMalformed &&
		(e.Kind == KindMalformed || e.Kind == KindInvalidField)
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func malformed(format string, args ...any) error {
	return &Error{Kind: KindMalformed, Msg: fmt.Sprintf(format, args...)}
}

func invalidField(field string, err error) error {
	return &Error{
		Kind: KindInvalidField,
		Msg:  fmt.Sprintf("invalid %s", field),
		Err:  err,
	}
}

func certificateError(err error) error {
	return &Error{
		Kind: KindCertificate,
		Msg:  "identity certificate",
		Err:  err,
	}
}

// classify turns an error from the XML layer into an *Error. Errors that
// are already of that type came from our callbacks and pass unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, xmlcodec.ErrMalformed) {
		return &Error{Kind: KindMalformed, Err: err}
	}
	return &Error{Kind: KindIO, Err: err}
}
