package idexchange

import (
	"path/filepath"
	"strings"
)

// Handle is the name by which RPKI entities refer to each other. From the
// RELAX NG schema in RFC 8183, extended with the backslash:
//
//	handle = xsd:string { maxLength="255" pattern="[\-_A-Za-z0-9/]*" }
//
// and it must not be empty.
type Handle string

// Aliases that make the role of a handle explicit.
type (
	ParentHandle     = Handle
	ChildHandle      = Handle
	PublisherHandle  = Handle
	RepositoryHandle = Handle
)

// MaxHandleLength is the maximum length of a handle in bytes.
const MaxHandleLength = 255

// ParseHandle checks that s is a valid handle. It is not normalised in any
// way.
func ParseHandle(s string) (Handle, error) {
	if len(s) == 0 || len(s) > MaxHandleLength {
		return "", ErrInvalidHandle
	}
	for i := 0; i < len(s); i++ {
		if !isHandleByte(s[i]) {
			return "", ErrInvalidHandle
		}
	}
	return Handle(s), nil
}

func MustParseHandle(s string) Handle {
	h, err := ParseHandle(s)
	if err != nil {
		panic(err)
	}
	return h
}

func isHandleByte(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return true
	}
	switch b {
	case '-', '_', '/', '\\':
		return true
	}
	return false
}

func (h Handle) String() string {
	return string(h)
}

var (
	toPathForm   = strings.NewReplacer("/", "+", "\\", "=")
	fromPathForm = strings.NewReplacer("+", "/", "=", "\\")
)

// PathForm returns the handle as a file name, with "/" replaced by "+"
// and "\" by "=".
func (h Handle) PathForm() string {
	return toPathForm.Replace(string(h))
}

// HandleFromPathForm is the inverse of PathForm. Only the last element of
// path is used.
func HandleFromPathForm(path string) (Handle, error) {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return "", ErrInvalidHandle
	}
	return ParseHandle(fromPathForm.Replace(name))
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	ret, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = ret
	return nil
}
