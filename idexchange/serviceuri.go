package idexchange

import (
	"strings"

	"github.com/bwesterb/rpki/uri"
)

// ServiceURI is the URI a child or publisher sends its protocol messages
// to. RFC 8183 wants HTTPS, but plain HTTP is seen in practice and kept
// as given without further checks.
//
// ServiceURI is comparable.
type ServiceURI struct {
	https uri.HTTPS
	http  string
}

// ParseServiceURI returns an HTTP service URI if s starts with "http://"
// in any case, and otherwise requires s to be a valid HTTPS URI.
func ParseServiceURI(s string) (ServiceURI, error) {
	const prefix = "http://"
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return ServiceURI{http: s}, nil
	}
	u, err := uri.ParseHTTPS(s)
	if err != nil {
		return ServiceURI{}, err
	}
	return ServiceURI{https: u}, nil
}

func MustParseServiceURI(s string) ServiceURI {
	ret, err := ParseServiceURI(s)
	if err != nil {
		panic(err)
	}
	return ret
}

// HTTPSServiceURI wraps an HTTPS URI.
func HTTPSServiceURI(u uri.HTTPS) ServiceURI {
	return ServiceURI{https: u}
}

// IsHTTPS reports whether this is an HTTPS URI rather than plain HTTP.
func (s ServiceURI) IsHTTPS() bool {
	return s.http == "" && !s.https.IsZero()
}

// HTTPS returns the URI if it is an HTTPS one.
func (s ServiceURI) HTTPS() (uri.HTTPS, bool) {
	return s.https, s.IsHTTPS()
}

func (s ServiceURI) IsZero() bool {
	return s.http == "" && s.https.IsZero()
}

func (s ServiceURI) String() string {
	if s.http != "" {
		return s.http
	}
	return s.https.String()
}

func (s ServiceURI) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ServiceURI) UnmarshalText(text []byte) error {
	ret, err := ParseServiceURI(string(text))
	if err != nil {
		return err
	}
	*s = ret
	return nil
}
