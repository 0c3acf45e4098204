// Package uri holds the URI types used by RPKI: HTTPS URIs for RRDP and the
// provisioning protocols, and rsync URIs for repository locations.
package uri

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNotASCII         = errors.New("URI contains non-ASCII or control characters")
	ErrBadScheme        = errors.New("URI has wrong scheme")
	ErrMissingHost      = errors.New("URI has no host")
	ErrUserInfo         = errors.New("URI must not contain user information")
	ErrFragment         = errors.New("URI must not contain a fragment")
	ErrQuery            = errors.New("URI must not contain a query")
	ErrMissingModule    = errors.New("rsync URI has no module")
	ErrInvalidAuthority = errors.New("URI has an invalid authority")
)

// HTTPS is an absolute https URI.
//
// The zero value is not a valid URI; see IsZero.
type HTTPS struct {
	s string
}

// ParseHTTPS checks that s is an https URI and returns it in canonical
// form: the scheme and authority lower-cased, the rest kept as is.
func ParseHTTPS(s string) (HTTPS, error) {
	canon, err := parse(s, "https")
	if err != nil {
		return HTTPS{}, err
	}
	return HTTPS{s: canon}, nil
}

func MustParseHTTPS(s string) HTTPS {
	ret, err := ParseHTTPS(s)
	if err != nil {
		panic(err)
	}
	return ret
}

func (u HTTPS) String() string { return u.s }

func (u HTTPS) IsZero() bool { return u.s == "" }

// Host returns the authority of the URI, including a port if present.
func (u HTTPS) Host() string {
	return authority(u.s, "https")
}

func (u HTTPS) MarshalText() ([]byte, error) {
	return []byte(u.s), nil
}

func (u *HTTPS) UnmarshalText(text []byte) error {
	ret, err := ParseHTTPS(string(text))
	if err != nil {
		return err
	}
	*u = ret
	return nil
}

// Rsync is an rsync URI. It always has a module, which may be followed
// by a path.
type Rsync struct {
	s string
}

// ParseRsync checks that s is an rsync URI with a module and returns it
// in canonical form.
func ParseRsync(s string) (Rsync, error) {
	canon, err := parse(s, "rsync")
	if err != nil {
		return Rsync{}, err
	}
	return Rsync{s: canon}, nil
}

func MustParseRsync(s string) Rsync {
	ret, err := ParseRsync(s)
	if err != nil {
		panic(err)
	}
	return ret
}

func (u Rsync) String() string { return u.s }

func (u Rsync) IsZero() bool { return u.s == "" }

func (u Rsync) Host() string {
	return authority(u.s, "rsync")
}

// Module returns the name of the rsync module.
func (u Rsync) Module() string {
	rest := u.s[len("rsync://")+len(u.Host()):]
	rest = strings.TrimPrefix(rest, "/")
	module, _, _ := strings.Cut(rest, "/")
	return module
}

// Path returns the part after the module, without leading slash.
func (u Rsync) Path() string {
	rest := u.s[len("rsync://")+len(u.Host()):]
	rest = strings.TrimPrefix(rest, "/")
	_, path, _ := strings.Cut(rest, "/")
	return path
}

// IsDirectory reports whether the URI ends in a slash. A repository base
// URI given out by a publication server is a directory.
func (u Rsync) IsDirectory() bool {
	return strings.HasSuffix(u.s, "/")
}

func (u Rsync) MarshalText() ([]byte, error) {
	return []byte(u.s), nil
}

func (u *Rsync) UnmarshalText(text []byte) error {
	ret, err := ParseRsync(string(text))
	if err != nil {
		return err
	}
	*u = ret
	return nil
}

func authority(s, scheme string) string {
	rest := s[len(scheme)+len("://"):]
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		return rest[:i]
	}
	return rest
}

func parse(s, scheme string) (string, error) {
	for i := 0; i < len(s); i++ {
		if s[i] <= 0x20 || s[i] >= 0x7f {
			return "", ErrNotASCII
		}
	}

	prefix := scheme + "://"
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", fmt.Errorf("%w: expected %s", ErrBadScheme, scheme)
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAuthority, err)
	}
	if u.User != nil {
		return "", ErrUserInfo
	}
	if u.Hostname() == "" {
		return "", ErrMissingHost
	}
	if u.Fragment != "" || strings.Contains(s, "#") {
		return "", ErrFragment
	}

	rest := s[len(prefix):]
	auth := rest
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		auth = rest[:i]
	}
	rest = rest[len(auth):]

	if scheme == "rsync" {
		if u.RawQuery != "" || strings.Contains(rest, "?") {
			return "", ErrQuery
		}
		module, _, _ := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
		if module == "" {
			return "", ErrMissingModule
		}
	}

	return prefix + strings.ToLower(auth) + rest, nil
}
