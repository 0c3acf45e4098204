// Package idstore keeps the out-of-band messages exchanged with other RPKI
// entities, filed by role and handle, so that the identity of a parent,
// child, publisher or repository can be looked up later.
//
// Backends live in the filestore and boltstore packages.
package idstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bwesterb/rpki"
	"github.com/bwesterb/rpki/idexchange"

	"golang.org/x/crypto/cryptobyte"
)

const csLen = 32

var (
	ErrNotFound        = errors.New("No such entry")
	ErrClosed          = errors.New("Store is closed")
	ErrChecksumInvalid = errors.New("Invalid checksum")
	ErrUnknownRole     = errors.New("Unknown role")
)

// Role is the kind of message an entry holds, which is also the role the
// other party has towards us.
type Role uint8

const (
	// A <child_request/> from one of our children.
	RoleChild Role = iota + 1

	// A <parent_response/> from our parent.
	RoleParent

	// A <publisher_request/> from a publisher using our repository.
	RolePublisher

	// A <repository_response/> from the repository we publish in.
	RoleRepository
)

// Roles lists all roles.
var Roles = []Role{RoleChild, RoleParent, RolePublisher, RoleRepository}

func (r Role) String() string {
	switch r {
	case RoleChild:
		return "child"
	case RoleParent:
		return "parent"
	case RolePublisher:
		return "publisher"
	case RoleRepository:
		return "repository"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

func (r Role) valid() bool {
	return r >= RoleChild && r <= RoleRepository
}

func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownRole, s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.valid() {
		return nil, ErrUnknownRole
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	ret, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = ret
	return nil
}

// Message is one of *idexchange.ChildRequest, *idexchange.ParentResponse,
// *idexchange.PublisherRequest or *idexchange.RepositoryResponse.
type Message interface {
	WriteXML(w io.Writer) error
}

// Entry is a stored message.
type Entry struct {
	Role   Role
	Handle idexchange.Handle

	// When the entry was added, with second precision.
	Added time.Time

	// The message in canonical XML.
	Message []byte
}

// NewEntry returns the entry for the given message. Requests are filed
// under the handle the other party asks for, a parent response under the
// handle of the parent, and a repository response under the handle the
// repository gave us.
func NewEntry(m Message, added time.Time) (Entry, error) {
	var ret Entry
	switch m := m.(type) {
	case *idexchange.ChildRequest:
		ret.Role, ret.Handle = RoleChild, m.ChildHandle()
	case *idexchange.ParentResponse:
		ret.Role, ret.Handle = RoleParent, m.ParentHandle()
	case *idexchange.PublisherRequest:
		ret.Role, ret.Handle = RolePublisher, m.PublisherHandle()
	case *idexchange.RepositoryResponse:
		ret.Role, ret.Handle = RoleRepository, m.PublisherHandle()
	default:
		return Entry{}, fmt.Errorf("unsupported message type %T", m)
	}

	var buf bytes.Buffer
	if err := m.WriteXML(&buf); err != nil {
		return Entry{}, err
	}
	ret.Message = buf.Bytes()
	ret.Added = time.Unix(added.Unix(), 0).UTC()
	return ret, nil
}

// Decode parses the stored message, validating its identity certificate
// as of when.
func (e *Entry) Decode(when time.Time) (Message, error) {
	var (
		ret Message
		err error
		r   = bytes.NewReader(e.Message)
	)
	switch e.Role {
	case RoleChild:
		ret, err = nilOnError(idexchange.ParseChildRequestAt(r, when))
	case RoleParent:
		ret, err = nilOnError(idexchange.ParseParentResponseAt(r, when))
	case RolePublisher:
		ret, err = nilOnError(idexchange.ParsePublisherRequestAt(r, when))
	case RoleRepository:
		ret, err = nilOnError(idexchange.ParseRepositoryResponseAt(r, when))
	default:
		return nil, ErrUnknownRole
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", e.Role, e.Handle, err)
	}
	return ret, nil
}

func nilOnError[M Message](m M, err error) (Message, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Equal reports whether both entries are the same, including the time
// they were added.
func (e Entry) Equal(rhs Entry) bool {
	return e.Role == rhs.Role &&
		e.Handle == rhs.Handle &&
		e.Added.Equal(rhs.Added) &&
		bytes.Equal(e.Message, rhs.Message)
}

// MarshalBinary encodes the entry prefixed by a SHA-256 checksum over the
// rest.
func (e *Entry) MarshalBinary() ([]byte, error) {
	if !e.Role.valid() {
		return nil, ErrUnknownRole
	}
	if _, err := idexchange.ParseHandle(string(e.Handle)); err != nil {
		return nil, err
	}

	var b cryptobyte.Builder
	b.AddUint8(uint8(e.Role))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(e.Handle))
	})
	b.AddUint64(uint64(e.Added.Unix()))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(e.Message)
	})
	buf, err := b.Bytes()
	if err != nil {
		return nil, err
	}

	checksum := sha256.Sum256(buf)
	return append(checksum[:], buf...), nil
}

func (e *Entry) UnmarshalBinary(data []byte) error {
	var (
		s        = cryptobyte.String(data)
		checksum []byte
		role     uint8
		handle   []byte
		added    uint64
		message  []byte
	)
	if !s.ReadBytes(&checksum, csLen) {
		return rpki.ErrTruncated
	}
	checksum2 := sha256.Sum256([]byte(s))
	if !bytes.Equal(checksum2[:], checksum) {
		return ErrChecksumInvalid
	}

	if !s.ReadUint8(&role) ||
		!copyUint8LengthPrefixed(&s, &handle) ||
		!s.ReadUint64(&added) ||
		!copyUint24LengthPrefixed(&s, &message) {
		return rpki.ErrTruncated
	}
	if !s.Empty() {
		return rpki.ErrExtraBytes
	}

	e.Role = Role(role)
	if !e.Role.valid() {
		return ErrUnknownRole
	}
	h, err := idexchange.ParseHandle(string(handle))
	if err != nil {
		return err
	}
	e.Handle = h
	e.Added = time.Unix(int64(added), 0).UTC()
	e.Message = message
	return nil
}

func copyUint8LengthPrefixed(s *cryptobyte.String, out *[]byte) bool {
	var tmp []byte
	if !s.ReadUint8LengthPrefixed((*cryptobyte.String)(&tmp)) {
		return false
	}
	*out = make([]byte, len(tmp))
	copy(*out, tmp)
	return true
}

func copyUint24LengthPrefixed(s *cryptobyte.String, out *[]byte) bool {
	var tmp []byte
	if !s.ReadUint24LengthPrefixed((*cryptobyte.String)(&tmp)) {
		return false
	}
	*out = make([]byte, len(tmp))
	copy(*out, tmp)
	return true
}

// Store keeps at most one entry per role and handle.
//
// Implementations are safe for concurrent use.
type Store interface {
	// Put stores the entry, replacing any entry with the same role and
	// handle. Returns true if there was no such entry.
	Put(ctx context.Context, e Entry) (bool, error)

	// Get returns ErrNotFound if there is no entry.
	Get(ctx context.Context, role Role, handle idexchange.Handle) (Entry, error)

	// List returns the entries with the given role sorted by handle.
	List(ctx context.Context, role Role) ([]Entry, error)

	// Delete returns false if there was no entry to delete.
	Delete(ctx context.Context, role Role, handle idexchange.Handle) (bool, error)

	Close() error
}
