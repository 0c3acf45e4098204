// Package boltstore implements idstore.Store on a bbolt database with a
// bucket per role, keyed by handle.
package boltstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/bwesterb/rpki/idexchange"
	"github.com/bwesterb/rpki/idstore"
)

var _ idstore.Store = (*Store)(nil)

type Opts struct {
	// How long to wait for another process to release the database.
	// Defaults to one second.
	Timeout time.Duration
}

type Store struct {
	mux    sync.RWMutex
	db     *bolt.DB
	closed bool
}

// Open opens the database at path, creating it if it does not exist.
func Open(path string, opts Opts) (*Store, error) {
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%s): %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, role := range idstore.Roles {
			if _, err := tx.CreateBucketIfNotExists(bucket(role)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func bucket(role idstore.Role) []byte {
	return []byte(role.String())
}

func (s *Store) Close() error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.closed {
		return idstore.ErrClosed
	}
	s.closed = true
	return s.db.Close()
}

// Runs f in a transaction while holding a read lock on mux, so that the
// database is not closed underneath it.
func (s *Store) run(ctx context.Context, writable bool,
	f func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mux.RLock()
	defer s.mux.RUnlock()

	if s.closed {
		return idstore.ErrClosed
	}

	var err error
	if writable {
		err = s.db.Update(f)
	} else {
		err = s.db.View(f)
	}
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return idstore.ErrClosed
	}
	return err
}

func checkKey(role idstore.Role, handle idexchange.Handle) error {
	if _, err := role.MarshalText(); err != nil {
		return err
	}
	if _, err := idexchange.ParseHandle(string(handle)); err != nil {
		return err
	}
	return nil
}

func (s *Store) Put(ctx context.Context, e idstore.Entry) (bool, error) {
	if err := checkKey(e.Role, e.Handle); err != nil {
		return false, err
	}
	buf, err := e.MarshalBinary()
	if err != nil {
		return false, fmt.Errorf("Marshalling entry: %w", err)
	}

	var isNew bool
	err = s.run(ctx, true, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket(e.Role))
		key := []byte(e.Handle)
		isNew = b.Get(key) == nil
		return b.Put(key, buf)
	})
	if err != nil {
		return false, err
	}
	return isNew, nil
}

func (s *Store) Get(ctx context.Context, role idstore.Role,
	handle idexchange.Handle) (idstore.Entry, error) {
	var e idstore.Entry
	if err := checkKey(role, handle); err != nil {
		return e, err
	}

	err := s.run(ctx, false, func(tx *bolt.Tx) error {
		buf := tx.Bucket(bucket(role)).Get([]byte(handle))
		if buf == nil {
			return idstore.ErrNotFound
		}
		return unmarshal(&e, role, []byte(handle), buf)
	})
	if err != nil {
		return idstore.Entry{}, err
	}
	return e, nil
}

// Parses a stored entry. UnmarshalBinary copies what it keeps, so buf may
// point into the database.
func unmarshal(e *idstore.Entry, role idstore.Role, key, buf []byte) error {
	if err := e.UnmarshalBinary(buf); err != nil {
		return fmt.Errorf("parsing %s %q: %w", role, key, err)
	}
	if e.Role != role || string(e.Handle) != string(key) {
		return fmt.Errorf("%s %q: holds %s %s", role, key, e.Role, e.Handle)
	}
	return nil
}

func (s *Store) List(ctx context.Context, role idstore.Role) (
	[]idstore.Entry, error) {
	if _, err := role.MarshalText(); err != nil {
		return nil, err
	}

	ret := []idstore.Entry{}
	err := s.run(ctx, false, func(tx *bolt.Tx) error {
		// Keys are kept in byte order, which is handle order.
		return tx.Bucket(bucket(role)).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e idstore.Entry
			if err := unmarshal(&e, role, k, v); err != nil {
				return err
			}
			ret = append(ret, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Store) Delete(ctx context.Context, role idstore.Role,
	handle idexchange.Handle) (bool, error) {
	if err := checkKey(role, handle); err != nil {
		return false, err
	}

	var found bool
	err := s.run(ctx, true, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket(role))
		key := []byte(handle)
		found = b.Get(key) != nil
		if !found {
			return nil
		}
		return b.Delete(key)
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
