// Package filestore implements idstore.Store on a directory with one file
// per entry.
//
// The directory is laid out as follows.
//
//	lock                 held while the store is open
//	tmp/                 scratch space for atomic writes
//	<role>/<handle>      entries, see Handle.PathForm
package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	gopath "path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nightlyone/lockfile"

	"github.com/bwesterb/rpki/idexchange"
	"github.com/bwesterb/rpki/idstore"
)

var _ idstore.Store = (*Store)(nil)

type Opts struct {
	// Permissions of created directories. Defaults to 0o755.
	DirMode os.FileMode

	// Permissions of entry files. Defaults to 0o644.
	FileMode os.FileMode
}

type Store struct {
	// Immutable
	path string
	opts Opts

	// Mutable covered by mux
	mux    sync.RWMutex
	flock  lockfile.Lockfile
	closed bool
}

// Open opens the store at path, creating it if it does not exist. Only one
// process can have a store open at a time.
func Open(path string, opts Opts) (*Store, error) {
	if opts.DirMode == 0 {
		opts.DirMode = 0o755
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0o644
	}

	s := &Store{
		path: path,
		opts: opts,
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		err = os.MkdirAll(path, opts.DirMode)
		if err != nil {
			return nil, fmt.Errorf("os.MkdirAll(%s): %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("os.Stat(%s): %w", path, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", path)
	}

	if err := s.lock(); err != nil {
		return nil, err
	}
	unlock := true
	defer func() {
		if unlock {
			_ = s.flock.Unlock()
		}
	}()

	dirs := []string{s.tmpPath()}
	for _, role := range idstore.Roles {
		dirs = append(dirs, s.rolePath(role))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, opts.DirMode); err != nil {
			return nil, fmt.Errorf("os.MkdirAll(%s): %w", dir, err)
		}
	}

	// Clean up after writes that were interrupted.
	tmps, err := os.ReadDir(s.tmpPath())
	if err != nil {
		return nil, err
	}
	for _, tmp := range tmps {
		tmpPath := gopath.Join(s.tmpPath(), tmp.Name())
		slog.Debug("Removing stale temporary file", "path", tmpPath)
		if err := os.RemoveAll(tmpPath); err != nil {
			return nil, err
		}
	}

	unlock = false
	return s, nil
}

func (s *Store) lock() error {
	lockPath := gopath.Join(s.path, "lock")
	absLockPath, err := filepath.Abs(lockPath)
	if err != nil {
		return fmt.Errorf("filepath.Abs(%s): %w", lockPath, err)
	}
	flock, err := lockfile.New(absLockPath)
	if err != nil {
		return fmt.Errorf("Creating lock %s: %w", absLockPath, err)
	}
	s.flock = flock
	if err := flock.TryLock(); err != nil {
		return fmt.Errorf("Acquiring lock %s: %w", absLockPath, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.closed {
		return idstore.ErrClosed
	}

	s.closed = true
	return s.flock.Unlock()
}

func (s *Store) tmpPath() string {
	return gopath.Join(s.path, "tmp")
}

func (s *Store) rolePath(role idstore.Role) string {
	return gopath.Join(s.path, role.String())
}

func (s *Store) entryPath(role idstore.Role, handle idexchange.Handle) string {
	return gopath.Join(s.rolePath(role), handle.PathForm())
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
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkKey(e.Role, e.Handle); err != nil {
		return false, err
	}
	buf, err := e.MarshalBinary()
	if err != nil {
		return false, fmt.Errorf("Marshalling entry: %w", err)
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if s.closed {
		return false, idstore.ErrClosed
	}

	path := s.entryPath(e.Role, e.Handle)
	_, err = os.Stat(path)
	isNew := os.IsNotExist(err)
	if err != nil && !isNew {
		return false, fmt.Errorf("os.Stat(%s): %w", path, err)
	}

	f, err := os.CreateTemp(s.tmpPath(), e.Role.String()+"-*")
	if err != nil {
		return false, fmt.Errorf("creating temporary file: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)

	_, err = f.Write(buf)
	if err == nil {
		err = f.Sync()
	}
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return false, fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, s.opts.FileMode); err != nil {
		return false, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return false, err
	}
	return isNew, nil
}

func (s *Store) Get(ctx context.Context, role idstore.Role,
	handle idexchange.Handle) (idstore.Entry, error) {
	if err := ctx.Err(); err != nil {
		return idstore.Entry{}, err
	}
	if err := checkKey(role, handle); err != nil {
		return idstore.Entry{}, err
	}

	s.mux.RLock()
	defer s.mux.RUnlock()

	if s.closed {
		return idstore.Entry{}, idstore.ErrClosed
	}
	return s.get(role, handle)
}

func (s *Store) get(role idstore.Role, handle idexchange.Handle) (
	idstore.Entry, error) {
	var e idstore.Entry
	path := s.entryPath(role, handle)
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return e, idstore.ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if err := e.UnmarshalBinary(buf); err != nil {
		return e, fmt.Errorf("parsing %s: %w", path, err)
	}
	if e.Role != role || e.Handle != handle {
		return e, fmt.Errorf("%s: holds %s %s", path, e.Role, e.Handle)
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, role idstore.Role) (
	[]idstore.Entry, error) {
	if _, err := role.MarshalText(); err != nil {
		return nil, err
	}

	s.mux.RLock()
	defer s.mux.RUnlock()

	if s.closed {
		return nil, idstore.ErrClosed
	}

	ds, err := os.ReadDir(s.rolePath(role))
	if err != nil {
		return nil, err
	}
	ret := []idstore.Entry{}
	for _, d := range ds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.IsDir() {
			continue
		}
		handle, err := idexchange.HandleFromPathForm(d.Name())
		if err != nil {
			slog.Debug("Skipping unexpected file",
				"role", role, "name", d.Name())
			continue
		}
		e, err := s.get(role, handle)
		if err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Handle < ret[j].Handle
	})
	return ret, nil
}

func (s *Store) Delete(ctx context.Context, role idstore.Role,
	handle idexchange.Handle) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkKey(role, handle); err != nil {
		return false, err
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if s.closed {
		return false, idstore.ErrClosed
	}

	err := os.Remove(s.entryPath(role, handle))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
