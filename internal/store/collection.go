package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// collection is one JSON document on disk holding a whole dataset. Readers
// share mu; a mutation holds it exclusively for the full read-modify-write.
type collection[T any] struct {
	mu    sync.RWMutex
	name  string
	path  string
	empty func() T
}

func newCollection[T any](dir, name string, empty func() T) *collection[T] {
	return &collection[T]{
		name:  name,
		path:  filepath.Join(dir, name+".json"),
		empty: empty,
	}
}

func (c *collection[T]) label() string {
	return c.name
}

// load decodes the document. Callers hold mu.
func (c *collection[T]) load() (T, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return c.empty(), errors.Wrapf(err, "read %s", c.name)
	}
	v := c.empty()
	if err := json.Unmarshal(data, &v); err != nil {
		return c.empty(), errors.Wrapf(err, "decode %s", c.name)
	}
	return v, nil
}

// loadOrDefault is load with the failure logged and the empty default
// returned in its place. Callers hold mu.
func (c *collection[T]) loadOrDefault(logger *zap.Logger) T {
	v, err := c.load()
	if err != nil {
		logger.Warn("could not read collection, using default", zap.String("collection", c.name), zap.Error(err))
	}
	return v
}

// snapshot reads the document under a shared lock.
func (c *collection[T]) snapshot(logger *zap.Logger) T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadOrDefault(logger)
}

// save rewrites the whole document via a temp file and rename. Callers hold mu.
func (c *collection[T]) save(v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", c.name)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), c.name+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "write %s", c.name)
	}
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "write %s", c.name)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "replace %s", c.name)
	}
	return nil
}

// ensure creates the document with its empty default if it does not exist.
// An unreadable document is moved aside to <file>.corrupt and recreated.
// Returns whether a file was written.
func (c *collection[T]) ensure() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	switch {
	case err == nil:
		_ = f.Close()
		return true, c.save(c.empty())
	case !os.IsExist(err):
		return false, errors.Wrapf(err, "create %s", c.name)
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return false, errors.Wrapf(err, "read %s", c.name)
	}
	// A concurrent initializer may have created the file but not yet filled it.
	if len(data) == 0 {
		return true, c.save(c.empty())
	}
	v := c.empty()
	if json.Unmarshal(data, &v) == nil {
		return false, nil
	}
	if err := os.Rename(c.path, c.path+".corrupt"); err != nil {
		return false, errors.Wrapf(err, "back up corrupt %s", c.name)
	}
	return true, c.save(c.empty())
}
