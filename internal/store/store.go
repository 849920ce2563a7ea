package store

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store is the file-backed persistence for messages, config, groups and the
// error log. Each collection is one JSON document under the storage directory
// with its own lock; nothing else opens these files.
type Store struct {
	dir    string
	logger *zap.Logger

	messages *collection[[]Message]
	config   *collection[map[string]json.RawMessage]
	groups   *collection[[]Group]
	errors   *collection[[]ErrorEntry]

	ids idSource
	now func() time.Time
}

// Open returns a store rooted at dir. Call Initialize before use.
func Open(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:      dir,
		logger:   logger,
		messages: newCollection(dir, "messages", func() []Message { return []Message{} }),
		config:   newCollection(dir, "config", func() map[string]json.RawMessage { return map[string]json.RawMessage{} }),
		groups:   newCollection(dir, "groups", func() []Group { return []Group{} }),
		errors:   newCollection(dir, "errors", func() []ErrorEntry { return []ErrorEntry{} }),
		now:      time.Now,
	}
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Initialize creates the storage directory and any missing collection
// document. It is idempotent and never overwrites a valid document.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.Wrap(err, "create storage dir")
	}

	for _, c := range []ensurer{s.messages, s.config, s.groups, s.errors} {
		created, err := c.ensure()
		if err != nil {
			return err
		}
		if created {
			s.logger.Info("collection created", zap.String("dir", s.dir), zap.String("collection", c.label()))
		}
	}

	s.seedIDs()
	return nil
}

type ensurer interface {
	ensure() (bool, error)
	label() string
}

// seedIDs makes freshly assigned ids larger than every persisted one.
func (s *Store) seedIDs() {
	var max int64
	for _, m := range s.readMessages() {
		if m.ID > max {
			max = m.ID
		}
	}
	for _, g := range s.readGroups() {
		if g.ID > max {
			max = g.ID
		}
	}
	for _, e := range s.readErrors() {
		if e.ID > max {
			max = e.ID
		}
	}
	s.ids.observe(max)
}

// idSource hands out unique, strictly increasing ids based on wall-clock
// milliseconds.
type idSource struct {
	mu   sync.Mutex
	last int64
}

func (g *idSource) next(now time.Time) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := now.UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

func (g *idSource) observe(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id > g.last {
		g.last = id
	}
}
