package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const fileName = "LOCK"

// Owner describes the process holding a storage directory.
type Owner struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// HeldError is returned when another process owns the storage directory.
// Owner is zero when the lock file could not be read.
type HeldError struct {
	Owner Owner
	Path  string
}

func (e *HeldError) Error() string {
	if e.Owner.PID == 0 {
		return fmt.Sprintf("storage directory locked (%s)", e.Path)
	}
	return fmt.Sprintf("storage directory in use by pid %d on %s since %s (%s)",
		e.Owner.PID, e.Owner.Host, e.Owner.StartedAt.Format(time.RFC3339), e.Path)
}

// Lock is the single-instance claim on a storage directory.
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// Acquire claims dir for this process with a non-blocking flock on
// <dir>/LOCK. The kernel drops the flock if the process dies, so a leftover
// file from a crash does not block the next start.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create storage directory")
	}

	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open lock file")
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		owner, _ := ReadOwner(dir)
		return nil, &HeldError{Owner: owner, Path: path}
	}

	host, _ := os.Hostname()
	l := &Lock{
		file:  f,
		path:  path,
		owner: Owner{PID: os.Getpid(), Host: host, StartedAt: time.Now().UTC().Truncate(time.Second)},
	}
	if err := l.writeOwner(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Lock) writeOwner() error {
	data, err := json.Marshal(l.owner)
	if err != nil {
		return errors.Wrap(err, "encode lock owner")
	}
	if err := l.file.Truncate(0); err != nil {
		return errors.Wrap(err, "truncate lock file")
	}
	if _, err := l.file.WriteAt(append(data, '\n'), 0); err != nil {
		return errors.Wrap(err, "write lock owner")
	}
	return nil
}

// ReadOwner reports who last claimed dir. It does not take the lock.
func ReadOwner(dir string) (Owner, bool) {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		return Owner{}, false
	}
	var o Owner
	if err := json.Unmarshal(data, &o); err != nil || o.PID == 0 {
		return Owner{}, false
	}
	return o, true
}

// Owner returns this process's owner record.
func (l *Lock) Owner() Owner {
	return l.owner
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release gives up the claim and removes the file. Safe on a nil receiver
// and safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
