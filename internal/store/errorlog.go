package store

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// LogError records err in the error log with a free-text context. The newest
// entry comes first and the log is trimmed to MaxErrorLogs. Failures here are
// logged and discarded.
func (s *Store) LogError(err error, context string) {
	if err == nil {
		return
	}

	entry := ErrorEntry{
		Message: err.Error(),
		Context: context,
	}
	var st stackTracer
	if errors.As(err, &st) {
		entry.StackTrace = fmt.Sprintf("%+v", st.StackTrace())
	}

	s.errors.mu.Lock()
	defer s.errors.mu.Unlock()

	now := s.now()
	entry.ID = s.ids.next(now)
	entry.Timestamp = now

	entries := append([]ErrorEntry{entry}, s.errors.loadOrDefault(s.logger)...)
	if len(entries) > MaxErrorLogs {
		entries = entries[:MaxErrorLogs]
	}
	if saveErr := s.errors.save(entries); saveErr != nil {
		s.logger.Error("could not persist error log entry", zap.Error(saveErr), zap.String("original", entry.Message))
	}
}

// GetRecentErrors returns up to limit error log entries, newest first.
func (s *Store) GetRecentErrors(limit int) []ErrorEntry {
	if limit <= 0 {
		limit = DefaultErrorLimit
	}
	entries := s.readErrors()
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func (s *Store) readErrors() []ErrorEntry {
	return s.errors.snapshot(s.logger)
}
