package store

import (
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SetConfig stores value under key, replacing any previous value.
func (s *Store) SetConfig(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode config %q", key)
	}

	s.config.mu.Lock()
	defer s.config.mu.Unlock()

	cfg := s.config.loadOrDefault(s.logger)
	cfg[key] = raw
	if err := s.config.save(cfg); err != nil {
		return err
	}
	s.logger.Info("config set", zap.String("key", key))
	return nil
}

// GetConfig returns the raw JSON value stored under key.
func (s *Store) GetConfig(key string) (json.RawMessage, bool) {
	v, ok := s.config.snapshot(s.logger)[key]
	return v, ok
}

// GetConfigInto decodes the value stored under key into out. It reports false
// when the key is unset or the value does not decode into out.
func (s *Store) GetConfigInto(key string, out any) bool {
	raw, ok := s.GetConfig(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Warn("config value does not decode", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
