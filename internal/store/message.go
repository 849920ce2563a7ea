package store

import (
	"go.uber.org/zap"
)

// SaveMessage assigns an id and timestamps, stores the message as the newest
// entry and trims the collection to MaxMessages.
func (s *Store) SaveMessage(in NewMessage) (Message, error) {
	s.messages.mu.Lock()
	defer s.messages.mu.Unlock()

	msgs := s.messages.loadOrDefault(s.logger)
	now := s.now()
	m := Message{
		ID:              s.ids.next(now),
		SourceMessageID: in.SourceMessageID,
		Content:         in.Content,
		Author:          in.Author,
		GroupName:       in.GroupName,
		GroupID:         in.GroupID,
		Status:          in.Status,
		Timestamp:       in.Timestamp,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if m.Status == "" {
		m.Status = StatusReceived
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}

	msgs = append([]Message{m}, msgs...)
	if len(msgs) > MaxMessages {
		msgs = msgs[:MaxMessages]
	}
	if err := s.messages.save(msgs); err != nil {
		return Message{}, err
	}
	return m, nil
}

// UpdateMessageStatus sets the status (and error text, when non-empty) of the
// message with the given id. Unknown ids are ignored.
func (s *Store) UpdateMessageStatus(id int64, status MessageStatus, errMsg string) error {
	s.messages.mu.Lock()
	defer s.messages.mu.Unlock()

	msgs := s.messages.loadOrDefault(s.logger)
	for i := range msgs {
		if msgs[i].ID != id {
			continue
		}
		msgs[i].Status = status
		if errMsg != "" {
			msgs[i].Error = errMsg
		}
		msgs[i].UpdatedAt = s.now()
		if err := s.messages.save(msgs); err != nil {
			return err
		}
		s.logger.Debug("message status updated", zap.Int64("id", id), zap.String("status", string(status)))
		return nil
	}
	return nil
}

// GetMessages returns up to limit messages, newest first.
func (s *Store) GetMessages(limit int) []Message {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	msgs := s.readMessages()
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}

// CountMessages returns the number of retained messages.
func (s *Store) CountMessages() int {
	return len(s.readMessages())
}

// FindMessageBySourceID returns the retained message carrying the given
// platform message id.
func (s *Store) FindMessageBySourceID(sourceID string) (Message, bool) {
	if sourceID == "" {
		return Message{}, false
	}
	for _, m := range s.readMessages() {
		if m.SourceMessageID == sourceID {
			return m, true
		}
	}
	return Message{}, false
}

func (s *Store) readMessages() []Message {
	return s.messages.snapshot(s.logger)
}
