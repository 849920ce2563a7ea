package store

import "time"

// Retention caps for the bounded collections.
const (
	MaxMessages  = 1000
	MaxErrorLogs = 100

	DefaultMessageLimit = 100
	DefaultErrorLimit   = 50
)

// DefaultGroupName names a group inserted without a name.
const DefaultGroupName = "Unknown Group"


// MessageStatus is the processing state of a stored message.
type MessageStatus string

const (
	StatusReceived  MessageStatus = "received"
	StatusForwarded MessageStatus = "forwarded"
	StatusFailed    MessageStatus = "failed"
)

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusForwarded, StatusFailed:
		return true
	}
	return false
}

// Message represents an ingested group message.
type Message struct {
	ID              int64         `json:"id"`
	SourceMessageID string        `json:"source_message_id,omitempty"`
	Content         string        `json:"content"`
	Author          string        `json:"author"`
	GroupName       string        `json:"group_name"`
	GroupID         string        `json:"group_id"`
	Status          MessageStatus `json:"status"`
	Timestamp       time.Time     `json:"timestamp"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Error           string        `json:"error,omitempty"`
}

// NewMessage carries the caller-supplied fields of a message to save.
// A zero Timestamp means "now"; an empty Status means StatusReceived.
type NewMessage struct {
	SourceMessageID string
	Content         string
	Author          string
	GroupName       string
	GroupID         string
	Status          MessageStatus
	Timestamp       time.Time
}

// Group represents a monitored conversation.
type Group struct {
	ID        int64     `json:"id"`
	GroupID   string    `json:"group_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupInput is the upsert payload for a group. A nil IsActive keeps the
// current flag on update and defaults to true on insert. An empty Name keeps
// the current name on update and becomes DefaultGroupName on insert.
type GroupInput struct {
	GroupID  string
	Name     string
	IsActive *bool
}

// ErrorEntry is one record of the diagnostic error log.
type ErrorEntry struct {
	ID         int64     `json:"id"`
	Message    string    `json:"message"`
	StackTrace string    `json:"stack_trace,omitempty"`
	Context    string    `json:"context,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
