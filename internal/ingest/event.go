package ingest

import (
	"time"

	"github.com/matheus3301/wppmon/internal/store"
)

// RawInboundEvent is the normalized shape of an inbound message as handed
// over by the chat transport boundary. Optional display fields may be empty.
type RawInboundEvent struct {
	SourceMessageID  string
	ConversationID   string
	ConversationName string
	IsGroup          bool
	SenderID         string
	SenderName       string
	Body             string
	FromMe           bool
	Timestamp        time.Time
}

// GroupSeen announces a conversation discovered by the transport.
type GroupSeen struct {
	GroupID string
	Name    string
}

// Display defaults for unresolvable metadata.
const (
	UnknownAuthor = "Unknown"
	UnknownGroup  = store.DefaultGroupName
	ManualGroupID = "manual"
)

// Outcome is the result of ingesting one event.
type Outcome int

const (
	Stored Outcome = iota
	DroppedSelf
	DroppedInvalid
	DroppedDuplicate
	DroppedFailed
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case DroppedSelf:
		return "dropped_self"
	case DroppedInvalid:
		return "dropped_invalid"
	case DroppedDuplicate:
		return "dropped_duplicate"
	case DroppedFailed:
		return "dropped_failed"
	}
	return "unknown"
}

// Stats are the pipeline counters since process start.
type Stats struct {
	Stored    int64 `json:"stored"`
	Self      int64 `json:"self"`
	Invalid   int64 `json:"invalid"`
	Duplicate int64 `json:"duplicate"`
	Failed    int64 `json:"failed"`
}

// Processed is the number of events that passed the self-origin filter.
func (s Stats) Processed() int64 {
	return s.Stored + s.Invalid + s.Duplicate + s.Failed
}
