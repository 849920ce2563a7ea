package cache

import (
	"context"
	"time"
)

// SeenCache remembers source message ids that were already stored. Entries
// outlive the store's retained window, so a hit is only a hint.
type SeenCache interface {
	Seen(ctx context.Context, sourceID string) (bool, error)
	MarkSeen(ctx context.Context, sourceID string, messageID int64, storedAt time.Time) error
}
