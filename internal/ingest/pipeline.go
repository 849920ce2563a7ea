package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppmon/internal/bus"
	"github.com/matheus3301/wppmon/internal/cache"
	"github.com/matheus3301/wppmon/internal/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Error log contexts.
const (
	ContextHandler    = "whatsapp_message_handler"
	ContextProcessing = "group_message_processing"
	ContextManual     = "manual_message_injection"
)

const manualPrefix = "manual_"

// MessageStore is the part of the durable store the pipeline writes through.
type MessageStore interface {
	SaveMessage(in store.NewMessage) (store.Message, error)
	FindMessageBySourceID(sourceID string) (store.Message, bool)
	UpsertGroup(in store.GroupInput) (store.Group, error)
	LogError(err error, context string)
}

// Counter receives one increment per stored message.
type Counter interface {
	IncrementMessageCount()
}

// Pipeline normalizes, deduplicates and persists inbound messages.
// It subscribes to "wa.*" events on the bus and processes them in order.
type Pipeline struct {
	store   MessageStore
	counter Counter
	seen    cache.SeenCache
	bus     *bus.Bus
	logger  *zap.Logger

	// mu serializes the dedup check with the save that follows it.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	stored, self, invalid, duplicate, failed atomic.Int64
}

// NewPipeline creates a pipeline. counter, seen and b may be nil.
func NewPipeline(s MessageStore, counter Counter, seen cache.SeenCache, b *bus.Bus, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:   s,
		counter: counter,
		seen:    seen,
		bus:     b,
		logger:  logger,
	}
}

// Start consumes inbound transport events from the bus.
func (p *Pipeline) Start(ctx context.Context) {
	if p.bus == nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	ch, unsub := p.bus.SubscribeOrdered("wa.", 256)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				p.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops consuming events and waits for the in-flight one.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *Pipeline) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindInboundMessage:
		raw, ok := evt.Payload.(RawInboundEvent)
		if !ok {
			return
		}
		p.Ingest(ctx, raw)
	case bus.KindGroupSeen:
		g, ok := evt.Payload.(GroupSeen)
		if !ok {
			return
		}
		p.RecordGroup(g)
	}
}

// Ingest processes one inbound event. It never panics and never returns an
// error: failures are written to the error log and reported as DroppedFailed.
func (p *Pipeline) Ingest(ctx context.Context, raw RawInboundEvent) (msg store.Message, outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("panic while ingesting message %q: %v", raw.SourceMessageID, r)
			p.store.LogError(err, ContextHandler)
			p.logger.Error("recovered panic in ingestion", zap.Error(err))
			msg, outcome = store.Message{}, DroppedFailed
		}
		p.record(outcome, msg, raw)
	}()

	if raw.FromMe {
		return store.Message{}, DroppedSelf
	}
	if strings.TrimSpace(raw.ConversationID) == "" {
		p.logger.Debug("dropping message without conversation id", zap.String("source_message_id", raw.SourceMessageID))
		return store.Message{}, DroppedInvalid
	}

	in := normalize(raw)
	msg, outcome, err := p.persist(ctx, in)
	if err != nil {
		p.store.LogError(err, ContextProcessing)
		p.logger.Error("failed to ingest message", zap.Error(err), zap.String("source_message_id", in.SourceMessageID))
		return store.Message{}, DroppedFailed
	}
	return msg, outcome
}

// Simulate injects a message that did not come from the transport. The
// generated source id carries a prefix no platform id uses.
func (p *Pipeline) Simulate(ctx context.Context, content, author, groupID, groupName string) (store.Message, error) {
	if groupID == "" {
		groupID = ManualGroupID
	}
	now := time.Now()
	in := normalize(RawInboundEvent{
		SourceMessageID:  fmt.Sprintf("%s%d_%s", manualPrefix, now.UnixMilli(), uuid.NewString()),
		ConversationID:   groupID,
		ConversationName: groupName,
		SenderName:       author,
		Body:             content,
		Timestamp:        now,
	})

	msg, outcome, err := p.persist(ctx, in)
	if err != nil {
		p.store.LogError(err, ContextManual)
		p.record(DroppedFailed, store.Message{}, RawInboundEvent{})
		return store.Message{}, err
	}
	p.record(outcome, msg, RawInboundEvent{})
	return msg, nil
}

// persist runs dedup and save under the pipeline lock.
func (p *Pipeline) persist(ctx context.Context, in store.NewMessage) (store.Message, Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// The store decides; a cache hit without a stored record is stale, e.g.
	// the message was trimmed from the retained window.
	if in.SourceMessageID != "" {
		cached := p.seenInCache(ctx, in.SourceMessageID)
		if _, ok := p.store.FindMessageBySourceID(in.SourceMessageID); ok {
			return store.Message{}, DroppedDuplicate, nil
		}
		if cached {
			p.logger.Debug("stale seen cache entry", zap.String("source_message_id", in.SourceMessageID))
		}
	}

	msg, err := p.store.SaveMessage(in)
	if err != nil {
		return store.Message{}, DroppedFailed, errors.Wrap(err, "save message")
	}
	if p.counter != nil {
		p.counter.IncrementMessageCount()
	}
	p.markInCache(ctx, msg)
	return msg, Stored, nil
}

func (p *Pipeline) seenInCache(ctx context.Context, sourceID string) bool {
	if p.seen == nil {
		return false
	}
	ok, err := p.seen.Seen(ctx, sourceID)
	if err != nil {
		p.logger.Warn("seen cache lookup failed, falling back to store", zap.Error(err))
		return false
	}
	return ok
}

func (p *Pipeline) markInCache(ctx context.Context, msg store.Message) {
	if p.seen == nil || msg.SourceMessageID == "" {
		return
	}
	if err := p.seen.MarkSeen(ctx, msg.SourceMessageID, msg.ID, msg.CreatedAt); err != nil {
		p.logger.Warn("failed to mark message as seen", zap.Error(err))
	}
}

// RecordGroup upserts a discovered conversation, keeping its active flag.
// An unresolved name leaves a known name in place.
func (p *Pipeline) RecordGroup(g GroupSeen) {
	if g.GroupID == "" {
		return
	}
	name := strings.TrimSpace(g.Name)
	if _, err := p.store.UpsertGroup(store.GroupInput{GroupID: g.GroupID, Name: name}); err != nil {
		p.store.LogError(err, ContextProcessing)
		p.logger.Warn("failed to record group", zap.Error(err), zap.String("group_id", g.GroupID))
	}
}

func (p *Pipeline) record(outcome Outcome, msg store.Message, raw RawInboundEvent) {
	switch outcome {
	case Stored:
		p.stored.Add(1)
		if p.bus != nil {
			p.bus.Publish(bus.NewEvent(bus.KindMessageStored, msg))
		}
		p.logger.Info("message stored",
			zap.Int64("id", msg.ID),
			zap.String("group", msg.GroupName),
			zap.String("author", msg.Author),
		)
		return
	case DroppedSelf:
		p.self.Add(1)
		return
	case DroppedInvalid:
		p.invalid.Add(1)
	case DroppedDuplicate:
		p.duplicate.Add(1)
	case DroppedFailed:
		p.failed.Add(1)
	}
	if p.bus != nil {
		p.bus.Publish(bus.NewEvent(bus.KindMessageDropped, map[string]string{
			"source_message_id": raw.SourceMessageID,
			"reason":            outcome.String(),
		}))
	}
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Stored:    p.stored.Load(),
		Self:      p.self.Load(),
		Invalid:   p.invalid.Load(),
		Duplicate: p.duplicate.Load(),
		Failed:    p.failed.Load(),
	}
}

// normalize applies display defaults. It is the only place optional
// metadata is resolved.
func normalize(raw RawInboundEvent) store.NewMessage {
	author := strings.TrimSpace(raw.SenderName)
	if author == "" {
		author = strings.TrimSpace(raw.SenderID)
	}
	if author == "" {
		author = UnknownAuthor
	}
	groupName := strings.TrimSpace(raw.ConversationName)
	if groupName == "" {
		groupName = UnknownGroup
	}
	return store.NewMessage{
		SourceMessageID: raw.SourceMessageID,
		Content:         raw.Body,
		Author:          author,
		GroupName:       groupName,
		GroupID:         raw.ConversationID,
		Status:          store.StatusReceived,
		Timestamp:       raw.Timestamp,
	}
}
