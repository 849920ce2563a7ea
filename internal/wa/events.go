package wa

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/wppmon/internal/bus"
	"github.com/matheus3301/wppmon/internal/ingest"
	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// GroupDirectory answers whether a group is monitored and records
// failures that happen at the transport boundary.
type GroupDirectory interface {
	IsGroupActive(groupID string) bool
	LogError(err error, context string)
}

// GroupNamer resolves a group's display name.
type GroupNamer interface {
	GroupName(ctx context.Context, jid types.JID) string
}

const groupNameTimeout = 5 * time.Second

// EventHandler translates whatsmeow events into bus events. It holds no
// connection state: the lifecycle controller and the ingestion pipeline
// subscribe to the bus independently.
type EventHandler struct {
	bus    *bus.Bus
	groups GroupDirectory
	names  GroupNamer
	logger *zap.Logger

	known sync.Map
}

// NewEventHandler creates a new event handler. groups and names may be nil.
func NewEventHandler(b *bus.Bus, groups GroupDirectory, names GroupNamer, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		bus:    b,
		groups: groups,
		names:  names,
		logger: logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("panic handling %T: %v", rawEvt, r)
			h.logger.Error("recovered panic in event handler", zap.Error(err))
			if h.groups != nil {
				h.groups.LogError(err, ingest.ContextHandler)
			}
		}
	}()

	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.bus.Publish(bus.NewEvent(bus.KindReady, nil))
	case *events.PairSuccess:
		h.logger.Info("device paired", zap.String("jid", evt.ID.String()))
		h.bus.Publish(bus.NewEvent(bus.KindAuthenticated, nil))
	case *events.PairError:
		h.logger.Warn("pairing failed", zap.Error(evt.Error))
		h.bus.Publish(bus.NewEvent(bus.KindAuthFailure, errString(evt.Error)))
	case *events.ConnectFailure:
		h.logger.Warn("WhatsApp connect failure", zap.String("reason", evt.Reason.String()))
		h.bus.Publish(bus.NewEvent(bus.KindAuthFailure, evt.Reason.String()))
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.bus.Publish(bus.NewEvent(bus.KindDisconnected, "connection lost"))
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.bus.Publish(bus.NewEvent(bus.KindDisconnected, evt.Reason.String()))
	case *events.JoinedGroup:
		h.announceGroup(evt.JID, evt.GroupInfo.Name, true)
	case *events.GroupInfo:
		if evt.Name != nil {
			h.announceGroup(evt.JID, evt.Name.Name, true)
		}
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	if !evt.Info.IsGroup || evt.Info.IsFromMe {
		return
	}
	chat := evt.Info.Chat.ToNonAD()
	groupID := chat.String()
	if h.groups != nil && !h.groups.IsGroupActive(groupID) {
		h.logger.Debug("skipping message from inactive group", zap.String("group_id", groupID))
		return
	}

	var name string
	if h.names != nil {
		ctx, cancel := context.WithTimeout(context.Background(), groupNameTimeout)
		name = h.names.GroupName(ctx, chat)
		cancel()
	}
	h.announceGroup(chat, name, false)

	h.bus.Publish(bus.NewEvent(bus.KindInboundMessage, NormalizeMessage(evt, name)))
}

// announceGroup publishes a group-seen event. Unless force is set, each
// group is announced once per process.
func (h *EventHandler) announceGroup(jid types.JID, name string, force bool) {
	groupID := jid.ToNonAD().String()
	if _, seen := h.known.LoadOrStore(groupID, struct{}{}); seen && !force {
		return
	}
	h.bus.Publish(bus.NewEvent(bus.KindGroupSeen, ingest.GroupSeen{GroupID: groupID, Name: name}))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
