package bus

import "time"

// Event kinds published by the collaborator boundary and the core components.
const (
	KindPairingRequired = "session.pairing_required"
	KindAuthenticated   = "session.authenticated"
	KindReady           = "session.ready"
	KindAuthFailure     = "session.auth_failure"
	KindDisconnected    = "session.disconnected"

	KindInboundMessage = "wa.message"
	KindGroupSeen      = "wa.group"

	KindStatusChanged  = "status.changed"
	KindMessageStored  = "message.stored"
	KindMessageDropped = "message.dropped"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
