package types

import "time"

// BackendEventKind identifies a callback from the browser automation backend.
type BackendEventKind string

const (
	BackendPairingPayload  BackendEventKind = "pairing_payload"  // BackendPairingPayload carries a fresh QR payload.
	BackendAuthenticated   BackendEventKind = "authenticated"    // BackendAuthenticated confirms a logged-in session.
	BackendDisconnected    BackendEventKind = "disconnected"     // BackendDisconnected reports a lost session.
	BackendPairingRequired BackendEventKind = "pairing_required" // BackendPairingRequired reports the session was logged out.
	BackendStartupFailed   BackendEventKind = "startup_failed"   // BackendStartupFailed reports an unrecoverable launch error.
	BackendInbound         BackendEventKind = "inbound"          // BackendInbound carries a received message.
	BackendAck             BackendEventKind = "ack"              // BackendAck acknowledges an outbound message.
)

// BackendEvent is a typed event emitted by the automation backend.
// Events are consumed in arrival order by a single dispatch loop.
type BackendEvent struct {
	Kind BackendEventKind

	// Payload is the QR payload for BackendPairingPayload. For BackendAuthenticated
	// it optionally names the payload the confirmation refers to.
	Payload string

	// Reason describes disconnects and startup failures.
	Reason string

	Inbound *InboundMessage
	Ack     *Ack

	At time.Time
}

// InboundMessage is a raw message observed on the automated account.
type InboundMessage struct {
	ID        string
	ChatID    string
	From      string
	To        string
	Body      string
	ChatName  string
	FromMe    bool
	Timestamp time.Time
}

// Ack reports the delivery level reached by an outbound message.
type Ack struct {
	CorrelationID string
	State         DeliveryState
	At            time.Time
}

// OutboundMessage is a single send issued against the session.
type OutboundMessage struct {
	CorrelationID string
	ChatID        string
	Body          string
}

// ChatSummary is one entry of the backend's conversation list.
type ChatSummary struct {
	ChatID        string
	Name          string
	LastMessage   string
	LastMessageAt time.Time
	IsGroup       bool
}

// NewPairingEvent creates a pairing payload event.
func NewPairingEvent(payload string) BackendEvent {
	return BackendEvent{Kind: BackendPairingPayload, Payload: payload, At: time.Now()}
}

// NewAuthenticatedEvent creates an authentication event referencing a payload (may be empty).
func NewAuthenticatedEvent(payloadRef string) BackendEvent {
	return BackendEvent{Kind: BackendAuthenticated, Payload: payloadRef, At: time.Now()}
}

// NewDisconnectedEvent creates a disconnect event.
func NewDisconnectedEvent(reason string) BackendEvent {
	return BackendEvent{Kind: BackendDisconnected, Reason: reason, At: time.Now()}
}

// NewPairingRequiredEvent creates a logged-out event.
func NewPairingRequiredEvent(reason string) BackendEvent {
	return BackendEvent{Kind: BackendPairingRequired, Reason: reason, At: time.Now()}
}

// NewStartupFailedEvent creates a startup failure event.
func NewStartupFailedEvent(reason string) BackendEvent {
	return BackendEvent{Kind: BackendStartupFailed, Reason: reason, At: time.Now()}
}

// NewInboundEvent wraps an inbound message.
func NewInboundEvent(msg InboundMessage) BackendEvent {
	return BackendEvent{Kind: BackendInbound, Inbound: &msg, At: time.Now()}
}

// NewAckEvent wraps an acknowledgment.
func NewAckEvent(correlationID string, state DeliveryState) BackendEvent {
	now := time.Now()
	return BackendEvent{Kind: BackendAck, Ack: &Ack{CorrelationID: correlationID, State: state, At: now}, At: now}
}
