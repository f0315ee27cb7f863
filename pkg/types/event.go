package types

import "time"

// EventType defines the type of event fanned out to subscribers.
type EventType string

const (
	EventTypeWelcome    EventType = "welcome"     // EventTypeWelcome is sent once when a subscriber connects.
	EventTypeStatus     EventType = "status"      // EventTypeStatus carries a session status snapshot.
	EventTypeQR         EventType = "qr"          // EventTypeQR carries a new pairing payload.
	EventTypeNewMessage EventType = "new_message" // EventTypeNewMessage carries a normalized inbound or outbound message.
	EventTypeMessageAck EventType = "message_ack" // EventTypeMessageAck carries a terminal delivery state for an outbound message.
)

// Event represents a broadcast event.
type Event struct {
	// Type indicates the kind of event.
	Type EventType `json:"event"`

	// Data is the JSON-serializable payload. Its concrete type depends on Type.
	Data any `json:"data"`

	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Welcome is the payload of a welcome event.
type Welcome struct {
	SubscriberID string `json:"subscriberId"`
	Message      string `json:"message"`
}

// DeliveryUpdate is the payload of a message_ack event.
type DeliveryUpdate struct {
	CorrelationID string        `json:"correlationId"`
	State         DeliveryState `json:"deliveryState"`
	Error         string        `json:"error,omitempty"`
}

// NewWelcomeEvent creates a welcome event for a subscriber.
func NewWelcomeEvent(subscriberID string) Event {
	return Event{
		Type:      EventTypeWelcome,
		Data:      Welcome{SubscriberID: subscriberID, Message: "connected to pandorabox"},
		Timestamp: time.Now(),
	}
}

// NewStatusEvent creates a status snapshot event.
func NewStatusEvent(status SessionStatus) Event {
	return Event{Type: EventTypeStatus, Data: status, Timestamp: time.Now()}
}

// NewQREvent creates a pairing payload event.
func NewQREvent(p Pairing) Event {
	return Event{Type: EventTypeQR, Data: p, Timestamp: time.Now()}
}

// NewMessageEvent creates a new_message event.
func NewMessageEvent(env MessageEnvelope) Event {
	return Event{Type: EventTypeNewMessage, Data: env, Timestamp: time.Now()}
}

// NewMessageAckEvent creates a message_ack event.
func NewMessageAckEvent(update DeliveryUpdate) Event {
	return Event{Type: EventTypeMessageAck, Data: update, Timestamp: time.Now()}
}
