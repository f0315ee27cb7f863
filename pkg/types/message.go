package types

import "time"

// Direction tells whether a message was received or sent by the automated account.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// DeliveryState tracks an outbound message from enqueue to acknowledgment.
type DeliveryState string

const (
	DeliveryQueued    DeliveryState = "queued"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (d DeliveryState) IsTerminal() bool {
	return d == DeliverySent || d == DeliveryDelivered || d == DeliveryFailed
}

// ConversationState is owned by the external store; the core only reads it.
type ConversationState string

const (
	ConversationOpen      ConversationState = "open"
	ConversationContacted ConversationState = "contacted"
	ConversationArchived  ConversationState = "archived"
)

// Conversation is a chat thread keyed by a phone identifier.
type Conversation struct {
	ID              string            `json:"id"`
	PhoneIdentifier string            `json:"phoneIdentifier"`
	DisplayName     string            `json:"displayName,omitempty"`
	LinkedEntityRef string            `json:"linkedEntityRef,omitempty"`
	LastMessageAt   time.Time         `json:"lastMessageAt"`
	State           ConversationState `json:"state"`
	Contacted       bool              `json:"contacted"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// HasLinkedEntity reports whether an external record is attached.
func (c *Conversation) HasLinkedEntity() bool {
	return c != nil && c.LinkedEntityRef != ""
}

// Message is a single inbound or outbound unit.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId,omitempty"`
	Direction      Direction     `json:"direction"`
	From           string        `json:"from"`
	To             string        `json:"to"`
	Body           string        `json:"body"`
	Timestamp      time.Time     `json:"timestamp"`
	DeliveryState  DeliveryState `json:"deliveryState"`
	CorrelationID  string        `json:"correlationId,omitempty"`
	ChatName       string        `json:"chatName,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// IsFromMe reports whether the automated account authored the message.
func (m *Message) IsFromMe() bool {
	return m.Direction == DirectionOut
}

// LinkedEntity is an external business record reachable from a phone identifier.
type LinkedEntity struct {
	Ref             string `json:"ref"`
	Kind            string `json:"kind"`
	PhoneIdentifier string `json:"phoneIdentifier"`
	Label           string `json:"label,omitempty"`
	Contacted       bool   `json:"contacted"`
}

// MessageEnvelope is the payload of a new_message event.
type MessageEnvelope struct {
	Message      *Message      `json:"message"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Entity       *LinkedEntity `json:"entity,omitempty"`
}
