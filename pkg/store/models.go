package store

import (
	"time"

	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// conversationRow is the GORM model for conversations.
type conversationRow struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)"`
	PhoneIdentifier string    `gorm:"uniqueIndex;not null;type:varchar(32)"`
	DisplayName     string
	LinkedEntityRef string    `gorm:"index"`
	LastMessageAt   time.Time `gorm:"index:idx_conversations_last_message,sort:desc"`
	State           string    `gorm:"type:varchar(16);default:'open'"`
	Contacted       bool      `gorm:"default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (conversationRow) TableName() string { return "whatsapp_conversations" }

// messageRow is the GORM model for messages.
type messageRow struct {
	ID             string    `gorm:"primaryKey;type:varchar(128)"`
	ConversationID string    `gorm:"index:idx_messages_conversation_ts,priority:1"`
	Direction      string    `gorm:"type:varchar(3);not null"`
	FromID         string    `gorm:"column:from_id"`
	ToID           string    `gorm:"column:to_id"`
	Body           string    `gorm:"type:text"`
	Timestamp      time.Time `gorm:"index:idx_messages_conversation_ts,priority:2"`
	DeliveryState  string    `gorm:"type:varchar(16)"`
	CorrelationID  *string   `gorm:"uniqueIndex;type:varchar(64)"`
	ChatName       string
	Error          string
}

func (messageRow) TableName() string { return "whatsapp_messages" }

// vehicleRow is the GORM model for linked business entities.
type vehicleRow struct {
	Ref             string `gorm:"primaryKey;type:varchar(64)"`
	Kind            string `gorm:"type:varchar(32);default:'vehicle'"`
	PhoneIdentifier string `gorm:"index;type:varchar(32)"`
	Label           string
	Contacted       bool `gorm:"default:false"`
	UpdatedAt       time.Time
}

func (vehicleRow) TableName() string { return "vehicles" }

func conversationToRow(c *types.Conversation) conversationRow {
	return conversationRow{
		ID:              c.ID,
		PhoneIdentifier: c.PhoneIdentifier,
		DisplayName:     c.DisplayName,
		LinkedEntityRef: c.LinkedEntityRef,
		LastMessageAt:   c.LastMessageAt,
		State:           string(c.State),
		Contacted:       c.Contacted,
		CreatedAt:       c.CreatedAt,
	}
}

func (r conversationRow) toConversation() *types.Conversation {
	return &types.Conversation{
		ID:              r.ID,
		PhoneIdentifier: r.PhoneIdentifier,
		DisplayName:     r.DisplayName,
		LinkedEntityRef: r.LinkedEntityRef,
		LastMessageAt:   r.LastMessageAt,
		State:           types.ConversationState(r.State),
		Contacted:       r.Contacted,
		CreatedAt:       r.CreatedAt,
	}
}

func messageToRow(m *types.Message) messageRow {
	row := messageRow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      string(m.Direction),
		FromID:         m.From,
		ToID:           m.To,
		Body:           m.Body,
		Timestamp:      m.Timestamp,
		DeliveryState:  string(m.DeliveryState),
		ChatName:       m.ChatName,
		Error:          m.Error,
	}
	if m.CorrelationID != "" {
		cid := m.CorrelationID
		row.CorrelationID = &cid
	}
	return row
}

func (r messageRow) toMessage() *types.Message {
	msg := &types.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Direction:      types.Direction(r.Direction),
		From:           r.FromID,
		To:             r.ToID,
		Body:           r.Body,
		Timestamp:      r.Timestamp,
		DeliveryState:  types.DeliveryState(r.DeliveryState),
		ChatName:       r.ChatName,
		Error:          r.Error,
	}
	if r.CorrelationID != nil {
		msg.CorrelationID = *r.CorrelationID
	}
	return msg
}

func (r vehicleRow) toEntity() *types.LinkedEntity {
	return &types.LinkedEntity{
		Ref:             r.Ref,
		Kind:            r.Kind,
		PhoneIdentifier: r.PhoneIdentifier,
		Label:           r.Label,
		Contacted:       r.Contacted,
	}
}
