// Package store is the boundary to the external record store: conversations, messages and
// the business entities (vehicles) that conversations link to.
package store

import (
	"context"

	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// Store persists conversations and messages and resolves linked entities.
// Lookups that find nothing return types.ErrNotFound.
// Implementations must be safe for concurrent use.
type Store interface {
	FindConversationByPhone(ctx context.Context, phone string) (*types.Conversation, error)
	GetConversation(ctx context.Context, id string) (*types.Conversation, error)
	// SaveConversation inserts or updates by ID.
	SaveConversation(ctx context.Context, conv *types.Conversation) error
	ListConversations(ctx context.Context) ([]types.Conversation, error)

	// SaveMessage inserts or updates by ID.
	SaveMessage(ctx context.Context, msg *types.Message) error
	GetMessageByCorrelationID(ctx context.Context, correlationID string) (*types.Message, error)
	// RecentMessages returns up to limit messages of a conversation, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error)

	FindEntityByPhone(ctx context.Context, phone string) (*types.LinkedEntity, error)
	SaveEntity(ctx context.Context, entity *types.LinkedEntity) error
	// MarkEntitiesContacted flags the given entity refs and reports how many changed.
	MarkEntitiesContacted(ctx context.Context, refs []string) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
