package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samikhalifabe/Pandorabox/pkg/gateway"
	"github.com/samikhalifabe/Pandorabox/pkg/logging"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// Store is the part of the record store the correlator reads and writes.
type Store interface {
	FindConversationByPhone(ctx context.Context, phone string) (*types.Conversation, error)
	SaveConversation(ctx context.Context, conv *types.Conversation) error
	ListConversations(ctx context.Context) ([]types.Conversation, error)
	FindEntityByPhone(ctx context.Context, phone string) (*types.LinkedEntity, error)
	MarkEntitiesContacted(ctx context.Context, refs []string) (int, error)
}

// Link ties a contacted conversation to its business entity.
type Link struct {
	ConversationID  string `json:"conversationId"`
	PhoneIdentifier string `json:"phoneIdentifier"`
	EntityRef       string `json:"entityRef"`
}

// Correlator resolves conversations by canonical phone identifier.
type Correlator struct {
	store Store
	log   *logging.Logger
	now   func() time.Time

	// mu serializes find-or-create so one phone never gets two conversations.
	mu sync.Mutex
}

func New(store Store, log *logging.Logger) *Correlator {
	if log == nil {
		log = logging.Nop()
	}
	return &Correlator{store: store, log: log, now: time.Now}
}

// Resolve returns the conversation for phone, creating it when none exists, and the entity
// linked to that phone if there is one. displayName fills an empty conversation name.
func (c *Correlator) Resolve(ctx context.Context, phone, displayName string) (*types.Conversation, *types.LinkedEntity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, err := c.store.FindConversationByPhone(ctx, phone)
	dirty := false
	switch {
	case errors.Is(err, types.ErrNotFound):
		now := c.now()
		conv = &types.Conversation{
			ID:              uuid.NewString(),
			PhoneIdentifier: phone,
			DisplayName:     displayName,
			State:           types.ConversationOpen,
			CreatedAt:       now,
		}
		dirty = true
		c.log.Infof("new conversation %s for %s", conv.ID, phone)
	case err != nil:
		return nil, nil, fmt.Errorf("failed to find conversation for %s: %w", phone, err)
	case conv.DisplayName == "" && displayName != "":
		conv.DisplayName = displayName
		dirty = true
	}

	entity, err := c.store.FindEntityByPhone(ctx, phone)
	switch {
	case errors.Is(err, types.ErrNotFound):
		entity = nil
	case err != nil:
		c.log.Warnf("entity lookup failed for %s: %v", phone, err)
		entity = nil
	case conv.LinkedEntityRef == "":
		conv.LinkedEntityRef = entity.Ref
		dirty = true
	}

	if dirty {
		if err := c.store.SaveConversation(ctx, conv); err != nil {
			return nil, nil, fmt.Errorf("failed to save conversation for %s: %w", phone, err)
		}
	}
	return conv, entity, nil
}

// RecordActivity advances the conversation's last message time. An outbound message marks it
// contacted. conv is updated in place.
func (c *Correlator) RecordActivity(ctx context.Context, conv *types.Conversation, msg *types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.store.FindConversationByPhone(ctx, conv.PhoneIdentifier)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("failed to load conversation %s: %w", conv.ID, err)
		}
		current = conv
	}

	if msg.Timestamp.After(current.LastMessageAt) {
		current.LastMessageAt = msg.Timestamp
	}
	if msg.Direction == types.DirectionOut {
		current.Contacted = true
		if current.State == types.ConversationOpen {
			current.State = types.ConversationContacted
		}
	}
	if err := c.store.SaveConversation(ctx, current); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", current.ID, err)
	}
	*conv = *current
	return nil
}

// Resync upserts every one-to-one chat of the backend's conversation list and returns how many
// were synced. Chats without a phone identifier are skipped.
func (c *Correlator) Resync(ctx context.Context, chats []types.ChatSummary) (int, error) {
	synced := 0
	for _, chat := range chats {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if chat.IsGroup || chat.ChatID == "" {
			continue
		}
		phone, err := gateway.NormalizeIdentifier(chat.ChatID)
		if err != nil {
			c.log.Debugf("resync skipping %q: %v", chat.ChatID, err)
			continue
		}

		conv, _, err := c.Resolve(ctx, phone, chat.Name)
		if err != nil {
			return synced, err
		}
		if chat.LastMessageAt.After(conv.LastMessageAt) {
			if err := c.RecordActivity(ctx, conv, &types.Message{Direction: types.DirectionIn, Timestamp: chat.LastMessageAt}); err != nil {
				return synced, err
			}
		}
		synced++
	}
	c.log.Infof("resynced %d of %d chats", synced, len(chats))
	return synced, nil
}

// ContactedLinks returns the contacted conversations that have a linked entity.
func (c *Correlator) ContactedLinks(ctx context.Context) ([]Link, error) {
	convs, err := c.store.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	var links []Link
	for _, conv := range convs {
		if !conv.Contacted || !conv.HasLinkedEntity() {
			continue
		}
		links = append(links, Link{ConversationID: conv.ID, PhoneIdentifier: conv.PhoneIdentifier, EntityRef: conv.LinkedEntityRef})
	}
	return links, nil
}

// UpdateContacted flags the entities of every contacted conversation and reports how many changed.
func (c *Correlator) UpdateContacted(ctx context.Context) (int, error) {
	links, err := c.ContactedLinks(ctx)
	if err != nil {
		return 0, err
	}
	refs := make([]string, 0, len(links))
	for _, l := range links {
		refs = append(refs, l.EntityRef)
	}
	slices.Sort(refs)
	refs = slices.Compact(refs)
	if len(refs) == 0 {
		return 0, nil
	}

	n, err := c.store.MarkEntitiesContacted(ctx, refs)
	if err != nil {
		return 0, fmt.Errorf("failed to mark entities contacted: %w", err)
	}
	c.log.Infof("marked %d of %d linked entities contacted", n, len(refs))
	return n, nil
}
