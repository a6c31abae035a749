package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/caioluis/courier/internal/bus"
	"github.com/caioluis/courier/internal/remote"
	"github.com/caioluis/courier/internal/store"
)

// ConversationSync owns the single active conversation feed. Selecting a
// contact cancels the previous subscription before the new one can deliver,
// so two conversations never interleave into one view. Confirmed inbound
// messages delivered to the open conversation are marked read exactly once.
type ConversationSync struct {
	db       *store.DB
	remote   remote.MessageStore
	bus      *bus.Bus
	identity remote.Identity
	logger   *zap.Logger

	mu      sync.Mutex
	contact string
	convKey string
	gen     uint64
	sub     remote.Subscription
	cancel  context.CancelFunc
}

// NewConversationSync creates a conversation sync with no active conversation.
func NewConversationSync(db *store.DB, r remote.MessageStore, b *bus.Bus, identity remote.Identity, logger *zap.Logger) *ConversationSync {
	return &ConversationSync{
		db:       db,
		remote:   r,
		bus:      b,
		identity: identity,
		logger:   logger,
	}
}

// Select makes contactID's conversation the active one. The previous
// subscription is cancelled before the new one is established. Passing an
// empty id deselects.
func (c *ConversationSync) Select(ctx context.Context, contactID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
	c.contact = ""
	c.convKey = ""
	if contactID == "" {
		return nil
	}

	convKey := store.ConversationKey(c.identity.ID, contactID)
	c.gen++
	gen := c.gen
	subCtx, cancel := context.WithCancel(ctx)

	sub, err := c.remote.Subscribe(subCtx, []string{c.identity.ID, contactID},
		func(rec remote.Record) { c.deliver(subCtx, convKey, rec) },
		func(err error) { c.feedError(ctx, gen, contactID, err) },
	)
	if err != nil {
		cancel()
		c.bus.Publish(bus.Event{Kind: "sync.error", Timestamp: time.Now(), Payload: err.Error()})
		return fmt.Errorf("subscribe conversation: %w", err)
	}

	c.contact = contactID
	c.convKey = convKey
	c.sub = sub
	c.cancel = cancel

	// Read pass over rows already in the local view; fresh deliveries are
	// handled by the subscription itself.
	go c.markReadBacklog(subCtx, convKey)

	c.bus.Publish(bus.Event{Kind: "conversation.selected", Timestamp: time.Now(), Payload: contactID})
	return nil
}

// Active returns the active contact id and conversation key.
func (c *ConversationSync) Active() (contactID, convKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contact, c.convKey
}

// Close cancels the active subscription, if any.
func (c *ConversationSync) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	c.contact = ""
	c.convKey = ""
}

func (c *ConversationSync) closeLocked() {
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// deliver runs on the subscription goroutine. The conversation key is
// captured at subscribe time: a stale delivery can only touch its own
// conversation's rows, never the newly selected one.
func (c *ConversationSync) deliver(ctx context.Context, convKey string, rec remote.Record) {
	if err := rec.Validate(); err != nil {
		c.logger.Warn("record rejected", zap.Error(err))
		return
	}

	m := rec.ToStoreMessage()
	if err := c.db.UpsertMessage(m); err != nil {
		c.logger.Error("upsert message", zap.Error(err), zap.String("msg_id", m.MsgID))
		return
	}

	// The open conversation is rendered, so inbound messages are viewed.
	if m.RecipientID == c.identity.ID && !m.Read {
		c.markRead(ctx, m)
	}

	c.bus.Publish(bus.Event{
		Kind:      "message.upserted",
		Timestamp: time.Now(),
		Payload:   m,
	})
}

// markReadBacklog marks every confirmed, unread, inbound message of the
// conversation as read. Re-running it is a no-op: the query only sees
// unread rows.
func (c *ConversationSync) markReadBacklog(ctx context.Context, convKey string) {
	msgs, err := c.db.ListUnreadInbound(convKey, c.identity.ID)
	if err != nil {
		c.logger.Error("list unread", zap.Error(err), zap.String("conv_key", convKey))
		return
	}
	for i := range msgs {
		if ctx.Err() != nil {
			return
		}
		c.markRead(ctx, &msgs[i])
		c.bus.Publish(bus.Event{
			Kind:      "message.read",
			Timestamp: time.Now(),
			Payload:   &msgs[i],
		})
	}
}

func (c *ConversationSync) markRead(ctx context.Context, m *store.Message) {
	if err := c.remote.SetFields(ctx, m.MsgID, map[string]any{"read": true}); err != nil {
		// The message stays unread locally and will be retried on the next
		// render pass.
		c.logger.Warn("mark read", zap.Error(err), zap.String("msg_id", m.MsgID))
		return
	}
	if err := c.db.SetRead(m.MsgID); err != nil {
		c.logger.Error("set read", zap.Error(err), zap.String("msg_id", m.MsgID))
		return
	}
	m.Read = true
}

// feedError re-establishes the conversation feed with backoff, unless a
// newer selection has replaced this one. The dead subscription's handle is
// cleared first so Select does not try to cancel it.
func (c *ConversationSync) feedError(ctx context.Context, gen uint64, contactID string, cause error) {
	c.logger.Warn("conversation feed broken", zap.Error(cause), zap.String("contact", contactID))
	c.bus.Publish(bus.Event{Kind: "sync.error", Timestamp: time.Now(), Payload: cause.Error()})

	c.mu.Lock()
	if c.gen == gen {
		c.sub = nil
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
	}
	c.mu.Unlock()

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err := backoff.Retry(func() error {
		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return nil
		}
		return c.Select(ctx, contactID)
	}, policy)
	if err != nil {
		c.logger.Error("conversation resubscribe abandoned", zap.Error(err), zap.String("contact", contactID))
	}
}
