package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/caioluis/courier/internal/bus"
	"github.com/caioluis/courier/internal/remote"
	"github.com/caioluis/courier/internal/store"
)

// Aggregator derives per-contact conversation summaries (latest preview,
// unread count) from the live message stream and caches them on the contact
// rows. The tie-break for "latest" is stream order: with equal timestamps,
// the message observed later in the update stream wins.
type Aggregator struct {
	db       *store.DB
	bus      *bus.Bus
	identity remote.Identity
	logger   *zap.Logger

	cancel context.CancelFunc
	latest map[string]int64 // contact id -> timestamp of the current preview
}

// NewAggregator creates a summary aggregator.
func NewAggregator(db *store.DB, b *bus.Bus, identity remote.Identity, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		db:       db,
		bus:      b,
		identity: identity,
		logger:   logger,
		latest:   make(map[string]int64),
	}
}

// Start seeds summaries from the local view, then follows the message stream.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.seed()
	ch, unsub := a.bus.Subscribe("message.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if m, ok := evt.Payload.(*store.Message); ok {
					a.apply(m)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the aggregator.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Aggregator) seed() {
	contacts, err := a.db.ListContacts()
	if err != nil {
		a.logger.Error("seed summaries", zap.Error(err))
		return
	}
	for _, c := range contacts {
		convKey := store.ConversationKey(a.identity.ID, c.ID)
		m, err := a.db.LatestMessage(convKey)
		if err != nil {
			a.logger.Error("seed latest message", zap.Error(err), zap.String("contact", c.ID))
			continue
		}
		if m == nil {
			continue
		}
		a.latest[c.ID] = m.Timestamp
		unread, err := a.db.UnreadCount(convKey, a.identity.ID)
		if err != nil {
			a.logger.Error("seed unread count", zap.Error(err), zap.String("contact", c.ID))
			continue
		}
		if err := a.db.UpdateSummary(c.ID, m.Preview(), m.Timestamp, unread); err != nil {
			a.logger.Error("update summary", zap.Error(err), zap.String("contact", c.ID))
		}
	}
}

// apply recomputes one contact's summary after observing a message event.
// Events for the same message arrive more than once (optimistic insert,
// confirmation, read updates); the recomputation is idempotent.
func (a *Aggregator) apply(m *store.Message) {
	contactID := m.Other(a.identity.ID)

	unread, err := a.db.UnreadCount(m.ConvKey, a.identity.ID)
	if err != nil {
		a.logger.Error("unread count", zap.Error(err), zap.String("conv_key", m.ConvKey))
		return
	}

	preview := m.Preview()
	lastAt := m.Timestamp
	if cur, ok := a.latest[contactID]; ok && m.Timestamp < cur {
		// An older message was redelivered (read or star update); keep the
		// current preview and only refresh the unread count.
		c, err := a.db.GetContact(contactID)
		if err != nil {
			a.logger.Error("get contact", zap.Error(err), zap.String("contact", contactID))
			return
		}
		if c != nil {
			preview = c.Preview
			lastAt = c.LastMessageAt
		}
	} else {
		a.latest[contactID] = m.Timestamp
	}

	if err := a.db.UpdateSummary(contactID, preview, lastAt, unread); err != nil {
		a.logger.Error("update summary", zap.Error(err), zap.String("contact", contactID))
		return
	}

	a.bus.Publish(bus.Event{
		Kind:      "summary.updated",
		Timestamp: time.Now(),
		Payload:   contactID,
	})
}
