// Package outbox is the optimistic send path. A message gets its durable
// identifier before persistence is attempted, is inserted into the local
// view immediately, and is reconciled with the store's confirmation by that
// shared identifier. Failures flip the entry to failed in place; nothing is
// retried automatically and nothing is removed from view.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caioluis/courier/internal/bus"
	"github.com/caioluis/courier/internal/remote"
	"github.com/caioluis/courier/internal/store"
)

// Pipeline drains the pending-write ledger and persists staged messages.
type Pipeline struct {
	db       *store.DB
	remote   remote.MessageStore
	bus      *bus.Bus
	identity remote.Identity
	logger   *zap.Logger

	cancel context.CancelFunc
	kick   chan struct{}
}

// NewPipeline creates a send pipeline.
func NewPipeline(db *store.DB, r remote.MessageStore, b *bus.Bus, identity remote.Identity, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:       db,
		remote:   r,
		bus:      b,
		identity: identity,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Start begins draining queued writes.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop stops the drain loop.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// QueueText stages and commits a text message to contactID. The returned
// identifier is durable: the optimistic local entry and the eventually
// confirmed record share it. The entry is visible before this returns.
func (p *Pipeline) QueueText(contactID, body string) (string, error) {
	m := &store.Message{
		ConvKey:     store.ConversationKey(p.identity.ID, contactID),
		MsgID:       uuid.New().String(),
		SenderID:    p.identity.ID,
		RecipientID: contactID,
		Body:        body,
		Kind:        store.KindText,
		Delivery:    store.DeliveryPending,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := p.Stage(m); err != nil {
		return "", err
	}
	if err := p.Commit(m.MsgID, m.ConvKey); err != nil {
		return "", err
	}
	return m.MsgID, nil
}

// Stage inserts the optimistic local entry and announces it. The message is
// rendered immediately; persistence has not been attempted yet.
func (p *Pipeline) Stage(m *store.Message) error {
	if err := p.db.UpsertMessage(m); err != nil {
		return err
	}
	p.bus.Publish(bus.Event{
		Kind:      "message.upserted",
		Timestamp: time.Now(),
		Payload:   m,
	})
	return nil
}

// Commit queues a staged message for persistence and kicks the drain loop.
func (p *Pipeline) Commit(msgID, convKey string) error {
	if err := p.db.QueueWrite(msgID, convKey); err != nil {
		return err
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
	return nil
}

// Fail flips a staged message to failed without attempting persistence
// (used by the attachment pipeline when the upload itself fails).
func (p *Pipeline) Fail(msgID, reason string) {
	p.markFailed(msgID, reason)
}

func (p *Pipeline) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.kick:
			p.drain(ctx)
		case <-ticker.C:
			p.drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) drain(ctx context.Context) {
	entries, err := p.db.QueuedWrites()
	if err != nil {
		p.logger.Error("read pending writes", zap.Error(err))
		return
	}

	for _, entry := range entries {
		m, err := p.db.GetMessage(entry.MsgID)
		if err != nil || m == nil {
			p.logger.Error("staged message missing", zap.Error(err), zap.String("msg_id", entry.MsgID))
			_ = p.db.MarkWriteFailed(entry.MsgID, "staged message missing")
			continue
		}

		if err := p.remote.Append(ctx, remote.FromStoreMessage(m)); err != nil {
			p.logger.Error("persist message", zap.Error(err), zap.String("msg_id", m.MsgID))
			p.markFailed(m.MsgID, err.Error())
			continue
		}

		if err := p.db.MarkWriteConfirmed(m.MsgID); err != nil {
			p.logger.Error("mark write confirmed", zap.Error(err), zap.String("msg_id", m.MsgID))
		}
		// The subscription echo reconciles the row under the same id; the
		// local flip just avoids a visible pending->confirmed gap.
		if err := p.db.SetDelivery(m.MsgID, store.DeliveryConfirmed); err != nil {
			p.logger.Error("set delivery", zap.Error(err), zap.String("msg_id", m.MsgID))
		}

		m.Delivery = store.DeliveryConfirmed
		p.logger.Info("message persisted", zap.String("msg_id", m.MsgID), zap.String("conv_key", m.ConvKey))
		p.bus.Publish(bus.Event{
			Kind:      "message.send_ack",
			Timestamp: time.Now(),
			Payload:   m,
		})
	}
}

func (p *Pipeline) markFailed(msgID, reason string) {
	if err := p.db.MarkWriteFailed(msgID, reason); err != nil {
		p.logger.Error("mark write failed", zap.Error(err), zap.String("msg_id", msgID))
	}
	if err := p.db.SetDelivery(msgID, store.DeliveryFailed); err != nil {
		p.logger.Error("set delivery", zap.Error(err), zap.String("msg_id", msgID))
	}

	m, err := p.db.GetMessage(msgID)
	if err != nil || m == nil {
		m = &store.Message{MsgID: msgID, Delivery: store.DeliveryFailed}
	}
	p.bus.Publish(bus.Event{
		Kind:      "message.send_failed",
		Timestamp: time.Now(),
		Payload:   m,
	})
}
