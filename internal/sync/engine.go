// Package sync maintains the locally consistent view of every conversation
// the current user participates in. Remote feeds are validated at the
// boundary and upserted idempotently, so an optimistic entry and its
// confirmed echo always collapse into a single row.
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
	"github.com/caioluis/courier/internal/status"
	"github.com/caioluis/courier/internal/store"
)

// Engine owns the store-wide subscription (every message involving the
// current user) that warms the local view and feeds the summary aggregator.
type Engine struct {
	db       *store.DB
	remote   remote.MessageStore
	bus      *bus.Bus
	machine  *status.Machine
	identity remote.Identity
	logger   *zap.Logger

	mu     sync.Mutex
	sub    remote.Subscription
	cancel context.CancelFunc
}

// NewEngine creates a new ingestion engine.
func NewEngine(db *store.DB, r remote.MessageStore, b *bus.Bus, machine *status.Machine, identity remote.Identity, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		remote:   r,
		bus:      b,
		machine:  machine,
		identity: identity,
		logger:   logger,
	}
}

// Start establishes the store-wide subscription.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	if e.machine != nil {
		_ = e.machine.Transition(status.Connecting)
	}
	if err := e.subscribe(ctx); err != nil {
		return err
	}
	if e.machine != nil {
		_ = e.machine.Transition(status.Live)
	}
	return nil
}

// Stop cancels the store-wide subscription.
func (e *Engine) Stop() {
	e.mu.Lock()
	sub := e.sub
	cancel := e.cancel
	e.sub = nil
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Cancel()
	}
}

func (e *Engine) subscribe(ctx context.Context) error {
	sub, err := e.remote.Subscribe(ctx, []string{e.identity.ID},
		func(rec remote.Record) {
			if err := e.Ingest(rec); err != nil {
				e.logger.Warn("record rejected", zap.Error(err))
			}
		},
		func(err error) { e.feedError(ctx, err) },
	)
	if err != nil {
		return fmt.Errorf("subscribe message feed: %w", err)
	}

	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()
	return nil
}

// Ingest validates and upserts one record into the local view (idempotent).
func (e *Engine) Ingest(rec remote.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validate record: %w", err)
	}

	m := rec.ToStoreMessage()
	if err := e.db.UpsertMessage(m); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	e.bus.Publish(bus.Event{
		Kind:      "message.upserted",
		Timestamp: time.Now(),
		Payload:   m,
	})
	return nil
}

// feedError runs on the dead subscription's goroutine. Local rows are kept
// as-is; the feed is re-established with exponential backoff.
func (e *Engine) feedError(ctx context.Context, cause error) {
	e.logger.Warn("message feed broken, resubscribing", zap.Error(cause))
	if e.machine != nil {
		_ = e.machine.Transition(status.Reconnecting)
	}
	e.bus.Publish(bus.Event{Kind: "sync.disconnected", Timestamp: time.Now(), Payload: cause.Error()})

	e.mu.Lock()
	e.sub = nil
	e.mu.Unlock()

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(func() error { return e.subscribe(ctx) }, policy); err != nil {
		e.logger.Error("resubscribe abandoned", zap.Error(err))
		if e.machine != nil {
			_ = e.machine.Transition(status.Error)
		}
		return
	}

	if e.machine != nil {
		_ = e.machine.Transition(status.Live)
	}
	e.bus.Publish(bus.Event{Kind: "sync.connected", Timestamp: time.Now()})
}
