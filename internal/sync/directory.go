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

// DirectorySync follows the contact directory feed. Refreshes replace rows
// in place; on a broken feed the last known-good list is kept and shown
// while the subscription is re-established.
type DirectorySync struct {
	db       *store.DB
	dir      remote.Directory
	bus      *bus.Bus
	identity remote.Identity
	logger   *zap.Logger

	mu     sync.Mutex
	sub    remote.Subscription
	cancel context.CancelFunc
}

// NewDirectorySync creates a directory sync.
func NewDirectorySync(db *store.DB, dir remote.Directory, b *bus.Bus, identity remote.Identity, logger *zap.Logger) *DirectorySync {
	return &DirectorySync{
		db:       db,
		dir:      dir,
		bus:      b,
		identity: identity,
		logger:   logger,
	}
}

// Start establishes the directory subscription.
func (d *DirectorySync) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	return d.subscribe(ctx)
}

// Stop cancels the directory subscription.
func (d *DirectorySync) Stop() {
	d.mu.Lock()
	sub := d.sub
	cancel := d.cancel
	d.sub = nil
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Cancel()
	}
}

func (d *DirectorySync) subscribe(ctx context.Context) error {
	sub, err := d.dir.Subscribe(ctx,
		func(contacts []remote.Contact) { d.refresh(contacts) },
		func(err error) { d.feedError(ctx, err) },
	)
	if err != nil {
		return fmt.Errorf("subscribe directory: %w", err)
	}

	d.mu.Lock()
	d.sub = sub
	d.mu.Unlock()
	return nil
}

func (d *DirectorySync) refresh(contacts []remote.Contact) {
	rows := make([]store.Contact, 0, len(contacts))
	for _, c := range contacts {
		rows = append(rows, store.Contact{
			ID:          c.ID,
			DisplayName: c.DisplayName,
			Role:        c.Role,
			IsSelf:      c.IsSelf || c.ID == d.identity.ID,
		})
	}
	if err := d.db.BulkUpsertContacts(rows); err != nil {
		d.logger.Error("directory refresh", zap.Error(err))
		return
	}
	d.bus.Publish(bus.Event{Kind: "directory.updated", Timestamp: time.Now(), Payload: len(rows)})
}

func (d *DirectorySync) feedError(ctx context.Context, cause error) {
	d.logger.Warn("directory feed broken, resubscribing", zap.Error(cause))
	d.bus.Publish(bus.Event{Kind: "directory.error", Timestamp: time.Now(), Payload: cause.Error()})

	d.mu.Lock()
	d.sub = nil
	d.mu.Unlock()

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(func() error { return d.subscribe(ctx) }, policy); err != nil {
		d.logger.Error("directory resubscribe abandoned", zap.Error(err))
	}
}
