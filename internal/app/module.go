// Package app composes the engine: configuration, the local view, the remote
// driver, the sync and send pipelines, and their lifecycle.
package app

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/caioluis/courier/internal/attach"
	"github.com/caioluis/courier/internal/audio"
	"github.com/caioluis/courier/internal/bus"
	"github.com/caioluis/courier/internal/config"
	"github.com/caioluis/courier/internal/lock"
	"github.com/caioluis/courier/internal/logging"
	"github.com/caioluis/courier/internal/messenger"
	"github.com/caioluis/courier/internal/outbox"
	"github.com/caioluis/courier/internal/profile"
	"github.com/caioluis/courier/internal/remote"
	"github.com/caioluis/courier/internal/status"
	"github.com/caioluis/courier/internal/store"
	intsync "github.com/caioluis/courier/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("courier",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideIdentity,
			provideRemote,
			provideEngine,
			provideConversationSync,
			provideDirectorySync,
			provideAggregator,
			provideOutbox,
			provideAttach,
			provideRecorder,
			provideMessenger,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	path := profile.ConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	// First run: persist defaults so the user has a file to edit.
	cfg = config.Default()
	if saveErr := config.Save(path, cfg); saveErr != nil {
		return nil, saveErr
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIdentity(cfg *config.Config, p Params) remote.Identity {
	id := cfg.Identity.UserID
	if id == "" {
		id = p.ProfileName
	}
	return remote.Identity{ID: id, DisplayName: cfg.Identity.DisplayName}
}

// Drivers holds the remote collaborators behind one provide.
type Drivers struct {
	fx.Out

	Messages  remote.MessageStore
	Directory remote.Directory
	Blobs     remote.BlobStore
}

func provideRemote(cfg *config.Config, identity remote.Identity, logger *zap.Logger) (Drivers, error) {
	switch cfg.Remote.Driver {
	case "", "memory":
		contacts := make([]remote.Contact, 0, len(cfg.Remote.Contacts)+1)
		contacts = append(contacts, remote.Contact{
			ID:          identity.ID,
			DisplayName: identity.DisplayName,
			IsSelf:      true,
		})
		for _, c := range cfg.Remote.Contacts {
			if c.ID == identity.ID {
				continue
			}
			contacts = append(contacts, remote.Contact{
				ID:          c.ID,
				DisplayName: c.DisplayName,
				Role:        c.Role,
			})
		}
		logger.Info("using loopback remote driver", zap.Int("contacts", len(contacts)))
		return Drivers{
			Messages:  remote.NewMemory(),
			Directory: remote.NewMemoryDirectory(contacts),
			Blobs:     remote.NewMemoryBlobs(),
		}, nil
	default:
		return Drivers{}, fmt.Errorf("unknown remote driver %q", cfg.Remote.Driver)
	}
}

func provideEngine(db *store.DB, r remote.MessageStore, b *bus.Bus, machine *status.Machine, identity remote.Identity, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, r, b, machine, identity, logger)
}

func provideConversationSync(db *store.DB, r remote.MessageStore, b *bus.Bus, identity remote.Identity, logger *zap.Logger) *intsync.ConversationSync {
	return intsync.NewConversationSync(db, r, b, identity, logger)
}

func provideDirectorySync(db *store.DB, dir remote.Directory, b *bus.Bus, identity remote.Identity, logger *zap.Logger) *intsync.DirectorySync {
	return intsync.NewDirectorySync(db, dir, b, identity, logger)
}

func provideAggregator(db *store.DB, b *bus.Bus, identity remote.Identity, logger *zap.Logger) *intsync.Aggregator {
	return intsync.NewAggregator(db, b, identity, logger)
}

func provideOutbox(db *store.DB, r remote.MessageStore, b *bus.Bus, identity remote.Identity, logger *zap.Logger) *outbox.Pipeline {
	return outbox.NewPipeline(db, r, b, identity, logger)
}

func provideAttach(db *store.DB, blobs remote.BlobStore, ob *outbox.Pipeline, b *bus.Bus, identity remote.Identity, cfg *config.Config, logger *zap.Logger) *attach.Pipeline {
	return attach.NewPipeline(db, blobs, ob, b, identity, cfg.Attachment, logger)
}

func provideRecorder(cfg *config.Config, logger *zap.Logger) *audio.Recorder {
	source := audio.Unavailable()
	if cfg.Audio.SourcePath != "" {
		source = audio.FileSource{Path: cfg.Audio.SourcePath}
	}
	return audio.NewRecorder(source, logger)
}

func provideMessenger(db *store.DB, r remote.MessageStore, conv *intsync.ConversationSync, ob *outbox.Pipeline, at *attach.Pipeline, rec *audio.Recorder, identity remote.Identity, logger *zap.Logger) *messenger.Messenger {
	return messenger.New(db, r, conv, ob, at, rec, identity, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, engine *intsync.Engine, conv *intsync.ConversationSync, dir *intsync.DirectorySync, agg *intsync.Aggregator, ob *outbox.Pipeline, rec *audio.Recorder, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()

			// The aggregator subscribes before feeds start so no upsert
			// event is missed.
			agg.Start(ctx)

			if err := dir.Start(ctx); err != nil {
				return err
			}
			if err := engine.Start(ctx); err != nil {
				return err
			}
			ob.Start(ctx)

			logger.Info("engine started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			ob.Stop()
			conv.Close()
			engine.Stop()
			dir.Stop()
			agg.Stop()
			rec.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
