// Package attach uploads binary payloads and turns them into file messages.
// Size and type gating happen before any network call; the file message
// renders optimistically while the upload runs and flips to failed if the
// upload or the persistence step goes wrong.
package attach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caioluis/courier/internal/bus"
	"github.com/caioluis/courier/internal/config"
	"github.com/caioluis/courier/internal/outbox"
	"github.com/caioluis/courier/internal/remote"
	"github.com/caioluis/courier/internal/store"
)

var (
	// ErrPayloadTooLarge is returned when the payload exceeds the configured
	// ceiling. Oversized payloads are rejected, not truncated.
	ErrPayloadTooLarge = errors.New("attachment exceeds size limit")
	// ErrTypeNotAllowed is returned when the sniffed MIME type is not on the
	// allow-list.
	ErrTypeNotAllowed = errors.New("attachment type not allowed")
	// ErrEmptyPayload is returned for zero-byte payloads.
	ErrEmptyPayload = errors.New("attachment payload is empty")
)

// Progress is the payload of "attach.progress" events.
type Progress struct {
	MsgID string
	Done  int64
	Total int64
}

// Pipeline validates, uploads and sends attachments.
type Pipeline struct {
	db       *store.DB
	blobs    remote.BlobStore
	outbox   *outbox.Pipeline
	bus      *bus.Bus
	identity remote.Identity
	cfg      config.AttachmentConfig
	logger   *zap.Logger
}

// NewPipeline creates an attachment pipeline.
func NewPipeline(db *store.DB, blobs remote.BlobStore, ob *outbox.Pipeline, b *bus.Bus, identity remote.Identity, cfg config.AttachmentConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:       db,
		blobs:    blobs,
		outbox:   ob,
		bus:      b,
		identity: identity,
		cfg:      cfg,
		logger:   logger,
	}
}

// Send validates the payload, stages an optimistic file message, and uploads
// in the background. Validation errors are returned synchronously before any
// network call; upload failures surface as a failed message entry plus a
// "message.send_failed" event.
func (p *Pipeline) Send(ctx context.Context, contactID, name string, payload []byte) (string, error) {
	mime, err := p.validate(payload)
	if err != nil {
		return "", err
	}

	m := &store.Message{
		ConvKey:     store.ConversationKey(p.identity.ID, contactID),
		MsgID:       uuid.New().String(),
		SenderID:    p.identity.ID,
		RecipientID: contactID,
		Kind:        store.KindFile,
		FileName:    name,
		FileType:    mime,
		FileSize:    int64(len(payload)),
		Delivery:    store.DeliveryPending,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := p.outbox.Stage(m); err != nil {
		return "", fmt.Errorf("stage file message: %w", err)
	}

	go p.upload(ctx, m, payload)
	return m.MsgID, nil
}

// Validate checks the payload against the configured limits without sending
// anything. Exposed so callers can pre-flight before acquiring a payload
// reference they would otherwise have to abandon.
func (p *Pipeline) Validate(payload []byte) error {
	_, err := p.validate(payload)
	return err
}

func (p *Pipeline) validate(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	if int64(len(payload)) > p.cfg.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), p.cfg.MaxBytes)
	}
	mime := mimetype.Detect(payload).String()
	// Strip parameters such as "; charset=utf-8" before matching.
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if !p.allowed(mime) {
		return "", fmt.Errorf("%w: %s", ErrTypeNotAllowed, mime)
	}
	return mime, nil
}

// allowed matches entries ending in "." or "/" as prefixes, others exactly.
func (p *Pipeline) allowed(mime string) bool {
	for _, t := range p.cfg.AllowedTypes {
		if strings.HasSuffix(t, "/") || strings.HasSuffix(t, ".") {
			if strings.HasPrefix(mime, t) {
				return true
			}
			continue
		}
		if mime == t {
			return true
		}
	}
	return false
}

func (p *Pipeline) upload(ctx context.Context, m *store.Message, payload []byte) {
	ref, err := p.blobs.Upload(ctx, m.FileName, payload, func(done, total int64) {
		p.bus.Publish(bus.Event{
			Kind:      "attach.progress",
			Timestamp: time.Now(),
			Payload:   Progress{MsgID: m.MsgID, Done: done, Total: total},
		})
	})
	if err != nil {
		// The placeholder stays visible as failed; the blob (if any part of
		// it landed) is never referenced.
		p.logger.Error("attachment upload", zap.Error(err), zap.String("msg_id", m.MsgID))
		p.outbox.Fail(m.MsgID, err.Error())
		return
	}

	if err := p.db.SetFileRef(m.MsgID, ref); err != nil {
		p.logger.Error("set file ref", zap.Error(err), zap.String("msg_id", m.MsgID))
		p.outbox.Fail(m.MsgID, err.Error())
		return
	}
	if err := p.outbox.Commit(m.MsgID, m.ConvKey); err != nil {
		p.logger.Error("commit file message", zap.Error(err), zap.String("msg_id", m.MsgID))
		p.outbox.Fail(m.MsgID, err.Error())
	}
}
