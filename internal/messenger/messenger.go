// Package messenger is the surface the UI layer consumes: the reactive
// contact list with summaries, the active conversation, and the imperative
// send/star/export operations. Reactive updates flow through the bus; this
// type only reads the local view and drives the pipelines.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caioluis/courier/internal/attach"
	"github.com/caioluis/courier/internal/audio"
	"github.com/caioluis/courier/internal/export"
	"github.com/caioluis/courier/internal/outbox"
	"github.com/caioluis/courier/internal/remote"
	"github.com/caioluis/courier/internal/store"
	intsync "github.com/caioluis/courier/internal/sync"
)

// ErrEmptyMessage is returned when a text send has no content.
var ErrEmptyMessage = errors.New("message body is empty")

// Messenger composes the engine's components behind one API.
type Messenger struct {
	db       *store.DB
	remote   remote.MessageStore
	conv     *intsync.ConversationSync
	outbox   *outbox.Pipeline
	attach   *attach.Pipeline
	recorder *audio.Recorder
	identity remote.Identity
	logger   *zap.Logger
}

// New creates the messenger facade.
func New(db *store.DB, r remote.MessageStore, conv *intsync.ConversationSync, ob *outbox.Pipeline, at *attach.Pipeline, rec *audio.Recorder, identity remote.Identity, logger *zap.Logger) *Messenger {
	return &Messenger{
		db:       db,
		remote:   r,
		conv:     conv,
		outbox:   ob,
		attach:   at,
		recorder: rec,
		identity: identity,
		logger:   logger,
	}
}

// Identity returns the current user.
func (m *Messenger) Identity() remote.Identity {
	return m.identity
}

// Contacts returns the directory with cached summaries, most recently
// active first.
func (m *Messenger) Contacts() ([]store.Contact, error) {
	return m.db.ListContacts()
}

// Open makes contactID's conversation the active one, replacing any prior
// subscription.
func (m *Messenger) Open(ctx context.Context, contactID string) error {
	return m.conv.Select(ctx, contactID)
}

// CloseConversation deselects the active conversation.
func (m *Messenger) CloseConversation() {
	m.conv.Close()
}

// Messages returns the active conversation, ordered by creation time.
func (m *Messenger) Messages() ([]store.Message, error) {
	_, convKey := m.conv.Active()
	if convKey == "" {
		return nil, nil
	}
	return m.db.ListMessages(convKey)
}

// SendText sends a text message to contactID. The returned identifier is
// already visible in the conversation when this returns.
func (m *Messenger) SendText(contactID, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyMessage
	}
	return m.outbox.QueueText(contactID, body)
}

// SendAttachment validates and sends a binary payload to contactID.
func (m *Messenger) SendAttachment(ctx context.Context, contactID, name string, payload []byte) (string, error) {
	return m.attach.Send(ctx, contactID, name, payload)
}

// StartVoiceNote begins recording. A no-op when already recording.
func (m *Messenger) StartVoiceNote() error {
	return m.recorder.Start()
}

// StopVoiceNote finalizes the recording and sends it to contactID. An empty
// recording is dropped and reported, never sent.
func (m *Messenger) StopVoiceNote(ctx context.Context, contactID string) (string, error) {
	payload, err := m.recorder.Stop()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("voice-note-%s.wav", time.Now().UTC().Format("20060102-150405"))
	return m.attach.Send(ctx, contactID, name, payload)
}

// Recording reports whether a voice note is being captured.
func (m *Messenger) Recording() bool {
	return m.recorder.Recording()
}

// ToggleStar flips the starred flag of a message for this user's view. The
// remote flag is only updated for confirmed messages; a pending or failed
// entry has nothing durable to update yet.
func (m *Messenger) ToggleStar(ctx context.Context, msgID string) error {
	msg, err := m.db.GetMessage(msgID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message %q not found", msgID)
	}

	starred := !msg.Starred
	if err := m.db.SetStarred(msgID, starred); err != nil {
		return err
	}
	if msg.Delivery == store.DeliveryConfirmed {
		if err := m.remote.SetFields(ctx, msgID, map[string]any{"starred": starred}); err != nil {
			m.logger.Warn("star update not persisted", zap.Error(err), zap.String("msg_id", msgID))
		}
	}
	return nil
}

// Export renders the conversation with contactID as a plain-text transcript.
// Pure formatting over already-loaded messages; no network dependency.
func (m *Messenger) Export(contactID string) (string, error) {
	convKey := store.ConversationKey(m.identity.ID, contactID)
	msgs, err := m.db.ListMessages(convKey)
	if err != nil {
		return "", err
	}
	return export.Format(msgs, m.displayName), nil
}

func (m *Messenger) displayName(id string) string {
	if id == m.identity.ID && m.identity.DisplayName != "" {
		return m.identity.DisplayName
	}
	c, err := m.db.GetContact(id)
	if err == nil && c != nil && c.DisplayName != "" {
		return c.DisplayName
	}
	return id
}
