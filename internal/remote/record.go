package remote

import (
	"fmt"
	"slices"

	"github.com/caioluis/courier/internal/store"
)

// Record is the wire shape of a stored message. Records are validated at the
// boundary: a record that fails Validate is rejected and logged, never
// half-ingested, so everything downstream can assume well-typed messages.
type Record struct {
	MsgID        string
	SenderID     string
	RecipientID  string
	Participants []string
	ConvKey      string
	Body         string
	Kind         string
	FileName     string
	FileType     string
	FileSize     int64
	FileRef      string
	Read         bool
	Starred      bool
	Timestamp    int64 // unix ms, server-assigned on append
}

// Validate checks the structural invariants of a record as read back from
// the store.
func (r Record) Validate() error {
	if r.MsgID == "" {
		return fmt.Errorf("record missing message id")
	}
	if len(r.Participants) != 2 {
		return fmt.Errorf("record %s: participant set has %d entries, want 2", r.MsgID, len(r.Participants))
	}
	if r.SenderID == "" || !slices.Contains(r.Participants, r.SenderID) {
		return fmt.Errorf("record %s: sender %q not in participant set", r.MsgID, r.SenderID)
	}
	if r.RecipientID == "" || !slices.Contains(r.Participants, r.RecipientID) {
		return fmt.Errorf("record %s: recipient %q not in participant set", r.MsgID, r.RecipientID)
	}
	if want := store.ConversationKey(r.Participants[0], r.Participants[1]); r.ConvKey != want {
		return fmt.Errorf("record %s: conversation key %q, want %q", r.MsgID, r.ConvKey, want)
	}
	switch r.Kind {
	case store.KindText, store.KindFile:
	default:
		return fmt.Errorf("record %s: unknown kind %q", r.MsgID, r.Kind)
	}
	if r.Timestamp <= 0 {
		return fmt.Errorf("record %s: missing timestamp", r.MsgID)
	}
	return nil
}

// ToStoreMessage converts a validated record into the local view shape.
// Anything read back from the store is confirmed by definition.
func (r Record) ToStoreMessage() *store.Message {
	return &store.Message{
		ConvKey:     r.ConvKey,
		MsgID:       r.MsgID,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Body:        r.Body,
		Kind:        r.Kind,
		FileName:    r.FileName,
		FileType:    r.FileType,
		FileSize:    r.FileSize,
		FileRef:     r.FileRef,
		Read:        r.Read,
		Starred:     r.Starred,
		Delivery:    store.DeliveryConfirmed,
		Timestamp:   r.Timestamp,
	}
}

// FromStoreMessage builds the wire record for an outgoing message. The local
// delivery status is deliberately not part of the wire shape.
func FromStoreMessage(m *store.Message) Record {
	participants := []string{m.SenderID, m.RecipientID}
	slices.Sort(participants)
	return Record{
		MsgID:        m.MsgID,
		SenderID:     m.SenderID,
		RecipientID:  m.RecipientID,
		Participants: participants,
		ConvKey:      m.ConvKey,
		Body:         m.Body,
		Kind:         m.Kind,
		FileName:     m.FileName,
		FileType:     m.FileType,
		FileSize:     m.FileSize,
		FileRef:      m.FileRef,
		Read:         m.Read,
		Starred:      m.Starred,
		Timestamp:    m.Timestamp,
	}
}
