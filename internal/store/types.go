package store

import "strings"

// Delivery states for a locally known message. Delivery is local bookkeeping
// and never reaches the remote store.
const (
	DeliveryPending   = "pending"
	DeliveryConfirmed = "confirmed"
	DeliveryFailed    = "failed"
)

// Message kinds.
const (
	KindText = "text"
	KindFile = "file"
)

// Pending-write ledger states.
const (
	WriteQueued    = "queued"
	WriteConfirmed = "confirmed"
	WriteFailed    = "failed"
)

// Contact is a directory entry plus its cached conversation summary.
type Contact struct {
	ID            string
	DisplayName   string
	Role          string
	IsSelf        bool
	Preview       string
	LastMessageAt int64
	Unread        int
}

// Message is the unit of record in the local view. MsgID is chosen by the
// sender before persistence, so the optimistic copy and the confirmed copy
// share an identity and collapse into one row.
type Message struct {
	RowID       int64
	ConvKey     string
	MsgID       string
	SenderID    string
	RecipientID string
	Body        string
	Kind        string
	FileName    string
	FileType    string
	FileSize    int64
	FileRef     string
	Read        bool
	Starred     bool
	Delivery    string
	Timestamp   int64
}

// PendingWrite is one row of the optimistic-send ledger.
type PendingWrite struct {
	ID      int64
	MsgID   string
	ConvKey string
	Status  string
	Error   string
}

// ConversationKey returns the canonical key for the two-party thread between
// a and b: the ids sorted lexicographically and joined, so either participant
// computes the same key without coordination.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Preview returns the summary line for a message.
func (m *Message) Preview() string {
	if m.Kind == KindFile {
		return "[file] " + m.FileName
	}
	return truncate(strings.ReplaceAll(m.Body, "\n", " "), 100)
}

// Other returns the participant that is not self.
func (m *Message) Other(selfID string) string {
	if m.SenderID == selfID {
		return m.RecipientID
	}
	return m.SenderID
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
