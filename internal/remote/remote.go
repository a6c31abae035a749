// Package remote is the boundary to the hosted backend: the ordered-append
// message collection, the blob upload service, and the contact directory.
// The engine treats the message collection as at-least-once delivery and
// dedupes on the client-chosen message identifier.
package remote

import "context"

// Identity is the current user, as supplied by the identity collaborator.
type Identity struct {
	ID          string
	DisplayName string
}

// Contact is a directory entry eligible for messaging.
type Contact struct {
	ID          string
	DisplayName string
	Role        string
	IsSelf      bool
}

// Subscription is an owned handle to a live feed. Cancel stops deliveries
// before it returns and is safe to call more than once.
type Subscription interface {
	Cancel()
}

// MessageStore is the ordered-append primitive of the hosted backend.
type MessageStore interface {
	// Append persists a record under its client-chosen identifier. Appending
	// the same identifier twice is a no-op, which is what makes retried
	// writes safe against an at-least-once store.
	Append(ctx context.Context, rec Record) error

	// Subscribe delivers, in creation-time order, every record whose
	// participant set contains all of participants, then live updates.
	// deliver runs on the subscription's own goroutine; onError reports a
	// broken feed (the subscription is dead once onError fires).
	Subscribe(ctx context.Context, participants []string, deliver func(Record), onError func(error)) (Subscription, error)

	// SetFields applies a field-level update (read flag, starred flag) to
	// the record with the given identifier.
	SetFields(ctx context.Context, msgID string, fields map[string]any) error
}

// BlobStore uploads binary payloads and returns durable references.
type BlobStore interface {
	Upload(ctx context.Context, name string, payload []byte, progress func(done, total int64)) (ref string, err error)
}

// Directory streams the set of contacts the current user may message.
type Directory interface {
	Subscribe(ctx context.Context, deliver func([]Contact), onError func(error)) (Subscription, error)
}
