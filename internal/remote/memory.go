package remote

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory implementation of the backend used by tests and
// the loopback driver. It assigns server timestamps on append, keeps
// creation-time order, and redelivers records on field updates (so read and
// starred flags propagate like live updates from the hosted store).
type Memory struct {
	mu      sync.Mutex
	lastTS  int64
	records []Record
	index   map[string]int
	subs    map[int]*memorySub
	nextID  int

	appendErr error
}

// NewMemory creates an empty in-memory message store.
func NewMemory() *Memory {
	return &Memory{
		index: make(map[string]int),
		subs:  make(map[int]*memorySub),
	}
}

// FailAppends makes subsequent Append calls return err. Pass nil to restore.
func (m *Memory) FailAppends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

// Append persists the record under its client-chosen id. The server assigns
// the creation timestamp, strictly increasing. Re-appending an existing id
// keeps the original record (idempotent).
func (m *Memory) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return m.appendErr
	}
	if _, ok := m.index[rec.MsgID]; ok {
		return nil
	}

	ts := time.Now().UnixMilli()
	if ts <= m.lastTS {
		ts = m.lastTS + 1
	}
	m.lastTS = ts
	rec.Timestamp = ts

	m.index[rec.MsgID] = len(m.records)
	m.records = append(m.records, rec)
	m.broadcast(rec)
	return nil
}

// SetFields applies a field-level update and redelivers the updated record.
func (m *Memory) SetFields(_ context.Context, msgID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[msgID]
	if !ok {
		return fmt.Errorf("record %q not found", msgID)
	}
	rec := m.records[i]
	for k, v := range fields {
		switch k {
		case "read":
			if b, ok := v.(bool); ok {
				rec.Read = b
			}
		case "starred":
			if b, ok := v.(bool); ok {
				rec.Starred = b
			}
		default:
			return fmt.Errorf("field %q is not updatable", k)
		}
	}
	m.records[i] = rec
	m.broadcast(rec)
	return nil
}

// Subscribe delivers the matching backlog in creation-time order, then live
// updates, on a dedicated goroutine.
func (m *Memory) Subscribe(ctx context.Context, participants []string, deliver func(Record), onError func(error)) (Subscription, error) {
	m.mu.Lock()
	var backlog []Record
	for _, rec := range m.records {
		if containsAll(rec.Participants, participants) {
			backlog = append(backlog, rec)
		}
	}
	sub := &memorySub{
		participants: slices.Clone(participants),
		ch:           make(chan Record, 256),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		defer close(sub.stopped)
		defer func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		}()
		for _, rec := range backlog {
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			default:
				deliver(rec)
			}
		}
		for {
			select {
			case rec := <-sub.ch:
				deliver(rec)
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// broadcast runs under m.mu. Sends are non-blocking: a deliver callback is
// allowed to call back into the store (read-marking does), so blocking here
// while holding the lock would deadlock.
func (m *Memory) broadcast(rec Record) {
	for _, sub := range m.subs {
		if containsAll(rec.Participants, sub.participants) {
			select {
			case sub.ch <- rec:
			default:
			}
		}
	}
}

type memorySub struct {
	participants []string
	ch           chan Record
	done         chan struct{}
	stopped      chan struct{}
	once         sync.Once
}

// Cancel stops the delivery goroutine and waits for it to exit, so no
// delivery can land after Cancel returns.
func (s *memorySub) Cancel() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

func containsAll(set, wanted []string) bool {
	for _, w := range wanted {
		if !slices.Contains(set, w) {
			return false
		}
	}
	return true
}

// MemoryDirectory is an in-memory contact feed.
type MemoryDirectory struct {
	mu       sync.Mutex
	contacts []Contact
	subs     map[int]*dirSub
	nextID   int
}

// NewMemoryDirectory creates a directory seeded with the given contacts.
func NewMemoryDirectory(contacts []Contact) *MemoryDirectory {
	return &MemoryDirectory{
		contacts: slices.Clone(contacts),
		subs:     make(map[int]*dirSub),
	}
}

// SetContacts replaces the directory contents and notifies subscribers.
func (d *MemoryDirectory) SetContacts(contacts []Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts = slices.Clone(contacts)
	for _, sub := range d.subs {
		select {
		case sub.ch <- slices.Clone(d.contacts):
		default:
		}
	}
}

// Subscribe delivers the current contact set, then every refresh.
func (d *MemoryDirectory) Subscribe(ctx context.Context, deliver func([]Contact), _ func(error)) (Subscription, error) {
	d.mu.Lock()
	sub := &dirSub{
		ch:      make(chan []Contact, 16),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	id := d.nextID
	d.nextID++
	d.subs[id] = sub
	snapshot := slices.Clone(d.contacts)
	d.mu.Unlock()

	go func() {
		defer close(sub.stopped)
		defer func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		}()
		deliver(snapshot)
		for {
			select {
			case contacts := <-sub.ch:
				deliver(contacts)
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

type dirSub struct {
	ch      chan []Contact
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (s *dirSub) Cancel() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

// MemoryBlobs is an in-memory blob upload service.
type MemoryBlobs struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	uploadErr error
}

// NewMemoryBlobs creates an empty in-memory blob store.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string][]byte)}
}

// FailUploads makes subsequent Upload calls return err. Pass nil to restore.
func (b *MemoryBlobs) FailUploads(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploadErr = err
}

// Upload stores the payload and returns a durable reference, reporting
// progress in chunks.
func (b *MemoryBlobs) Upload(ctx context.Context, name string, payload []byte, progress func(done, total int64)) (string, error) {
	b.mu.Lock()
	err := b.uploadErr
	b.mu.Unlock()
	if err != nil {
		return "", err
	}

	total := int64(len(payload))
	const chunk = 256 << 10
	for done := int64(0); done < total; done += chunk {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if progress != nil {
			progress(min(done+chunk, total), total)
		}
	}
	if progress != nil {
		progress(total, total)
	}

	ref := "mem://" + uuid.New().String() + "/" + name
	b.mu.Lock()
	b.blobs[ref] = slices.Clone(payload)
	b.mu.Unlock()
	return ref, nil
}

// Get returns an uploaded payload by reference.
func (b *MemoryBlobs) Get(ref string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.blobs[ref]
	return p, ok
}
