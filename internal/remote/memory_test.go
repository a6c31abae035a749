package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/caioluis/courier/internal/store"
)

func textRecord(msgID, from, to, body string) Record {
	return Record{
		MsgID:        msgID,
		SenderID:     from,
		RecipientID:  to,
		Participants: []string{from, to},
		ConvKey:      store.ConversationKey(from, to),
		Body:         body,
		Kind:         store.KindText,
	}
}

// collector gathers delivered records behind a mutex so the test goroutine
// can inspect them.
type collector struct {
	mu   sync.Mutex
	recs []Record
}

func (c *collector) deliver(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *collector) snapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.recs...)
}

func (c *collector) waitFor(t *testing.T, n int) []Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recs := c.snapshot(); len(recs) >= n {
			return recs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d records, have %d", n, len(c.snapshot()))
	return nil
}

func TestAppendAssignsMonotonicTimestamps(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Append(ctx, textRecord("m1", "u1", "u2", "one")); err != nil {
		t.Fatal(err)
	}
	if err := m.Append(ctx, textRecord("m2", "u1", "u2", "two")); err != nil {
		t.Fatal(err)
	}

	var c collector
	sub, err := m.Subscribe(ctx, []string{"u1", "u2"}, c.deliver, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	recs := c.waitFor(t, 2)
	if recs[0].Timestamp <= 0 {
		t.Error("server timestamp not assigned")
	}
	if recs[1].Timestamp <= recs[0].Timestamp {
		t.Errorf("timestamps %d, %d not strictly increasing", recs[0].Timestamp, recs[1].Timestamp)
	}
}

func TestAppendIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := textRecord("m1", "u1", "u2", "original")
	if err := m.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Body = "changed"
	if err := m.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}

	var c collector
	sub, err := m.Subscribe(ctx, []string{"u1", "u2"}, c.deliver, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	recs := c.waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)
	recs = c.snapshot()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1 (re-append is a no-op)", len(recs))
	}
	if recs[0].Body != "original" {
		t.Errorf("body = %q, want original kept", recs[0].Body)
	}
}

func TestSubscribeFiltersByParticipants(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Append(ctx, textRecord("m1", "u1", "u2", "ours")); err != nil {
		t.Fatal(err)
	}
	if err := m.Append(ctx, textRecord("m2", "u1", "u3", "other thread")); err != nil {
		t.Fatal(err)
	}

	var c collector
	sub, err := m.Subscribe(ctx, []string{"u1", "u2"}, c.deliver, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	recs := c.waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)
	recs = c.snapshot()
	if len(recs) != 1 || recs[0].MsgID != "m1" {
		t.Errorf("got %v, want only m1", recs)
	}
}

func TestSubscribeBacklogThenLive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Append(ctx, textRecord("m1", "u1", "u2", "backlog")); err != nil {
		t.Fatal(err)
	}

	var c collector
	sub, err := m.Subscribe(ctx, []string{"u1", "u2"}, c.deliver, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	c.waitFor(t, 1)

	if err := m.Append(ctx, textRecord("m2", "u1", "u2", "live")); err != nil {
		t.Fatal(err)
	}

	recs := c.waitFor(t, 2)
	if recs[0].MsgID != "m1" || recs[1].MsgID != "m2" {
		t.Errorf("order = %v, want backlog then live", recs)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var c collector
	sub, err := m.Subscribe(ctx, []string{"u1", "u2"}, c.deliver, nil)
	if err != nil {
		t.Fatal(err)
	}
	sub.Cancel()
	// Cancel twice is safe.
	sub.Cancel()

	if err := m.Append(ctx, textRecord("m1", "u1", "u2", "late")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("got %d records after cancel, want 0", len(got))
	}
}

func TestSetFieldsRedelivers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Append(ctx, textRecord("m1", "u1", "u2", "hi")); err != nil {
		t.Fatal(err)
	}

	var c collector
	sub, err := m.Subscribe(ctx, []string{"u1", "u2"}, c.deliver, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	c.waitFor(t, 1)

	if err := m.SetFields(ctx, "m1", map[string]any{"read": true}); err != nil {
		t.Fatal(err)
	}

	recs := c.waitFor(t, 2)
	if !recs[1].Read {
		t.Error("redelivered record not marked read")
	}
}

func TestSetFieldsRejectsUnknown(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Append(ctx, textRecord("m1", "u1", "u2", "hi")); err != nil {
		t.Fatal(err)
	}
	if err := m.SetFields(ctx, "m1", map[string]any{"body": "edited"}); err == nil {
		t.Error("SetFields should reject non-flag fields")
	}
	if err := m.SetFields(ctx, "missing", map[string]any{"read": true}); err == nil {
		t.Error("SetFields should fail for unknown id")
	}
}

func TestFailAppends(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	boom := errors.New("store unavailable")
	m.FailAppends(boom)
	if err := m.Append(ctx, textRecord("m1", "u1", "u2", "hi")); !errors.Is(err, boom) {
		t.Errorf("err = %v, want injected failure", err)
	}

	m.FailAppends(nil)
	if err := m.Append(ctx, textRecord("m1", "u1", "u2", "hi")); err != nil {
		t.Errorf("err = %v after restore, want nil", err)
	}
}

func TestMemoryDirectorySnapshotThenRefresh(t *testing.T) {
	d := NewMemoryDirectory([]Contact{{ID: "u2", DisplayName: "Bruno"}})

	var mu sync.Mutex
	var updates [][]Contact
	sub, err := d.Subscribe(context.Background(), func(cs []Contact) {
		mu.Lock()
		updates = append(updates, cs)
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(updates)
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}

	d.SetContacts([]Contact{{ID: "u2"}, {ID: "u3"}})

	for {
		mu.Lock()
		n := len(updates)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for refresh")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates[0]) != 1 || updates[0][0].ID != "u2" {
		t.Errorf("snapshot = %v, want seeded contact", updates[0])
	}
	if len(updates[1]) != 2 {
		t.Errorf("refresh = %v, want 2 contacts", updates[1])
	}
}

func TestMemoryBlobsUploadAndProgress(t *testing.T) {
	b := NewMemoryBlobs()
	payload := make([]byte, 600<<10)

	var mu sync.Mutex
	var final int64
	ref, err := b.Upload(context.Background(), "big.bin", payload, func(done, total int64) {
		mu.Lock()
		defer mu.Unlock()
		if done > total {
			t.Errorf("progress done %d > total %d", done, total)
		}
		final = done
	})
	if err != nil {
		t.Fatal(err)
	}
	if ref == "" {
		t.Fatal("empty blob reference")
	}
	mu.Lock()
	if final != int64(len(payload)) {
		t.Errorf("final progress = %d, want %d", final, len(payload))
	}
	mu.Unlock()

	got, ok := b.Get(ref)
	if !ok || len(got) != len(payload) {
		t.Errorf("Get(%q) = %d bytes, %v; want full payload", ref, len(got), ok)
	}
}

func TestMemoryBlobsFailUploads(t *testing.T) {
	b := NewMemoryBlobs()
	boom := errors.New("upload refused")
	b.FailUploads(boom)

	if _, err := b.Upload(context.Background(), "f", []byte("x"), nil); !errors.Is(err, boom) {
		t.Errorf("err = %v, want injected failure", err)
	}
}
