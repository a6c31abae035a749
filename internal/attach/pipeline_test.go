package attach

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/caioluis/courier/internal/bus"
	"github.com/caioluis/courier/internal/config"
	"github.com/caioluis/courier/internal/outbox"
	"github.com/caioluis/courier/internal/remote"
	"github.com/caioluis/courier/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixture struct {
	pipeline *Pipeline
	db       *store.DB
	blobs    *remote.MemoryBlobs
	bus      *bus.Bus
}

func testFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	mem := remote.NewMemory()
	blobs := remote.NewMemoryBlobs()
	b := bus.New()
	identity := remote.Identity{ID: "u1"}
	logger := zap.NewNop()

	ob := outbox.NewPipeline(db, mem, b, identity, logger)
	ctx, cancel := context.WithCancel(context.Background())
	ob.Start(ctx)
	t.Cleanup(func() { cancel(); ob.Stop() })

	p := NewPipeline(db, blobs, ob, b, identity, config.Default().Attachment, logger)
	return &fixture{pipeline: p, db: db, blobs: blobs, bus: b}
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

// pdfPayload returns a minimal payload that sniffs as application/pdf.
func pdfPayload(size int) []byte {
	p := make([]byte, size)
	copy(p, "%PDF-1.4\n")
	return p
}

// zipPayload sniffs as application/zip, which is not on the default allow-list.
func zipPayload() []byte {
	return []byte{'P', 'K', 0x03, 0x04, 0x14, 0x00, 0x00, 0x00, 0x00, 0x00}
}

func TestSendRejectsOversizedBeforeUpload(t *testing.T) {
	f := testFixture(t)

	payload := pdfPayload(int(config.DefaultMaxAttachmentBytes) + 1)
	_, err := f.pipeline.Send(context.Background(), "u2", "big.pdf", payload)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}

	// Rejection happens before anything is staged or uploaded.
	msgs, _ := f.db.ListMessages("u1:u2")
	if len(msgs) != 0 {
		t.Errorf("got %d staged messages, want 0", len(msgs))
	}
}

func TestSendRejectsDisallowedType(t *testing.T) {
	f := testFixture(t)

	_, err := f.pipeline.Send(context.Background(), "u2", "archive.zip", zipPayload())
	if !errors.Is(err, ErrTypeNotAllowed) {
		t.Fatalf("err = %v, want ErrTypeNotAllowed", err)
	}
}

func TestSendRejectsEmptyPayload(t *testing.T) {
	f := testFixture(t)

	_, err := f.pipeline.Send(context.Background(), "u2", "empty.bin", nil)
	if !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("err = %v, want ErrEmptyPayload", err)
	}
}

func TestSendUploadsAndConfirms(t *testing.T) {
	f := testFixture(t)
	ch, unsub := f.bus.Subscribe("message.", 32)
	defer unsub()

	msgID, err := f.pipeline.Send(context.Background(), "u2", "plan.pdf", pdfPayload(1024))
	if err != nil {
		t.Fatal(err)
	}

	// The file message is visible immediately, before the upload finishes.
	m, err := f.db.GetMessage(msgID)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Kind != store.KindFile || m.FileName != "plan.pdf" {
		t.Fatalf("staged entry = %+v, want file plan.pdf", m)
	}
	if m.FileType != "application/pdf" {
		t.Errorf("file type = %q, want application/pdf (sniffed, not from extension)", m.FileType)
	}

	waitEvent(t, ch, "message.send_ack")

	m, _ = f.db.GetMessage(msgID)
	if m.Delivery != store.DeliveryConfirmed {
		t.Errorf("delivery = %q, want confirmed", m.Delivery)
	}
	if m.FileRef == "" {
		t.Error("file ref not recorded after upload")
	}
	if _, ok := f.blobs.Get(m.FileRef); !ok {
		t.Errorf("blob %q not in store", m.FileRef)
	}
}

func TestSendReportsProgress(t *testing.T) {
	f := testFixture(t)
	ch, unsub := f.bus.Subscribe("attach.progress", 64)
	defer unsub()

	msgID, err := f.pipeline.Send(context.Background(), "u2", "big.pdf", pdfPayload(600<<10))
	if err != nil {
		t.Fatal(err)
	}

	evt := waitEvent(t, ch, "attach.progress")
	prog, ok := evt.Payload.(Progress)
	if !ok {
		t.Fatalf("payload type = %T, want Progress", evt.Payload)
	}
	if prog.MsgID != msgID {
		t.Errorf("progress msg id = %q, want %q", prog.MsgID, msgID)
	}
	if prog.Total != 600<<10 {
		t.Errorf("progress total = %d, want %d", prog.Total, 600<<10)
	}
}

// TestUploadFailureFlipsEntryToFailed: the placeholder stays in view as
// failed, and no blob reference is ever attached.
func TestUploadFailureFlipsEntryToFailed(t *testing.T) {
	f := testFixture(t)
	ch, unsub := f.bus.Subscribe("message.", 32)
	defer unsub()

	f.blobs.FailUploads(errors.New("upload refused"))

	msgID, err := f.pipeline.Send(context.Background(), "u2", "plan.pdf", pdfPayload(1024))
	if err != nil {
		t.Fatal(err)
	}

	waitEvent(t, ch, "message.send_failed")

	m, err := f.db.GetMessage(msgID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Delivery != store.DeliveryFailed {
		t.Errorf("delivery = %q, want failed", m.Delivery)
	}
	if m.FileRef != "" {
		t.Errorf("file ref = %q, want empty after failed upload", m.FileRef)
	}
}

func TestValidatePreflight(t *testing.T) {
	f := testFixture(t)

	if err := f.pipeline.Validate(pdfPayload(1024)); err != nil {
		t.Errorf("Validate(pdf) error = %v, want nil", err)
	}
	if err := f.pipeline.Validate(zipPayload()); !errors.Is(err, ErrTypeNotAllowed) {
		t.Errorf("Validate(zip) error = %v, want ErrTypeNotAllowed", err)
	}
}

func TestAllowedTextPayload(t *testing.T) {
	f := testFixture(t)

	// Plain text sniffs with a charset parameter; matching strips it.
	if err := f.pipeline.Validate([]byte("meeting notes\nitem one\n")); err != nil {
		t.Errorf("Validate(text) error = %v, want nil", err)
	}
}
