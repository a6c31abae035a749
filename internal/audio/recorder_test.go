package audio

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"go.uber.org/zap"
)

// pipeSource hands out the read side of an io.Pipe; the test writes captured
// "PCM" into the write side.
type pipeSource struct {
	r *io.PipeReader
}

func newPipeSource() (*pipeSource, *io.PipeWriter) {
	r, w := io.Pipe()
	return &pipeSource{r: r}, w
}

func (s *pipeSource) Open() (io.ReadCloser, error) { return s.r, nil }

func TestStartStopProducesWAV(t *testing.T) {
	src, w := newPipeSource()
	r := NewRecorder(src, zap.NewNop())

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if !r.Recording() {
		t.Fatal("Recording() = false after Start")
	}

	pcm := bytes.Repeat([]byte{0x01, 0x02}, 100)
	if _, err := w.Write(pcm); err != nil {
		t.Fatal(err)
	}
	_ = w.Close()

	payload, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if r.Recording() {
		t.Error("Recording() = true after Stop")
	}

	if !bytes.HasPrefix(payload, []byte("RIFF")) {
		t.Errorf("payload starts with %q, want RIFF header", payload[:4])
	}
	if !bytes.Contains(payload[:12], []byte("WAVE")) {
		t.Error("payload missing WAVE marker")
	}
	if !bytes.HasSuffix(payload, pcm) {
		t.Error("captured PCM not carried in container")
	}
}

func TestStartWhileRecordingIsNoOp(t *testing.T) {
	src, w := newPipeSource()
	r := NewRecorder(src, zap.NewNop())

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	// A second start neither errors nor restarts the capture.
	if err := r.Start(); err != nil {
		t.Errorf("second Start() error = %v, want nil", err)
	}

	if _, err := w.Write([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	_ = w.Close()

	if _, err := r.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	r := NewRecorder(Unavailable(), zap.NewNop())
	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("err = %v, want ErrNotRecording", err)
	}
}

// An empty recording is dropped: the caller gets an error, never a payload.
func TestEmptyRecordingIsDropped(t *testing.T) {
	src, w := newPipeSource()
	r := NewRecorder(src, zap.NewNop())

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	_ = w.Close()

	payload, err := r.Stop()
	if !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("err = %v, want ErrEmptyRecording", err)
	}
	if payload != nil {
		t.Error("payload should be nil for empty recording")
	}
}

// A denied capture device leaves the recorder idle; it never transitions to
// recording.
func TestUnavailableDeviceFailsStart(t *testing.T) {
	r := NewRecorder(Unavailable(), zap.NewNop())

	err := r.Start()
	if !errors.Is(err, ErrNoCaptureDevice) {
		t.Fatalf("err = %v, want ErrNoCaptureDevice", err)
	}
	if r.Recording() {
		t.Error("Recording() = true after failed Start")
	}
}

func TestCloseReleasesDevice(t *testing.T) {
	src, w := newPipeSource()
	r := NewRecorder(src, zap.NewNop())

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	_ = w.Close()

	r.Close()
	if r.Recording() {
		t.Error("Recording() = true after Close")
	}
	// Buffered audio was discarded.
	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("err = %v, want ErrNotRecording after Close", err)
	}
}

func TestWAVHeaderFormat(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	out := wavContainer(pcm)

	if len(out) != 44+len(pcm) {
		t.Fatalf("container length = %d, want %d", len(out), 44+len(pcm))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if string(out[12:16]) != "fmt " || string(out[36:40]) != "data" {
		t.Error("missing fmt/data chunks")
	}
	// Mono, 16 kHz.
	if out[22] != 1 {
		t.Errorf("channels = %d, want 1", out[22])
	}
	rate := uint32(out[24]) | uint32(out[25])<<8 | uint32(out[26])<<16 | uint32(out[27])<<24
	if rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
}
