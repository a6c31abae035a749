// Package audio buffers a capture stream into a single voice-note payload.
// The capture device itself is injected: opening the platform microphone is
// the UI shell's concern, the recorder only owns buffering and lifecycle.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNotRecording is returned by Stop when no recording is active.
	ErrNotRecording = errors.New("no active recording")
	// ErrEmptyRecording is returned by Stop when nothing was captured.
	// Empty payloads are dropped, never sent.
	ErrEmptyRecording = errors.New("recording captured no audio")
	// ErrNoCaptureDevice is returned when no capture source is configured.
	ErrNoCaptureDevice = errors.New("no capture device available")
)

// PCM format of the capture stream; the finalized payload is a WAV container
// around it so the attachment pipeline recognizes it as audio.
const (
	sampleRate    = 16000
	bitsPerSample = 16
	numChannels   = 1
)

// CaptureSource opens the platform capture device. Open must return an
// exclusive stream; closing the stream releases the device.
type CaptureSource interface {
	Open() (io.ReadCloser, error)
}

// Unavailable returns a source whose Open always fails. Used on hosts with
// no configured capture device: Start reports the error and the recorder
// never transitions to recording.
func Unavailable() CaptureSource {
	return sourceFunc(func() (io.ReadCloser, error) {
		return nil, ErrNoCaptureDevice
	})
}

type sourceFunc func() (io.ReadCloser, error)

func (f sourceFunc) Open() (io.ReadCloser, error) { return f() }

// Recorder buffers one capture stream at a time.
type Recorder struct {
	source CaptureSource
	logger *zap.Logger

	mu        sync.Mutex
	recording bool
	stream    io.ReadCloser
	buf       bytes.Buffer
	done      chan struct{}
}

// NewRecorder creates a recorder over the given capture source.
func NewRecorder(source CaptureSource, logger *zap.Logger) *Recorder {
	return &Recorder{source: source, logger: logger}
}

// Start acquires the capture device and begins buffering. Starting while a
// recording is already active is a no-op, not an error.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return nil
	}

	stream, err := r.source.Open()
	if err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}

	r.stream = stream
	r.recording = true
	r.buf.Reset()
	r.done = make(chan struct{})

	go r.capture(stream, r.done)
	return nil
}

// Recording reports whether a capture is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Stop finalizes the buffered audio into a single WAV payload. A stop with
// no captured data yields ErrEmptyRecording and no payload.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil, ErrNotRecording
	}
	r.release()

	if r.buf.Len() == 0 {
		return nil, ErrEmptyRecording
	}
	return wavContainer(r.buf.Bytes()), nil
}

// Close releases the capture device if a recording is active. Any buffered
// audio is discarded.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		r.release()
		r.buf.Reset()
	}
}

// release runs under r.mu: closes the stream and waits for the capture
// goroutine to drain.
func (r *Recorder) release() {
	_ = r.stream.Close()
	<-r.done
	r.stream = nil
	r.recording = false
}

// capture owns r.buf between Start and the close of done; Stop only touches
// the buffer after waiting on done.
func (r *Recorder) capture(stream io.Reader, done chan struct{}) {
	defer close(done)
	if _, err := io.Copy(&r.buf, stream); err != nil {
		r.logger.Warn("capture stream ended", zap.Error(err))
	}
}

// wavContainer wraps raw PCM in a minimal RIFF/WAVE header.
func wavContainer(pcm []byte) []byte {
	var out bytes.Buffer
	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	out.WriteString("RIFF")
	_ = binary.Write(&out, binary.LittleEndian, 36+dataLen)
	out.WriteString("WAVE")
	out.WriteString("fmt ")
	_ = binary.Write(&out, binary.LittleEndian, uint32(16))
	_ = binary.Write(&out, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&out, binary.LittleEndian, uint16(numChannels))
	_ = binary.Write(&out, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&out, binary.LittleEndian, byteRate)
	_ = binary.Write(&out, binary.LittleEndian, blockAlign)
	_ = binary.Write(&out, binary.LittleEndian, uint16(bitsPerSample))
	out.WriteString("data")
	_ = binary.Write(&out, binary.LittleEndian, dataLen)
	out.Write(pcm)
	return out.Bytes()
}
