package audio

import (
	"io"
	"os"
)

// FileSource reads capture data from a file or FIFO, typically a platform
// capture helper writing raw PCM to a pipe. Used where no native capture
// integration exists.
type FileSource struct {
	Path string
}

// Open opens the configured path for reading.
func (s FileSource) Open() (io.ReadCloser, error) {
	return os.Open(s.Path)
}
