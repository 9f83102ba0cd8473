package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/sahilkv/acpbridge/errors"
)

// LineReader splits an incoming byte stream into complete, trimmed,
// non-empty line records. Partial lines spanning read boundaries are
// buffered until a terminating newline arrives; trailing bytes with no
// newline at stream end are discarded, never surfaced as a record.
type LineReader struct {
	r   io.Reader
	buf []byte
	err error
}

// NewLineReader creates a LineReader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r}
}

// ReadLine returns the next complete line with surrounding whitespace
// trimmed. Empty lines are skipped. It returns io.EOF once the stream is
// exhausted.
func (lr *LineReader) ReadLine() ([]byte, error) {
	for {
		if i := bytes.IndexByte(lr.buf, '\n'); i >= 0 {
			line := bytes.TrimSpace(lr.buf[:i])
			lr.buf = lr.buf[i+1:]
			if len(line) == 0 {
				continue
			}
			out := make([]byte, len(line))
			copy(out, line)
			return out, nil
		}
		if lr.err != nil {
			// Unterminated tail is dropped by design.
			lr.buf = nil
			return nil, lr.err
		}
		chunk := make([]byte, 4096)
		n, err := lr.r.Read(chunk)
		if n > 0 {
			lr.buf = append(lr.buf, chunk[:n]...)
		}
		if err != nil {
			lr.err = err
		}
	}
}

// Writer serializes one JSON value per line. Each message is written
// atomically relative to other writers on the same side: the payload and
// its terminating newline never interleave with another message's bytes.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteJSON marshals v, appends exactly one newline and flushes.
func (w *Writer) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize message")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	// The newline tells the peer the message is complete.
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}
