package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single envelope. Exports and command payloads
// are JSON-safe values, not blobs, so 4 MiB is generous.
const MaxFrameSize = 4 * 1024 * 1024

// Codec frames messages as newline-delimited JSON over a byte stream.
// Writes are serialized; reads are expected from a single loop, which
// preserves the per-direction FIFO guarantee.
type Codec struct {
	r  *bufio.Reader
	w  io.Writer
	mu sync.Mutex // Protects w
}

// NewCodec wraps a reader/writer pair.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{
		r: bufio.NewReaderSize(r, 64*1024),
		w: w,
	}
}

// Encode writes one envelope followed by a newline.
func (c *Codec) Encode(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("encode message: frame of %d bytes exceeds limit", len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decode reads the next envelope. Returns io.EOF when the peer closed
// its end of the stream.
func (c *Codec) Decode() (*Message, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}
	return &msg, nil
}

func (c *Codec) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := c.r.ReadLine()
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > MaxFrameSize {
			return nil, fmt.Errorf("read frame: exceeds %d byte limit", MaxFrameSize)
		}
		if !isPrefix {
			break
		}
	}
	if len(buf) == 0 {
		// Tolerate blank lines between frames.
		return c.readLine()
	}
	return buf, nil
}
