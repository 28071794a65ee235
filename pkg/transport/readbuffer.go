package transport

import (
	"bytes"

	"github.com/mcpwire/mcpwire/pkg/protocol"
)

// readBuffer accumulates raw bytes from a stream and extracts
// newline-terminated JSON-RPC frames. Frames may arrive split across
// any number of appends or packed several to a chunk; extraction order
// always matches arrival order. Not safe for concurrent use; each
// transport instance owns exactly one.
type readBuffer struct {
	buf bytes.Buffer
}

// Append adds raw bytes to the buffer.
func (rb *readBuffer) Append(data []byte) {
	rb.buf.Write(data)
}

// ReadMessage extracts and parses the next complete frame. It returns
// (nil, nil) when no full line is buffered yet. A malformed frame is
// consumed from the buffer and its parse error returned; subsequent
// frames remain readable.
func (rb *readBuffer) ReadMessage() (protocol.Message, error) {
	for {
		line, ok := rb.nextLine()
		if !ok {
			return nil, nil
		}
		if len(line) == 0 {
			continue
		}
		return protocol.ParseMessage(line)
	}
}

// nextLine removes the next newline-terminated line from the buffer,
// without the terminator. A trailing \r is stripped.
func (rb *readBuffer) nextLine() ([]byte, bool) {
	data := rb.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return nil, false
	}
	line := make([]byte, idx)
	copy(line, data[:idx])
	rb.buf.Next(idx + 1)
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, true
}

// Len reports the number of buffered bytes awaiting a frame boundary.
func (rb *readBuffer) Len() int {
	return rb.buf.Len()
}

// Clear discards all buffered bytes.
func (rb *readBuffer) Clear() {
	rb.buf.Reset()
}
