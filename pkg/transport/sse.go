package transport

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// sseEvent is one complete server-sent event.
type sseEvent struct {
	// name is the event type; "" when the stream omitted it.
	name string
	// id is the event id; hasID distinguishes "id:" from no id line.
	id    string
	hasID bool
	// data is the concatenation of all data lines, joined by newlines.
	data string
}

// sseParser incrementally decodes a text/event-stream byte sequence.
// Bytes may be fed in arbitrary chunks; a completed event is handed to
// the dispatch callback only once its terminating blank line arrives.
// Owned by a single stream reader, never used concurrently.
type sseParser struct {
	dispatch func(evt sseEvent)

	buf   bytes.Buffer
	name  string
	id    string
	hasID bool
	data  []string
}

func newSSEParser(dispatch func(evt sseEvent)) *sseParser {
	return &sseParser{dispatch: dispatch}
}

// Feed consumes the next chunk of the stream.
func (p *sseParser) Feed(chunk []byte) {
	p.buf.Write(chunk)
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return
		}
		line := string(bytes.TrimSuffix(data[:idx], []byte{'\r'}))
		p.buf.Next(idx + 1)
		p.processLine(line)
	}
}

func (p *sseParser) processLine(line string) {
	if line == "" {
		p.dispatchPending()
		return
	}
	if strings.HasPrefix(line, ":") {
		// comment line, commonly used as a keep-alive
		return
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		p.name = value
	case "id":
		p.id = value
		p.hasID = true
	case "data":
		p.data = append(p.data, value)
	default:
		// unrecognized fields are ignored per the SSE spec
	}
}

// dispatchPending emits the accumulated event, if any, and resets the
// per-event state.
func (p *sseParser) dispatchPending() {
	if p.name == "" && !p.hasID && len(p.data) == 0 {
		return
	}
	evt := sseEvent{
		name:  p.name,
		id:    p.id,
		hasID: p.hasID,
		data:  strings.Join(p.data, "\n"),
	}
	p.name = ""
	p.id = ""
	p.hasID = false
	p.data = nil

	p.dispatch(evt)
}

// consumeSSEStream feeds an entire response body through the parser
// until EOF or a read error. It returns nil on clean EOF.
func consumeSSEStream(body io.Reader, parser *sseParser) error {
	chunk := make([]byte, 4096)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			parser.Feed(chunk[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// writeSSEEvent formats one event in wire form. An empty name omits the
// event line, which readers interpret as the default "message" type.
func writeSSEEvent(w io.Writer, name, data string) error {
	var sb strings.Builder
	if name != "" {
		fmt.Fprintf(&sb, "event: %s\n", name)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&sb, "data: %s\n", line)
	}
	sb.WriteByte('\n')

	_, err := io.WriteString(w, sb.String())
	return err
}
