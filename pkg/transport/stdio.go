package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
	"github.com/mcpwire/mcpwire/pkg/protocol"
)

// flusher is implemented by buffered writers that must be drained
// before a send is considered delivered.
type flusher interface {
	Flush() error
}

// stdioTransport frames messages as newline-terminated JSON over a raw
// duplex byte channel, by default the process's own stdin/stdout.
type stdioTransport struct {
	baseTransport

	reader io.Reader
	writer io.Writer

	// writeMu serializes writes so two sequential sends keep wire order.
	writeMu sync.Mutex

	buf        readBuffer
	chunkSize  int
	cancelRead context.CancelFunc
	group      *errgroup.Group
}

func newStdioTransport(config TransportConfig) (*stdioTransport, error) {
	reader := config.StdioReader
	if reader == nil {
		reader = os.Stdin
	}
	writer := config.StdioWriter
	if writer == nil {
		writer = os.Stdout
	}
	chunkSize := config.Performance.BufferSize
	if chunkSize <= 0 {
		chunkSize = 8192
	}

	return &stdioTransport{
		baseTransport: newBaseTransport("stdio", config.Logger),
		reader:        reader,
		writer:        writer,
		chunkSize:     chunkSize,
	}, nil
}

func (t *stdioTransport) Start(ctx context.Context) error {
	if err := t.markStarted(); err != nil {
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	t.cancelRead = cancel

	group, readCtx := errgroup.WithContext(readCtx)
	t.group = group
	group.Go(func() error {
		return t.readLoop(readCtx)
	})

	t.logger.Debug("stdio transport started")
	return nil
}

// readLoop pulls raw chunks from the reader and drains every complete
// frame out of the buffer after each chunk, preserving arrival order.
func (t *stdioTransport) readLoop(ctx context.Context) error {
	chunk := make([]byte, t.chunkSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := t.reader.Read(chunk)
		if n > 0 {
			t.buf.Append(chunk[:n])
			t.drainBuffer()
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				t.logger.Debug("stdio stream ended")
			} else if !t.isClosed() && ctx.Err() == nil {
				t.deliverError(mcperrors.ConnectionLost("stdio", err))
			}
			_ = t.Close()
			return nil
		}
	}
}

// drainBuffer delivers buffered frames until the buffer runs dry or a
// malformed frame is hit. On a parse failure the remaining buffered
// frames wait for the next chunk; the stream itself stays open.
func (t *stdioTransport) drainBuffer() {
	for {
		msg, err := t.buf.ReadMessage()
		if err != nil {
			t.deliverError(mcperrors.ParseError(err))
			return
		}
		if msg == nil {
			return
		}
		t.deliverMessage(msg)
	}
}

func (t *stdioTransport) Send(ctx context.Context, msg protocol.Message) error {
	if err := t.checkSendable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return mcperrors.Internal(err.Error())
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(data); err != nil {
		return mcperrors.TransportError("stdio", "send", err)
	}
	if f, ok := t.writer.(flusher); ok {
		if err := f.Flush(); err != nil {
			return mcperrors.TransportError("stdio", "flush", err)
		}
	}
	return nil
}

func (t *stdioTransport) Close() error {
	if !t.markClosed() {
		return nil
	}

	if t.cancelRead != nil {
		t.cancelRead()
	}
	if c, ok := t.reader.(io.Closer); ok && t.reader != os.Stdin {
		_ = c.Close()
	}
	if c, ok := t.writer.(io.Closer); ok && t.writer != os.Stdout {
		_ = c.Close()
	}

	t.logger.Debug("stdio transport closed")
	t.fireClose()
	return nil
}

// SessionID always returns "": stdio has no session concept.
func (t *stdioTransport) SessionID() string { return "" }

var _ Transport = (*stdioTransport)(nil)
