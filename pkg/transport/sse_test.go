package transport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(chunks ...string) []sseEvent {
	var events []sseEvent
	p := newSSEParser(func(evt sseEvent) {
		events = append(events, evt)
	})
	for _, chunk := range chunks {
		p.Feed([]byte(chunk))
	}
	return events
}

func TestSSEParserSimpleEvent(t *testing.T) {
	events := collectEvents("event: message\nid: 7\ndata: {\"x\":1}\n\n")

	require.Len(t, events, 1)
	assert.Equal(t, "message", events[0].name)
	assert.Equal(t, "7", events[0].id)
	assert.True(t, events[0].hasID)
	assert.Equal(t, `{"x":1}`, events[0].data)
}

func TestSSEParserMultiLineDataConcatenatesInOrder(t *testing.T) {
	events := collectEvents("data: first\ndata: second\ndata: third\n\n")

	require.Len(t, events, 1)
	assert.Equal(t, "first\nsecond\nthird", events[0].data)
}

func TestSSEParserNoDispatchWithoutBlankLine(t *testing.T) {
	events := collectEvents("event: message\ndata: pending\n")
	assert.Empty(t, events)

	// The terminating blank line completes it.
	events = collectEvents("event: message\ndata: pending\n", "\n")
	require.Len(t, events, 1)
	assert.Equal(t, "pending", events[0].data)
}

func TestSSEParserChunkBoundaries(t *testing.T) {
	wire := "id: 1\ndata: alpha\n\nevent: custom\ndata: beta\n\n"

	whole := collectEvents(wire)
	for _, size := range []int{1, 2, 5, 11} {
		var chunks []string
		for start := 0; start < len(wire); start += size {
			end := start + size
			if end > len(wire) {
				end = len(wire)
			}
			chunks = append(chunks, wire[start:end])
		}
		assert.Equal(t, whole, collectEvents(chunks...), "chunk size %d", size)
	}
}

func TestSSEParserIgnoresCommentsAndUnknownFields(t *testing.T) {
	events := collectEvents(": keep-alive\nretry: 3000\ndata: real\n\n")

	require.Len(t, events, 1)
	assert.Equal(t, "real", events[0].data)
	assert.False(t, events[0].hasID)
}

func TestSSEParserEventWithoutIDHasNoID(t *testing.T) {
	events := collectEvents("data: no id here\n\nid: 9\ndata: with id\n\n")

	require.Len(t, events, 2)
	assert.False(t, events[0].hasID)
	assert.True(t, events[1].hasID)
	assert.Equal(t, "9", events[1].id)
}

func TestSSEParserStripsSingleLeadingSpace(t *testing.T) {
	events := collectEvents("data:  two spaces\ndata:none\n\n")

	require.Len(t, events, 1)
	assert.Equal(t, " two spaces\nnone", events[0].data)
}

func TestSSEParserCarriageReturns(t *testing.T) {
	events := collectEvents("data: crlf\r\n\r\n")

	require.Len(t, events, 1)
	assert.Equal(t, "crlf", events[0].data)
}

func TestConsumeSSEStream(t *testing.T) {
	body := strings.NewReader("data: a\n\ndata: b\n\n")
	var events []sseEvent
	err := consumeSSEStream(body, newSSEParser(func(evt sseEvent) {
		events = append(events, evt)
	}))

	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestWriteSSEEventRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSSEEvent(&buf, "message", "line1\nline2"))

	assert.Equal(t, "event: message\ndata: line1\ndata: line2\n\n", buf.String())

	events := collectEvents(buf.String())
	require.Len(t, events, 1)
	assert.Equal(t, "message", events[0].name)
	assert.Equal(t, "line1\nline2", events[0].data)
}

func TestWriteSSEEventDefaultType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSSEEvent(&buf, "", "payload"))
	assert.Equal(t, "data: payload\n\n", buf.String())
}
