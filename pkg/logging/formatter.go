package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// TextFormatter formats log entries as human-readable text
type TextFormatter struct {
	// TimestampFormat is the format for timestamps
	TimestampFormat string
	// DisableTimestamp disables timestamp output
	DisableTimestamp bool
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
	}
}

// Format formats a log entry as text
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer

	if !f.DisableTimestamp {
		buf.WriteString(entry.Timestamp.Format(f.TimestampFormat))
		buf.WriteByte(' ')
	}

	fmt.Fprintf(&buf, "[%s] ", entry.Level.String())
	buf.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&buf, " %s=%v", k, entry.Fields[k])
		}
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// JSONFormatter formats log entries as JSON objects, one per line
type JSONFormatter struct {
	// TimestampFormat is the format for timestamps
	TimestampFormat string
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// Format formats a log entry as JSON
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	data := make(map[string]interface{}, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[k] = v
	}
	data["level"] = entry.Level.String()
	data["msg"] = entry.Message
	data["time"] = entry.Timestamp.Format(f.TimestampFormat)

	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log entry: %w", err)
	}
	return append(out, '\n'), nil
}
