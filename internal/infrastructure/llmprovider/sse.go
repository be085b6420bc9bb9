package llmprovider

import (
	"bufio"
	"io"
	"strings"
)

// maxEventLineSize caps a single SSE line. Model output deltas are small;
// one megabyte leaves ample headroom for oversized tool argument payloads.
const maxEventLineSize = 1024 * 1024

// doneSentinel terminates OpenAI-style streams.
const doneSentinel = "[DONE]"

// sseEvent is one decoded server-sent event. Type is empty for data-only
// streams (chat completions); Data holds the joined data payload.
type sseEvent struct {
	Type string
	Data string
}

// IsDone reports whether the event carries the end-of-stream sentinel.
func (e sseEvent) IsDone() bool {
	return e.Data == doneSentinel
}

// sseDecoder turns a streaming response body into a sequence of logical
// events: field lines accumulate until a blank line flushes the event.
// Comment lines and unknown fields are skipped.
type sseDecoder struct {
	scanner *bufio.Scanner
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineSize)
	return &sseDecoder{scanner: scanner}
}

// Next returns the next complete event, or io.EOF once the stream is
// exhausted. A trailing event not closed by a blank line is still flushed.
func (d *sseDecoder) Next() (sseEvent, error) {
	var (
		event sseEvent
		data  []string
		seen  bool
	)

	for d.scanner.Scan() {
		line := strings.TrimRight(d.scanner.Text(), "\r")

		if line == "" {
			if seen {
				event.Data = strings.Join(data, "\n")
				return event, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			event.Type = value
			seen = true
		case "data":
			data = append(data, value)
			seen = true
		default:
			// id, retry and anything nonstandard carry nothing we use.
		}
	}

	if err := d.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	if seen {
		event.Data = strings.Join(data, "\n")
		return event, nil
	}
	return sseEvent{}, io.EOF
}

// isEventStream reports whether the content type announces SSE.
func isEventStream(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mediaType) == "text/event-stream"
}
