package llmprovider

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEDecoder_EventAndData(t *testing.T) {
	raw := "event: response.created\ndata: {\"a\":1}\n\n" +
		"event: response.output_text.delta\ndata: {\"delta\":\"hi\"}\n\n"

	d := newSSEDecoder(strings.NewReader(raw))

	first, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "response.created", first.Type)
	assert.Equal(t, `{"a":1}`, first.Data)

	second, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "response.output_text.delta", second.Type)
	assert.Equal(t, `{"delta":"hi"}`, second.Data)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEDecoder_DataOnlyStream(t *testing.T) {
	raw := "data: {\"n\":1}\n\ndata: [DONE]\n\n"

	d := newSSEDecoder(strings.NewReader(raw))

	first, err := d.Next()
	require.NoError(t, err)
	assert.Empty(t, first.Type)
	assert.Equal(t, `{"n":1}`, first.Data)
	assert.False(t, first.IsDone())

	second, err := d.Next()
	require.NoError(t, err)
	assert.True(t, second.IsDone())
}

func TestSSEDecoder_MultilineDataAndComments(t *testing.T) {
	raw := ": keepalive\ndata: line1\ndata: line2\n\n"

	d := newSSEDecoder(strings.NewReader(raw))

	event, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", event.Data)
}

func TestSSEDecoder_CRLFAndUnknownFields(t *testing.T) {
	raw := "id: 7\r\nretry: 100\r\nevent: ping\r\ndata: {}\r\n\r\n"

	d := newSSEDecoder(strings.NewReader(raw))

	event, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "ping", event.Type)
	assert.Equal(t, "{}", event.Data)
}

func TestSSEDecoder_FlushesTrailingEvent(t *testing.T) {
	raw := "event: tail\ndata: {\"x\":true}\n" // stream cut before the blank line

	d := newSSEDecoder(strings.NewReader(raw))

	event, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "tail", event.Type)
	assert.Equal(t, `{"x":true}`, event.Data)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestIsEventStream(t *testing.T) {
	assert.True(t, isEventStream("text/event-stream"))
	assert.True(t, isEventStream("text/event-stream; charset=utf-8"))
	assert.False(t, isEventStream("application/json"))
}
