package tool_test

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
	"github.com/ateska/markdown-notes-mcp/internal/domain/tool"
)

func TestSanitizeTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"hostname", "example.com", "example.com"},
		{"ipv4", "8.8.8.8", "8.8.8.8"},
		{"ipv6", "2001:db8::1", "2001:db8::1"},
		{"hyphenated", "my-host.local", "my-host.local"},
		{"shell injection", "8.8.8.8; rm -rf /", "8.8.8.8rm-rf"},
		{"command substitution", "$(whoami).com", "whoami.com"},
		{"whitespace only", " \t\n", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tool.SanitizeTarget(tt.target))
		})
	}
}

// newCall sets up a function call item in executing state and returns the
// call wrapper, the conversation/item pair and a progress counter.
func newCall(t *testing.T, arguments string) (*tool.Call, *conversation.Conversation, *conversation.Item, *int) {
	t.Helper()
	conv := conversation.NewStore().Create("")
	exchange := conv.AppendExchange()
	item := conversation.NewFunctionCall("call-1", "ping", arguments, conversation.ItemStatusCompleted)
	conv.AppendItem(exchange, item)
	require.NoError(t, conv.SetItemStatus(item, conversation.ItemStatusExecuting))

	progress := 0
	call := tool.NewCall(conv, item, func() { progress++ })
	return call, conv, item, &progress
}

// fakeRunner substitutes the system ping with a shell printing canned
// output; the received target travels through as an argument.
func fakeRunner(script string) tool.CommandRunner {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", append([]string{"-c", script, "sh", name}, args...)...)
	}
}

func TestPingTool_Run(t *testing.T) {
	runner := fakeRunner(`printf '64 bytes from %s\nround-trip stats\n' "$4"`)
	pt := tool.NewPingToolWithRunner(runner, zerolog.Nop())

	call, conv, item, progress := newCall(t, `{"target":"8.8.8.8"}`)
	require.NoError(t, pt.Run(context.Background(), call))

	got := conv.ItemCopy(item)
	assert.False(t, got.Error)
	assert.Contains(t, got.Content, "64 bytes from 8.8.8.8")
	assert.Contains(t, got.Content, "round-trip stats")
	assert.GreaterOrEqual(t, *progress, 2) // one signal per output line
}

func TestPingTool_Run_SanitizesTarget(t *testing.T) {
	runner := fakeRunner(`printf 'target=%s\n' "$4"`)
	pt := tool.NewPingToolWithRunner(runner, zerolog.Nop())

	call, conv, item, _ := newCall(t, `{"target":"8.8.8.8; rm -rf /"}`)
	require.NoError(t, pt.Run(context.Background(), call))

	got := conv.ItemCopy(item)
	assert.Contains(t, got.Content, "target=8.8.8.8rm-rf")
	assert.NotContains(t, got.Content, ";")
}

func TestPingTool_Run_InvalidArguments(t *testing.T) {
	pt := tool.NewPingToolWithRunner(fakeRunner("true"), zerolog.Nop())

	tests := []struct {
		name      string
		arguments string
		want      string
	}{
		{"malformed JSON", `{"target":`, "Exception occurred while parsing arguments."},
		{"missing target", `{}`, "Target is required"},
		{"target sanitizes to nothing", `{"target":"$()!"}`, "Invalid target specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, conv, item, progress := newCall(t, tt.arguments)
			require.NoError(t, pt.Run(context.Background(), call))

			got := conv.ItemCopy(item)
			assert.True(t, got.Error)
			assert.Equal(t, tt.want, got.Content)
			assert.Equal(t, 1, *progress)
		})
	}
}

func TestPingTool_Run_NonZeroExit(t *testing.T) {
	runner := fakeRunner(`printf 'unreachable\n'; exit 2`)
	pt := tool.NewPingToolWithRunner(runner, zerolog.Nop())

	call, conv, item, _ := newCall(t, `{"target":"10.255.255.1"}`)
	require.NoError(t, pt.Run(context.Background(), call))

	got := conv.ItemCopy(item)
	assert.True(t, got.Error)
	assert.Contains(t, got.Content, "unreachable")
	assert.Contains(t, got.Content, "Ping command failed with return code: 2")
}

func TestRegistry(t *testing.T) {
	registry := tool.NewRegistry()
	_, ok := registry.Get("ping")
	assert.False(t, ok)

	pt := tool.NewPingTool(zerolog.Nop())
	registry.Register(pt)

	found, ok := registry.Get("ping")
	require.True(t, ok)
	assert.Same(t, pt, found)
	assert.Equal(t, []string{"ping"}, registry.Names())
}

func TestCall_FailReplacesContent(t *testing.T) {
	call, conv, item, _ := newCall(t, `{}`)
	call.AppendOutput("partial output\n")
	call.Fail("boom")

	got := conv.ItemCopy(item)
	assert.True(t, got.Error)
	assert.Equal(t, "boom", got.Content)
}

func TestCall_MarkErrorKeepsContent(t *testing.T) {
	call, conv, item, _ := newCall(t, `{}`)
	call.AppendOutput("collected output")
	call.MarkError()

	got := conv.ItemCopy(item)
	assert.True(t, got.Error)
	assert.True(t, strings.HasPrefix(got.Content, "collected output"))
}
