package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// CommandRunner builds the subprocess for a tool invocation. Tests inject a
// fake to avoid depending on the host's ping binary.
type CommandRunner func(ctx context.Context, name string, args ...string) *exec.Cmd

// PingTool checks reachability of a target host by running the system ping
// command and streaming its output into the function-call item.
type PingTool struct {
	runner CommandRunner
	log    zerolog.Logger
}

// NewPingTool constructs the ping tool with the default command runner.
func NewPingTool(log zerolog.Logger) *PingTool {
	return NewPingToolWithRunner(exec.CommandContext, log)
}

// NewPingToolWithRunner constructs the ping tool with a custom runner.
func NewPingToolWithRunner(runner CommandRunner, log zerolog.Logger) *PingTool {
	return &PingTool{
		runner: runner,
		log:    log.With().Str("component", "tool-ping").Logger(),
	}
}

func (t *PingTool) Name() string {
	return "ping"
}

type pingArguments struct {
	Target string `json:"target"`
}

// SanitizeTarget strips everything outside the allow-list of characters a
// hostname or address may contain (alphanumeric, '.', '-', ':' for IPv6).
// The argument text comes from the model and must never reach the command
// line unfiltered.
func SanitizeTarget(target string) string {
	var b strings.Builder
	for _, r := range target {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == ':':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Run parses the call's arguments, validates and sanitizes the target and
// streams ping output line by line into the call. All failures terminate
// in the call's content/error state; Run itself only errors on programmer
// mistakes upstream.
func (t *PingTool) Run(ctx context.Context, call *Call) error {
	var args pingArguments
	if err := json.Unmarshal([]byte(call.Arguments()), &args); err != nil {
		t.log.Warn().Err(err).Msg("cannot parse ping arguments")
		call.Fail("Exception occurred while parsing arguments.")
		return nil
	}

	if args.Target == "" {
		call.Fail("Target is required")
		return nil
	}

	target := SanitizeTarget(args.Target)
	if target == "" {
		call.Fail("Invalid target specified")
		return nil
	}

	cmd := t.runner(ctx, "ping", "-c", "4", target)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		call.Fail("Failed to start ping command.")
		return nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		call.Fail("Failed to start ping command.")
		return nil
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			t.log.Warn().Msg("ping command not found on this system")
			call.Fail("ping command not found on this system")
			return nil
		}
		t.log.Warn().Err(err).Msg("cannot start ping command")
		call.Fail("Exception occurred while executing ping")
		return nil
	}

	// Pump stdout and stderr concurrently; each line lands in the item
	// content followed by a progress signal.
	var wg sync.WaitGroup
	pump := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			call.AppendOutput(scanner.Text() + "\n")
		}
	}
	wg.Add(2)
	go pump(stdout)
	go pump(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			call.AppendOutput(fmt.Sprintf("\nPing command failed with return code: %d", exitErr.ExitCode()))
			call.MarkError()
			return nil
		}
		t.log.Warn().Err(err).Msg("ping command failed")
		call.Fail("Exception occurred while executing ping")
		return nil
	}

	return nil
}
