package poller

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

const (
	// fetchTimeout bounds each external CLI invocation.
	fetchTimeout = 5 * time.Second
	// maxOutputBytes caps captured screen content; a pane exceeding it is
	// treated as a fetch failure and backs off.
	maxOutputBytes = 1 << 20
)

// Fetcher retrieves the current screen content of a pane.
type Fetcher interface {
	Fetch(ctx context.Context, paneID string) (string, error)
}

// CLIFetcher shells out to the external terminal-multiplexer CLI:
// `terminal-read -p <paneID>` prints the pane's visible content on stdout.
// A non-zero exit is a failure; stderr output with a zero exit is not.
type CLIFetcher struct {
	Command string
}

// NewCLIFetcher creates a CLIFetcher invoking the given command
// ("terminal-read" unless overridden in config).
func NewCLIFetcher(command string) *CLIFetcher {
	return &CLIFetcher{Command: command}
}

// Fetch runs the CLI with a hard timeout and an output cap.
func (f *CLIFetcher) Fetch(ctx context.Context, paneID string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, f.Command, "-p", paneID)

	var stdout bytes.Buffer
	cmd.Stdout = &capWriter{buf: &stdout, limit: maxOutputBytes}

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("fetch pane %s: timed out after %s", paneID, fetchTimeout)
		}
		return "", fmt.Errorf("fetch pane %s: %w", paneID, err)
	}
	return stdout.String(), nil
}

// errOutputCap is returned through cmd.Run when the CLI produces more output
// than maxOutputBytes.
var errOutputCap = fmt.Errorf("output exceeds %d byte cap", maxOutputBytes)

// capWriter fails the write (and thus the command) once limit is exceeded.
type capWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *capWriter) Write(p []byte) (int, error) {
	if w.buf.Len()+len(p) > w.limit {
		return 0, errOutputCap
	}
	return w.buf.Write(p)
}
