// cliBackend is the concrete "upstream library" implementation (spec
// §4.5): it spawns a configured CLI subprocess in structured-streaming
// mode and decodes newline-delimited JSON from stdout into
// UpstreamMessage values, feeding AsyncQueue contents to stdin as
// newline-delimited JSON prompts. A fake Backend is used in tests to
// drive the message-classification and permission paths deterministically
// without a real subprocess, matching the teacher's own preference for
// interface-seamed external collaborators (e.g. internal/mcp.Transport).
package structured

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/rs/zerolog/log"

	"github.com/sessiond/sessiond/internal/asyncqueue"
)

// StartOptions configures a Backend.Start call.
type StartOptions struct {
	Binary         string
	Cwd            string
	PermissionMode string
	Model          string
	Task           string
	Resume         string
}

// PermissionCallback is invoked synchronously (blocking the backend's
// read loop) whenever the upstream stream requests a permission
// decision. The caller (Session) owns suspend/resume semantics.
type PermissionCallback func(toolName string, input json.RawMessage, meta PermissionMeta) (approved bool, reason string)

// Backend is the seam standing in for "an upstream library that streams
// typed messages and dispatches permission callbacks" (spec §4.5).
type Backend interface {
	Start(ctx context.Context, opts StartOptions, input *asyncqueue.Queue[string], onPermission PermissionCallback) (<-chan UpstreamMessage, error)
}

// cliBackend spawns the configured binary with stream-json I/O.
type cliBackend struct{}

// NewCLIBackend returns the subprocess-backed Backend implementation.
func NewCLIBackend() Backend { return &cliBackend{} }

func (b *cliBackend) Start(ctx context.Context, opts StartOptions, input *asyncqueue.Queue[string], onPermission PermissionCallback) (<-chan UpstreamMessage, error) {
	binary := opts.Binary
	if binary == "" {
		binary = "claude"
	}

	args := []string{"--output-format", "stream-json", "--input-format", "stream-json"}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = opts.Cwd
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	out := make(chan UpstreamMessage, 16)

	go func() {
		defer stdin.Close()
		for {
			prompt, ok, _ := input.Next()
			if !ok {
				return
			}
			line, _ := json.Marshal(map[string]string{"type": "user", "text": prompt})
			if _, err := fmt.Fprintf(stdin, "%s\n", line); err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(out)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var msg UpstreamMessage
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				log.Warn().Err(err).Msg("structured provider: dropping malformed upstream line")
				continue
			}
			out <- msg
		}
		_ = cmd.Wait()
	}()

	return out, nil
}
