// Subprocess transport for the framed provider: owns the child process,
// frames outbound writes, and dispatches inbound frames to either the
// pending-request table (responses), the notification handler (events),
// or the server-request handler (elicitation). Grounded on
// internal/mcp/transport.go's StdioTransport lifecycle shape, adapted
// from newline-delimited framing to internal/framing's Content-Length
// framing, and extended with the close/error hook contract spec §4.6.8
// requires (the teacher's transport has no such hook).
package framed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"sync"

	"github.com/sessiond/sessiond/internal/framing"
)

// transport owns one subprocess and its framed stdio streams.
type transport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writeMu sync.Mutex

	pending *pendingTable

	onNotification func(method string, params json.RawMessage)
	onServerRequest func(id int64, method string, params json.RawMessage)
	onClose        func(exitErr error)

	stderrBuf bytes.Buffer
	stderrMu  sync.Mutex

	closeOnce sync.Once
}

// spawnOptions configures process construction (binary resolution
// already applied — binaryPath is the resolved executable).
type spawnOptions struct {
	BinaryPath string
	Args       []string
	Cwd        string
	Env        []string
}

func newTransport(pending *pendingTable) *transport {
	return &transport{pending: pending}
}

// connect spawns the subprocess and starts the read loop. Handlers must
// be assigned before calling connect.
func (t *transport) connect(ctx context.Context, opts spawnOptions) error {
	cmd := exec.CommandContext(ctx, opts.BinaryPath, opts.Args...)
	cmd.Dir = opts.Cwd
	cmd.Env = opts.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	t.cmd = cmd
	t.stdin = stdin

	go t.captureStderr(stderr)
	go t.readLoop(stdout)

	return nil
}

func (t *transport) captureStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.stderrMu.Lock()
			t.stderrBuf.Write(buf[:n])
			t.stderrMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Stderr returns captured stderr output, for diagnostics only.
func (t *transport) Stderr() string {
	t.stderrMu.Lock()
	defer t.stderrMu.Unlock()
	return t.stderrBuf.String()
}

func (t *transport) readLoop(stdout io.Reader) {
	reader := framing.NewReader()
	buf := bufio.NewReader(stdout)
	chunk := make([]byte, 4096)

	for {
		n, err := buf.Read(chunk)
		if n > 0 {
			reader.Feed(chunk[:n])
			for {
				body, ok := reader.Next()
				if !ok {
					break
				}
				t.dispatch(body)
			}
		}
		if err != nil {
			var waitErr error
			if t.cmd != nil {
				waitErr = t.cmd.Wait()
			}
			t.handleClose(waitErr)
			return
		}
	}
}

func (t *transport) dispatch(body []byte) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Malformed JSON body: drop the message and resume (spec §4.6.1).
		return
	}

	switch {
	case env.isResponse():
		var res rpcResult
		if env.Error != nil {
			res.Err = env.Error
		} else {
			res.Result = env.Result
		}
		t.pending.deliver(*env.ID, res)
	case env.isServerRequest():
		if t.onServerRequest != nil {
			t.onServerRequest(*env.ID, env.Method, env.Params)
		}
	case env.isNotification():
		if t.onNotification != nil {
			t.onNotification(env.Method, env.Params)
		}
	}
}

func (t *transport) handleClose(exitErr error) {
	t.closeOnce.Do(func() {
		t.pending.rejectAll(describeExit(exitErr))
		if t.onClose != nil {
			t.onClose(exitErr)
		}
	})
}

// write serializes one envelope to the subprocess's stdin; writes are serialized with a
// mutex since the transport may be called from multiple goroutines
// (tool calls and server-request responses).
func (t *transport) write(env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.stdin.Write(framing.Encode(body))
	return err
}

// call writes one request frame for id and returns once it is written,
// or with the write error. It does not wait for the response: that is
// delivered through the pending table to the channel the caller
// registered for id.
func (t *transport) call(id int64, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return t.write(envelope{ID: &id, Method: method, Params: raw})
}

// respondToServerRequest answers a server-initiated request (elicitation).
func (t *transport) respondToServerRequest(id int64, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return t.write(envelope{ID: &id, Result: raw})
}

// close detaches handlers and terminates the subprocess. Safe to call
// more than once.
func (t *transport) close() {
	t.onNotification = nil
	t.onServerRequest = nil
	t.onClose = nil
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
}

func describeExit(err error) string {
	if err == nil {
		return "process exited"
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return "process exited: " + exitErr.String()
	}
	return "process error: " + err.Error()
}
