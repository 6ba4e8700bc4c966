package runloop

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/agentd/agentd/pkg/wire"
)

// StdioTransport is a Transport over a pair of newline-delimited JSON
// streams, the simplest concrete wire format satisfying spec §6 (the exact
// framing is left to the embedder; this one is for cmd/agentd's own
// demo entrypoint and for tests that want a real io.Reader/io.Writer
// round-trip instead of an in-memory fake).
type StdioTransport struct {
	in  *bufio.Scanner
	out io.Writer

	mu sync.Mutex
}

// NewStdioTransport wraps r/w as a line-delimited JSON Transport.
func NewStdioTransport(r io.Reader, w io.Writer) *StdioTransport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), wire.MaxFrameBytes)
	return &StdioTransport{in: scanner, out: w}
}

// Receive reads one line and decodes it as a wire.RunRequest.
func (t *StdioTransport) Receive(ctx context.Context) (wire.RunRequest, error) {
	if !t.in.Scan() {
		if err := t.in.Err(); err != nil {
			return wire.RunRequest{}, err
		}
		return wire.RunRequest{}, ErrInputClosed
	}
	var req wire.RunRequest
	if err := json.Unmarshal(t.in.Bytes(), &req); err != nil {
		return wire.RunRequest{}, err
	}
	return req, nil
}

// Send writes event as one JSON line.
func (t *StdioTransport) Send(ctx context.Context, event wire.RunEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.out.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// CloseInput is a no-op: the underlying reader's lifetime is the caller's.
func (t *StdioTransport) CloseInput() error { return nil }

// Close is a no-op for the same reason.
func (t *StdioTransport) Close() error { return nil }

// SupportsBackgroundReceive reports false: StdioTransport.Receive blocks
// the calling goroutine on the scanner, so the run loop must drive it from
// a dedicated goroutine if concurrent turns are desired.
func (t *StdioTransport) SupportsBackgroundReceive() bool { return false }
