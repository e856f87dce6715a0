// Package addr2line drives one long-lived debug-info resolver process per
// object file and turns its answers into alias decorations.
package addr2line

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ErrResolver marks any I/O failure talking to the resolver process. The
// process is presumed to be in an indeterminate state afterwards, so the
// failure is fatal for the whole run.
var ErrResolver = errors.New("addr2line: resolver i/o failure")

// Resolver owns one resolver process started against a single object
// file. The protocol is strictly ordered: one address line in, two lines
// out, the second carrying the file:line answer. Not safe for concurrent
// use; addresses must be fed in the order results are consumed.
type Resolver struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	out    *bufio.Reader
	closed bool
}

// Open starts `command -fe object` with query/response pipes attached.
func Open(ctx context.Context, command, object string) (*Resolver, error) {
	cmd := exec.CommandContext(ctx, command, "-fe", object)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrResolver, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrResolver, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrResolver, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrResolver, command, err)
	}
	return &Resolver{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		out:    bufio.NewReader(stdout),
	}, nil
}

// Resolve queries one address (original hex text, as the dumper printed
// it) and returns the location line. The first response line is the
// symbol-name echo and is discarded.
func (r *Resolver) Resolve(addrText string) (string, error) {
	if _, err := fmt.Fprintln(r.stdin, addrText); err != nil {
		return "", fmt.Errorf("%w: send %s: %v", ErrResolver, addrText, err)
	}
	if _, err := r.out.ReadString('\n'); err != nil {
		return "", fmt.Errorf("%w: read name echo: %v", ErrResolver, err)
	}
	loc, err := r.out.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%w: read location: %v", ErrResolver, err)
	}
	return strings.TrimSpace(loc), nil
}

// Close tears the process down: closes all three streams and waits for
// exit. It is safe to call more than once and runs on every exit path,
// including fatal ones.
func (r *Resolver) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.stdin.Close()
	r.stdout.Close()
	r.stderr.Close()
	if err := r.cmd.Wait(); err != nil {
		return fmt.Errorf("addr2line: wait: %w", err)
	}
	return nil
}
