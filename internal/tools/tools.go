// Package tools shells out to the binutils the aliasing passes depend
// on. Each wrapper is a thin struct holding the binary's path, so tests
// and callers can substitute fakes behind the narrow interfaces defined
// at point of use.
package tools

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"kasalias/internal/objcopy"
)

// ToolError carries a failed invocation together with its captured
// stderr, so build logs show what the tool actually complained about.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := e.Tool + " " + strings.Join(e.Args, " ") + ": " + e.Err.Error()
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

func run(ctx context.Context, path string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &ToolError{
			Tool:   path,
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

// Nm dumps symbol tables sorted by address.
type Nm struct {
	Path string
}

func (n Nm) Dump(ctx context.Context, object string) ([]byte, error) {
	return run(ctx, n.Path, "-n", object)
}

// Objdump lists section headers and per-section symbols. It satisfies
// sections.Lister.
type Objdump struct {
	Path string
}

func (o Objdump) Headers(ctx context.Context, object string) ([]byte, error) {
	return run(ctx, o.Path, "-h", object)
}

func (o Objdump) Symbols(ctx context.Context, object, section string) ([]byte, error) {
	return run(ctx, o.Path, "-t", "-j", section, object)
}

// Objcopy injects alias symbols. It satisfies objcopy.Editor.
type Objcopy struct {
	Path string
}

func (o Objcopy) AddSymbols(ctx context.Context, src, dst string, syms []objcopy.Symbol) error {
	args := make([]string, 0, 2*len(syms)+2)
	for _, s := range syms {
		args = append(args, "--add-symbol", s.Arg())
	}
	args = append(args, src, dst)
	_, err := run(ctx, o.Path, args...)
	return err
}
