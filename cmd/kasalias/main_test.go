package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"kasalias/internal/addr2line"
	"kasalias/internal/tools"
)

func TestExitCode(t *testing.T) {
	toolErr := &tools.ToolError{Tool: "objcopy", Err: errors.New("exit status 1")}
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"input", errors.New("--image is required"), 1},
		{"tool", toolErr, 2},
		{"tool wrapped", errors.Wrap(toolErr, "objcopy: alias m1.ko"), 2},
		{"resolver", fmt.Errorf("read: %w", addr2line.ErrResolver), 3},
		{"interrupted", errors.Wrap(context.Canceled, "pipeline: interrupted"), 4},
		// A tool killed by cancellation counts as interrupted, not as a
		// tool failure.
		{"interrupted tool", &tools.ToolError{Tool: "nm", Err: context.Canceled}, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestParseSeparator(t *testing.T) {
	sep, err := parseSeparator("@")
	if err != nil || sep != '@' {
		t.Fatalf("parseSeparator(@) = %q, %v", sep, err)
	}
	for _, bad := range []string{"", "ab", "@@"} {
		if _, err := parseSeparator(bad); err == nil {
			t.Errorf("parseSeparator(%q): expected error", bad)
		}
	}
}

func TestCmdCoreFlagChecks(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"nm-data", nil, "--nm-data is required"},
		{"image", []string{"--nm-data", "x"}, "--image is required"},
		{"outfile", []string{"--nm-data", "x", "--image", "y"}, "--outfile is required"},
		{"state-dir", []string{"--nm-data", "x", "--image", "y", "--outfile", "z"}, "--state-dir is required"},
		{"addr2line", []string{"--nm-data", "x", "--image", "y", "--outfile", "z", "--state-dir", "s"}, "--addr2line is required"},
		{"separator", []string{"--nm-data", "x", "--image", "y", "--outfile", "z", "--state-dir", "s", "--addr2line", "a", "--separator", "ab"}, "--separator must be a single character"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := cmdCore(tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("cmdCore(%v) = %v, want %q", tc.args, err, tc.want)
			}
		})
	}
}

func TestCmdModulesFlagChecks(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"state-dir", nil, "--state-dir is required"},
		{"addr2line", []string{"--state-dir", "s"}, "--addr2line is required"},
		{"batch-limit", []string{"--state-dir", "s", "--addr2line", "a", "--batch-limit", "0"}, "--batch-limit must be at least 1"},
		{"separator", []string{"--state-dir", "s", "--addr2line", "a", "--separator", ""}, "--separator must be a single character"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := cmdModules(tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("cmdModules(%v) = %v, want %q", tc.args, err, tc.want)
			}
		})
	}
}

func TestCmdStatus(t *testing.T) {
	if err := cmdStatus(nil); err == nil || !strings.Contains(err.Error(), "--state-dir is required") {
		t.Fatalf("cmdStatus() = %v, want missing-flag error", err)
	}

	dir := t.TempDir()
	if err := cmdStatus([]string{"--state-dir", dir}); err != nil {
		t.Fatalf("empty state dir: %v", err)
	}

	journalPath := filepath.Join(dir, "modules.journal")
	if err := os.WriteFile(journalPath, []byte("m1.ko:2\nm2.ko:0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cmdStatus([]string{"--state-dir", dir}); err != nil {
		t.Fatalf("status: %v", err)
	}

	if err := os.WriteFile(journalPath, []byte("garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cmdStatus([]string{"--state-dir", dir}); err == nil {
		t.Fatal("expected error for malformed journal")
	}
}
