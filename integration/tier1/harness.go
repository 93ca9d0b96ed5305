//go:build integration

package tier1

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tino-kuptz/push-to/internal/testutil"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the push-to binary once and runs it against a workspace
// holding a Git remote, a target directory and a state directory.
type Harness struct {
	t      *testing.T
	binary string

	Root     string
	Remote   string
	Checkout string
	Target   string
	StateDir string
	Config   string
}

// NewHarness creates the workspace directories.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	root := t.TempDir()
	h := &Harness{
		t:        t,
		Root:     root,
		Remote:   filepath.Join(root, "remote"),
		Checkout: filepath.Join(root, "checkout"),
		Target:   filepath.Join(root, "www"),
		StateDir: filepath.Join(root, "state"),
		Config:   filepath.Join(root, "config.yaml"),
	}
	for _, dir := range []string{h.Remote, h.Target} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return h
}

// BuildBinary compiles cmd/push-to into the workspace.
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()
	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.binary = filepath.Join(h.Root, "push-to")
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/push-to")
	cmd.Dir = projectRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("go build: %w: %s", err, out)
	}
	return nil
}

// Run executes the binary with the workspace config and returns stdout,
// stderr and the exit code.
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	args = append(args, "--config", h.Config, "--log-level", "debug")
	h.t.Logf("run: push-to %s", strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", -1, fmt.Errorf("run push-to: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	for _, line := range strings.Split(stderr.String(), "\n") {
		if line != "" {
			h.t.Log("[push-to] " + line)
		}
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun runs the binary and fails the test on a non-zero exit.
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, code, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatal(err)
	}
	if code != 0 {
		h.t.Fatalf("push-to %v exited with %d\nstdout: %s\nstderr: %s", args, code, stdout, stderr)
	}
	return stdout
}

// Git runs git inside the remote repository.
func (h *Harness) Git(ctx context.Context, args ...string) {
	h.t.Helper()
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", h.Remote}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		h.t.Fatalf("git %v: %v: %s", args, err, out)
	}
}

// Commit writes files into the remote, removes the listed paths and
// commits the result.
func (h *Harness) Commit(ctx context.Context, msg string, files map[string]string, remove ...string) {
	h.t.Helper()
	testutil.WriteTree(h.t, h.Remote, files)
	for _, rel := range remove {
		if err := os.RemoveAll(filepath.Join(h.Remote, filepath.FromSlash(rel))); err != nil {
			h.t.Fatalf("remove %s: %v", rel, err)
		}
	}
	h.Git(ctx, "add", "-A")
	h.Git(ctx, "commit", "-m", msg)
}

// WriteConfig writes a config that deploys the dist directory of the
// remote into the target.
func (h *Harness) WriteConfig(dontDelete, dontOverride string) {
	h.t.Helper()
	config := fmt.Sprintf(`source:
  type: local
  git:
    url: %q
    ref: main
    checkout_dir: %q
    subdir: dist

target:
  type: local
  path: %q

sync:
  dont_delete: %q
  dont_override: %q
  concurrency: 4

paths:
  state_dir: %q
`, h.Remote, h.Checkout, h.Target, dontDelete, dontOverride, h.StateDir)

	if err := os.WriteFile(h.Config, []byte(config), 0o600); err != nil {
		h.t.Fatalf("write config: %v", err)
	}
}

// TargetFiles returns the deployed tree.
func (h *Harness) TargetFiles() map[string]string {
	h.t.Helper()
	return testutil.ReadTree(h.t, h.Target)
}

// TargetDirs returns the directories of the deployed tree.
func (h *Harness) TargetDirs() []string {
	h.t.Helper()
	return testutil.Dirs(h.t, h.Target)
}
