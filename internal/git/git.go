// Package git checks a deployable source tree out of a Git repository.
package git

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// tokenEnv carries the HTTPS token to the credential helper.
const tokenEnv = "PUSHTO_GIT_TOKEN"

// Client provides git operations for repository management
type Client interface {
	// EnsureCheckout clones or updates a repository to the specified ref
	// and returns the checked out commit.
	EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error)
}

// Auth selects how the git binary authenticates. At most one field is set.
type Auth struct {
	SSHKeyFile     string
	HTTPSTokenFile string
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	auth   Auth
	logger *slog.Logger
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(auth Auth, logger *slog.Logger) *ShellClient {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ShellClient{auth: auth, logger: logger}
}

// EnsureCheckout clones destDir on first use and fetches afterwards. The
// working tree is then forced to ref and stripped of untracked files, so
// stale build output never reaches the target.
func (c *ShellClient) EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error) {
	fresh := !isRepo(destDir)

	if fresh {
		if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}
		c.logger.Info("cloning repository", "dest", destDir)
		if err := c.run(ctx, url, "", "clone", "--no-checkout", url, destDir); err != nil {
			return "", fmt.Errorf("git clone failed: %w", err)
		}
	} else {
		c.logger.Info("fetching repository", "dest", destDir)
		if err := c.run(ctx, url, destDir, "fetch", "--prune", "--tags", "origin"); err != nil {
			return "", fmt.Errorf("git fetch failed: %w", err)
		}
	}

	if err := c.checkout(ctx, destDir, ref); err != nil {
		return "", err
	}

	if !fresh {
		// Moves a stale local branch onto the fetched commit. Fails for
		// tags and hashes, which checkout already resolved.
		if err := c.run(ctx, "", destDir, "reset", "--hard", "origin/"+ref); err != nil {
			c.logger.Debug("reset to remote branch skipped", "ref", ref, "error", err)
		}
	}

	if err := c.run(ctx, "", destDir, "clean", "-ffdx"); err != nil {
		return "", fmt.Errorf("git clean failed: %w", err)
	}

	return c.head(ctx, destDir)
}

// checkout tries ref as a local branch, tag or hash first and as a
// remote branch second.
func (c *ShellClient) checkout(ctx context.Context, dir, ref string) error {
	if err := c.run(ctx, "", dir, "checkout", "-f", ref); err == nil {
		return nil
	}
	if err := c.run(ctx, "", dir, "checkout", "-f", "origin/"+ref); err != nil {
		return fmt.Errorf("git checkout failed for ref %q (tried both direct and remote): %w", ref, err)
	}
	return nil
}

func (c *ShellClient) head(ctx context.Context, dir string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// run executes git with args, inside dir when set. Authentication is only
// configured for commands that talk to url.
func (c *ShellClient) run(ctx context.Context, url, dir string, args ...string) error {
	var env, full []string
	if url != "" {
		authEnv, flags, err := c.authFor(url)
		if err != nil {
			return err
		}
		env = authEnv
		full = append(full, flags...)
	}
	if dir != "" {
		full = append(full, "-C", dir)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, "git", full...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// authFor returns the extra environment and leading git flags needed to
// reach url with the configured credentials.
func (c *ShellClient) authFor(url string) (env, flags []string, err error) {
	switch {
	case c.auth.SSHKeyFile != "" && isSSH(url):
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.auth.SSHKeyFile))
		return []string{"GIT_SSH_COMMAND=" + sshCmd}, nil, nil

	case c.auth.HTTPSTokenFile != "" && strings.HasPrefix(url, "https://"):
		token, err := os.ReadFile(c.auth.HTTPSTokenFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read HTTPS token file: %w", err)
		}
		env = []string{
			"GIT_TERMINAL_PROMPT=0",
			tokenEnv + "=" + strings.TrimSpace(string(token)),
		}
		helper := fmt.Sprintf(`credential.helper=!f() { echo "username=x-access-token"; echo "password=$%s"; }; f`, tokenEnv)
		return env, []string{"-c", helper}, nil
	}
	return nil, nil, nil
}

func isRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func isSSH(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
