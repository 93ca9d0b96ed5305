package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// initRepo creates a local repo with the given branch to act as a remote.
func initRepo(t *testing.T, dir, branch string) {
	t.Helper()
	gitRun(t,
		[]string{"init", "-b", branch, dir},
		[]string{"-C", dir, "config", "user.email", "test@test.com"},
		[]string{"-C", dir, "config", "user.name", "Test"},
	)
}

func gitRun(t *testing.T, cmds ...[]string) {
	t.Helper()
	for _, args := range cmds {
		if out, err := exec.Command("git", args...).CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
}

// commitFile writes dist/index.html and commits it.
func commitFile(t *testing.T, repoDir, content, msg string) {
	t.Helper()
	name := filepath.Join("dist", "index.html")
	if err := os.MkdirAll(filepath.Join(repoDir, "dist"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t,
		[]string{"-C", repoDir, "add", name},
		[]string{"-C", repoDir, "commit", "-m", msg},
	)
}

func readIndex(t *testing.T, dir string) string {
	t.Helper()
	got, err := os.ReadFile(filepath.Join(dir, "dist", "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	return string(got)
}

func TestEnsureCheckout_UpdatesLocalBranch(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "version1\n", "Initial commit")

	cloneDir := filepath.Join(t.TempDir(), "checkout")
	client := NewShellClient(Auth{}, nil)
	commit1, err := client.EnsureCheckout(ctx, remoteDir, "main", cloneDir)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	if got := readIndex(t, cloneDir); got != "version1\n" {
		t.Fatalf("expected version1, got %q", got)
	}

	commitFile(t, remoteDir, "version2\n", "Update")

	commit2, err := client.EnsureCheckout(ctx, remoteDir, "main", cloneDir)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if commit1 == commit2 {
		t.Error("expected different commit after update, but got the same")
	}
	if got := readIndex(t, cloneDir); got != "version2\n" {
		t.Errorf("expected version2 after update, got %q", got)
	}
}

func TestEnsureCheckout_RemovesUntrackedFiles(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "v1\n", "Initial commit")

	cloneDir := filepath.Join(t.TempDir(), "checkout")
	client := NewShellClient(Auth{}, nil)
	if _, err := client.EnsureCheckout(ctx, remoteDir, "main", cloneDir); err != nil {
		t.Fatal(err)
	}

	stale := filepath.Join(cloneDir, "dist", "stale.js")
	if err := os.WriteFile(stale, []byte("old build"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := client.EnsureCheckout(ctx, remoteDir, "main", cloneDir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("expected untracked file to be removed, stat err = %v", err)
	}
}

func TestEnsureCheckout_TagsStillWork(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "tagged\n", "Tagged commit")
	gitRun(t, []string{"-C", remoteDir, "tag", "v1.0"})
	commitFile(t, remoteDir, "after-tag\n", "Post-tag commit")

	cloneDir := filepath.Join(t.TempDir(), "checkout")
	client := NewShellClient(Auth{}, nil)
	if _, err := client.EnsureCheckout(ctx, remoteDir, "v1.0", cloneDir); err != nil {
		t.Fatalf("tag checkout: %v", err)
	}
	if got := readIndex(t, cloneDir); got != "tagged\n" {
		t.Errorf("expected tagged content, got %q", got)
	}
}

func TestEnsureCheckout_UnknownRef(t *testing.T) {
	requireGit(t)

	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "v1\n", "Initial commit")

	client := NewShellClient(Auth{}, nil)
	_, err := client.EnsureCheckout(context.Background(), remoteDir, "does-not-exist", filepath.Join(t.TempDir(), "checkout"))
	if err == nil || !strings.Contains(err.Error(), "does-not-exist") {
		t.Fatalf("expected checkout error naming the ref, got %v", err)
	}
}

func TestAuthFor(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		auth      Auth
		url       string
		wantEnv   string
		wantFlags bool
		wantErr   bool
	}{
		{
			name:    "ssh key with ssh url",
			auth:    Auth{SSHKeyFile: "/keys/deploy key"},
			url:     "git@github.com:org/site.git",
			wantEnv: "GIT_SSH_COMMAND=ssh -i '/keys/deploy key' -o StrictHostKeyChecking=accept-new -F /dev/null",
		},
		{
			name: "ssh key ignored for https url",
			auth: Auth{SSHKeyFile: "/key"},
			url:  "https://github.com/org/site.git",
		},
		{
			name:      "token with https url",
			auth:      Auth{HTTPSTokenFile: tokenFile},
			url:       "https://github.com/org/site.git",
			wantEnv:   tokenEnv + "=s3cret",
			wantFlags: true,
		},
		{
			name:    "missing token file",
			auth:    Auth{HTTPSTokenFile: filepath.Join(t.TempDir(), "missing")},
			url:     "https://github.com/org/site.git",
			wantErr: true,
		},
		{
			name: "no auth",
			url:  "https://github.com/org/site.git",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewShellClient(tt.auth, nil)
			env, flags, err := c.authFor(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("authFor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantEnv != "" {
				found := false
				for _, e := range env {
					if e == tt.wantEnv {
						found = true
					}
				}
				if !found {
					t.Errorf("env %v does not contain %q", env, tt.wantEnv)
				}
			} else if len(env) != 0 && !tt.wantErr {
				t.Errorf("expected no env, got %v", env)
			}
			if tt.wantFlags != (len(flags) > 0) {
				t.Errorf("flags = %v, want flags: %v", flags, tt.wantFlags)
			}
			for _, f := range flags {
				if strings.Contains(f, "s3cret") {
					t.Error("token must not appear in command arguments")
				}
			}
		})
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple path", input: "/home/user/.ssh/key", want: "'/home/user/.ssh/key'"},
		{name: "path with spaces", input: "/home/my user/key", want: "'/home/my user/key'"},
		{name: "path with single quote", input: "/home/user's/key", want: "'/home/user'\\''s/key'"},
		{name: "empty string", input: "", want: "''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shellQuote(tt.input); got != tt.want {
				t.Errorf("shellQuote(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
