// Package filesystem provides the file system backends a sync run reads from
// and writes to.
//
// All paths exchanged with a backend are absolute and use forward slashes.
// Every backend honors dry-run mode by logging mutations instead of
// performing them; reads and scans always happen.
package filesystem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/tino-kuptz/push-to/internal/config"
)

// FileSystem is the capability set the planner and executor rely on.
type FileSystem interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// ScanDirectory refreshes the listing returned by Files.
	ScanDirectory(ctx context.Context) error
	Files() []string

	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error

	// CreateDirectory and DeleteDirectory work recursively.
	CreateDirectory(ctx context.Context, path string) error
	DeleteDirectory(ctx context.Context, path string) error
	DeleteFile(ctx context.Context, path string) error

	RelativePath(abs string) string
	BasePath() string
}

// New returns the backend configured by endpoint.
func New(endpoint config.Endpoint, dryRun bool, logger *slog.Logger) (FileSystem, error) {
	switch endpoint.Type {
	case config.TypeLocal, "":
		abs, err := filepath.Abs(endpoint.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve local path %s: %w", endpoint.Path, err)
		}
		return NewLocal(afero.NewOsFs(), abs, dryRun, logger), nil
	case config.TypeFTP, config.TypeFTPS:
		return NewFTP(endpoint, dryRun, logger), nil
	case config.TypeSFTP:
		return NewSFTP(endpoint, dryRun, logger), nil
	default:
		return nil, fmt.Errorf("unsupported endpoint type %q", endpoint.Type)
	}
}

// CleanPath converts p to a clean slash-separated path. An empty path stays
// empty.
func CleanPath(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}

// RelativePath strips base from p. The result starts with "/" unless p
// equals base, in which case it is empty. Paths outside base and an empty
// or root base leave p unchanged, so applying it twice is a no-op.
//
// A base of "." is the working directory, whose listings carry no prefix:
// "a.html" and "./a.html" both become "/a.html".
func RelativePath(base, p string) string {
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		return p
	}
	if base == "." {
		return relativeToCurrent(p)
	}
	if p == base || p == base+"/" {
		return ""
	}
	if strings.HasPrefix(p, base+"/") {
		return p[len(base):]
	}
	return p
}

func relativeToCurrent(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	clean := CleanPath(p)
	switch {
	case clean == "" || clean == ".":
		return ""
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return p
	}
	return "/" + clean
}

// Rebase joins a relative path produced by RelativePath onto base. Under a
// "." base the result carries no prefix, matching what a scan of "." lists.
func Rebase(base, rel string) string {
	base = strings.TrimSuffix(base, "/")
	if rel == "" {
		return base
	}
	if base == "." {
		if rel = strings.TrimPrefix(rel, "/"); rel == "" {
			return base
		}
		return rel
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return base + rel
}

// IsRoot reports whether rel denotes the base directory itself.
func IsRoot(rel string) bool {
	return rel == "" || rel == "/" || rel == "."
}

// base holds the state every backend shares.
type base struct {
	basePath string
	files    []string
	dryRun   bool
	logger   *slog.Logger
}

func newBase(basePath string, dryRun bool, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return base{basePath: CleanPath(basePath), dryRun: dryRun, logger: logger}
}

func (b *base) BasePath() string {
	return b.basePath
}

func (b *base) Files() []string {
	return append([]string(nil), b.files...)
}

func (b *base) RelativePath(abs string) string {
	return RelativePath(b.basePath, abs)
}

func (b *base) setFiles(files []string) {
	sort.Strings(files)
	b.files = files
}

// dry logs the mutation and reports true when running in dry-run mode.
func (b *base) dry(action, p string, attrs ...any) bool {
	if !b.dryRun {
		return false
	}
	b.logger.Info(fmt.Sprintf("[dry-run] would %s", action), append([]any{"path", p}, attrs...)...)
	return true
}

// tolerate swallows a delete failure with a warning.
func (b *base) tolerate(action, p string, err error) error {
	b.logger.Warn("ignoring failed delete", "action", action, "path", p, "error", err)
	return nil
}
