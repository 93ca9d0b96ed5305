package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Local is a backend on top of an afero file system, the OS file system in
// production.
type Local struct {
	base
	fs afero.Fs
}

var _ FileSystem = (*Local)(nil)

// NewLocal returns a local backend rooted at basePath.
func NewLocal(fsys afero.Fs, basePath string, dryRun bool, logger *slog.Logger) *Local {
	return &Local{
		base: newBase(basePath, dryRun, logger),
		fs:   fsys,
	}
}

// Connect checks that the base path is an existing directory.
func (l *Local) Connect(_ context.Context) error {
	info, err := l.fs.Stat(l.basePath)
	if err != nil {
		return fmt.Errorf("stat base path %s: %w", l.basePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("base path %s is not a directory", l.basePath)
	}
	return nil
}

func (l *Local) Disconnect(_ context.Context) error {
	return nil
}

// ScanDirectory lists every regular file below the base path, hidden files
// included.
func (l *Local) ScanDirectory(ctx context.Context) error {
	var files []string

	err := afero.Walk(l.fs, l.basePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, filepath.ToSlash(p))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", l.basePath, err)
	}

	l.setFiles(files)
	l.logger.Debug("scanned local directory", "path", l.basePath, "files", len(files))
	return nil
}

func (l *Local) ReadFile(_ context.Context, p string) ([]byte, error) {
	return afero.ReadFile(l.fs, p)
}

func (l *Local) WriteFile(_ context.Context, p string, data []byte) error {
	if l.dry("write file", p, "bytes", len(data)) {
		return nil
	}
	return afero.WriteFile(l.fs, p, data, 0644)
}

func (l *Local) CreateDirectory(_ context.Context, p string) error {
	if l.dry("create directory", p) {
		return nil
	}
	return l.fs.MkdirAll(p, 0755)
}

func (l *Local) DeleteDirectory(_ context.Context, p string) error {
	if l.dry("delete directory", p) {
		return nil
	}
	return l.fs.RemoveAll(p)
}

func (l *Local) DeleteFile(_ context.Context, p string) error {
	if l.dry("delete file", p) {
		return nil
	}
	if err := l.fs.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l.tolerate("delete file", p, err)
		}
		return err
	}
	return nil
}
