package filesystem

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/jlaffaye/ftp"

	"github.com/tino-kuptz/push-to/internal/config"
)

// ftpConn is the subset of *ftp.ServerConn the backend uses.
type ftpConn interface {
	Login(user, password string) error
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	MakeDir(path string) error
	Delete(path string) error
	RemoveDirRecur(path string) error
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(p string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(p)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FTP is a backend for plain FTP and FTPS servers. A single control
// connection serves the whole run, so calls are serialized.
type FTP struct {
	base
	endpoint config.Endpoint
	dial     func(ctx context.Context) (ftpConn, error)

	mu   sync.Mutex
	conn ftpConn
}

var _ FileSystem = (*FTP)(nil)

// NewFTP returns an FTP or FTPS backend for endpoint.
func NewFTP(endpoint config.Endpoint, dryRun bool, logger *slog.Logger) *FTP {
	f := &FTP{
		base:     newBase(endpoint.Path, dryRun, logger),
		endpoint: endpoint,
	}
	f.dial = f.dialServer
	return f
}

func (f *FTP) dialServer(ctx context.Context) (ftpConn, error) {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.endpoint.Timeout),
	}

	if f.endpoint.Type == config.TypeFTPS {
		tlsConfig := &tls.Config{
			ServerName:         f.endpoint.Host,
			InsecureSkipVerify: f.endpoint.InsecureSkipVerify, //nolint:gosec // opt-in per endpoint
			MinVersion:         tls.VersionTLS12,
		}
		if f.endpoint.TLS == config.TLSImplicit {
			opts = append(opts, ftp.DialWithTLS(tlsConfig))
		} else {
			opts = append(opts, ftp.DialWithExplicitTLS(tlsConfig))
		}
	}

	c, err := ftp.Dial(f.endpoint.Address(), opts...)
	if err != nil {
		return nil, err
	}
	return serverConn{c}, nil
}

func (f *FTP) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.endpoint.Address(), err)
	}
	if err := conn.Login(f.endpoint.User, f.endpoint.Password); err != nil {
		_ = conn.Quit()
		return fmt.Errorf("login as %s: %w", f.endpoint.User, err)
	}

	f.conn = conn
	f.logger.Debug("connected", "endpoint", f.endpoint.String())
	return nil
}

func (f *FTP) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return nil
	}
	err := f.conn.Quit()
	f.conn = nil
	return err
}

func (f *FTP) connected() (ftpConn, error) {
	if f.conn == nil {
		return nil, fmt.Errorf("not connected to %s", f.endpoint.Address())
	}
	return f.conn, nil
}

func (f *FTP) ScanDirectory(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.connected()
	if err != nil {
		return err
	}

	root := f.basePath
	if root == "" {
		root = "/"
	}

	var files []string
	if err := f.scan(ctx, conn, root, &files); err != nil {
		return err
	}

	f.setFiles(files)
	f.logger.Debug("scanned ftp directory", "path", root, "files", len(files))
	return nil
}

func (f *FTP) scan(ctx context.Context, conn ftpConn, dir string, files *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := conn.List(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.Name == "." || e.Name == ".." || e.Name == "" {
			continue
		}
		p := path.Join(dir, e.Name)
		switch e.Type {
		case ftp.EntryTypeFile:
			*files = append(*files, p)
		case ftp.EntryTypeFolder:
			if err := f.scan(ctx, conn, p, files); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *FTP) ReadFile(_ context.Context, p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.connected()
	if err != nil {
		return nil, err
	}

	r, err := conn.Retr(p)
	if err != nil {
		return nil, fmt.Errorf("retr %s: %w", p, err)
	}
	defer func() {
		_ = r.Close()
	}()

	return io.ReadAll(r)
}

func (f *FTP) WriteFile(_ context.Context, p string, data []byte) error {
	if f.dry("write file", p, "bytes", len(data)) {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.connected()
	if err != nil {
		return err
	}
	if err := conn.Stor(p, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("stor %s: %w", p, err)
	}
	return nil
}

// CreateDirectory creates p level by level. Servers answer MKD on an
// existing directory with an error, so only the last level's failure
// counts, and only when the directory cannot be listed afterwards.
func (f *FTP) CreateDirectory(_ context.Context, p string) error {
	if f.dry("create directory", p) {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.connected()
	if err != nil {
		return err
	}

	var lastErr error
	current := ""
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		current += "/" + part
		lastErr = conn.MakeDir(current)
	}

	if lastErr != nil {
		if _, err := conn.List(current); err != nil {
			return fmt.Errorf("mkdir %s: %w", p, lastErr)
		}
	}
	return nil
}

func (f *FTP) DeleteDirectory(_ context.Context, p string) error {
	if f.dry("delete directory", p) {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.connected()
	if err != nil {
		return err
	}
	if err := conn.RemoveDirRecur(p); err != nil {
		return f.tolerate("delete directory", p, err)
	}
	return nil
}

func (f *FTP) DeleteFile(_ context.Context, p string) error {
	if f.dry("delete file", p) {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.connected()
	if err != nil {
		return err
	}
	if err := conn.Delete(p); err != nil {
		return f.tolerate("delete file", p, err)
	}
	return nil
}
