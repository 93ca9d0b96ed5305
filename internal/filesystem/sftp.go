package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tino-kuptz/push-to/internal/config"
)

// SFTP is a backend on top of an SFTP session over SSH.
type SFTP struct {
	base
	endpoint config.Endpoint
	dial     func(ctx context.Context) (*sftp.Client, io.Closer, error)

	client *sftp.Client
	closer io.Closer
}

var _ FileSystem = (*SFTP)(nil)

// NewSFTP returns an SFTP backend for endpoint.
func NewSFTP(endpoint config.Endpoint, dryRun bool, logger *slog.Logger) *SFTP {
	s := &SFTP{
		base:     newBase(endpoint.Path, dryRun, logger),
		endpoint: endpoint,
	}
	s.dial = s.dialSSH
	return s
}

func (s *SFTP) dialSSH(ctx context.Context) (*sftp.Client, io.Closer, error) {
	sshConfig, err := s.clientConfig()
	if err != nil {
		return nil, nil, err
	}

	addr := s.endpoint.Address()
	dialer := &net.Dialer{Timeout: sshConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial ssh tcp: %w", err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("ssh handshake: %w", err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, fmt.Errorf("create sftp client: %w", err)
	}
	return client, sshClient, nil
}

func (s *SFTP) clientConfig() (*ssh.ClientConfig, error) {
	sshConfig := &ssh.ClientConfig{
		User:    s.endpoint.User,
		Auth:    []ssh.AuthMethod{},
		Timeout: s.endpoint.Timeout,
	}

	if s.endpoint.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.endpoint.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		sshConfig.HostKeyCallback = cb
	} else {
		s.logger.Warn("no known_hosts_file configured, accepting any host key", "host", s.endpoint.Host)
		sshConfig.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // explicit opt-out
	}

	if s.endpoint.PrivateKeyFile != "" {
		signer, err := loadPrivateKey(s.endpoint.PrivateKeyFile, s.endpoint.PrivateKeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("load private key: %w", err)
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}
	if s.endpoint.Password != "" {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(s.endpoint.Password))
	}

	return sshConfig, nil
}

func loadPrivateKey(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err == nil {
		return signer, nil
	}
	if passphrase == "" {
		return nil, err
	}
	return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
}

func (s *SFTP) Connect(ctx context.Context) error {
	client, closer, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.client = client
	s.closer = closer
	s.logger.Debug("connected", "endpoint", s.endpoint.String())
	return nil
}

func (s *SFTP) Disconnect(_ context.Context) error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	s.client, s.closer = nil, nil
	return err
}

func (s *SFTP) connected() (*sftp.Client, error) {
	if s.client == nil {
		return nil, fmt.Errorf("not connected to %s", s.endpoint.Address())
	}
	return s.client, nil
}

func (s *SFTP) ScanDirectory(ctx context.Context) error {
	client, err := s.connected()
	if err != nil {
		return err
	}

	root := s.basePath
	if root == "" {
		root = "/"
	}

	var files []string
	walker := client.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return fmt.Errorf("walk %s: %w", walker.Path(), err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if walker.Stat().Mode().IsRegular() {
			files = append(files, walker.Path())
		}
	}

	s.setFiles(files)
	s.logger.Debug("scanned sftp directory", "path", root, "files", len(files))
	return nil
}

func (s *SFTP) ReadFile(_ context.Context, p string) ([]byte, error) {
	client, err := s.connected()
	if err != nil {
		return nil, err
	}

	f, err := client.Open(p)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	return io.ReadAll(f)
}

func (s *SFTP) WriteFile(_ context.Context, p string, data []byte) error {
	if s.dry("write file", p, "bytes", len(data)) {
		return nil
	}

	client, err := s.connected()
	if err != nil {
		return err
	}

	f, err := client.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *SFTP) CreateDirectory(_ context.Context, p string) error {
	if s.dry("create directory", p) {
		return nil
	}

	client, err := s.connected()
	if err != nil {
		return err
	}
	return client.MkdirAll(p)
}

func (s *SFTP) DeleteDirectory(_ context.Context, p string) error {
	if s.dry("delete directory", p) {
		return nil
	}

	client, err := s.connected()
	if err != nil {
		return err
	}
	if err := client.RemoveAll(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.tolerate("delete directory", p, err)
		}
		return err
	}
	return nil
}

func (s *SFTP) DeleteFile(_ context.Context, p string) error {
	if s.dry("delete file", p) {
		return nil
	}

	client, err := s.connected()
	if err != nil {
		return err
	}
	if err := client.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.tolerate("delete file", p, err)
		}
		return err
	}
	return nil
}
