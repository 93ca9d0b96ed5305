package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tino-kuptz/push-to/internal/asset"
	"github.com/tino-kuptz/push-to/internal/pattern"
)

// EndpointType selects the file system backend of one side
type EndpointType string

const (
	TypeLocal EndpointType = "local"
	TypeFTP   EndpointType = "ftp"
	TypeFTPS  EndpointType = "ftps"
	TypeSFTP  EndpointType = "sftp"
)

// TLSMode selects how FTPS negotiates TLS
type TLSMode string

const (
	TLSExplicit TLSMode = "explicit"
	TLSImplicit TLSMode = "implicit"
)

// DefaultTimeout applies to remote endpoints without an explicit timeout.
const DefaultTimeout = 30 * time.Second

// Config represents the complete push-to configuration
type Config struct {
	Source Endpoint    `yaml:"source"`
	Target Endpoint    `yaml:"target"`
	Sync   SyncConfig  `yaml:"sync"`
	Paths  PathsConfig `yaml:"paths"`
	Serve  ServeConfig `yaml:"serve"`
}

// Endpoint describes one side of a sync run
type Endpoint struct {
	Type                 EndpointType  `yaml:"type"`
	Host                 string        `yaml:"host"`
	Port                 int           `yaml:"port"`
	User                 string        `yaml:"user"`
	Password             string        `yaml:"password"`
	PrivateKeyFile       string        `yaml:"private_key_file"`
	PrivateKeyPassphrase string        `yaml:"private_key_passphrase"`
	KnownHostsFile       string        `yaml:"known_hosts_file"`
	TLS                  TLSMode       `yaml:"tls"`
	InsecureSkipVerify   bool          `yaml:"insecure_skip_verify"`
	Timeout              time.Duration `yaml:"timeout"`
	Path                 string        `yaml:"path"`
	Git                  *GitConfig    `yaml:"git"`
}

// GitConfig checks the source tree out of a Git repository
type GitConfig struct {
	URL            string `yaml:"url"`
	Ref            string `yaml:"ref"`
	CheckoutDir    string `yaml:"checkout_dir"`
	Subdir         string `yaml:"subdir"`
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// SyncConfig configures planning and execution
type SyncConfig struct {
	AssetExtensions string `yaml:"asset_extensions"`
	DontDelete      string `yaml:"dont_delete"`
	DontOverride    string `yaml:"dont_override"`
	DryRun          bool   `yaml:"dry_run"`
	Concurrency     int    `yaml:"concurrency"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	StateDir string `yaml:"state_dir"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Source.expandEnv()
	c.Target.expandEnv()
	c.Sync.AssetExtensions = os.ExpandEnv(c.Sync.AssetExtensions)
	c.Sync.DontDelete = os.ExpandEnv(c.Sync.DontDelete)
	c.Sync.DontOverride = os.ExpandEnv(c.Sync.DontOverride)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

func (e *Endpoint) expandEnv() {
	e.Host = os.ExpandEnv(e.Host)
	e.User = os.ExpandEnv(e.User)
	e.Password = os.ExpandEnv(e.Password)
	e.PrivateKeyFile = os.ExpandEnv(e.PrivateKeyFile)
	e.PrivateKeyPassphrase = os.ExpandEnv(e.PrivateKeyPassphrase)
	e.KnownHostsFile = os.ExpandEnv(e.KnownHostsFile)
	e.Path = os.ExpandEnv(e.Path)
	if e.Git != nil {
		e.Git.URL = os.ExpandEnv(e.Git.URL)
		e.Git.Ref = os.ExpandEnv(e.Git.Ref)
		e.Git.CheckoutDir = os.ExpandEnv(e.Git.CheckoutDir)
		e.Git.Subdir = os.ExpandEnv(e.Git.Subdir)
		e.Git.SSHKeyFile = os.ExpandEnv(e.Git.SSHKeyFile)
		e.Git.HTTPSTokenFile = os.ExpandEnv(e.Git.HTTPSTokenFile)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	c.Source.applyDefaults()
	c.Target.applyDefaults()

	if c.Serve.Enabled && len(c.Serve.AllowedEventTypes) == 0 {
		c.Serve.AllowedEventTypes = []string{"push"}
	}
}

func (e *Endpoint) applyDefaults() {
	if e.Type == "" {
		e.Type = TypeLocal
	}
	if e.Type == TypeFTPS && e.TLS == "" {
		e.TLS = TLSExplicit
	}
	if e.IsRemote() {
		if e.Port == 0 {
			e.Port = e.defaultPort()
		}
		if e.Timeout == 0 {
			e.Timeout = DefaultTimeout
		}
	}
}

func (e *Endpoint) defaultPort() int {
	switch e.Type {
	case TypeSFTP:
		return 22
	case TypeFTPS:
		if e.TLS == TLSImplicit {
			return 990
		}
	}
	return 21
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := c.Source.validate("source"); err != nil {
		return err
	}
	if err := c.Target.validate("target"); err != nil {
		return err
	}

	if c.Source.Git != nil {
		if c.Source.Type != TypeLocal {
			return fmt.Errorf("source.git requires source.type %q, got %q", TypeLocal, c.Source.Type)
		}
		if err := c.Source.Git.validate(); err != nil {
			return err
		}
	} else if c.Source.Path == "" {
		return fmt.Errorf("source.path is required")
	}
	if c.Target.Git != nil {
		return fmt.Errorf("target.git is not supported")
	}

	if _, err := c.DontDeleteSet(); err != nil {
		return fmt.Errorf("sync.dont_delete: %w", err)
	}
	if _, err := c.DontOverrideSet(); err != nil {
		return fmt.Errorf("sync.dont_override: %w", err)
	}
	if c.Sync.Concurrency < 0 {
		return fmt.Errorf("sync.concurrency must not be negative: %d", c.Sync.Concurrency)
	}

	if c.Paths.StateDir != "" && !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}

	if c.Serve.Enabled {
		if c.Source.Git == nil {
			return fmt.Errorf("serve requires source.git to be configured")
		}
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

func (e *Endpoint) validate(side string) error {
	switch e.Type {
	case TypeLocal:
		if e.Git == nil && e.Path == "" {
			return fmt.Errorf("%s.path is required for local endpoints", side)
		}
		return nil
	case TypeFTP, TypeSFTP:
	case TypeFTPS:
		switch e.TLS {
		case TLSExplicit, TLSImplicit:
		default:
			return fmt.Errorf("invalid %s.tls mode: %s (must be explicit or implicit)", side, e.TLS)
		}
	default:
		return fmt.Errorf("invalid %s.type: %q (must be local, ftp, ftps, or sftp)", side, e.Type)
	}

	if e.Host == "" {
		return fmt.Errorf("%s.host is required for %s endpoints", side, e.Type)
	}
	if e.User == "" {
		return fmt.Errorf("%s.user is required for %s endpoints", side, e.Type)
	}
	if e.Port < 0 || e.Port > 65535 {
		return fmt.Errorf("%s.port out of range: %d", side, e.Port)
	}
	if e.Timeout < 0 {
		return fmt.Errorf("%s.timeout must not be negative: %s", side, e.Timeout)
	}
	if e.Type == TypeSFTP && e.Password == "" && e.PrivateKeyFile == "" {
		return fmt.Errorf("%s: one of password or private_key_file is required for sftp", side)
	}
	return nil
}

func (g *GitConfig) validate() error {
	if g.URL == "" {
		return fmt.Errorf("source.git.url is required")
	}
	if g.Ref == "" {
		return fmt.Errorf("source.git.ref is required")
	}
	if g.CheckoutDir == "" {
		return fmt.Errorf("source.git.checkout_dir is required")
	}
	if !filepath.IsAbs(g.CheckoutDir) {
		return fmt.Errorf("source.git.checkout_dir must be an absolute path: %s", g.CheckoutDir)
	}

	// Only one auth method may be configured, and it must match the URL scheme
	if g.SSHKeyFile != "" && g.HTTPSTokenFile != "" {
		return fmt.Errorf("source.git: only one of ssh_key_file or https_token_file may be set")
	}
	if g.SSHKeyFile != "" && !g.IsSSH() {
		return fmt.Errorf("source.git.ssh_key_file is set but url does not use an SSH scheme (git@ or ssh://)")
	}
	if g.HTTPSTokenFile != "" && !g.IsHTTPS() {
		return fmt.Errorf("source.git.https_token_file is set but url does not use HTTPS scheme")
	}
	return nil
}

// IsRemote returns true for network endpoints
func (e *Endpoint) IsRemote() bool {
	return e.Type == TypeFTP || e.Type == TypeFTPS || e.Type == TypeSFTP
}

// Address returns host:port of a remote endpoint
func (e *Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String describes the endpoint without credentials
func (e *Endpoint) String() string {
	if !e.IsRemote() {
		return fmt.Sprintf("%s:%s", e.Type, e.Path)
	}
	return fmt.Sprintf("%s://%s@%s%s", e.Type, e.User, e.Address(), e.Path)
}

// SourcePath returns the directory the source side is scanned from
func (c *Config) SourcePath() string {
	g := c.Source.Git
	if g == nil {
		return c.Source.Path
	}
	if g.Subdir == "" {
		return g.CheckoutDir
	}
	return filepath.Join(g.CheckoutDir, g.Subdir)
}

// SourceEndpoint returns the source endpoint with its path resolved
func (c *Config) SourceEndpoint() Endpoint {
	e := c.Source
	e.Path = c.SourcePath()
	return e
}

// StateFilePath returns the path to the last-run report, or "" when no
// state directory is configured
func (c *Config) StateFilePath() string {
	if c.Paths.StateDir == "" {
		return ""
	}
	return filepath.Join(c.Paths.StateDir, "last-run.json")
}

// DontDeleteSet parses sync.dont_delete
func (c *Config) DontDeleteSet() (pattern.Set, error) {
	return pattern.ParseSet(c.Sync.DontDelete)
}

// DontOverrideSet parses sync.dont_override
func (c *Config) DontOverrideSet() (pattern.Set, error) {
	return pattern.ParseSet(c.Sync.DontOverride)
}

// AssetSet parses sync.asset_extensions, falling back to the defaults
func (c *Config) AssetSet() asset.ExtensionSet {
	return asset.ParseExtensions(c.Sync.AssetExtensions)
}

// AuthMethod returns a description of the configured git auth method
func (g *GitConfig) AuthMethod() string {
	if g.SSHKeyFile != "" {
		return "ssh"
	}
	if g.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the repo URL uses HTTPS
func (g *GitConfig) IsHTTPS() bool {
	return strings.HasPrefix(g.URL, "https://")
}

// IsSSH returns true if the repo URL uses SSH
func (g *GitConfig) IsSSH() bool {
	return strings.HasPrefix(g.URL, "git@") || strings.HasPrefix(g.URL, "ssh://")
}
