package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tino-kuptz/push-to/internal/activation"
	"github.com/tino-kuptz/push-to/internal/config"
	"github.com/tino-kuptz/push-to/internal/git"
	"github.com/tino-kuptz/push-to/internal/plan"
	"github.com/tino-kuptz/push-to/internal/sync"
	"github.com/tino-kuptz/push-to/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "push-to",
	Short: "Push a directory tree to a local, FTP, FTPS or SFTP target",
	Long: `push-to mirrors a source tree onto a target directory in ordered phases:
directories first, then assets, then logic files, then the removal of
everything the source no longer contains.

Files matching the dont_override patterns are never uploaded, files matching
dont_delete are never removed. The source can be a local directory or a Git
checkout, which also enables the webhook daemon.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time push from source to target",
	Long: `Sync scans both sides, builds the phased plan and executes it. With
--dry-run every change is logged instead of applied.`,
	RunE: runSync,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the operations a sync would perform",
	RunE:  runPlan,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and skip patterns",
	RunE:  runValidate,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve performs an initial push and then listens for GitHub push webhooks,
redeploying the configured Git source on every accepted delivery. The socket
is taken from systemd socket activation when available.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "push-to %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/push-to/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := sync.NewEngine(cfg, newGitClient(cfg, logger), logger, dryRun)
	report, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "run %s %s in %s\n", report.RunID, report.State, report.Duration().Round(time.Millisecond))
	for _, ph := range plan.Phases {
		_, _ = fmt.Fprintf(out, "  %-24s %d/%d\n", ph, report.Completed[ph], report.Planned[ph])
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Planning never writes, the dry-run backends make sure of it.
	engine := sync.NewEngine(cfg, newGitClient(cfg, logger), logger, true)
	p, err := engine.Plan(ctx)
	if err != nil {
		return err
	}

	source := cfg.SourceEndpoint()
	printPlan(cmd.OutOrStdout(), source.String(), cfg.Target.String(), p)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dontDelete, _ := cfg.DontDeleteSet()
	dontOverride, _ := cfg.DontOverrideSet()
	source := cfg.SourceEndpoint()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s configuration is valid\n", color.GreenString("OK"))
	_, _ = fmt.Fprintf(out, "  source:        %s\n", source.String())
	_, _ = fmt.Fprintf(out, "  target:        %s\n", cfg.Target.String())
	_, _ = fmt.Fprintf(out, "  dont_delete:   %s\n", orNone(dontDelete.String()))
	_, _ = fmt.Fprintf(out, "  dont_override: %s\n", orNone(dontOverride.String()))
	_, _ = fmt.Fprintf(out, "  assets:        %d extensions\n", cfg.AssetSet().Len())
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve mode is not enabled in config (serve.enabled: false)")
	}

	server, err := webhook.NewServer(cfg, newGitClient(cfg, logger), logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	ln, activated, err := activation.Listener(cfg.Serve.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to obtain listener: %w", err)
	}
	if activated {
		logger.Info("using systemd socket activation", "addr", ln.Addr().String())
	}

	return server.Start(ctx, ln)
}

func newGitClient(cfg *config.Config, logger *slog.Logger) git.Client {
	var auth git.Auth
	if g := cfg.Source.Git; g != nil {
		auth = git.Auth{SSHKeyFile: g.SSHKeyFile, HTTPSTokenFile: g.HTTPSTokenFile}
	}
	return git.NewShellClient(auth, logger)
}

// printPlan writes the operations of p grouped by phase.
func printPlan(out io.Writer, source, target string, p *plan.Plan) {
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)

	_, _ = bold.Fprintf(out, "Plan: %s -> %s\n", source, target)
	for i, ph := range plan.Phases {
		ops := p.Phase(ph)
		_, _ = bold.Fprintf(out, "\n%d. %s ", i+1, ph)
		_, _ = faint.Fprintf(out, "(%d)\n", len(ops))
		for _, op := range ops {
			_, _ = fmt.Fprintf(out, "   %s %s\n", marker(op.Action), op.TargetPath)
		}
	}

	if p.Empty() {
		_, _ = fmt.Fprintf(out, "\n%s\n", color.GreenString("Nothing to do."))
		return
	}
	_, _ = fmt.Fprintf(out, "\n%d operations\n", p.Len())
}

func marker(a plan.Action) string {
	switch a {
	case plan.CreateDirectory:
		return color.GreenString("+")
	case plan.Copy:
		return color.CyanString("~")
	default:
		return color.RedString("-")
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Logs go to stderr so plan and sync output on stdout stays clean.
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "push-to", "config.yaml")
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"source", cfg.Source.String(),
		"target", cfg.Target.String(),
		"concurrency", cfg.Sync.Concurrency,
		"state_dir", cfg.Paths.StateDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
