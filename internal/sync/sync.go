// Package sync runs one push of a source tree onto a target: checkout,
// connect, scan, plan, execute and report.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tino-kuptz/push-to/internal/config"
	"github.com/tino-kuptz/push-to/internal/filesystem"
	"github.com/tino-kuptz/push-to/internal/git"
	"github.com/tino-kuptz/push-to/internal/plan"
)

// FileSystemFactory builds the backend for one endpoint.
type FileSystemFactory func(endpoint config.Endpoint, dryRun bool, logger *slog.Logger) (filesystem.FileSystem, error)

// Engine orchestrates the sync process
type Engine struct {
	cfg    *config.Config
	git    git.Client
	logger *slog.Logger
	dryRun bool
	newFS  FileSystemFactory
	now    func() time.Time
}

// NewEngine creates a new sync engine. dryRun is combined with the
// sync.dry_run setting of cfg.
func NewEngine(cfg *config.Config, gitClient git.Client, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:    cfg,
		git:    gitClient,
		logger: logger,
		dryRun: dryRun || cfg.Sync.DryRun,
		newFS:  filesystem.New,
		now:    time.Now,
	}
}

// WithFileSystemFactory replaces the backend constructor.
func (e *Engine) WithFileSystemFactory(f FileSystemFactory) *Engine {
	e.newFS = f
	return e
}

// session holds the connected backends of one run.
type session struct {
	source filesystem.FileSystem
	target filesystem.FileSystem
	commit string
}

// Run executes the complete sync process. The returned report is never nil,
// also when err is not.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID, "dry_run", e.dryRun)

	source := e.cfg.SourceEndpoint()
	report := &Report{
		RunID:     runID,
		DryRun:    e.dryRun,
		Source:    source.String(),
		Target:    e.cfg.Target.String(),
		State:     plan.Ready.String(),
		StartedAt: e.now(),
	}

	logger.Info("starting sync", "source", report.Source, "target", report.Target)

	err := e.run(ctx, logger, report)
	report.FinishedAt = e.now()
	if err != nil {
		report.State = plan.Failed.String()
		report.Error = err.Error()
	}

	if path := e.cfg.StateFilePath(); path != "" {
		if serr := saveReport(path, report); serr != nil {
			logger.Warn("failed to save run report", "path", path, "error", serr)
		}
	}

	if err != nil {
		logger.Error("sync failed", "error", err, "duration", report.Duration())
		return report, err
	}
	logger.Info("sync completed successfully", "duration", report.Duration())
	return report, nil
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, report *Report) error {
	s, p, err := e.prepare(ctx, logger)
	if s != nil {
		defer s.close(context.WithoutCancel(ctx), logger)
		report.Commit = s.commit
	}
	if err != nil {
		return err
	}
	report.Planned = p.Counts()

	exec := &plan.Executor{
		Source:      s.source,
		Target:      s.target,
		Concurrency: e.cfg.Sync.Concurrency,
		Logger:      logger,
	}
	res, err := exec.Execute(ctx, p)
	if res != nil {
		report.State = res.State.String()
		report.Completed = res.Completed
	}
	if err != nil {
		return fmt.Errorf("failed to apply sync plan: %w", err)
	}
	return nil
}

// Plan connects both sides and returns the plan a run would execute,
// without executing it.
func (e *Engine) Plan(ctx context.Context) (*plan.Plan, error) {
	logger := e.logger.With("dry_run", e.dryRun)
	s, p, err := e.prepare(ctx, logger)
	if s != nil {
		defer s.close(context.WithoutCancel(ctx), logger)
	}
	return p, err
}

// prepare validates the patterns, checks out the source, connects and
// scans both sides and builds the plan. A non-nil session must be closed by
// the caller, also when err is set.
func (e *Engine) prepare(ctx context.Context, logger *slog.Logger) (*session, *plan.Plan, error) {
	dontDelete, err := e.cfg.DontDeleteSet()
	if err != nil {
		return nil, nil, fmt.Errorf("sync.dont_delete: %w", err)
	}
	dontOverride, err := e.cfg.DontOverrideSet()
	if err != nil {
		return nil, nil, fmt.Errorf("sync.dont_override: %w", err)
	}

	s := &session{}
	if g := e.cfg.Source.Git; g != nil {
		logger.Info("fetching repository", "url", g.URL, "ref", g.Ref, "dest", g.CheckoutDir)
		commit, err := e.git.EnsureCheckout(ctx, g.URL, g.Ref, g.CheckoutDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to checkout repository: %w", err)
		}
		logger.Info("repository checked out", "commit", commit)
		s.commit = commit
	}

	if s.source, err = e.newFS(e.cfg.SourceEndpoint(), e.dryRun, logger.With("side", SideSource)); err != nil {
		return s, nil, &ConnectError{Side: SideSource, Err: err}
	}
	if s.target, err = e.newFS(e.cfg.Target, e.dryRun, logger.With("side", SideTarget)); err != nil {
		return s, nil, &ConnectError{Side: SideTarget, Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	for side, fs := range map[Side]filesystem.FileSystem{SideSource: s.source, SideTarget: s.target} {
		side, fs := side, fs
		g.Go(func() error {
			if err := fs.Connect(gctx); err != nil {
				return &ConnectError{Side: side, Err: err}
			}
			if err := fs.ScanDirectory(gctx); err != nil {
				return &ScanError{Side: side, Err: err}
			}
			logger.Info("scanned directory", "side", side, "base", fs.BasePath(), "files", len(fs.Files()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s, nil, err
	}

	p := plan.Build(plan.Input{
		SourceFiles:  s.source.Files(),
		SourceBase:   s.source.BasePath(),
		TargetFiles:  s.target.Files(),
		TargetBase:   s.target.BasePath(),
		DontOverride: dontOverride,
		DontDelete:   dontDelete,
		Assets:       e.cfg.AssetSet(),
	})

	logger.Info("sync plan", "operations", p.Len(), "phases", p.Summary())
	if e.dryRun {
		for _, op := range p.Operations() {
			logger.Info("[dry-run] planned operation", "phase", op.Phase, "action", op.Action,
				"source", op.SourcePath, "target", op.TargetPath)
		}
	}
	return s, p, nil
}

// close disconnects every backend that was created. Failures are logged
// only, they never mask the result of the run.
func (s *session) close(ctx context.Context, logger *slog.Logger) {
	for side, fs := range map[Side]filesystem.FileSystem{SideSource: s.source, SideTarget: s.target} {
		if fs == nil {
			continue
		}
		if err := fs.Disconnect(ctx); err != nil {
			logger.Warn("failed to disconnect", "side", side, "error", err)
		}
	}
}
