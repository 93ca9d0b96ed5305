package plan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tino-kuptz/push-to/internal/filesystem"
)

// State is the lifecycle state of a plan execution.
type State int

const (
	Ready State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets reports carry the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OperationError reports the operation that stopped a plan.
type OperationError struct {
	Op  Operation
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("phase %s: %s: %v", e.Op.Phase, e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Result describes how far an execution got.
type Result struct {
	State State
	// Phase is the last phase that was started.
	Phase Phase
	// Completed counts the successful operations per phase.
	Completed map[Phase]int
	Duration  time.Duration
}

// Executor runs plans against a source and a target file system.
type Executor struct {
	Source filesystem.FileSystem
	Target filesystem.FileSystem
	// Concurrency bounds the operations in flight per phase. Zero or less
	// means unbounded.
	Concurrency int
	Logger      *slog.Logger
}

// Execute runs the phases of p in order. Operations of one phase run
// concurrently and all of them settle before the next phase starts. The
// first failing operation marks the run failed, its error is returned as
// an *OperationError and no later phase is started. Completed phases are
// not rolled back.
func (e *Executor) Execute(ctx context.Context, p *Plan) (*Result, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	start := time.Now()
	res := &Result{State: Running, Completed: make(map[Phase]int, len(Phases))}
	defer func() {
		res.Duration = time.Since(start)
	}()

	for _, ph := range Phases {
		ops := p.Phase(ph)
		res.Phase = ph
		res.Completed[ph] = 0

		if err := ctx.Err(); err != nil {
			res.State = Failed
			return res, fmt.Errorf("phase %s not started: %w", ph, err)
		}
		if len(ops) == 0 {
			continue
		}

		logger.Info("executing phase", "phase", ph.String(), "operations", len(ops))
		done, err := e.runPhase(ctx, logger, ops)
		res.Completed[ph] = done
		if err != nil {
			res.State = Failed
			return res, err
		}
	}

	res.State = Completed
	return res, nil
}

// runPhase dispatches ops and waits for all of them. Siblings of a failed
// operation are not cancelled.
func (e *Executor) runPhase(ctx context.Context, logger *slog.Logger, ops []Operation) (int, error) {
	var g errgroup.Group
	if e.Concurrency > 0 {
		g.SetLimit(e.Concurrency)
	}

	var done atomic.Int64
	for _, op := range ops {
		op := op
		g.Go(func() error {
			if err := e.run(ctx, op); err != nil {
				logger.Error("operation failed", "phase", op.Phase.String(), "operation", op.String(), "error", err)
				return &OperationError{Op: op, Err: err}
			}
			logger.Debug("operation done", "operation", op.String())
			done.Add(1)
			return nil
		})
	}

	err := g.Wait()
	return int(done.Load()), err
}

func (e *Executor) run(ctx context.Context, op Operation) error {
	switch op.Action {
	case CreateDirectory:
		return e.Target.CreateDirectory(ctx, op.TargetPath)
	case Copy:
		data, err := e.Source.ReadFile(ctx, op.SourcePath)
		if err != nil {
			return fmt.Errorf("read %s: %w", op.SourcePath, err)
		}
		if err := e.Target.WriteFile(ctx, op.TargetPath, data); err != nil {
			return fmt.Errorf("write %s: %w", op.TargetPath, err)
		}
		return nil
	case DeleteFile:
		return e.Target.DeleteFile(ctx, op.TargetPath)
	case DeleteDirectory:
		return e.Target.DeleteDirectory(ctx, op.TargetPath)
	default:
		return fmt.Errorf("unknown action %s", op.Action)
	}
}
