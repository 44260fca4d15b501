package runner

import (
	"context"
	"fmt"

	"github.com/AltoxaM/devrun/internal/mutex"
	"github.com/AltoxaM/devrun/internal/outputwriter"
	"github.com/AltoxaM/devrun/internal/styles"
	"github.com/AltoxaM/devrun/tasks"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"
)

// A Runner executes tasks from a [tasks.Registry], dependencies first.
//
// Each call to Run executes every task in the requested task's dependency
// closure exactly once, even when several dependents share it. Runs may
// overlap: a watch-triggered rebuild is just another Run.
type Runner struct {
	registry *tasks.Registry
	mw       MultiWriter

	// Take mu to touch status.
	mu     *mutex.Mutex
	status map[string]TaskStatus
}

func New(reg *tasks.Registry, mw MultiWriter) *Runner {
	r := &Runner{
		registry: reg,
		mw:       newLineStreams(mw, outputwriter.New),
		mu:       mutex.New("runner"),
		status:   map[string]TaskStatus{},
	}
	for _, id := range reg.IDs() {
		r.status[id] = TaskStatusNotStarted
	}
	return r
}

// Run executes the task with the given ID and everything it depends on, and
// does not return until they're done. A run containing long tasks lasts
// until ctx is canceled, and then returns ctx.Err().
func (r *Runner) Run(ctx context.Context, id string) error {
	plan, err := r.registry.Plan(id)
	if err != nil {
		return err
	}
	r.mu.Printf("run %s: plan %v", id, plan)

	run := &run{
		mu:      mutex.New("run:" + id),
		futures: make(map[string]*future, len(plan)),
	}
	err = r.execute(ctx, run, id)

	if ctx.Err() != nil {
		r.printf(InternalTaskInterleaved, styles.Log, "run canceled")
		return ctx.Err()
	}
	if err != nil {
		r.printf(InternalTaskInterleaved, styles.Error, "failed")
		return err
	}
	r.printf(InternalTaskInterleaved, styles.Log, "done")
	return nil
}

// Registry returns the registry the runner draws tasks from.
func (r *Runner) Registry() *tasks.Registry {
	return r.registry
}

// Status returns the state of every registered task, as of the most recent
// run that touched it.
func (r *Runner) Status() map[string]TaskStatus {
	defer r.mu.Lock("Status").Unlock()

	status := make(map[string]TaskStatus, len(r.status))
	for id, s := range r.status {
		status[id] = s
	}
	return status
}

// A run memoizes task results so that shared dependencies execute once.
type run struct {
	mu      *mutex.Mutex
	futures map[string]*future
}

type future struct {
	done chan struct{}
	err  error
}

// execute runs the task with the given ID, or, if some other branch of the
// run already started it, waits for that branch's result.
func (r *Runner) execute(ctx context.Context, run *run, id string) error {
	run.mu.Lock("execute:" + id)
	if f, started := run.futures[id]; started {
		run.mu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &future{done: make(chan struct{})}
	run.futures[id] = f
	run.mu.Unlock()

	f.err = r.start(ctx, run, id)
	close(f.done)
	return f.err
}

func (r *Runner) start(ctx context.Context, run *run, id string) error {
	t := r.registry.Task(id)
	meta := t.Metadata()

	if err := r.dependencies(ctx, run, meta); err != nil {
		r.setStatus(id, TaskStatusFailed)
		if meta.Type != "group" && ctx.Err() == nil {
			r.printf(id, styles.Log, "skipped: %s", err)
		}
		return err
	}

	if meta.Type == "group" {
		r.setStatus(id, TaskStatusDone)
		return nil
	}

	r.setStatus(id, TaskStatusRunning)
	r.printf(id, styles.Log, "starting")
	err := t.Start(ctx, r.mw.Writer(id))
	if err != nil {
		r.setStatus(id, TaskStatusFailed)
		r.printf(id, styles.Log, "exit: %s", err)
		return fmt.Errorf("%s: %w", id, err)
	}
	r.setStatus(id, TaskStatusDone)
	r.printf(id, styles.Log, "exit ok")
	return nil
}

// dependencies runs a task's dependencies according to its mode.
//
// Parallel dependencies are all allowed to finish; the first failure is the
// one reported.
func (r *Runner) dependencies(ctx context.Context, run *run, meta tasks.TaskMetadata) error {
	if meta.Mode.IsParallel() {
		var g errgroup.Group
		for _, dep := range meta.Dependencies {
			g.Go(func() error { return r.execute(ctx, run, dep) })
		}
		return g.Wait()
	}
	for _, dep := range meta.Dependencies {
		if err := r.execute(ctx, run, dep); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) setStatus(id string, s TaskStatus) {
	defer r.mu.Lock("setStatus").Unlock()
	r.status[id] = s
}

func (r *Runner) printf(id string, style lipgloss.Style, f string, args ...any) {
	w := r.mw.Writer(id)
	s := fmt.Sprintf(f, args...)
	w.Write([]byte(style.Render(s) + "\n"))
}

// Internal log streams. Task IDs beginning with "@" are reserved for them.
const (
	InternalTaskInterleaved = "@interleaved"
	InternalTaskWatch       = "@watch"
	InternalTaskServer      = "@server"
	InternalTaskBuild       = "@build"
)

type TaskStatus int

const (
	taskStatusInvalid TaskStatus = iota
	TaskStatusNotStarted
	TaskStatusRunning
	TaskStatusFailed
	TaskStatusDone
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusNotStarted:
		return "not started"
	case TaskStatusRunning:
		return "running"
	case TaskStatusFailed:
		return "failed"
	case TaskStatusDone:
		return "done"
	default:
		return "invalid"
	}
}
