// Package orchestrator wires the task registry, stylesheet compiler, file
// watcher and live server into one process.
//
// It registers four built-in tasks, alongside any user tasks from the
// configuration:
//
//   - styles (short) compiles every stylesheet once.
//   - server (long) serves the project and its reload channel.
//   - watch (long) reruns the mapped task whenever a watched file changes,
//     then reloads connected browsers if it succeeded.
//   - default (group) runs watch, server and styles in parallel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"

	"github.com/AltoxaM/devrun/compiler"
	"github.com/AltoxaM/devrun/config"
	"github.com/AltoxaM/devrun/internal/metrics"
	"github.com/AltoxaM/devrun/internal/mutex"
	"github.com/AltoxaM/devrun/internal/watcher"
	"github.com/AltoxaM/devrun/runner"
	"github.com/AltoxaM/devrun/server"
	"github.com/AltoxaM/devrun/tasks"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Built-in task IDs.
const (
	TaskStyles  = "styles"
	TaskServer  = "server"
	TaskWatch   = "watch"
	TaskDefault = "default"
)

// ErrAlreadyRun is returned by Run when the orchestrator has already been
// used. The watcher and server it owns can only be started once.
var ErrAlreadyRun = errors.New("orchestrator already run")

// Output is where tasks print and components log. [printer.Printer]
// implements it.
type Output interface {
	runner.MultiWriter
	Logger(id string, level slog.Leveler) *slog.Logger
}

type Orchestrator struct {
	config     config.Config
	recorder   metrics.Recorder
	listener   net.Listener
	transforms []compiler.Transform

	registry *tasks.Registry
	runner   *runner.Runner
	compiler *compiler.Compiler
	server   *server.Server
	watcher  *watcher.Watcher

	log      *slog.Logger
	watchLog *slog.Logger

	// Take mu to touch anything below.
	mu      *mutex.Mutex
	state   State
	ran     bool
	plan    planFacts
	built   bool
	written []string
	abort   context.CancelCauseFunc
}

type planFacts struct {
	styles bool
	steady bool
}

type Option func(*Orchestrator)

// WithListener makes the server task serve on ln instead of listening on the
// configured address.
func WithListener(ln net.Listener) Option {
	return func(o *Orchestrator) { o.listener = ln }
}

// WithRecorder replaces the metrics recorder chosen by the configuration.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTransforms replaces the stylesheet pipeline.
func WithTransforms(ts ...compiler.Transform) Option {
	return func(o *Orchestrator) { o.transforms = ts }
}

// New builds the components described by cfg and registers every task. It
// fails if the task graph is invalid, or if a watch rule maps to a task that
// isn't registered or never finishes.
func New(cfg config.Config, out Output, opts ...Option) (*Orchestrator, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config: cfg,
		mu:     mutex.New("orchestrator"),
		state:  Idle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.recorder == nil {
		if cfg.Server.Metrics {
			o.recorder = metrics.NewPrometheusRecorder(prom.NewRegistry())
		} else {
			o.recorder = metrics.NoopRecorder{}
		}
	}

	o.log = out.Logger(runner.InternalTaskInterleaved, level)
	o.watchLog = out.Logger(runner.InternalTaskWatch, level)

	ccfg := cfg.Compiler()
	ccfg.Transforms = o.transforms
	if o.compiler, err = compiler.New(ccfg, out.Logger(runner.InternalTaskBuild, level)); err != nil {
		return nil, fmt.Errorf("styles: %w", err)
	}
	if o.watcher, err = watcher.New(cfg.RootDir(), cfg.Rules(), o.watchLog); err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	o.server = server.New(cfg.ServerConfig(), out.Logger(runner.InternalTaskServer, level), o.recorder)

	o.registry = tasks.NewRegistry()
	if err := o.registry.RegisterAll(append(o.builtins(), cfg.ScriptTasks()...)...); err != nil {
		return nil, err
	}
	if err := o.checkRules(); err != nil {
		return nil, err
	}
	o.runner = runner.New(o.registry, out)
	return o, nil
}

func (o *Orchestrator) builtins() []tasks.Task {
	return []tasks.Task{
		tasks.NewTaskFromFunc(tasks.TaskMetadata{
			ID:          TaskStyles,
			Description: fmt.Sprintf("Compile %s into %s.", o.config.Styles.Pattern, o.config.Styles.Out),
			Type:        "short",
		}, o.styles),
		tasks.NewTaskFromFunc(tasks.TaskMetadata{
			ID:          TaskServer,
			Description: fmt.Sprintf("Serve %s on %s, reloading browsers when files change.", o.config.Root, o.config.ServerConfig().Addr()),
			Type:        "long",
		}, o.serve),
		tasks.NewTaskFromFunc(tasks.TaskMetadata{
			ID:          TaskWatch,
			Description: "Rerun tasks when their sources change.",
			Type:        "long",
		}, o.watch),
		tasks.NewGroup(TaskDefault, tasks.Parallel, TaskWatch, TaskServer, TaskStyles),
	}
}

// checkRules makes sure every watch rule can be rerun on its own.
func (o *Orchestrator) checkRules() error {
	var errs []error
	for _, r := range o.config.Rules() {
		if r.Task == "" {
			continue
		}
		plan, err := o.registry.Plan(r.Task)
		if err != nil {
			errs = append(errs, fmt.Errorf("watch %s: %w", r.Pattern, err))
			continue
		}
		for _, id := range plan {
			if o.registry.Task(id).Metadata().Type == "long" {
				errs = append(errs, fmt.Errorf("watch %s: task %s never finishes, so it can't be rerun", r.Pattern, id))
				break
			}
		}
	}
	return errors.Join(errs...)
}

// Registry returns every registered task.
func (o *Orchestrator) Registry() *tasks.Registry { return o.registry }

// Runner returns the runner that executes tasks.
func (o *Orchestrator) Runner() *runner.Runner { return o.runner }

// Server returns the live server.
func (o *Orchestrator) Server() *server.Server { return o.server }

// Run executes the task with the given ID and its dependencies until they
// finish or ctx is canceled, then shuts every component down. It can only be
// called once.
//
// While a run containing styles is building for the first time, stylesheet
// requests are held so that browsers never receive a partial or missing
// file.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	plan, err := o.registry.Plan(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	o.mu.Lock("Run")
	if o.ran {
		o.mu.Unlock()
		return ErrAlreadyRun
	}
	o.ran = true
	o.abort = cancel
	o.plan = planFacts{
		styles: slices.Contains(plan, TaskStyles),
		steady: slices.Contains(plan, TaskServer) || slices.Contains(plan, TaskWatch),
	}
	if o.plan.styles {
		o.server.Gate().Arm()
		o.state = Building
	}
	o.mu.Unlock()

	err = o.runner.Run(ctx, id)

	o.shutdown()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

// fail stops the run because a long task died.
func (o *Orchestrator) fail(err error) {
	defer o.mu.Lock("fail").Unlock()
	if o.abort != nil {
		o.abort(err)
	}
}

func (o *Orchestrator) shutdown() {
	o.setState(ShuttingDown)
	o.log.Info("shutting down")
	o.watcher.Close()
	o.server.Shutdown()
	o.server.Gate().Release()
}

// settle records that a styles build finished. The first one opens the
// stylesheet gate.
func (o *Orchestrator) settle(written []string) {
	o.mu.Lock("settle")
	first := !o.built
	o.built = true
	o.written = written
	o.mu.Unlock()

	if first {
		o.server.Gate().Release()
		o.advance()
	}
}

// advance moves a run into its steady state once it has one, and the first
// build (if it has one) has settled.
func (o *Orchestrator) advance() {
	defer o.mu.Lock("advance").Unlock()
	if o.state == ShuttingDown || !o.plan.steady {
		return
	}
	if o.plan.styles && !o.built {
		return
	}
	o.state = Serving
}

// assets returns the stylesheets written by the most recent styles build.
func (o *Orchestrator) assets() []string {
	defer o.mu.Lock("assets").Unlock()
	return slices.Clone(o.written)
}
