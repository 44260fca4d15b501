package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/AltoxaM/devrun/internal/metrics"
	"github.com/AltoxaM/devrun/internal/watcher"
)

// styles builds every stylesheet. It fails if any source failed, but the
// sources that compiled are written either way.
func (o *Orchestrator) styles(ctx context.Context, w io.Writer) error {
	start := time.Now()
	report := o.compiler.Build(ctx, o.config.Options())
	o.recorder.ObserveBuildDuration(time.Since(start))
	o.recorder.AddCompileErrors(len(report.Errors))
	o.settle(report.Written)

	if err := ctx.Err(); err != nil {
		o.recorder.IncBuildOutcome(metrics.OutcomeCanceled)
		return err
	}
	if err := report.Err(); err != nil {
		o.recorder.IncBuildOutcome(metrics.OutcomeFailed)
		fmt.Fprintf(w, "%d of %d stylesheets failed\n", len(report.Errors), report.Sources)
		return err
	}
	o.recorder.IncBuildOutcome(metrics.OutcomeSuccess)
	fmt.Fprintf(w, "built %d stylesheets in %s\n", len(report.Written), time.Since(start).Round(time.Millisecond))
	return nil
}

func (o *Orchestrator) serve(ctx context.Context, w io.Writer) error {
	o.advance()
	var err error
	if o.listener != nil {
		err = o.server.Serve(ctx, o.listener)
	} else {
		err = o.server.ListenAndServe(ctx)
	}
	if err != nil {
		o.fail(fmt.Errorf("server: %w", err))
	}
	return err
}

// watch consumes watcher events until ctx is canceled. Each event is handled
// on its own goroutine so that a slow rebuild never holds up the next
// change; rebuilds still in flight at shutdown are canceled, not awaited.
func (o *Orchestrator) watch(ctx context.Context, w io.Writer) error {
	if err := o.watcher.Start(); err != nil {
		o.fail(fmt.Errorf("watch: %w", err))
		return err
	}
	defer o.watcher.Close()
	o.advance()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-o.watcher.Events():
			if !ok {
				return nil
			}
			o.watchLog.Info("changed", "path", ev.Path, "kind", ev.Kind.String())
			wg.Add(1)
			go func() {
				defer wg.Done()
				o.handle(ctx, ev)
			}()
		}
	}
}

// handle reruns the event's task and, if it succeeded, tells every browser
// to pick up the change. A failed rebuild reloads nothing, so browsers keep
// the last good assets.
func (o *Orchestrator) handle(ctx context.Context, ev watcher.Event) {
	if ev.Rule.Task != "" {
		if err := o.runner.Run(ctx, ev.Rule.Task); err != nil {
			if ctx.Err() == nil {
				o.watchLog.Error("rebuild failed; not reloading", "task", ev.Rule.Task, "path", ev.Path, "error", err)
			}
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	if ev.Rule.Inject {
		if assets := o.assets(); len(assets) > 0 {
			n := o.server.BroadcastInject(assets...)
			o.watchLog.Info("injected", "stylesheets", len(assets), "clients", n)
			return
		}
	}
	n := o.server.BroadcastReload()
	o.watchLog.Info("reloaded", "clients", n)
}
