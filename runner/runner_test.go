package runner_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AltoxaM/devrun/internal/fixtures"
	"github.com/AltoxaM/devrun/internal/seq"
	"github.com/AltoxaM/devrun/runner"
	"github.com/AltoxaM/devrun/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTime = time.Millisecond * 100

func registry(t *testing.T, ts ...tasks.Task) *tasks.Registry {
	t.Helper()
	reg := tasks.NewRegistry()
	require.NoError(t, reg.RegisterAll(ts...))
	return reg
}

func TestRunner(t *testing.T) {
	t.Run("run with no dependencies succeeds", func(t *testing.T) {
		var (
			task = fixtures.NewTask("task")
			mw   = fixtures.NewWriter()
			r    = runner.New(registry(t, task), mw)
			ctx  = context.Background()
		)
		err := r.Run(ctx, "task")
		assert.NoError(t, err)
		assert.Equal(t, join(
			"[task] starting",
			"[task] ! task: execute",
			"[task] exit ok",
			"[@interleaved] done",
		), mw.CombinedString())
		assert.Equal(t, runner.TaskStatusDone, r.Status()["task"])
	})

	t.Run("run with no dependencies fails", func(t *testing.T) {
		var (
			task = fixtures.NewTask("task").WithImmediateFailure()
			mw   = fixtures.NewWriter()
			r    = runner.New(registry(t, task), mw)
			ctx  = context.Background()
		)
		err := r.Run(ctx, "task")
		assert.Error(t, err)
		assert.Equal(t, join(
			"[task] starting",
			"[task] ! task: start",
			"[task] ! task: triggered failure",
			"[task] exit: fail",
			"[@interleaved] failed",
		), mw.CombinedString())
		assert.Equal(t, runner.TaskStatusFailed, r.Status()["task"])
	})

	t.Run("run with dependencies succeeds", func(t *testing.T) {
		var (
			reg = registry(t,
				fixtures.NewTask("1"),
				fixtures.NewTask("2").WithDependencies("1"),
				fixtures.NewTask("3").WithDependencies("2", "1"),
			)
			mw  = fixtures.NewWriter()
			r   = runner.New(reg, mw)
			ctx = context.Background()
		)
		err := r.Run(ctx, "3")
		output := strings.Split(mw.CombinedString(), "\n")
		assert.NoError(t, err)
		seq.AssertContainsSequence(t, output,
			"[1] ! 1: execute",
			"[2] ! 2: execute",
			"[3] ! 3: execute",
			"[@interleaved] done",
		)
	})

	t.Run("shared dependencies run exactly once", func(t *testing.T) {
		var (
			reg = registry(t,
				fixtures.NewTask("base"),
				fixtures.NewTask("left").WithDependencies("base"),
				fixtures.NewTask("right").WithDependencies("base"),
				fixtures.NewTask("top").WithDependencies("left", "right").WithMode(tasks.Parallel),
			)
			mw  = fixtures.NewWriter()
			r   = runner.New(reg, mw)
			ctx = context.Background()
		)
		require.NoError(t, r.Run(ctx, "top"))
		out := mw.CombinedString()
		assert.Equal(t, 1, strings.Count(out, "! base: execute"))
		assert.Equal(t, 1, strings.Count(out, "! left: execute"))
		assert.Equal(t, 1, strings.Count(out, "! right: execute"))
		lines := strings.Split(out, "\n")
		seq.AssertContainsSequence(t, lines, "[base] ! base: execute", "[left] ! left: execute", "[top] ! top: execute")
		seq.AssertContainsSequence(t, lines, "[base] ! base: execute", "[right] ! right: execute", "[top] ! top: execute")
	})

	t.Run("run has failing dependency", func(t *testing.T) {
		var (
			reg = registry(t,
				fixtures.NewTask("failing-task").WithImmediateFailure(),
				fixtures.NewTask("task").WithDependencies("failing-task"),
			)
			mw  = fixtures.NewWriter()
			r   = runner.New(reg, mw)
			ctx = context.Background()
		)
		err := r.Run(ctx, "task")
		assert.Error(t, err)
		lines := strings.Split(mw.CombinedString(), "\n")
		seq.AssertContainsSequence(t, lines, "[failing-task] exit: fail", "[@interleaved] failed")
		assert.NotContains(t, lines, "[task] ! task: execute")
		assert.NotContains(t, lines, "[task] starting")
	})

	t.Run("sequential dependencies wait for each other", func(t *testing.T) {
		exit := make(chan error)
		var (
			reg = registry(t,
				fixtures.NewTask("first").WithExit(exit),
				fixtures.NewTask("second"),
				tasks.NewGroup("both", tasks.Sequential, "first", "second"),
			)
			mw   = fixtures.NewWriter()
			r    = runner.New(reg, mw)
			ctx  = context.Background()
			done = make(chan error)
		)
		go func() { done <- r.Run(ctx, "both") }()

		time.Sleep(waitTime)
		assert.NotContains(t, mw.CombinedString(), "! second: execute")

		exit <- nil
		require.NoError(t, <-done)
		seq.AssertStringContainsSequence(t, mw.CombinedString(),
			"[first] ! first: triggered success",
			"[second] ! second: execute",
			"[@interleaved] done",
		)
	})

	t.Run("sequential group stops at first failure", func(t *testing.T) {
		var (
			reg = registry(t,
				fixtures.NewTask("first").WithImmediateFailure(),
				fixtures.NewTask("second"),
				tasks.NewGroup("both", tasks.Sequential, "first", "second"),
			)
			mw = fixtures.NewWriter()
			r  = runner.New(reg, mw)
		)
		assert.Error(t, r.Run(context.Background(), "both"))
		assert.NotContains(t, mw.CombinedString(), "! second: execute")
	})

	t.Run("parallel dependencies start together", func(t *testing.T) {
		a, b := make(chan error), make(chan error)
		var (
			reg = registry(t,
				fixtures.NewTask("a").WithExit(a),
				fixtures.NewTask("b").WithExit(b),
				tasks.NewGroup("both", tasks.Parallel, "a", "b"),
			)
			mw   = fixtures.NewWriter()
			r    = runner.New(reg, mw)
			done = make(chan error)
		)
		go func() { done <- r.Run(context.Background(), "both") }()

		time.Sleep(waitTime)
		out := mw.CombinedString()
		assert.Contains(t, out, "[a] ! a: start")
		assert.Contains(t, out, "[b] ! b: start")

		b <- nil
		a <- nil
		require.NoError(t, <-done)
	})

	t.Run("parallel group reports first failure after siblings finish", func(t *testing.T) {
		slow := make(chan error)
		var (
			reg = registry(t,
				fixtures.NewTask("broken").WithImmediateFailure(),
				fixtures.NewTask("slow").WithExit(slow),
				tasks.NewGroup("both", tasks.Parallel, "broken", "slow"),
			)
			mw   = fixtures.NewWriter()
			r    = runner.New(reg, mw)
			done = make(chan error)
		)
		go func() { done <- r.Run(context.Background(), "both") }()

		time.Sleep(waitTime)
		select {
		case <-done:
			t.Fatal("group completed before its slow dependency")
		default:
		}

		slow <- nil
		err := <-done
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
		assert.Contains(t, mw.CombinedString(), "[slow] ! slow: triggered success")
	})

	t.Run("run with long tasks is canceled", func(t *testing.T) {
		var (
			reg = registry(t,
				fixtures.NewTask("server").WithType("long").WithCancel(errors.New("canceled")),
				fixtures.NewTask("watch").WithType("long").WithCancel(errors.New("canceled")),
				fixtures.NewTask("styles"),
				tasks.NewGroup("default", tasks.Parallel, "watch", "server", "styles"),
			)
			mw          = fixtures.NewWriter()
			r           = runner.New(reg, mw)
			ctx, cancel = context.WithCancel(context.Background())
		)
		go func() { time.Sleep(waitTime); cancel() }()
		err := r.Run(ctx, "default")
		assert.ErrorIs(t, err, context.Canceled)
		out := mw.CombinedString()
		assert.Contains(t, out, "[styles] exit ok")
		seq.AssertStringContainsSequence(t, out,
			"[server] ! server: start",
			"[server] ! server: canceled",
			"[@interleaved] run canceled",
		)
	})

	t.Run("each run executes tasks again", func(t *testing.T) {
		var (
			mw = fixtures.NewWriter()
			r  = runner.New(registry(t, fixtures.NewTask("styles")), mw)
		)
		require.NoError(t, r.Run(context.Background(), "styles"))
		require.NoError(t, r.Run(context.Background(), "styles"))
		assert.Equal(t, 2, strings.Count(mw.CombinedString(), "! styles: execute"))
	})

	t.Run("unknown task", func(t *testing.T) {
		var (
			mw = fixtures.NewWriter()
			r  = runner.New(registry(t, fixtures.NewTask("styles")), mw)
		)
		err := r.Run(context.Background(), "nope")
		var unknown *tasks.UnknownTaskError
		assert.ErrorAs(t, err, &unknown)
		assert.Empty(t, mw.CombinedString())
	})
}

func join(ss ...string) string {
	return strings.Join(ss, "\n") + "\n"
}
