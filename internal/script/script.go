// Package script runs shell scripts in their own process group, so that a
// canceled build can take the whole pipeline of subprocesses down with it.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/AltoxaM/devrun/internal/mutex"
	"github.com/AltoxaM/devrun/internal/styles"
	"github.com/charmbracelet/lipgloss"
)

// GracePeriod is how long a canceled script has to exit after SIGINT before
// it is sent SIGKILL.
var GracePeriod = 2 * time.Second

// Script is a bash script, plus the directory and extra environment it runs
// with. A Script does nothing until it is started, and can be started many
// times concurrently.
type Script struct {
	Dir  string
	Env  map[string]string
	Text string
}

// New creates a Script. If dir is the empty string, the script is run in the
// current working directory. Env is appended to the current environment.
// Effectively, starting the script is equivalent to
//
//	$ cd $DIR && $ENV bash -c "$TEXT"
func New(dir string, env map[string]string, text string) Script {
	return Script{
		Dir:  dir,
		Env:  env,
		Text: text,
	}
}

// Streams are the standard streams of one execution. A nil Stdin reads
// from /dev/null.
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Env is layered over the Script's Env for this execution only.
	Env map[string]string
}

// An ExitError reports that the script ran, but exited nonzero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit %d", e.Code) }

// Start executes the script with no input, and does not return until the
// script is done executing. See [Script.Exec].
func (s Script) Start(ctx context.Context, stdout, stderr io.Writer) error {
	return s.Exec(ctx, Streams{Stdout: stdout, Stderr: stderr})
}

// Exec executes the script and does not return until it is done executing.
// The returned error will be nil only if the process exits with status code
// 0 and is not interrupted by a context cancelation; a nonzero exit is an
// [*ExitError].
//
// When ctx is canceled, we first send SIGINT to the script's process group,
// then, if it hasn't exited within [GracePeriod], SIGKILL. Exec always
// returns an error if ctx is canceled before the script is complete.
func (s Script) Exec(ctx context.Context, streams Streams) error {
	x := &execution{
		script:  s,
		streams: streams,
		cmdMu:   mutex.New("script"),
	}
	return x.run(ctx)
}

type execution struct {
	script  Script
	streams Streams

	cmd   *exec.Cmd
	cmdMu *mutex.Mutex
}

func (x *execution) run(ctx context.Context) error {
	exit, err := x.startCmd()
	if err != nil {
		return err
	}

	select {
	case err := <-exit:
		return err
	case <-ctx.Done():
		x.printf(styles.Log, "canceled; stopping")
	}

	errs := []error{ctx.Err()}

	if err := x.signal(syscall.SIGINT); err != nil {
		errs = append(errs, err)
	}
	select {
	case <-exit:
		return errors.Join(errs...)
	case <-time.After(GracePeriod):
	}

	if err := x.signal(syscall.SIGKILL); err != nil {
		errs = append(errs, err)
	}
	<-exit
	return errors.Join(errs...)
}

func (x *execution) printf(style lipgloss.Style, f string, args ...any) {
	if x.streams.Stderr == nil {
		return
	}
	fmt.Fprintln(x.streams.Stderr, style.Render(fmt.Sprintf(f, args...)))
}

var (
	findBash       sync.Once
	errFindingBash error
	bash           string
)

func lookupBash() (string, error) {
	findBash.Do(func() {
		var b bytes.Buffer
		whichBash := exec.Command("/bin/sh", "-c", "which bash")
		whichBash.Stdout = &b
		if errFindingBash = whichBash.Run(); errFindingBash != nil {
			errFindingBash = fmt.Errorf("finding bash: %w", errFindingBash)
			return
		}
		bash = strings.TrimSpace(b.String())
	})
	return bash, errFindingBash
}

// startCmd starts the process and returns a channel which receives its exit
// status exactly once.
func (x *execution) startCmd() (<-chan error, error) {
	defer x.cmdMu.Lock("startCmd").Unlock()

	bash, err := lookupBash()
	if err != nil {
		return nil, err
	}

	x.cmd = exec.Command(bash, "-c", x.script.Text)
	x.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	x.cmd.Dir = x.script.Dir
	x.cmd.Stdin = x.streams.Stdin
	x.cmd.Stdout = x.streams.Stdout
	x.cmd.Stderr = x.streams.Stderr
	x.cmd.Env = append(os.Environ(), environ(x.script.Env, x.streams.Env)...)

	if err := x.cmd.Start(); err != nil {
		return nil, err
	}

	cmd := x.cmd
	exit := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			exit <- nil
		case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
			exit <- &ExitError{Code: exitErr.ExitCode()}
		default:
			exit <- fmt.Errorf("wait err: %w", err)
		}
	}()
	return exit, nil
}

func (x *execution) signal(sig syscall.Signal) error {
	defer x.cmdMu.Lock("signal").Unlock()

	if x.cmd == nil || x.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-x.cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("%s error: %w", sig, err)
	}
	return nil
}

// environ flattens env maps into KEY=value pairs, later maps winning. Keys
// are sorted so that executions are reproducible.
func environ(envs ...map[string]string) []string {
	merged := map[string]string{}
	for _, env := range envs {
		for k, v := range env {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+merged[k])
	}
	return pairs
}
