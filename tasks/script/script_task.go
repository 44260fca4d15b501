// Package script provides user-defined tasks backed by bash scripts, as
// declared in a devrun configuration file.
package script

import (
	"context"
	"io"

	"github.com/AltoxaM/devrun/internal/script"
	"github.com/AltoxaM/devrun/tasks"
)

type Task struct {
	metadata tasks.TaskMetadata
	script   script.Script
}

// New creates a new Script Task with the given working directory, environment,
// and text. If dir is the empty string, the script is run in the current
// working directory. Env is appended to the current environment.
func New(metadata tasks.TaskMetadata, dir string, env map[string]string, text string) Task {
	return Task{
		metadata: metadata,
		script:   script.New(dir, env, text),
	}
}

// Dir returns the directory that the script will execute in.
func (t Task) Dir() string { return t.script.Dir }

// Text returns the script source.
func (t Task) Text() string { return t.script.Text }

var _ tasks.Task = Task{}

// Metadata implements [tasks.Task].
func (t Task) Metadata() tasks.TaskMetadata { return t.metadata }

// Start implements [tasks.Task]. It executes the script, writing both stdout
// and stderr to w, and returns once the script exits or ctx is canceled.
//
// A task with no script succeeds immediately, unless it is long, in which
// case it waits for cancelation.
func (t Task) Start(ctx context.Context, w io.Writer) error {
	if t.script.Text == "" {
		if t.metadata.Type == "long" {
			<-ctx.Done()
		}
		return nil
	}
	return t.script.Start(ctx, w, w)
}
