package tasks

import (
	"context"
	"io"
)

// A Task is a named unit of build work. Implementations must be safe to start
// from several goroutines, since a watch-triggered rebuild may overlap with a
// run that is still in flight.
type Task interface {
	Metadata() TaskMetadata
	Start(ctx context.Context, w io.Writer) error
}

// TaskMetadata describes the facts about a task (eg its dependencies) that are
// used for orchestration by the runner.
type TaskMetadata struct {
	// ID identifies a task, for example,
	//   - for command line invocation, as in `$ devrun <id>`
	//   - in the gutter of every log line the task writes.
	ID string

	// Description optionally provides additional information about a task,
	// which is displayed by `devrun --list`. It can be one line or many
	// lines.
	Description string

	// Type specifies how we manage a task.
	//
	// If the Type is "short",
	//   - Start is expected to return once its work is done.
	//   - A nil return marks the task as succeeded and lets dependents run.
	//
	// If the Type is "long",
	//   - Start runs until its context is canceled.
	//   - Only groups may depend on a long task, since anything else would
	//     wait forever.
	//
	// If the Type is "group",
	//   - We never call Start.
	//   - The group completes once its dependencies complete, according to
	//     its Mode.
	//   - It is invalid to have a group with no dependencies.
	//
	// Any other Type is invalid. There is no default type.
	Type string

	// Mode controls how Dependencies are executed. Sequential dependencies
	// each run to completion, in order, before the next one starts.
	// Parallel dependencies are started together; the task proceeds once
	// all of them succeed, or fails as soon as any of them fails.
	//
	// The zero value is Sequential.
	Mode Mode

	// Dependencies are other task IDs which must complete before this task
	// starts. Every dependency must already be registered when the task is
	// registered, so the dependency graph can never contain a cycle once it
	// is in a [Registry].
	Dependencies []string
}

type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
)

func (m Mode) String() string {
	if m == "" {
		return string(Sequential)
	}
	return string(m)
}

// IsParallel reports whether dependencies should be started together.
func (m Mode) IsParallel() bool { return m == Parallel }
