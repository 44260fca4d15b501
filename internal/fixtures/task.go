package fixtures

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AltoxaM/devrun/tasks"
)

// Task is a scriptable [tasks.Task] for tests. By default it is a short task
// that writes "! <id>: execute" and succeeds.
type Task struct {
	meta tasks.TaskMetadata

	output   []string
	onCancel *error

	exit <-chan error
}

var _ tasks.Task = &Task{}

func NewTask(id string) *Task { return &Task{meta: tasks.TaskMetadata{ID: id, Type: "short"}} }

func (t *Task) Metadata() tasks.TaskMetadata { return t.meta }

func (t *Task) WithType(typ string) *Task           { t.meta.Type = typ; return t }
func (t *Task) WithMode(mode tasks.Mode) *Task      { t.meta.Mode = mode; return t }
func (t *Task) WithDependencies(ds ...string) *Task { t.meta.Dependencies = ds; return t }
func (t *Task) WithDescription(d string) *Task      { t.meta.Description = d; return t }

func (t *Task) WithOutput(output ...string) *Task { t.output = output; return t }
func (t *Task) WithExit(ex <-chan error) *Task    { t.exit = ex; return t }
func (t *Task) WithCancel(err error) *Task        { t.onCancel = &err; return t }

func (t *Task) WithImmediateFailure() *Task {
	c := make(chan error, 1)
	c <- errors.New("fail")
	t.WithExit(c)
	return t
}

func (t *Task) Start(ctx context.Context, w io.Writer) error {
	if t.onCancel != nil {
		fmt.Fprintf(w, "! %s: start\n", t.meta.ID)
		<-ctx.Done()
		fmt.Fprintf(w, "! %s: canceled\n", t.meta.ID)
		return *t.onCancel
	}

	if t.exit == nil {
		if t.output == nil {
			fmt.Fprintf(w, "! %s: execute\n", t.meta.ID)
		} else {
			for _, s := range t.output {
				fmt.Fprint(w, s)
			}
		}
		return nil
	}

	fmt.Fprintf(w, "! %s: start\n", t.meta.ID)
	select {
	case err := <-t.exit:
		if err != nil {
			fmt.Fprintf(w, "! %s: triggered failure\n", t.meta.ID)
			return err
		}
		fmt.Fprintf(w, "! %s: triggered success\n", t.meta.ID)
		return nil
	case <-ctx.Done():
		fmt.Fprintf(w, "! %s: canceled\n", t.meta.ID)
		return ctx.Err()
	}
}
