package tasks

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRegistration is matched, via errors.Is, by every error describing a bad
// task graph. A bad task graph is fatal at startup.
var ErrRegistration = errors.New("invalid task graph")

type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task '%s' is already registered", e.ID)
}

func (e *DuplicateTaskError) Is(target error) bool { return target == ErrRegistration }

type UnknownDependencyError struct {
	ID         string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task '%s' lists dependency '%s', which is not the ID of a registered task", e.ID, e.Dependency)
}

func (e *UnknownDependencyError) Is(target error) bool { return target == ErrRegistration }

// CycleError reports a dependency cycle. Path starts and ends with the same
// task ID.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrRegistration }

type InvalidTaskError struct {
	ID       string
	Problems []string
}

func (e *InvalidTaskError) Error() string {
	lines := []string{fmt.Sprintf("invalid task '%s'", e.ID)}
	for _, p := range e.Problems {
		lines = append(lines, "- "+p)
	}
	return strings.Join(lines, "\n")
}

func (e *InvalidTaskError) Is(target error) bool { return target == ErrRegistration }

// UnknownTaskError is returned when a run names a task that was never
// registered.
type UnknownTaskError struct {
	ID    string
	Known []string
}

func (e *UnknownTaskError) Error() string {
	lines := []string{fmt.Sprintf("Task %s not found. Tasks are,", e.ID)}
	for _, id := range e.Known {
		lines = append(lines, " - "+id)
	}
	lines = append(lines, "Run `devrun --list` for more information about the available tasks.")
	return strings.Join(lines, "\n")
}
