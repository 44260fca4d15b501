package tasks

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/AltoxaM/devrun/internal/mutex"
)

// A Registry is an ordered collection of [Task]s. Tasks can only be added,
// and only once all of their dependencies are present, so registration order
// is always a valid execution order.
//
// A Registry is safe to access concurrently from multiple goroutines.
type Registry struct {
	mu    *mutex.Mutex
	ids   []string
	index map[string]int
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{
		mu:    mutex.New("registry"),
		index: map[string]int{},
		tasks: map[string]Task{},
	}
}

// Register adds a task. It fails with a [*DuplicateTaskError] if the ID is
// taken, with an [*UnknownDependencyError] if a dependency is not registered
// yet, and with an [*InvalidTaskError] if the metadata is malformed.
func (reg *Registry) Register(t Task) error {
	defer reg.mu.Lock("Register").Unlock()
	return reg.register(t)
}

func (reg *Registry) register(t Task) error {
	meta := t.Metadata()
	if _, exists := reg.tasks[meta.ID]; exists {
		return &DuplicateTaskError{ID: meta.ID}
	}
	for _, dep := range meta.Dependencies {
		if _, ok := reg.tasks[dep]; !ok {
			return &UnknownDependencyError{ID: meta.ID, Dependency: dep}
		}
	}
	if problems := reg.validate(meta); len(problems) > 0 {
		return &InvalidTaskError{ID: meta.ID, Problems: problems}
	}

	reg.index[meta.ID] = len(reg.ids)
	reg.ids = append(reg.ids, meta.ID)
	reg.tasks[meta.ID] = t
	return nil
}

// RegisterAll adds a batch of tasks which may refer to one another in any
// order, as they do in a configuration file. The batch is sorted
// topologically, keeping definition order where the graph allows, and then
// registered. Nothing is registered if the batch is invalid.
func (reg *Registry) RegisterAll(ts ...Task) error {
	defer reg.mu.Lock("RegisterAll").Unlock()

	byID := map[string]Task{}
	for _, t := range ts {
		id := t.Metadata().ID
		if _, dup := byID[id]; dup {
			return &DuplicateTaskError{ID: id}
		}
		if _, dup := reg.tasks[id]; dup {
			return &DuplicateTaskError{ID: id}
		}
		byID[id] = t
	}

	var (
		order  []Task
		done   = map[string]bool{}
		onPath = map[string]bool{}
		path   []string
	)
	var visit func(t Task) error
	visit = func(t Task) error {
		meta := t.Metadata()
		if done[meta.ID] {
			return nil
		}
		if onPath[meta.ID] {
			return &CycleError{Path: cycle(path, meta.ID)}
		}
		onPath[meta.ID] = true
		path = append(path, meta.ID)
		for _, dep := range meta.Dependencies {
			if _, ok := reg.tasks[dep]; ok {
				continue
			}
			d, ok := byID[dep]
			if !ok {
				return &UnknownDependencyError{ID: meta.ID, Dependency: dep}
			}
			if err := visit(d); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		delete(onPath, meta.ID)
		done[meta.ID] = true
		order = append(order, t)
		return nil
	}
	for _, t := range ts {
		if err := visit(t); err != nil {
			return err
		}
	}

	// Validate everything before touching the registry.
	for _, t := range order {
		if problems := reg.validateWith(t.Metadata(), byID); len(problems) > 0 {
			return &InvalidTaskError{ID: t.Metadata().ID, Problems: problems}
		}
	}
	for _, t := range order {
		if err := reg.register(t); err != nil {
			return err
		}
	}
	return nil
}

// Plan returns the IDs of the given tasks and everything they transitively
// depend on, in an order where every task comes after its dependencies. Ties
// are broken by registration order.
func (reg *Registry) Plan(ids ...string) ([]string, error) {
	defer reg.mu.Lock("Plan").Unlock()

	var (
		include = map[string]struct{}{}
		done    = map[string]bool{}
		onPath  = map[string]bool{}
		path    []string
	)
	var visit func(id string) error
	visit = func(id string) error {
		if done[id] {
			return nil
		}
		if onPath[id] {
			return &CycleError{Path: cycle(path, id)}
		}
		t, ok := reg.tasks[id]
		if !ok {
			if len(path) > 0 {
				return &UnknownDependencyError{ID: path[len(path)-1], Dependency: id}
			}
			return &UnknownTaskError{ID: id, Known: reg.sortedIDs()}
		}
		onPath[id] = true
		path = append(path, id)
		for _, dep := range t.Metadata().Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		delete(onPath, id)
		done[id] = true
		include[id] = struct{}{}
		return nil
	}
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	plan := make([]string, 0, len(include))
	for id := range include {
		plan = append(plan, id)
	}
	sort.Slice(plan, func(i, j int) bool { return reg.index[plan[i]] < reg.index[plan[j]] })
	return plan, nil
}

// IDs returns, in registration order, the registered task IDs.
func (reg *Registry) IDs() []string {
	defer reg.mu.Lock("IDs").Unlock()
	return append([]string(nil), reg.ids...)
}

// Task returns the task with the given ID, or nil if there is no such task.
func (reg *Registry) Task(id string) Task {
	defer reg.mu.Lock("Task").Unlock()
	return reg.tasks[id]
}

// Has returns true if the registry contains a task with the given ID.
func (reg *Registry) Has(id string) bool {
	defer reg.mu.Lock("Has").Unlock()
	_, has := reg.tasks[id]
	return has
}

// Size returns the number of registered tasks.
func (reg *Registry) Size() int {
	defer reg.mu.Lock("Size").Unlock()
	return len(reg.ids)
}

// LongestID returns the width of the longest task ID in the registry,
// _including_ the internal stream IDs used by the runner and orchestrator.
func (reg *Registry) LongestID() int {
	defer reg.mu.Lock("LongestID").Unlock()
	longest := len("@interleaved")
	for _, id := range reg.ids {
		if l := len(id); l > longest {
			longest = l
		}
	}
	return longest
}

// WithDependency returns, in registration order, the IDs of the tasks that
// list the given dependency.
func (reg *Registry) WithDependency(dependency string) []string {
	defer reg.mu.Lock("WithDependency").Unlock()
	var ids []string
	for _, id := range reg.ids {
		for _, d := range reg.tasks[id].Metadata().Dependencies {
			if d == dependency {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

func (reg *Registry) sortedIDs() []string {
	ids := append([]string(nil), reg.ids...)
	sort.Strings(ids)
	return ids
}

func (reg *Registry) validate(meta TaskMetadata) []string {
	return reg.validateWith(meta, nil)
}

// validateWith checks a task's metadata; pending holds not-yet-registered
// tasks of the same batch, which dependencies may also point at.
func (reg *Registry) validateWith(meta TaskMetadata, pending map[string]Task) []string {
	var problems []string

	if meta.ID == "" {
		problems = append(problems, "task has no ID")
	}
	if strings.HasPrefix(meta.ID, "@") {
		problems = append(problems, fmt.Sprintf("'%s' is reserved: IDs beginning with '@' name internal log streams", meta.ID))
	}
	for _, c := range meta.ID {
		if unicode.IsSpace(c) {
			problems = append(problems, "task IDs cannot contain whitespace characters")
			break
		}
	}

	switch meta.Type {
	case "short", "long":
	case "group":
		if len(meta.Dependencies) == 0 {
			problems = append(problems, "task is a group, but has no dependencies; groups must include at least one dependency")
		}
	default:
		problems = append(problems, fmt.Sprintf("task has invalid type '%s'; must be 'short', 'long', or 'group'", meta.Type))
	}

	switch meta.Mode {
	case "", Sequential, Parallel:
	default:
		problems = append(problems, fmt.Sprintf("task has invalid mode '%s'; must be 'sequential' or 'parallel'", meta.Mode))
	}

	if meta.Type != "group" {
		for _, dep := range meta.Dependencies {
			d, ok := reg.tasks[dep]
			if !ok {
				d, ok = pending[dep]
			}
			if ok && d.Metadata().Type == "long" {
				problems = append(problems, fmt.Sprintf("dependency '%s' is long and never completes; only groups may depend on long tasks", dep))
			}
		}
	}

	return problems
}

// cycle returns the part of path that begins at id, closed with id.
func cycle(path []string, id string) []string {
	for i, p := range path {
		if p == id {
			return append(append([]string{}, path[i:]...), id)
		}
	}
	return []string{id, id}
}

// Subtree returns a new Registry containing only the given tasks and their
// transitive dependencies, in the same relative order. Unknown IDs are
// ignored.
func (reg *Registry) Subtree(ids ...string) *Registry {
	defer reg.mu.Lock("Subtree").Unlock()

	include := map[string]struct{}{}
	stack := append([]string{}, ids...)
	for i := 0; i < len(stack); i++ {
		id := stack[i]
		t, ok := reg.tasks[id]
		if !ok {
			continue
		}
		if _, seen := include[id]; seen {
			continue
		}
		include[id] = struct{}{}
		stack = append(stack, t.Metadata().Dependencies...)
	}

	subtree := NewRegistry()
	for _, id := range reg.ids {
		if _, ok := include[id]; ok {
			subtree.index[id] = len(subtree.ids)
			subtree.ids = append(subtree.ids, id)
			subtree.tasks[id] = reg.tasks[id]
		}
	}
	return subtree
}
