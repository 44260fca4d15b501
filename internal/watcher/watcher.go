// Package watcher turns filesystem activity under a project directory into a
// stream of coalesced, rule-tagged change events.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AltoxaM/devrun/internal/mutex"
	"github.com/AltoxaM/devrun/internal/pathglob"
	"github.com/rjeczalik/notify"
)

// A Rule binds a glob to the task that should run when a matching file
// changes. An empty Task means the change only needs a browser reload.
// Inject asks for changed stylesheets to be swapped in place instead of a
// full page reload.
type Rule struct {
	Pattern string
	Task    string
	Inject  bool
}

type Kind int

const (
	kindInvalid Kind = iota
	Created
	Modified
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "invalid"
	}
}

// An Event reports a change to Path, relative to the watched directory and
// slash-separated, matched by Rule.
type Event struct {
	Path string
	Kind Kind
	Rule Rule
}

// A WatchError reports that a rule's root could not be watched.
type WatchError struct {
	Rule Rule
	Err  error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch %s: %s", e.Rule.Pattern, e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }

var (
	// Coalesce is the quiet period after which a path's pending change is
	// emitted.
	Coalesce = 100 * time.Millisecond

	// Attempts and RetryDelay bound how hard we try to (re-)establish a
	// watch before disabling its rule.
	Attempts   = 3
	RetryDelay = 250 * time.Millisecond

	// Rewatch is how long a rule whose root was removed keeps waiting for
	// the root to come back before it is disabled.
	Rewatch = 10 * time.Second
)

// The notify backend. Tests replace these with [Mock].
var (
	watch = notify.Watch
	stop  = notify.Stop
)

// Watcher watches a directory for changes matching a set of rules.
type Watcher struct {
	dir    string
	abs    []string
	rules  []*rule
	logger *slog.Logger

	raw    chan raw
	events chan Event
	done   chan struct{}

	mu      *mutex.Mutex
	started bool
	closed  bool
}

type rule struct {
	Rule
	index int
	glob  pathglob.Glob
	root  string // absolute

	// Owned by the Watcher, under mu.
	c        chan notify.EventInfo
	disabled bool
}

type raw struct {
	rule *rule
	path string
	kind Kind
}

// New creates a Watcher for the given rules, whose patterns are relative to
// dir. It fails only if a pattern is not a valid glob.
func New(dir string, rules []Rule, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		dir:    dir,
		abs:    []string{abs},
		logger: logger,
		raw:    make(chan raw, 64),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		mu:     mutex.New("watcher"),
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil && resolved != abs {
		w.abs = append(w.abs, resolved)
	}

	var errs []error
	for i, r := range rules {
		g, err := pathglob.Compile(r.Pattern)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		// Literal patterns are watched through their parent directory, so
		// that editors which save by renaming don't break the watch.
		root := g.Root()
		if g.IsLiteral() {
			root = filepath.Dir(root)
		}
		w.rules = append(w.rules, &rule{
			Rule:  r,
			index: i,
			glob:  g,
			root:  filepath.Join(abs, filepath.FromSlash(root)),
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return w, nil
}

// Events returns the channel of coalesced events. It is closed by Close.
func (w *Watcher) Events() <-chan Event { return w.events }

// Rules returns the rules which are currently being watched.
func (w *Watcher) Rules() []Rule {
	defer w.mu.Lock("Rules").Unlock()
	var rules []Rule
	for _, r := range w.rules {
		if !r.disabled {
			rules = append(rules, r.Rule)
		}
	}
	return rules
}

// Start establishes every rule's watch and begins delivering events. A rule
// whose root cannot be watched after [Attempts] tries is logged and disabled;
// that is never fatal to the watcher.
func (w *Watcher) Start() error {
	w.mu.Lock("Start")
	if w.started || w.closed {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	for _, r := range w.rules {
		w.establish(r, Attempts)
	}
	go w.loop()
	return nil
}

// Close stops every watch and closes the events channel. It is safe to call
// more than once.
func (w *Watcher) Close() {
	w.mu.Lock("Close")
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for _, r := range w.rules {
		w.unwatch(r)
	}
	close(w.done)
	if !w.started {
		close(w.events)
	}
}

// establish watches a rule's root, retrying with a delay, and disables the
// rule if every attempt fails.
func (w *Watcher) establish(r *rule, attempts int) bool {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = w.watch(r); err == nil {
			w.logger.Info("watching", "pattern", r.Pattern, "root", w.rel(r.root))
			return true
		}
		w.logger.Debug("watch failed", "pattern", r.Pattern, "attempt", attempt, "error", err)
		select {
		case <-w.done:
			return false
		case <-time.After(RetryDelay):
		}
	}

	w.mu.Lock("disable")
	r.disabled = true
	w.mu.Unlock()
	w.logger.Warn("rule disabled", "error", &WatchError{Rule: r.Rule, Err: err})
	return false
}

// restore re-watches a rule whose root was removed, giving the root up to
// [Rewatch] to reappear. Files already in the restored root were written
// while nothing was watching, so each match is reported as created.
func (w *Watcher) restore(r *rule) {
	if !w.establish(r, max(Attempts, int(Rewatch/RetryDelay))) {
		return
	}
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if r.glob.IsLiteral() && p != r.root {
				return fs.SkipDir
			}
			return nil
		}
		rel, ok := w.relative(p)
		if !ok || !r.glob.Match(rel) {
			return nil
		}
		select {
		case w.raw <- raw{rule: r, path: rel, kind: Created}:
			return nil
		case <-w.done:
			return fs.SkipAll
		}
	})
	if err != nil {
		w.logger.Debug("rescan failed", "pattern", r.Pattern, "error", err)
	}
}

func (w *Watcher) watch(r *rule) error {
	defer w.mu.Lock("watch").Unlock()
	if w.closed {
		return nil
	}

	target := r.root
	if !r.glob.IsLiteral() {
		target = filepath.Join(r.root, "...")
	}
	c := make(chan notify.EventInfo, 64)
	if err := watch(target, c, notify.All); err != nil {
		return err
	}
	r.c = c
	go w.forward(r, c)
	return nil
}

func (w *Watcher) unwatch(r *rule) {
	if r.c == nil {
		return
	}
	stop(r.c)
	r.c = nil
}

// forward translates one rule's notify events into raw events. It exits when
// the watcher closes or the rule is re-established with a new channel.
func (w *Watcher) forward(r *rule, c chan notify.EventInfo) {
	for {
		select {
		case <-w.done:
			return
		case ev := <-c:
			if ev == nil {
				continue
			}
			abs := ev.Path()
			kind := kindOf(ev.Event(), abs)

			if kind == Deleted && w.isRoot(r, abs) {
				w.mu.Lock("reestablish")
				stale := r.c == c
				if stale {
					w.unwatch(r)
				}
				w.mu.Unlock()
				if stale {
					w.logger.Warn("watch root removed", "pattern", r.Pattern)
					go w.restore(r)
					return
				}
			}

			rel, ok := w.relative(abs)
			if !ok || !r.glob.Match(rel) {
				continue
			}
			select {
			case w.raw <- raw{rule: r, path: rel, kind: kind}:
			case <-w.done:
				return
			}
		}
	}
}

type pending struct {
	key      string
	event    Event
	deadline time.Time
}

// loop coalesces raw events per (path, rule) and emits each once its path
// has been quiet for [Coalesce].
func (w *Watcher) loop() {
	defer close(w.events)

	var (
		queue []*pending
		byKey = map[string]*pending{}
		timer = time.NewTimer(time.Hour)
	)
	timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case ev := <-w.raw:
			key := fmt.Sprintf("%d:%s", ev.rule.index, ev.path)
			if p, ok := byKey[key]; ok {
				p.event.Kind = merge(p.event.Kind, ev.kind)
				p.deadline = time.Now().Add(Coalesce)
			} else {
				p := &pending{
					key:      key,
					event:    Event{Path: ev.path, Kind: ev.kind, Rule: ev.rule.Rule},
					deadline: time.Now().Add(Coalesce),
				}
				byKey[key] = p
				queue = append(queue, p)
			}

		case <-timer.C:
			now := time.Now()
			var rest []*pending
			for _, p := range queue {
				if p.deadline.After(now) {
					rest = append(rest, p)
					continue
				}
				delete(byKey, p.key)
				select {
				case w.events <- p.event:
				case <-w.done:
					return
				}
			}
			queue = rest
		}

		if len(queue) > 0 {
			next := queue[0].deadline
			for _, p := range queue[1:] {
				if p.deadline.Before(next) {
					next = p.deadline
				}
			}
			timer.Reset(time.Until(next))
		}
	}
}

// merge folds a new change into a pending one: a path created and then
// written is still new to us; otherwise the most recent change wins.
func merge(prev, next Kind) Kind {
	if prev == Created && next == Modified {
		return Created
	}
	return next
}

func kindOf(ev notify.Event, path string) Kind {
	switch {
	case ev&notify.Remove != 0:
		return Deleted
	case ev&notify.Create != 0:
		return Created
	case ev&notify.Rename != 0:
		// Renames fire on both ends; what's left on disk tells us which
		// end this is.
		if _, err := os.Lstat(path); err == nil {
			return Created
		}
		return Deleted
	default:
		return Modified
	}
}

func (w *Watcher) isRoot(r *rule, abs string) bool {
	rel, ok := w.relative(abs)
	return ok && filepath.Join(w.abs[0], filepath.FromSlash(rel)) == r.root
}

// relative converts an absolute event path to a slash-separated path
// relative to the watched directory.
func (w *Watcher) relative(abs string) (string, bool) {
	if !filepath.IsAbs(abs) {
		return filepath.ToSlash(filepath.Clean(abs)), true
	}
	for _, base := range w.abs {
		rel, err := filepath.Rel(base, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel), true
		}
	}
	return "", false
}

func (w *Watcher) rel(abs string) string {
	if rel, ok := w.relative(abs); ok {
		return rel
	}
	return abs
}
