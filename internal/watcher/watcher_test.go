package watcher_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AltoxaM/devrun/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTime = 500 * time.Millisecond

var (
	styles = watcher.Rule{Pattern: "sass/**/*.{scss,sass}", Task: "styles", Inject: true}
	html   = watcher.Rule{Pattern: "*.html"}
)

func start(t *testing.T, rules ...watcher.Rule) *watcher.Watcher {
	t.Helper()
	watcher.Mock()
	t.Cleanup(watcher.Unmock)

	w, err := watcher.New(t.TempDir(), rules, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(w.Close)
	return w
}

func write(t *testing.T, dir, name string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
}

func next(t *testing.T, w *watcher.Watcher) watcher.Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(waitTime):
		t.Fatal("timed out waiting for event")
		return watcher.Event{}
	}
}

func quiet(t *testing.T, w *watcher.Watcher) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(waitTime):
	}
}

func TestEvents(t *testing.T) {
	t.Run("matching change is delivered with its rule", func(t *testing.T) {
		w := start(t, styles)
		watcher.Dispatch("sass/main.scss", watcher.Modified)
		assert.Equal(t, watcher.Event{Path: "sass/main.scss", Kind: watcher.Modified, Rule: styles}, next(t, w))
		quiet(t, w)
	})

	t.Run("non-matching change is ignored", func(t *testing.T) {
		w := start(t, styles, html)
		watcher.Dispatch("css/main.min.css", watcher.Modified)
		watcher.Dispatch("sass/nested/grid.sass", watcher.Created)
		ev := next(t, w)
		assert.Equal(t, "sass/nested/grid.sass", ev.Path)
		assert.Equal(t, watcher.Created, ev.Kind)
		quiet(t, w)
	})

	t.Run("absolute paths are made relative", func(t *testing.T) {
		watcher.Mock()
		defer watcher.Unmock()
		dir := t.TempDir()
		w, err := watcher.New(dir, []watcher.Rule{html}, nil)
		require.NoError(t, err)
		require.NoError(t, w.Start())
		defer w.Close()

		watcher.Dispatch(filepath.Join(dir, "index.html"), watcher.Modified)
		assert.Equal(t, "index.html", next(t, w).Path)
	})

	t.Run("a change matching two rules is delivered for each", func(t *testing.T) {
		page := watcher.Rule{Pattern: "index.html", Task: "lint"}
		w := start(t, html, page)
		watcher.Dispatch("index.html", watcher.Modified)
		rules := []watcher.Rule{next(t, w).Rule, next(t, w).Rule}
		assert.ElementsMatch(t, []watcher.Rule{html, page}, rules)
	})
}

func TestCoalescing(t *testing.T) {
	t.Run("create then writes stays created", func(t *testing.T) {
		w := start(t, styles)
		watcher.Dispatch("sass/main.scss", watcher.Created)
		watcher.Dispatch("sass/main.scss", watcher.Modified)
		watcher.Dispatch("sass/main.scss", watcher.Modified)
		assert.Equal(t, watcher.Created, next(t, w).Kind)
		quiet(t, w)
	})

	t.Run("otherwise the latest kind wins", func(t *testing.T) {
		w := start(t, styles)
		watcher.Dispatch("sass/main.scss", watcher.Modified)
		watcher.Dispatch("sass/main.scss", watcher.Deleted)
		assert.Equal(t, watcher.Deleted, next(t, w).Kind)
		quiet(t, w)
	})

	t.Run("different paths are not coalesced", func(t *testing.T) {
		w := start(t, styles)
		watcher.Dispatch("sass/a.scss", watcher.Modified)
		watcher.Dispatch("sass/b.scss", watcher.Modified)
		assert.Equal(t, "sass/a.scss", next(t, w).Path)
		assert.Equal(t, "sass/b.scss", next(t, w).Path)
	})

	t.Run("changes after the quiet period are separate", func(t *testing.T) {
		w := start(t, styles)
		watcher.Dispatch("sass/main.scss", watcher.Modified)
		next(t, w)
		watcher.Dispatch("sass/main.scss", watcher.Modified)
		next(t, w)
	})
}

func TestWatchErrors(t *testing.T) {
	defer func(attempts int, delay time.Duration) {
		watcher.Attempts, watcher.RetryDelay = attempts, delay
	}(watcher.Attempts, watcher.RetryDelay)
	watcher.Attempts, watcher.RetryDelay = 3, time.Millisecond

	t.Run("transient failures are retried", func(t *testing.T) {
		watcher.Mock()
		defer watcher.Unmock()
		watcher.FailNext(2)

		w, err := watcher.New(t.TempDir(), []watcher.Rule{styles}, nil)
		require.NoError(t, err)
		require.NoError(t, w.Start())
		defer w.Close()

		assert.Equal(t, []watcher.Rule{styles}, w.Rules())
		assert.Len(t, watcher.Watching(), 1)
	})

	t.Run("persistent failure disables only that rule", func(t *testing.T) {
		watcher.Mock()
		defer watcher.Unmock()
		watcher.FailNext(3)

		w, err := watcher.New(t.TempDir(), []watcher.Rule{styles, html}, nil)
		require.NoError(t, err)
		require.NoError(t, w.Start())
		defer w.Close()

		assert.Equal(t, []watcher.Rule{html}, w.Rules())
		watcher.Dispatch("index.html", watcher.Modified)
		assert.Equal(t, html, next(t, w).Rule)
	})

	t.Run("removed root is re-established", func(t *testing.T) {
		w := start(t, styles)
		watcher.Dispatch("sass", watcher.Deleted)
		time.Sleep(50 * time.Millisecond)

		assert.Eventually(t, func() bool { return len(watcher.Watching()) == 1 }, waitTime, 10*time.Millisecond)
		watcher.Dispatch("sass/main.scss", watcher.Created)
		assert.Equal(t, "sass/main.scss", next(t, w).Path)
	})

	t.Run("removed root may take a while to come back", func(t *testing.T) {
		defer func(d time.Duration) { watcher.Rewatch = d }(watcher.Rewatch)
		watcher.Rewatch = time.Second

		dir := t.TempDir()
		watcher.Mock()
		defer watcher.Unmock()
		w, err := watcher.New(dir, []watcher.Rule{styles, html}, nil)
		require.NoError(t, err)
		require.NoError(t, w.Start())
		defer w.Close()

		// Far more failures than Attempts allows at startup.
		watcher.FailNext(100)
		watcher.Dispatch("sass", watcher.Deleted)

		require.Eventually(t, func() bool { return len(watcher.Watching()) == 1 }, waitTime, time.Millisecond)
		assert.Eventually(t, func() bool { return len(watcher.Watching()) == 2 }, waitTime, 10*time.Millisecond)
		assert.Equal(t, []watcher.Rule{styles, html}, w.Rules())
	})

	t.Run("restored root is rescanned", func(t *testing.T) {
		dir := t.TempDir()
		watcher.Mock()
		defer watcher.Unmock()
		w, err := watcher.New(dir, []watcher.Rule{styles}, nil)
		require.NoError(t, err)
		require.NoError(t, w.Start())
		defer w.Close()

		write(t, dir, "sass/main.scss")
		write(t, dir, "sass/notes.txt")
		watcher.Dispatch("sass", watcher.Deleted)

		assert.Equal(t, watcher.Event{Path: "sass/main.scss", Kind: watcher.Created, Rule: styles}, next(t, w))
		quiet(t, w)
	})

	t.Run("bad pattern", func(t *testing.T) {
		_, err := watcher.New(t.TempDir(), []watcher.Rule{{Pattern: "sass/[.scss"}}, nil)
		assert.Error(t, err)
	})
}

func TestClose(t *testing.T) {
	watcher.Mock()
	defer watcher.Unmock()

	w, err := watcher.New(t.TempDir(), []watcher.Rule{styles}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	w.Close()
	w.Close()

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(waitTime):
		t.Fatal("events channel was not closed")
	}
	assert.Empty(t, watcher.Watching())
}

func TestNotify(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sass", "pages"), 0o755))

	w, err := watcher.New(dir, []watcher.Rule{styles, html}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()
	require.Equal(t, []watcher.Rule{styles, html}, w.Rules())

	// Gives the backend time to report each change on its own.
	settle := func() { time.Sleep(2 * watcher.Coalesce) }
	expect := func(path string, kind watcher.Kind, rule watcher.Rule) {
		t.Helper()
		select {
		case ev := <-w.Events():
			assert.Equal(t, watcher.Event{Path: path, Kind: kind, Rule: rule}, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s %s", kind, path)
		}
		settle()
	}

	write(t, dir, "sass/pages/about.scss")
	expect("sass/pages/about.scss", watcher.Created, styles)

	write(t, dir, "sass/pages/about.scss")
	expect("sass/pages/about.scss", watcher.Modified, styles)

	write(t, dir, "index.html")
	expect("index.html", watcher.Created, html)

	require.NoError(t, os.Rename(filepath.Join(dir, "sass/pages/about.scss"), filepath.Join(dir, "sass/pages/team.scss")))
	got := map[string]watcher.Kind{}
	for range 2 {
		select {
		case ev := <-w.Events():
			got[ev.Path] = ev.Kind
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for rename, got %v", got)
		}
	}
	assert.Equal(t, map[string]watcher.Kind{
		"sass/pages/about.scss": watcher.Deleted,
		"sass/pages/team.scss":  watcher.Created,
	}, got)
	settle()

	require.NoError(t, os.Remove(filepath.Join(dir, "sass/pages/team.scss")))
	expect("sass/pages/team.scss", watcher.Deleted, styles)
}
