package watcher

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rjeczalik/notify"
)

var (
	originalWatch = watch
	originalStop  = stop
)

var (
	mocksmu  sync.Mutex
	mocks    map[chan<- notify.EventInfo]string
	failures int
)

// ErrMockWatch is returned by mocked watches set to fail with [FailNext].
var ErrMockWatch = errors.New("mock watch failure")

// Mock replaces the notify backend with an in-memory one. Events are then
// only delivered by [Dispatch].
func Mock() {
	mocksmu.Lock()
	defer mocksmu.Unlock()

	mocks = map[chan<- notify.EventInfo]string{}
	failures = 0
	watch = func(path string, c chan<- notify.EventInfo, _ ...notify.Event) error {
		mocksmu.Lock()
		defer mocksmu.Unlock()

		if failures > 0 {
			failures--
			return ErrMockWatch
		}
		mocks[c] = strings.TrimSuffix(path, string(filepath.Separator)+"...")
		return nil
	}
	stop = func(c chan<- notify.EventInfo) {
		mocksmu.Lock()
		defer mocksmu.Unlock()
		delete(mocks, c)
	}
}

// FailNext makes the next n mocked watches fail.
func FailNext(n int) {
	mocksmu.Lock()
	defer mocksmu.Unlock()
	failures = n
}

// Watching returns the roots of the mocked watches that are currently
// established.
func Watching() []string {
	mocksmu.Lock()
	defer mocksmu.Unlock()
	var roots []string
	for _, root := range mocks {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Dispatch delivers a change to every mocked watch. path may be absolute, or
// relative to the watched directory.
func Dispatch(path string, kind Kind) {
	mocksmu.Lock()
	var chans []chan<- notify.EventInfo
	for c := range mocks {
		chans = append(chans, c)
	}
	mocksmu.Unlock()

	ev := mockEvent{path: path, event: notifyEvent(kind)}
	for _, c := range chans {
		c <- ev
	}
}

func Unmock() {
	mocksmu.Lock()
	defer mocksmu.Unlock()
	mocks = nil
	failures = 0
	watch = originalWatch
	stop = originalStop
}

func notifyEvent(kind Kind) notify.Event {
	switch kind {
	case Created:
		return notify.Create
	case Deleted:
		return notify.Remove
	default:
		return notify.Write
	}
}

type mockEvent struct {
	path  string
	event notify.Event
}

var _ notify.EventInfo = mockEvent{}

func (ev mockEvent) Event() notify.Event { return ev.event }
func (ev mockEvent) Path() string        { return ev.path }
func (ev mockEvent) Sys() any            { return nil }
