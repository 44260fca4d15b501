package mutex

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// New creates a named Mutex. The name only shows up in the lock trace.
func New(name string) *Mutex {
	return &Mutex{name: name}
}

// Mutex wraps sync.Mutex so that a lock can be taken and released in one
// line,
//
//	defer mu.Lock("caller").Unlock()
//
// and so that lock traffic can be traced. Set DEVRUN_LOCK_TRACE to a file
// path to get a line per lock event, which is the quickest way to find the
// goroutine holding a lock during a hang.
type Mutex struct {
	name string
	mu   sync.Mutex
}

var (
	traceOnce sync.Once
	traceMu   sync.Mutex
	trace     *os.File
)

func tracefile() *os.File {
	traceOnce.Do(func() {
		p := os.Getenv("DEVRUN_LOCK_TRACE")
		if p == "" {
			return
		}
		f, err := os.Create(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lock trace disabled: %s\n", err)
			return
		}
		trace = f
	})
	return trace
}

func (mu *Mutex) Lock(caller string) *Mutex {
	mu.Printf("%s seeks lock", caller)
	mu.mu.Lock()
	mu.Printf("%s holds lock", caller)
	return mu
}

func (mu *Mutex) Unlock() {
	mu.Printf("released")
	mu.mu.Unlock()
}

// Printf writes a line to the lock trace, if tracing is enabled.
func (mu *Mutex) Printf(f string, args ...any) {
	out := tracefile()
	if out == nil {
		return
	}
	line := fmt.Sprintf(strings.TrimSpace(f), args...)
	traceMu.Lock()
	defer traceMu.Unlock()
	fmt.Fprintf(out, "%s [%s] %s\n", time.Now().Format(time.StampNano), mu.name, line)
}
