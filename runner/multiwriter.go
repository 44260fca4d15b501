package runner

import (
	"io"

	"github.com/AltoxaM/devrun/internal/mutex"
)

// A MultiWriter hands out one writer per output stream. Streams are named by
// task ID, or by one of the internal @-streams the runner reports on.
// [printer.Printer] is the MultiWriter devrun prints through.
type MultiWriter interface {
	Writer(id string) io.Writer
}

// lineStreams wraps each of a MultiWriter's streams the first time it is
// asked for, and hands back the same wrapped writer after that. The runner
// uses it to give every task a line-buffered writer, so that concurrent
// tasks never print half a line into each other's output.
type lineStreams struct {
	base  MultiWriter
	wrap  func(io.Writer) io.Writer
	mu    *mutex.Mutex
	cache map[string]io.Writer
}

var _ MultiWriter = &lineStreams{}

func newLineStreams(base MultiWriter, wrap func(io.Writer) io.Writer) *lineStreams {
	return &lineStreams{
		base:  base,
		wrap:  wrap,
		mu:    mutex.New("linestreams"),
		cache: map[string]io.Writer{},
	}
}

func (ls *lineStreams) Writer(id string) io.Writer {
	defer ls.mu.Lock("Writer").Unlock()
	w, ok := ls.cache[id]
	if !ok {
		w = ls.wrap(ls.base.Writer(id))
		ls.cache[id] = w
	}
	return w
}
