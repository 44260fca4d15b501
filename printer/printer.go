// Package printer writes the interleaved output of every task to one
// stream, each line prefixed by a timestamp and a gutter naming the task
// that wrote it.
package printer

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/AltoxaM/devrun/internal/color"
	"github.com/AltoxaM/devrun/internal/mutex"
	"github.com/AltoxaM/devrun/runner"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

type Options struct {
	// Profile selects the color output. Ascii disables color entirely.
	Profile termenv.Profile

	// Timestamps prefixes every line with the time it was written.
	Timestamps bool

	// Now is used for timestamps; it defaults to time.Now.
	Now func() time.Time
}

type Printer struct {
	mu          *mutex.Mutex
	stdout      io.Writer
	gutterWidth int
	lastKey     string

	opts     Options
	renderer *lipgloss.Renderer
	keyStyle lipgloss.Style
	tsStyle  lipgloss.Style
}

func New(gutterWidth int, stdout io.Writer, opts Options) *Printer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	renderer := lipgloss.NewRenderer(stdout)
	renderer.SetColorProfile(opts.Profile)
	return &Printer{
		mu:          mutex.New("printer"),
		gutterWidth: gutterWidth,
		stdout:      stdout,
		opts:        opts,
		renderer:    renderer,
		keyStyle: renderer.NewStyle().
			Height(1).
			Align(lipgloss.Right).
			Margin(0, 2),
		tsStyle: renderer.NewStyle().Foreground(color.XDark),
	}
}

// Write prints each line of message under key. The key is only repeated in
// the gutter when it changes, and a change of key is set off by a blank
// line.
func (p *Printer) Write(key, message string) {
	p.mu.Lock("Write:" + key)
	defer p.mu.Unlock()

	if p.stdout == nil {
		panic("nil stdout in printer")
	}

	for _, l := range strings.Split(message, "\n") {
		if l == "" {
			continue
		}
		k := ""
		space := ""
		if key != p.lastKey {
			if p.lastKey != "" {
				space = "\n"
			}
			k, p.lastKey = key, key
		}
		ts := ""
		if p.opts.Timestamps {
			ts = p.tsStyle.Render(p.opts.Now().Format("15:04:05"))
		}
		gutter := p.keyStyle.Foreground(color.Hash(key)).Width(p.gutterWidth).Render(k)
		fmt.Fprintln(p.stdout, space+lipgloss.JoinHorizontal(lipgloss.Top, ts, gutter, l))
	}
}

var _ runner.MultiWriter = &Printer{}

func (p *Printer) Writer(id string) io.Writer {
	return printerWriter{p, id}
}

// Logger returns a structured logger whose records are printed under id.
// The printer adds its own timestamps, so records carry none.
func (p *Printer) Logger(id string, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(p.Writer(id), &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

var _ io.Writer = printerWriter{}

type printerWriter struct {
	printer *Printer
	id      string
}

func (w printerWriter) Write(bs []byte) (int, error) {
	w.printer.Write(w.id, string(bs))
	return len(bs), nil
}
