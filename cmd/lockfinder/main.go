// Lockfinder reads a lock trace, as written by devrun when DEVRUN_LOCK_TRACE
// is set, and reports which locks were held, and by whom, when the trace
// ended. Run it against the trace of a hung process.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"sort"
	"strings"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var logfile = flag.String("logfile", "mutex.log", "path to the lock trace to consider")

func run() error {
	flag.Parse()

	file, err := os.Open(*logfile)
	if err != nil {
		return err
	}
	defer file.Close()

	l, err := scan(file)
	if err != nil {
		return err
	}
	fmt.Print(l.report())
	return nil
}

type lockfinder struct {
	holders map[string]string
	waiters map[string][]string
}

func scan(r io.Reader) (*lockfinder, error) {
	l := &lockfinder{holders: map[string]string{}, waiters: map[string][]string{}}
	scn := bufio.NewScanner(r)
	for scn.Scan() {
		l.handleLine(scn.Text())
	}
	return l, scn.Err()
}

// Lines look like,
//
//	Jan  2 15:04:05.000000000 [runner] Status seeks lock
var re = regexp.MustCompile(`^.{25} \[(?P<Lock>[^\]]+)\] (?P<Event>.*)$`)

func (l *lockfinder) handleLine(line string) {
	match := re.FindStringSubmatch(line)
	if len(match) == 0 {
		return
	}
	lock, event := match[re.SubexpIndex("Lock")], match[re.SubexpIndex("Event")]
	switch {
	case event == "released":
		l.holders[lock] = ""
	case strings.HasSuffix(event, " seeks lock"):
		fn := strings.TrimSuffix(event, " seeks lock")
		l.waiters[lock] = append(l.waiters[lock], fn)
	case strings.HasSuffix(event, " holds lock"):
		fn := strings.TrimSuffix(event, " holds lock")
		l.holders[lock] = fn
		if i := slices.Index(l.waiters[lock], fn); i >= 0 {
			l.waiters[lock] = slices.Delete(l.waiters[lock], i, i+1)
		}
	}
}

func (l *lockfinder) report() string {
	locks := make([]string, 0, len(l.holders))
	for lock := range l.holders {
		locks = append(locks, lock)
	}
	for lock := range l.waiters {
		if _, ok := l.holders[lock]; !ok {
			locks = append(locks, lock)
		}
	}
	sort.Strings(locks)

	var buf strings.Builder
	fmt.Fprintf(&buf, "report\n")
	for _, lock := range locks {
		if fn := l.holders[lock]; fn != "" {
			fmt.Fprintf(&buf, "- %s is held by %s\n", lock, fn)
		} else {
			fmt.Fprintf(&buf, "- %s is not held\n", lock)
		}
		for _, fn := range l.waiters[lock] {
			fmt.Fprintf(&buf, "  - %s is waiting\n", fn)
		}
	}
	return buf.String()
}
