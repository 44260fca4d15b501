package fixtures

import (
	"fmt"
	"io"
	"strings"

	"github.com/AltoxaM/devrun/internal/mutex"
)

// Output is a [runner.MultiWriter] for tests. Everything written to any of
// its streams lands in one shared log, each write prefixed by "[stream] ",
// so a test can assert on the order in which tasks printed.
type Output struct {
	mu  *mutex.Mutex
	log strings.Builder
}

func NewWriter() *Output {
	return &Output{mu: mutex.New("fixtures.Output")}
}

// Writer returns the stream for a task or internal @-stream.
func (o *Output) Writer(id string) io.Writer {
	return stream{id: id, out: o}
}

// CombinedString returns every write so far, in order.
func (o *Output) CombinedString() string {
	defer o.mu.Lock("CombinedString").Unlock()
	return o.log.String()
}

type stream struct {
	id  string
	out *Output
}

func (s stream) Write(bs []byte) (int, error) {
	defer s.out.mu.Lock("Write:" + s.id).Unlock()
	fmt.Fprintf(&s.out.log, "[%s] %s", s.id, bs)
	return len(bs), nil
}
