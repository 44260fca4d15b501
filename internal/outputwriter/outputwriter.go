// Package outputwriter turns arbitrary writes into whole-line writes, so
// that interleaved output from concurrent tasks never splits a line.
package outputwriter

import (
	"bufio"
	"io"

	"github.com/AltoxaM/devrun/internal/mutex"
)

func New(w io.Writer) io.Writer {
	return &lineWriter{
		mu:  mutex.New("linewriter"),
		buf: bufio.NewWriter(w),
	}
}

type lineWriter struct {
	mu  *mutex.Mutex
	buf *bufio.Writer
}

func (w *lineWriter) Write(bs []byte) (n int, err error) {
	defer w.mu.Lock("Write").Unlock()

	for _, b := range bs {
		if err = w.buf.WriteByte(b); err != nil {
			return n, err
		}
		n++
		if b == '\n' {
			if err = w.buf.Flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}
