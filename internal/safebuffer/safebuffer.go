// Package safebuffer provides a bytes.Buffer that tests can write to from
// several goroutines.
package safebuffer

import (
	"bytes"
	"sync"
)

type Buffer struct {
	mu  sync.RWMutex
	buf bytes.Buffer
}

func New() *Buffer {
	return &Buffer{}
}

func (sb *Buffer) Write(bs []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.buf.Write(bs)
}

func (sb *Buffer) String() string {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.buf.String()
}
