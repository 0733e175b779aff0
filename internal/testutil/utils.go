package testutil

import (
	"bytes"
	"log"
	"sync"
	"testing"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TestLogger returns a logger whose output is only shown when t fails.
// Connection goroutines may keep logging after the test returns, so the
// output is buffered rather than sent to t.Log directly.
func TestLogger(t *testing.T) *log.Logger {
	buf := &syncBuffer{}
	logger := log.New(buf, "[test] ", log.LstdFlags|log.Lmicroseconds)
	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("server log:\n%s", buf.String())
		}
	})
	return logger
}
