package worker

import (
	"fmt"
	"sync"
)

// defaultStderrLimit bounds how much worker stderr is kept for diagnostics.
const defaultStderrLimit = 5 * 1024

// tailBuffer keeps the first limit bytes written to it and counts the rest.
// Worker stderr is drained into one of these so a chatty or looping package
// cannot grow server memory.
type tailBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	discarded int64
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = defaultStderrLimit
	}
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keep := b.limit - len(b.buf)
	if keep > len(p) {
		keep = len(p)
	}
	if keep > 0 {
		b.buf = append(b.buf, p[:keep]...)
	}
	b.discarded += int64(len(p) - keep)
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.discarded > 0 {
		return fmt.Sprintf("%s... (%d bytes discarded)", b.buf, b.discarded)
	}
	return string(b.buf)
}
