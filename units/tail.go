package units

import (
	"bytes"
	"sync"
)

const outputTailBytes = 64 * 1024

// tailBuffer keeps only the last maxBytes written to it, so command output
// is never held in full.
type tailBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
}

func newTailBuffer(maxBytes int) *tailBuffer {
	if maxBytes <= 0 {
		maxBytes = outputTailBytes
	}
	return &tailBuffer{maxBytes: maxBytes}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	b.total += int64(n)
	if n >= b.maxBytes {
		p = p[n-b.maxBytes:]
		b.contents = b.contents[:0]
	}
	if over := len(b.contents) + len(p) - b.maxBytes; over > 0 {
		// Shift in place so the backing array stays at maxBytes.
		b.contents = append(b.contents[:0], b.contents[over:]...)
	}
	b.contents = append(b.contents, p...)
	return n, nil
}

// String returns the retained output. When earlier bytes were dropped the
// leading partial line is cut as well.
func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	contents := b.contents
	if b.truncated() {
		if i := bytes.IndexByte(contents, '\n'); i >= 0 {
			contents = contents[i+1:]
		}
	}
	return string(contents)
}

func (b *tailBuffer) truncated() bool {
	return int64(len(b.contents)) < b.total
}
