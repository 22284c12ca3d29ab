package supervise

import "sync"

// ringCapacity bounds the retained tail of a child's output. Older output is
// discarded from the front.
const ringCapacity = 16 * 1024

// outputRing keeps the most recent output of a child process for snapshot
// and diagnostics. Safe for concurrent use.
type outputRing struct {
	mu  sync.Mutex
	buf []byte
}

func newOutputRing() *outputRing {
	return &outputRing{}
}

// Write appends data, dropping the oldest bytes once the capacity is
// exceeded. Truncation prefers a line boundary so the tail starts on a
// whole line.
func (r *outputRing) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) >= ringCapacity {
		r.buf = append(r.buf[:0], p[len(p)-ringCapacity:]...)
		return
	}
	r.buf = append(r.buf, p...)
	if len(r.buf) <= ringCapacity {
		return
	}
	cut := len(r.buf) - ringCapacity
	for i := cut; i < len(r.buf); i++ {
		if r.buf[i] == '\n' {
			cut = i + 1
			break
		}
	}
	r.buf = append(r.buf[:0], r.buf[cut:]...)
}

// String returns a copy of the retained tail.
func (r *outputRing) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

// Len returns the retained byte count.
func (r *outputRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
