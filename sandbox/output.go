package sandbox

import (
	"bytes"
	"io"
	"sync"
)

// TruncationNotice is appended to a stream that hit its output limit
const TruncationNotice = "\n[output truncated]"

// LimitedWriter forwards at most limit bytes to w and silently drops the rest
type LimitedWriter struct {
	w        io.Writer
	limit    int64
	written  int64
	mu       sync.Mutex
	Exceeded bool
}

// NewLimitedWriter wraps w. A non-positive limit disables the cap.
func NewLimitedWriter(w io.Writer, limit int64) *LimitedWriter {
	return &LimitedWriter{w: w, limit: limit}
}

// Write always reports len(p) so that copies from the container never fail
func (lw *LimitedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.limit <= 0 {
		return lw.w.Write(p)
	}

	remaining := lw.limit - lw.written
	if remaining <= 0 {
		lw.Exceeded = true
		return len(p), nil
	}

	chunk := p
	if int64(len(chunk)) > remaining {
		chunk = chunk[:remaining]
		lw.Exceeded = true
	}
	n, err := lw.w.Write(chunk)
	lw.written += int64(n)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// capture is one output stream read from the container through a LimitedWriter
type capture struct {
	buf bytes.Buffer
	lw  *LimitedWriter
}

func newCapture(limit int64) *capture {
	c := &capture{}
	c.lw = NewLimitedWriter(&c.buf, limit)
	return c
}

// String returns what was kept, marked with TruncationNotice when output was dropped
func (c *capture) String() string {
	c.lw.mu.Lock()
	defer c.lw.mu.Unlock()
	if c.lw.Exceeded {
		return c.buf.String() + TruncationNotice
	}
	return c.buf.String()
}

// truncate caps s at limit bytes
func truncate(s string, limit int64) string {
	if limit <= 0 || int64(len(s)) <= limit {
		return s
	}
	return s[:limit] + TruncationNotice
}
