package shared

import (
	"bytes"
	"sync"
)

// FrameSlack leaves room for the result frame on top of the program's own output cap.
const FrameSlack = 1 << 20

// CappedBuffer is an io.Writer that keeps at most max bytes and discards the
// rest. A zero max keeps everything.
type CappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int64
	truncated bool
}

// NewCappedBuffer returns a CappedBuffer holding at most max bytes.
func NewCappedBuffer(max int64) *CappedBuffer {
	return &CappedBuffer{max: max}
}

// Write never fails so the worker is not killed by SIGPIPE.
func (c *CappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.max <= 0 {
		return c.buf.Write(p)
	}
	room := c.max - int64(c.buf.Len())
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *CappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Truncated reports whether any write was cut short.
func (c *CappedBuffer) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}
