package console

import (
	"sync"

	"github.com/yourusername/bedrock-server-manager/internal/events"
)

// RingBuffer implements a circular buffer for console output
type RingBuffer struct {
	lines    []events.ConsoleLine
	maxLines int
	current  int
	full     bool
	mu       sync.RWMutex
}

// NewRingBuffer creates a new ring buffer
func NewRingBuffer(maxLines int) *RingBuffer {
	if maxLines <= 0 {
		maxLines = 1000
	}
	return &RingBuffer{
		lines:    make([]events.ConsoleLine, maxLines),
		maxLines: maxLines,
	}
}

// Add adds a line to the buffer
func (rb *RingBuffer) Add(line events.ConsoleLine) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.current] = line
	rb.current = (rb.current + 1) % rb.maxLines

	if rb.current == 0 {
		rb.full = true
	}
}

// GetLines returns all lines in order (oldest to newest)
func (rb *RingBuffer) GetLines() []events.ConsoleLine {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]events.ConsoleLine, rb.current)
		copy(result, rb.lines[:rb.current])
		return result
	}

	result := make([]events.ConsoleLine, rb.maxLines)
	for i := 0; i < rb.maxLines; i++ {
		result[i] = rb.lines[(rb.current+i)%rb.maxLines]
	}
	return result
}

// GetLast returns the last N lines
func (rb *RingBuffer) GetLast(n int) []events.ConsoleLine {
	lines := rb.GetLines()
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// Attach feeds every console line published on bus into the buffer.
func (rb *RingBuffer) Attach(bus *events.Bus) func() {
	return bus.Subscribe(func(e events.ConsoleLine) {
		rb.Add(e)
	})
}
