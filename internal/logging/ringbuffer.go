package logging

import (
	"log/slog"
	"sync"
	"time"
)

// AppLogEntry represents an application log entry
type AppLogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`  // "debug", "info", "warn", "error"
	Source    string            `json:"source"` // component: "registry", "router", "api", ...
	Message   string            `json:"message"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// RingBuffer is a thread-safe circular buffer for log entries
type RingBuffer struct {
	entries []AppLogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the given capacity
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		entries: make([]AppLogEntry, size),
		size:    size,
	}
}

// Add adds an entry to the ring buffer
func (rb *RingBuffer) Add(entry AppLogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// GetAll returns all entries in chronological order
func (rb *RingBuffer) GetAll() []AppLogEntry {
	return rb.GetLast(rb.Count())
}

// GetLast returns the last n entries in chronological order
func (rb *RingBuffer) GetLast(n int) []AppLogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count {
		n = rb.count
	}
	if n <= 0 {
		return []AppLogEntry{}
	}

	result := make([]AppLogEntry, n)
	start := (rb.head - n + rb.size) % rb.size

	for i := 0; i < n; i++ {
		result[i] = rb.entries[(start+i)%rb.size]
	}

	return result
}

// GetBySource returns the most recent entries of one source, oldest first.
func (rb *RingBuffer) GetBySource(source string, limit int) []AppLogEntry {
	all := rb.GetAll()

	var result []AppLogEntry
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Source != source {
			continue
		}
		result = append(result, all[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Count returns the number of entries in the buffer
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear removes all entries from the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.count = 0
}

// Global application log buffer
var (
	appLogBuffer *RingBuffer
	bufferOnce   sync.Once
)

// GetAppLogBuffer returns the global application log buffer
func GetAppLogBuffer() *RingBuffer {
	bufferOnce.Do(func() {
		appLogBuffer = NewRingBuffer(2000)
	})
	return appLogBuffer
}

// LevelFromSlog converts slog.Level to string
func LevelFromSlog(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "debug"
	case level <= slog.LevelInfo:
		return "info"
	case level <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}
