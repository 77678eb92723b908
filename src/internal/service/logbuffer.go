package service

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// LogEntry is one chunk of gateway output.
type LogEntry struct {
	Seq       uint64    `json:"seq"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const logSubscriberBuffer = 256

// LogBuffer keeps gateway output bounded by total byte size, dropping the
// oldest chunks first.
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	size     int
	maxBytes int
	seq      uint64
	subs     map[chan LogEntry]struct{}
}

// NewLogBuffer creates a buffer retaining at most maxBytes of text.
func NewLogBuffer(maxBytes int) *LogBuffer {
	if maxBytes <= 0 {
		maxBytes = 1
	}
	return &LogBuffer{
		maxBytes: maxBytes,
		subs:     make(map[chan LogEntry]struct{}),
	}
}

// Append adds a chunk. A chunk larger than the buffer keeps only its tail.
func (lb *LogBuffer) Append(chunk string) {
	if chunk == "" {
		return
	}
	if len(chunk) > lb.maxBytes {
		chunk = tail(chunk, lb.maxBytes)
	}

	lb.mu.Lock()
	for len(lb.entries) > 0 && lb.size+len(chunk) > lb.maxBytes {
		lb.size -= len(lb.entries[0].Text)
		lb.entries[0] = LogEntry{}
		lb.entries = lb.entries[1:]
	}
	lb.seq++
	entry := LogEntry{Seq: lb.seq, Text: chunk, Timestamp: time.Now()}
	lb.entries = append(lb.entries, entry)
	lb.size += len(chunk)

	for ch := range lb.subs {
		select {
		case ch <- entry:
		default:
			// Subscriber is behind; it can catch up with Since.
		}
	}
	lb.mu.Unlock()
}

// tail returns the last n bytes of s, starting at a rune boundary.
func tail(s string, n int) string {
	s = s[len(s)-n:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}

// Entries returns a copy of the retained chunks, oldest first.
func (lb *LogBuffer) Entries() []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	out := make([]LogEntry, len(lb.entries))
	copy(out, lb.entries)
	return out
}

// Since returns retained chunks with a sequence number greater than seq.
func (lb *LogBuffer) Since(seq uint64) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	var out []LogEntry
	for _, e := range lb.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Text returns the retained output as one string.
func (lb *LogBuffer) Text() string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	var b strings.Builder
	b.Grow(lb.size)
	for _, e := range lb.entries {
		b.WriteString(e.Text)
	}
	return b.String()
}

// Size returns the retained byte count.
func (lb *LogBuffer) Size() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.size
}

// MaxBytes returns the configured bound.
func (lb *LogBuffer) MaxBytes() int {
	return lb.maxBytes
}

// Clear drops all retained output. Sequence numbers keep increasing.
func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	lb.entries = nil
	lb.size = 0
	lb.mu.Unlock()
}

// Subscribe returns a channel receiving every appended chunk.
func (lb *LogBuffer) Subscribe() chan LogEntry {
	ch := make(chan LogEntry, logSubscriberBuffer)
	lb.mu.Lock()
	lb.subs[ch] = struct{}{}
	lb.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (lb *LogBuffer) Unsubscribe(ch chan LogEntry) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if _, ok := lb.subs[ch]; ok {
		delete(lb.subs, ch)
		close(ch)
	}
}
