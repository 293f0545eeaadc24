package main

import (
	"sync"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

// Store is the ordered, append-only clipboard history.
type Store interface {
	// Append adds m to the end of the history and returns its index.
	Append(m clip.Message) int
	// Snapshot returns the history at the time of the call. Later appends
	// never show up in a returned slice.
	Snapshot() []clip.Message
	// Len returns the number of retained messages.
	Len() int
}

// memoryLog keeps the history in process memory; restart empties it.
type memoryLog struct {
	mu       sync.RWMutex
	messages []clip.Message
	next     int
	limit    int // 0 = unlimited
}

func newMemoryLog(limit int) *memoryLog {
	if limit < 0 {
		limit = 0
	}
	return &memoryLog{messages: make([]clip.Message, 0, 64), limit: limit}
}

func (l *memoryLog) Append(m clip.Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, m)
	if l.limit > 0 && len(l.messages) > l.limit {
		// drop the oldest, keep the newest `limit`
		n := copy(l.messages, l.messages[len(l.messages)-l.limit:])
		clear(l.messages[n:])
		l.messages = l.messages[:n]
	}
	idx := l.next
	l.next++
	return idx
}

func (l *memoryLog) Snapshot() []clip.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]clip.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *memoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
