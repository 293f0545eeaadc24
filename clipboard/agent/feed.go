package agent

import (
	"sync"

	"github.com/samber/lo"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

// Feed is the rendered view of the clipboard. Every item is inserted at the
// top, so the visible order is newest first.
type Feed struct {
	mu    sync.RWMutex
	items []clip.Message // visible order
}

// Reset replaces the feed with a snapshot given in arrival order.
func (f *Feed) Reset(snapshot []clip.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// same result as inserting each snapshot item at the top in turn
	items := make([]clip.Message, len(snapshot))
	for i, m := range snapshot {
		items[len(snapshot)-1-i] = m
	}
	f.items = items
}

// Insert puts m at the top of the feed. No deduplication is done.
func (f *Feed) Insert(m clip.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insert(m)
}

func (f *Feed) insert(m clip.Message) {
	f.items = append(f.items, clip.Message{})
	copy(f.items[1:], f.items)
	f.items[0] = m
}

// Items returns a copy of the feed, newest first.
func (f *Feed) Items() []clip.Message {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]clip.Message, len(f.items))
	copy(out, f.items)
	return out
}

// Len reports the number of rendered items.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

// Texts returns the text of every text item, newest first.
func (f *Feed) Texts() []string {
	return lo.FilterMap(f.Items(), func(m clip.Message, _ int) (string, bool) {
		return m.Text, m.Type == clip.KindText
	})
}
