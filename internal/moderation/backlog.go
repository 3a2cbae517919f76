package moderation

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// ReviewItem is an element that needs a human decision because classification failed.
type ReviewItem struct {
	Content  Content   `json:"content"`
	Reason   string    `json:"reason"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Backlog is the manual review queue. Items leave it when a moderator decides the element
// or when a later classification succeeds.
type Backlog struct {
	mu    sync.Mutex
	items deque.Deque[ReviewItem]
}

// NewBacklog creates an empty backlog.
func NewBacklog() *Backlog {
	return &Backlog{}
}

// Push queues an item, replacing an older entry for the same element.
func (b *Backlog) Push(item ReviewItem) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(item.Content.WhiteboardID, item.Content.ElementID)
	b.items.PushBack(item)
}

// Pop takes the oldest item.
func (b *Backlog) Pop() (ReviewItem, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.items.Len() == 0 {
		return ReviewItem{}, false
	}
	return b.items.PopFront(), true
}

// Remove drops the entry for an element, if any.
func (b *Backlog) Remove(whiteboardID, elementID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.removeLocked(whiteboardID, elementID)
}

func (b *Backlog) removeLocked(whiteboardID, elementID string) bool {
	for i := 0; i < b.items.Len(); i++ {
		c := b.items.At(i).Content
		if c.WhiteboardID == whiteboardID && c.ElementID == elementID {
			b.items.Remove(i)
			return true
		}
	}
	return false
}

// List returns the queued items oldest first, optionally limited to one whiteboard.
func (b *Backlog) List(whiteboardID string) []ReviewItem {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ReviewItem, 0, b.items.Len())
	for i := 0; i < b.items.Len(); i++ {
		it := b.items.At(i)
		if whiteboardID != "" && it.Content.WhiteboardID != whiteboardID {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Len returns the number of queued items.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.items.Len()
}
