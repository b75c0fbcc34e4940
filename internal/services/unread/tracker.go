package unread

import (
	"sync"

	"github.com/ridou/marketsync/internal/middleware"
	"github.com/ridou/marketsync/internal/models"
)

// ComputeUnread returns how many items precede lastSeenID in the newest-first
// list. A marker that is not in the list means every item is new.
func ComputeUnread(items []models.NewsItem, lastSeenID string) int {
	for i, item := range items {
		if item.ID == lastSeenID {
			return i
		}
	}
	return len(items)
}

// Tracker keeps the acknowledged marker and the current unread count.
type Tracker struct {
	mu       sync.Mutex
	lastSeen string
	head     string
	items    []models.NewsItem
	count    int
	metrics  *middleware.Metrics
}

// NewTracker creates an empty tracker
func NewTracker(metrics *middleware.Metrics) *Tracker {
	return &Tracker{metrics: metrics}
}

// Observe recomputes the count against the latest newest-first list. The
// first list observed becomes the baseline and counts as read.
func (t *Tracker) Observe(items []models.NewsItem) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(items) > 0 {
		t.head = items[0].ID
	}
	t.items = append(t.items[:0], items...)
	if t.lastSeen == "" {
		t.lastSeen = t.head
	}

	t.count = ComputeUnread(items, t.lastSeen)
	t.publish()
	return t.count
}

// MarkSeen acknowledges everything up to the current head.
func (t *Tracker) MarkSeen() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastSeen = t.head
	t.count = 0
	t.publish()
}

// MarkSeenID acknowledges a specific item id, typically the head the client
// was showing. Items above it in the last observed list stay unread.
func (t *Tracker) MarkSeenID(id string) {
	if id == "" {
		t.MarkSeen()
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastSeen = id
	t.count = ComputeUnread(t.items, id)
	t.publish()
}

// Count returns the unread count from the last observation.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// LastSeen returns the acknowledged marker.
func (t *Tracker) LastSeen() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen
}

func (t *Tracker) publish() {
	if t.metrics != nil {
		t.metrics.SetUnread(t.count)
	}
}
