package unread

import (
	"testing"

	"github.com/ridou/marketsync/internal/models"
	"github.com/stretchr/testify/assert"
)

func items(ids ...string) []models.NewsItem {
	out := make([]models.NewsItem, len(ids))
	for i, id := range ids {
		out[i] = models.NewsItem{ID: id}
	}
	return out
}

func TestComputeUnread(t *testing.T) {
	tests := []struct {
		name     string
		items    []models.NewsItem
		lastSeen string
		want     int
	}{
		{"head is marker", items("c", "b", "a"), "c", 0},
		{"two newer", items("e", "d", "c", "b"), "c", 2},
		{"marker absent", items("z", "y", "x"), "c", 3},
		{"empty list", nil, "c", 0},
		{"empty marker", items("a"), "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeUnread(tt.items, tt.lastSeen))
		})
	}
}

func TestTrackerFirstObservationIsBaseline(t *testing.T) {
	tr := NewTracker(nil)

	assert.Equal(t, 0, tr.Observe(items("c", "b", "a")))
	assert.Equal(t, "c", tr.LastSeen())
	assert.Equal(t, 0, tr.Count())
}

func TestTrackerCountsNewItems(t *testing.T) {
	tr := NewTracker(nil)
	tr.Observe(items("c", "b", "a"))

	assert.Equal(t, 2, tr.Observe(items("e", "d", "c", "b")))
	assert.Equal(t, 2, tr.Count())

	tr.MarkSeen()
	assert.Equal(t, 0, tr.Count())
	assert.Equal(t, "e", tr.LastSeen())

	assert.Equal(t, 1, tr.Observe(items("f", "e", "d")))
}

func TestTrackerMarkerScrolledOff(t *testing.T) {
	tr := NewTracker(nil)
	tr.Observe(items("a"))

	assert.Equal(t, 3, tr.Observe(items("z", "y", "x")))
}

func TestTrackerMarkSeenID(t *testing.T) {
	tr := NewTracker(nil)
	tr.Observe(items("c", "b", "a"))
	tr.Observe(items("e", "d", "c"))

	tr.MarkSeenID("e")
	assert.Equal(t, 0, tr.Count())

	tr.MarkSeenID("")
	assert.Equal(t, "e", tr.LastSeen())
}

func TestTrackerMarkSeenIDBelowHead(t *testing.T) {
	tr := NewTracker(nil)
	tr.Observe(items("a", "b"))
	tr.Observe(items("x", "y", "a", "b"))

	tr.MarkSeenID("y")
	assert.Equal(t, 1, tr.Count())
	assert.Equal(t, "y", tr.LastSeen())
	assert.Equal(t, tr.Count(), tr.Observe(items("x", "y", "a", "b")))
}

func TestTrackerEmptyFirstObservation(t *testing.T) {
	tr := NewTracker(nil)

	assert.Equal(t, 0, tr.Observe(nil))
	assert.Equal(t, 0, tr.Observe(items("b", "a")))
}
