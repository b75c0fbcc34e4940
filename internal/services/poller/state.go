package poller

import (
	"time"

	"github.com/ridou/marketsync/internal/models"
)

// DashboardState is everything the UI renders from polling.
type DashboardState struct {
	News      []models.NewsItem    `json:"news"`
	Indices   []models.MarketIndex `json:"indices"`
	Posts     []models.Post        `json:"posts"`
	Sectors   []models.Sector      `json:"sectors"`
	Online    bool                 `json:"online"`
	Unread    int                  `json:"unread"`
	UpdatedAt time.Time            `json:"updated_at"`
	Cycles    uint64               `json:"cycles"`
}

// EmptyState is the state before the first cycle completes.
func EmptyState(online bool) DashboardState {
	return DashboardState{
		News:    []models.NewsItem{},
		Indices: []models.MarketIndex{},
		Posts:   []models.Post{},
		Sectors: []models.Sector{},
		Online:  online,
	}
}

// ApplyPollResult merges one cycle's result into state and returns the new
// state. A dataset missing from the result keeps its previous value.
func ApplyPollResult(state DashboardState, result models.PollResult) DashboardState {
	next := state

	if result.News != nil {
		next.News = result.News
	}
	if result.Indices != nil {
		next.Indices = result.Indices
	}
	if result.Posts != nil {
		next.Posts = result.Posts
	}
	if result.Sectors != nil {
		next.Sectors = result.Sectors
	}
	if !result.FetchedAt.IsZero() {
		next.UpdatedAt = result.FetchedAt
	}
	next.Cycles++

	return next
}
