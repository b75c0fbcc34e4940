package upstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/models"
	"github.com/ridou/marketsync/internal/services/retry"
)

const newsSourceName = "新浪财经"

type feedItem struct {
	ID         flexID `json:"id"`
	RichText   string `json:"rich_text"`
	Content    string `json:"content"`
	CreateTime string `json:"create_time"`
	CreateAlt  string `json:"createtime"`
	DocURL     string `json:"doc_url"`
	DocURLAlt  string `json:"docurl"`
}

// flexID accepts both numeric and string ids.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexID(strings.Trim(string(data), `"`))
	return nil
}

type feedResponse struct {
	Result struct {
		Status struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"status"`
		Data struct {
			Feed struct {
				List []feedItem `json:"list"`
			} `json:"feed"`
		} `json:"data"`
	} `json:"result"`
}

// News reads the Sina 7x24 flash feed.
type News struct {
	ep       *endpoint
	pageSize int
	feedID   int
}

// NewNews creates the news adapter
func NewNews(cfg *config.UpstreamsConfig, deps Deps) *News {
	pageSize := cfg.NewsPageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	feedID := cfg.NewsFeedID
	if feedID <= 0 {
		feedID = 152
	}
	return &News{
		ep:       newEndpoint(SourceNews, cfg.NewsBaseURL, cfg.Timeout, deps),
		pageSize: pageSize,
		feedID:   feedID,
	}
}

// Latest returns the first page of the feed, newest first, in upstream order.
func (n *News) Latest(ctx context.Context) ([]models.NewsItem, error) {
	resp, err := n.ep.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetQueryParams(map[string]string{
				"page":      "1",
				"page_size": strconv.Itoa(n.pageSize),
				"zhibo_id":  strconv.Itoa(n.feedID),
			}).
			Get("/api/zhibo/feed")
	})
	if err != nil {
		return nil, err
	}

	var body feedResponse
	if err := n.ep.decode(resp, &body); err != nil {
		return nil, err
	}

	if status := body.Result.Status; status.Code != 0 {
		return nil, retry.New(retry.Fatal, n.ep.source, fmt.Errorf("feed status %d: %s", status.Code, status.Msg))
	}

	list := body.Result.Data.Feed.List
	if len(list) > n.pageSize {
		list = list[:n.pageSize]
	}

	items := make([]models.NewsItem, 0, len(list))
	for _, it := range list {
		title := firstNonEmpty(it.RichText, it.Content)
		if title == "" || it.ID == "" {
			continue
		}
		items = append(items, models.NewsItem{
			ID:        string(it.ID),
			Title:     title,
			Source:    newsSourceName,
			URL:       firstNonEmpty(it.DocURL, it.DocURLAlt, "#"),
			Timestamp: clockTime(firstNonEmpty(it.CreateTime, it.CreateAlt)),
			Category:  Categorize(title),
			Sentiment: Sentiment(title),
		})
	}
	return items, nil
}

// clockTime turns "2024-05-06 09:30:12" into "09:30".
func clockTime(createTime string) string {
	_, clock, ok := strings.Cut(strings.TrimSpace(createTime), " ")
	if !ok || len(clock) < 5 {
		return "--:--"
	}
	return clock[:5]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
