package upstream

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/models"
	"github.com/shopspring/decimal"
)

type trendsResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Trends []string `json:"trends"`
	} `json:"data"`
}

// StockDetail reads a single stock's quote and intraday trend.
type StockDetail struct {
	quotes  *endpoint
	history *endpoint
}

// NewStockDetail creates the stock detail adapter
func NewStockDetail(cfg *config.UpstreamsConfig, deps Deps) *StockDetail {
	return &StockDetail{
		quotes:  newEndpoint(SourceStock, cfg.QuoteBaseURL, cfg.Timeout, deps),
		history: newEndpoint(SourceHistory, cfg.HistoryBaseURL, cfg.Timeout, deps),
	}
}

// Quote fetches the point quote for symbol.
func (s *StockDetail) Quote(ctx context.Context, symbol string) (*Quote, error) {
	return fetchQuote(ctx, s.quotes, SecID(symbol))
}

// History fetches today's minute trend for symbol. Each point's time is the
// HH:MM of the sample. An empty series is not an error.
func (s *StockDetail) History(ctx context.Context, symbol string) ([]models.HistoryPoint, error) {
	resp, err := s.history.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetQueryParams(map[string]string{
				"secid":   SecID(symbol),
				"fields1": "f1,f2,f3",
				"fields2": "f51,f53",
				"ndays":   "1",
				"iscr":    "0",
			}).
			Get("/api/qt/stock/trends2/get")
	})
	if err != nil {
		return nil, err
	}

	var body trendsResponse
	if err := s.history.decode(resp, &body); err != nil {
		return nil, err
	}
	if body.Data == nil {
		return nil, nil
	}

	points := make([]models.HistoryPoint, 0, len(body.Data.Trends))
	for _, line := range body.Data.Trends {
		// "2024-05-06 09:31,1718.50"
		stamp, price, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		if i := strings.IndexByte(price, ','); i >= 0 {
			price = price[:i]
		}
		value, err := decimal.NewFromString(price)
		if err != nil {
			continue
		}
		points = append(points, models.HistoryPoint{Time: clockTime(stamp), Value: value})
	}
	return points, nil
}
