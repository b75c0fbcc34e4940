package upstream

import (
	"context"
	"errors"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/models"
	"github.com/ridou/marketsync/internal/services/retry"
	"github.com/shopspring/decimal"
)

const quoteFields = "f43,f57,f58,f169,f170"

// ErrNoQuote is returned when the quote provider has no data for an id.
var ErrNoQuote = errors.New("no quote data for instrument")

// Quote is a point quote for one instrument.
type Quote struct {
	Code           string
	Name           string
	Price          decimal.Decimal
	ChangePercent  decimal.Decimal
	ChangeAbsolute decimal.Decimal
}

type quoteResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Price          scaled `json:"f43"`
		Code           string `json:"f57"`
		Name           string `json:"f58"`
		ChangeAbsolute scaled `json:"f169"`
		ChangePercent  scaled `json:"f170"`
	} `json:"data"`
}

// Quotes reads point quotes from the Eastmoney push2 endpoint.
type Quotes struct {
	ep *endpoint
}

// NewQuotes creates the quote adapter
func NewQuotes(cfg *config.UpstreamsConfig, deps Deps) *Quotes {
	return &Quotes{ep: newEndpoint(SourceQuotes, cfg.QuoteBaseURL, cfg.Timeout, deps)}
}

// Quote fetches one instrument by Eastmoney secid (market.code).
func (q *Quotes) Quote(ctx context.Context, secid string) (*Quote, error) {
	return fetchQuote(ctx, q.ep, secid)
}

// Index fetches one headline index and labels it with the configured name.
func (q *Quotes) Index(ctx context.Context, symbol config.IndexSymbol) (models.MarketIndex, error) {
	quote, err := q.Quote(ctx, symbol.ID)
	if err != nil {
		return models.MarketIndex{}, err
	}

	name := symbol.Name
	if name == "" {
		name = quote.Name
	}
	return models.MarketIndex{
		Name:           name,
		Value:          quote.Price,
		ChangePercent:  quote.ChangePercent,
		ChangeAbsolute: quote.ChangeAbsolute,
	}, nil
}

func fetchQuote(ctx context.Context, ep *endpoint, secid string) (*Quote, error) {
	resp, err := ep.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetQueryParams(map[string]string{
				"secid":  secid,
				"fields": quoteFields,
			}).
			Get("/api/qt/stock/get")
	})
	if err != nil {
		return nil, err
	}

	var body quoteResponse
	if err := ep.decode(resp, &body); err != nil {
		return nil, err
	}
	if body.Data == nil || !body.Data.Price.Valid {
		return nil, retry.New(retry.Fatal, ep.source, ErrNoQuote)
	}

	d := body.Data
	return &Quote{
		Code:           d.Code,
		Name:           d.Name,
		Price:          d.Price.Value,
		ChangePercent:  d.ChangePercent.Value,
		ChangeAbsolute: d.ChangeAbsolute.Value,
	}, nil
}

// SecID maps an A-share code to an Eastmoney secid: Shanghai codes start
// with 6 (market 1), everything else is Shenzhen (market 0). Exchange
// prefixes such as SH/SZ are accepted and a secid passes through unchanged.
func SecID(symbol string) string {
	s := strings.TrimSpace(symbol)
	if strings.Contains(s, ".") {
		return s
	}
	s = strings.ToUpper(s)
	switch {
	case strings.HasPrefix(s, "SH"):
		return "1." + s[2:]
	case strings.HasPrefix(s, "SZ"):
		return "0." + s[2:]
	case strings.HasPrefix(s, "6"):
		return "1." + s
	default:
		return "0." + s
	}
}
