package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category buckets a news item by market.
type Category string

const (
	CategoryAShare  Category = "A-share"
	CategoryHKShare Category = "HK-share"
	CategoryADR     Category = "ADR"
	CategoryMacro   Category = "Macro"
)

// Sentiment is the keyword-derived tone of a news item.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// MarketIndex is one headline index quote.
type MarketIndex struct {
	Name           string          `json:"name"`
	Value          decimal.Decimal `json:"value"`
	ChangePercent  decimal.Decimal `json:"change_percent"`
	ChangeAbsolute decimal.Decimal `json:"change_absolute"`
}

// NewsItem is a flash news entry. Lists of NewsItem are newest first.
type NewsItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	Timestamp string    `json:"timestamp"`
	Category  Category  `json:"category"`
	Sentiment Sentiment `json:"sentiment"`
}

// HistorySource tells the UI where a stock's history series came from.
type HistorySource string

const (
	HistoryIntraday    HistorySource = "intraday"
	HistoryUnavailable HistorySource = "unavailable"
)

// HistoryPoint is one sample of a price series.
type HistoryPoint struct {
	Time  string          `json:"time"`
	Value decimal.Decimal `json:"value"`
}

// StockSnapshot is a point quote plus its intraday series.
type StockSnapshot struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	History       []HistoryPoint  `json:"history"`
	HistorySource HistorySource   `json:"history_source"`
}

// Sector is one row of the hot-sector board.
type Sector struct {
	Name          string          `json:"name"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	HotStock      string          `json:"hot_stock"`
	Icon          string          `json:"icon"`
}

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size string `json:"size"`
}

// Post is a forum/research post stored in the content store.
type Post struct {
	ID          string       `json:"id,omitempty"`
	Author      string       `json:"author"`
	Avatar      string       `json:"avatar"`
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	Timestamp   string       `json:"timestamp"`
	Likes       int          `json:"likes"`
	Comments    int          `json:"comments"`
	Views       int          `json:"views"`
	IsFeatured  bool         `json:"is_featured"`
	Status      string       `json:"status,omitempty"`
	Tags        []string     `json:"tags"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Application is a membership application submitted from the public site.
type Application struct {
	Name                string `json:"name"`
	Phone               string `json:"phone"`
	InvestYears         string `json:"invest_years"`
	MissingAbilities    string `json:"missing_abilities"`
	LearningExpectation string `json:"learning_expectation"`
}

// SubmitResult is returned for application submissions. Warning marks a
// success that was not persisted.
type SubmitResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Warning   bool   `json:"warning,omitempty"`
	Reference string `json:"reference,omitempty"`
	// MessageID lets the API re-localize Message per request.
	MessageID string `json:"-"`
}

// Role of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one message of a conversation.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Citation is a grounding source attached to a generated answer.
type Citation struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// PollResult is what one poll cycle produced.
type PollResult struct {
	News      []NewsItem    `json:"news"`
	Indices   []MarketIndex `json:"indices"`
	Posts     []Post        `json:"posts"`
	Sectors   []Sector      `json:"sectors"`
	FetchedAt time.Time     `json:"fetched_at"`
}
