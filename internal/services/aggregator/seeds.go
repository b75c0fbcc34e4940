package aggregator

import (
	"time"

	"github.com/ridou/marketsync/internal/models"
	"github.com/shopspring/decimal"
)

// Seed data served when an upstream has never answered. Seeds are cached
// with seedTTL so a failing upstream is retried soon.
const seedTTL = 30 * time.Second

func seedNews(now time.Time) []models.NewsItem {
	clock := now.Format("15:04")
	return []models.NewsItem{
		{ID: "f1", Title: "【系统提示】实时财经数据源暂时不可用，请稍后刷新重试", Source: "系统", URL: "#", Timestamp: clock, Category: models.CategoryMacro, Sentiment: models.SentimentNeutral},
		{ID: "f2", Title: "市场概览：A股三大指数震荡整理，北向资金净流入15亿元", Source: "模拟数据", URL: "#", Timestamp: clock, Category: models.CategoryAShare, Sentiment: models.SentimentNeutral},
		{ID: "f3", Title: "央行公告：今日开展1000亿元逆回购操作", Source: "模拟数据", URL: "#", Timestamp: clock, Category: models.CategoryMacro, Sentiment: models.SentimentPositive},
	}
}

func seedIndices() []models.MarketIndex {
	return []models.MarketIndex{
		{Name: "上证指数", Value: decimal.RequireFromString("3021.45"), ChangePercent: decimal.RequireFromString("0.15"), ChangeAbsolute: decimal.RequireFromString("4.5")},
		{Name: "深证成指", Value: decimal.RequireFromString("9451.12"), ChangePercent: decimal.RequireFromString("-0.21"), ChangeAbsolute: decimal.RequireFromString("-15.4")},
	}
}

func seedSectors() []models.Sector {
	return []models.Sector{
		{Name: "半导体", ChangePercent: decimal.RequireFromString("2.15"), HotStock: "中芯国际", Icon: "💾"},
		{Name: "中特估", ChangePercent: decimal.RequireFromString("0.85"), HotStock: "中国海油", Icon: "💰"},
		{Name: "AI应用", ChangePercent: decimal.RequireFromString("1.45"), HotStock: "昆仑万维", Icon: "🤖"},
		{Name: "高股息", ChangePercent: decimal.RequireFromString("0.52"), HotStock: "长江电力", Icon: "📈"},
	}
}

func seedPosts() []models.Post {
	return []models.Post{
		{
			ID:         "p1",
			Author:     "日斗智库",
			Title:      "【实时追踪】核心资产逻辑重估：寻找确定性锚点",
			Content:    "在当前宏观环境下，我们认为传统的博弈逻辑正在失效，产业逻辑的权重在持续上升...",
			Timestamp:  "刚刚",
			Likes:      1200,
			Comments:   85,
			Views:      5600,
			IsFeatured: true,
			Status:     "published",
			Tags:       []string{"策略", "核心资产"},
		},
	}
}
