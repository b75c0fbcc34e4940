package upstream

import (
	"strings"

	"github.com/ridou/marketsync/internal/models"
)

var categoryKeywords = []struct {
	category models.Category
	words    []string
}{
	{models.CategoryHKShare, []string{"港股", "恒生", "恒指", "港交所", "南向资金", "H股"}},
	{models.CategoryADR, []string{"美股", "中概", "ADR", "纳斯达克", "纳指", "道指", "标普"}},
	{models.CategoryAShare, []string{"A股", "沪指", "深成指", "创业板", "科创板", "两市", "北向资金", "沪深", "上证"}},
}

var (
	positiveWords = []string{"利好", "大涨", "上涨", "涨停", "走强", "净流入", "创新高", "反弹", "超预期"}
	negativeWords = []string{"利空", "大跌", "下跌", "跌停", "走弱", "净流出", "创新低", "暴跌", "不及预期"}
)

// Categorize buckets a headline by market. Headlines that mention no market
// are Macro.
func Categorize(text string) models.Category {
	for _, c := range categoryKeywords {
		if containsAny(text, c.words) {
			return c.category
		}
	}
	return models.CategoryMacro
}

// Sentiment scores a headline by counting tone keywords.
func Sentiment(text string) models.Sentiment {
	score := countAny(text, positiveWords) - countAny(text, negativeWords)
	switch {
	case score > 0:
		return models.SentimentPositive
	case score < 0:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

func containsAny(text string, words []string) bool {
	return countAny(text, words) > 0
}

func countAny(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
