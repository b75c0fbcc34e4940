package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/models"
	"github.com/ridou/marketsync/internal/services/retry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeps() Deps {
	log, _ := test.NewNullLogger()
	return Deps{Logger: log}
}

func upstreams(url string) *config.UpstreamsConfig {
	return &config.UpstreamsConfig{
		QuoteBaseURL:   url,
		HistoryBaseURL: url,
		NewsBaseURL:    url,
		NewsPageSize:   20,
		NewsFeedID:     152,
		Timeout:        5 * time.Second,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestQuotesIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/qt/stock/get", r.URL.Path)
		assert.Equal(t, "1.000001", r.URL.Query().Get("secid"))
		assert.Contains(t, r.URL.Query().Get("fields"), "f170")
		w.Write([]byte(`{"rc":0,"data":{"f43":302145,"f57":"000001","f58":"上证指数","f169":450,"f170":15}}`))
	}))
	defer srv.Close()

	q := NewQuotes(upstreams(srv.URL), testDeps())
	idx, err := q.Index(context.Background(), config.IndexSymbol{ID: "1.000001", Name: "上证指数"})
	require.NoError(t, err)

	assert.Equal(t, "上证指数", idx.Name)
	assert.True(t, dec("3021.45").Equal(idx.Value))
	assert.True(t, dec("0.15").Equal(idx.ChangePercent))
	assert.True(t, dec("4.5").Equal(idx.ChangeAbsolute))
}

func TestQuotesNegativeAndSuspended(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("secid") == "0.399001" {
			w.Write([]byte(`{"rc":0,"data":{"f43":945112,"f58":"深证成指","f169":-1540,"f170":-21}}`))
			return
		}
		w.Write([]byte(`{"rc":0,"data":{"f43":"-","f58":"停牌","f169":"-","f170":"-"}}`))
	}))
	defer srv.Close()

	q := NewQuotes(upstreams(srv.URL), testDeps())

	quote, err := q.Quote(context.Background(), "0.399001")
	require.NoError(t, err)
	assert.True(t, dec("-0.21").Equal(quote.ChangePercent))
	assert.True(t, dec("-15.4").Equal(quote.ChangeAbsolute))

	_, err = q.Quote(context.Background(), "1.600000")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoQuote)
	assert.Equal(t, retry.Fatal, retry.Classify(err))
}

func TestQuotesNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rc":0,"data":null}`))
	}))
	defer srv.Close()

	_, err := NewQuotes(upstreams(srv.URL), testDeps()).Quote(context.Background(), "1.999999")
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestStatusErrorsAreClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewQuotes(upstreams(srv.URL), testDeps()).Quote(context.Background(), "1.000001")
	require.Error(t, err)
	assert.Equal(t, retry.RateLimited, retry.Classify(err))
}

func TestOfflineSkipsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	deps := testDeps()
	deps.Online = func() bool { return false }

	_, err := NewNews(upstreams(srv.URL), deps).Latest(context.Background())
	require.Error(t, err)
	assert.Equal(t, retry.Offline, retry.Classify(err))
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestMalformedBodyIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	_, err := NewSectors(upstreams(srv.URL), testDeps()).Top(context.Background())
	require.Error(t, err)
	assert.Equal(t, retry.Fatal, retry.Classify(err))
}

func TestNewsLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/zhibo/feed", r.URL.Path)
		assert.Equal(t, "152", r.URL.Query().Get("zhibo_id"))
		assert.Equal(t, "20", r.URL.Query().Get("page_size"))
		w.Write([]byte(`{"result":{"status":{"code":0},"data":{"feed":{"list":[
			{"id":3003,"rich_text":"恒生指数午后大涨，科技股走强","create_time":"2024-05-06 10:45:00","docurl":"https://finance.sina.com.cn/a"},
			{"id":3002,"rich_text":"美联储维持利率不变","create_time":"2024-05-06 10:30:12"},
			{"id":"3001","content":"两市成交额跌破8000亿，资金净流出","createtime":"2024-05-06 09:31:00","doc_url":"https://finance.sina.com.cn/c"}
		]}}}}`))
	}))
	defer srv.Close()

	items, err := NewNews(upstreams(srv.URL), testDeps()).Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, []string{"3003", "3002", "3001"}, []string{items[0].ID, items[1].ID, items[2].ID})

	assert.Equal(t, "10:45", items[0].Timestamp)
	assert.Equal(t, models.CategoryHKShare, items[0].Category)
	assert.Equal(t, models.SentimentPositive, items[0].Sentiment)
	assert.Equal(t, "https://finance.sina.com.cn/a", items[0].URL)

	assert.Equal(t, models.CategoryMacro, items[1].Category)
	assert.Equal(t, models.SentimentNeutral, items[1].Sentiment)
	assert.Equal(t, "#", items[1].URL)

	assert.Equal(t, "09:31", items[2].Timestamp)
	assert.Equal(t, models.CategoryAShare, items[2].Category)
	assert.Equal(t, models.SentimentNegative, items[2].Sentiment)
	assert.Equal(t, "新浪财经", items[2].Source)
}

func TestNewsFeedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"status":{"code":11,"msg":"bad zhibo_id"}}}`))
	}))
	defer srv.Close()

	_, err := NewNews(upstreams(srv.URL), testDeps()).Latest(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad zhibo_id")
}

func TestStockDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1.600519", r.URL.Query().Get("secid"))
		switch r.URL.Path {
		case "/api/qt/stock/get":
			w.Write([]byte(`{"rc":0,"data":{"f43":171850,"f57":"600519","f58":"贵州茅台","f169":3950,"f170":235}}`))
		case "/api/qt/stock/trends2/get":
			w.Write([]byte(`{"rc":0,"data":{"code":"600519","name":"贵州茅台","trends":[
				"2024-05-06 09:30,1700.00",
				"2024-05-06 09:31,1702.50",
				"garbage"
			]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sd := NewStockDetail(upstreams(srv.URL), testDeps())

	quote, err := sd.Quote(context.Background(), "600519")
	require.NoError(t, err)
	assert.Equal(t, "贵州茅台", quote.Name)
	assert.True(t, dec("1718.5").Equal(quote.Price))
	assert.True(t, dec("2.35").Equal(quote.ChangePercent))

	history, err := sd.History(context.Background(), "SH600519")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "09:30", history[0].Time)
	assert.True(t, dec("1702.5").Equal(history[1].Value))
}

func TestSectorsTop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/qt/clist/get", r.URL.Path)
		assert.Equal(t, "m:90+t:3", r.URL.Query().Get("fs"))
		w.Write([]byte(`{"rc":0,"data":{"total":2,"diff":[
			{"f3":215,"f12":"BK1036","f14":"半导体","f128":"中芯国际"},
			{"f3":145,"f12":"BK0800","f14":"AI应用","f128":"昆仑万维"},
			{"f3":"-","f12":"BK0001","f14":"停牌板块","f128":""}
		]}}`))
	}))
	defer srv.Close()

	sectors, err := NewSectors(upstreams(srv.URL), testDeps()).Top(context.Background())
	require.NoError(t, err)
	require.Len(t, sectors, 2)

	assert.Equal(t, "半导体", sectors[0].Name)
	assert.True(t, dec("2.15").Equal(sectors[0].ChangePercent))
	assert.Equal(t, "中芯国际", sectors[0].HotStock)
	assert.Equal(t, "💾", sectors[0].Icon)
	assert.Equal(t, "🤖", sectors[1].Icon)
}

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "systemInstruction")
		assert.Contains(t, body, "tools")
		contents := body["contents"].([]interface{})
		require.Len(t, contents, 3)
		assert.Equal(t, "model", contents[1].(map[string]interface{})["role"])

		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"半导体"},{"text":"板块走强。"}]},
			"groundingMetadata":{"groundingChunks":[
				{"web":{"uri":"https://a.example","title":"A"}},
				{"retrievedContext":{}},
				{"web":{"uri":"https://b.example","title":"B"}}
			]}}]}`))
	}))
	defer srv.Close()

	g := NewGemini(&config.AIConfig{BaseURL: srv.URL, APIKey: "secret", Model: "gemini-2.0-flash", Timeout: 5 * time.Second}, testDeps())
	gen, err := g.Generate(context.Background(), Prompt{
		System: "你是助手",
		Turns: []models.ChatTurn{
			{Role: models.RoleUser, Content: "你好"},
			{Role: models.RoleAssistant, Content: "你好！"},
			{Role: models.RoleUser, Content: "半导体怎么样？"},
		},
		Grounding: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "半导体板块走强。", gen.Text)
	assert.Equal(t, []models.Citation{{Title: "A", URI: "https://a.example"}, {Title: "B", URI: "https://b.example"}}, gen.Citations)
}

func TestGeminiQuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	g := NewGemini(&config.AIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Timeout: 5 * time.Second}, testDeps())
	_, err := g.Generate(context.Background(), Prompt{Turns: []models.ChatTurn{{Role: models.RoleUser, Content: "hi"}}})
	assert.Equal(t, retry.RateLimited, retry.Classify(err))
}

func TestGeneratorsRequireKey(t *testing.T) {
	for _, provider := range []string{"gemini", "openai"} {
		gen, err := NewGenerator(&config.AIConfig{Provider: provider, BaseURL: "http://127.0.0.1:1"}, testDeps())
		require.NoError(t, err)
		assert.Equal(t, provider, gen.Name())

		_, err = gen.Generate(context.Background(), Prompt{})
		assert.Equal(t, retry.AuthMissing, retry.Classify(err), provider)
	}

	_, err := NewGenerator(&config.AIConfig{Provider: "claude"}, testDeps())
	assert.Error(t, err)
}

func TestOpenAICompatibleGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer groq", r.Header.Get("Authorization"))

		var body struct {
			Model    string          `json:"model"`
			Messages []openAIMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"答案"}}],"citations":["https://c.example"]}`))
	}))
	defer srv.Close()

	o := NewOpenAICompatible(&config.AIConfig{BaseURL: srv.URL, APIKey: "groq", Model: "llama", Timeout: 5 * time.Second}, testDeps())
	gen, err := o.Generate(context.Background(), Prompt{System: "sys", Turns: []models.ChatTurn{{Role: models.RoleUser, Content: "问题"}}})
	require.NoError(t, err)
	assert.Equal(t, "答案", gen.Text)
	assert.Equal(t, []models.Citation{{Title: "https://c.example", URI: "https://c.example"}}, gen.Citations)
}

func TestContentStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/posts":
			assert.Equal(t, "eq.published", r.URL.Query().Get("status"))
			assert.Equal(t, "timestamp.desc", r.URL.Query().Get("order"))
			w.Write([]byte(`[{"id":"p9","author":"日斗投资","title":"t","content":"c","timestamp":"2025-03-24","tags":["策略"]}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/posts":
			assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"title":"新帖"`)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`[{"id":"p10","title":"新帖"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/applications":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodDelete:
			if r.URL.Query().Get("id") == "eq.p10" {
				w.Write([]byte(`[{"id":"p10"}]`))
				return
			}
			w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := NewContentStore(&config.StoreConfig{URL: srv.URL, APIKey: "anon", Timeout: 5 * time.Second}, testDeps())
	require.True(t, store.Configured())
	ctx := context.Background()

	posts, err := store.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "p9", posts[0].ID)

	created, err := store.InsertPost(ctx, models.Post{Title: "新帖"})
	require.NoError(t, err)
	assert.Equal(t, "p10", created.ID)

	require.NoError(t, store.InsertApplication(ctx, models.Application{Name: "张三", Phone: "13800000000"}))
	require.NoError(t, store.DeletePost(ctx, "p10"))
	assert.ErrorIs(t, store.DeletePost(ctx, "missing"), ErrNotFound)
}

func TestContentStoreUnconfigured(t *testing.T) {
	store := NewContentStore(&config.StoreConfig{}, testDeps())
	assert.False(t, store.Configured())

	_, err := store.ListPosts(context.Background())
	assert.Equal(t, retry.AuthMissing, retry.Classify(err))
	assert.ErrorIs(t, store.InsertApplication(context.Background(), models.Application{}), retry.ErrMissingCredential)
}

func TestSecID(t *testing.T) {
	assert.Equal(t, "1.600519", SecID("600519"))
	assert.Equal(t, "0.300059", SecID("300059"))
	assert.Equal(t, "1.688981", SecID("sh688981"))
	assert.Equal(t, "0.000001", SecID("SZ000001"))
	assert.Equal(t, "103.ym_m_CN00Y", SecID("103.ym_m_CN00Y"))
}

func TestClassifyHeadlines(t *testing.T) {
	assert.Equal(t, models.CategoryADR, Categorize("中概股盘前普涨"))
	assert.Equal(t, models.CategoryMacro, Categorize("央行开展1000亿元逆回购操作"))
	assert.Equal(t, models.SentimentPositive, Sentiment("政策利好落地"))
	assert.Equal(t, models.SentimentNeutral, Sentiment("先大涨后大跌"))
}
