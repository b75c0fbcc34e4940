package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/i18n"
	"github.com/ridou/marketsync/internal/middleware"
	"github.com/ridou/marketsync/internal/models"
	"github.com/ridou/marketsync/internal/services/retry"
	"github.com/ridou/marketsync/internal/services/upstream"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	results []*upstream.Generation
	errs    []error
	prompts []upstream.Prompt
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(ctx context.Context, prompt upstream.Prompt) (*upstream.Generation, error) {
	call := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	if call < len(f.results) {
		return f.results[call], nil
	}
	return f.results[len(f.results)-1], nil
}

func newTestService(t *testing.T, gen *fakeGenerator) *Service {
	t.Helper()
	log, _ := test.NewNullLogger()

	policy := retry.NewPolicy(config.RetryConfig{}, log)
	policy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "en"})
	require.NoError(t, err)

	cfg := &config.AIConfig{SystemInstruction: "be precise", Grounding: true}
	return NewService(cfg, gen, policy, localizer, log, middleware.NewMetrics())
}

var disclaimer = i18n.DefaultText(i18n.MsgDisclaimer)

const zhDisclaimer = "注：以上分析仅供逻辑交流，不构成投资建议。投资有风险，入市需谨慎。"

func TestChatAppendsDisclaimer(t *testing.T) {
	gen := &fakeGenerator{results: []*upstream.Generation{{Text: "Markets are mixed."}}}
	s := newTestService(t, gen)

	reply, err := s.Chat(context.Background(), "How is the market?", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(reply.Text, "Markets are mixed."))
	assert.True(t, strings.HasSuffix(reply.Text, disclaimer))
	assert.Empty(t, reply.Sources)
}

func TestChatDoesNotDuplicateDisclaimer(t *testing.T) {
	gen := &fakeGenerator{results: []*upstream.Generation{{Text: "Hold.\n\n" + disclaimer}}}
	s := newTestService(t, gen)

	reply, err := s.Chat(context.Background(), "buy?", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(reply.Text, disclaimer))
	assert.True(t, strings.HasSuffix(reply.Text, disclaimer))
}

func TestChatStripsDisclaimerFollowedByPunctuation(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"emphasized", "Hold.\n\n*" + disclaimer + "*"},
		{"trailing marks", "Hold.\n\n" + strings.TrimSuffix(disclaimer, ".") + " !!\n"},
		{"localized", "Hold.\n\n" + zhDisclaimer + "\n\n---"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{results: []*upstream.Generation{{Text: tt.text}}}
			s := newTestService(t, gen)

			reply, err := s.Chat(context.Background(), "buy?", nil)
			require.NoError(t, err)

			assert.Equal(t, "Hold.\n\n"+disclaimer, reply.Text)
		})
	}
}

func TestChatKeepsDisclaimerFollowedByText(t *testing.T) {
	gen := &fakeGenerator{results: []*upstream.Generation{{Text: disclaimer + " Still, watch the banks."}}}
	s := newTestService(t, gen)

	reply, err := s.Chat(context.Background(), "buy?", nil)
	require.NoError(t, err)

	assert.Contains(t, reply.Text, "watch the banks.")
	assert.True(t, strings.HasSuffix(reply.Text, disclaimer))
}

func TestChatSourcesDeduplicated(t *testing.T) {
	gen := &fakeGenerator{results: []*upstream.Generation{{
		Text: "Semiconductors led.",
		Citations: []models.Citation{
			{Title: "Sina", URI: "https://finance.sina.com.cn/a"},
			{Title: "Sina again", URI: "https://finance.sina.com.cn/a"},
			{Title: "", URI: "https://eastmoney.com/b"},
			{Title: "blank", URI: " "},
		},
	}}}
	s := newTestService(t, gen)

	reply, err := s.Chat(context.Background(), "what led?", nil)
	require.NoError(t, err)

	require.Len(t, reply.Sources, 2)
	assert.Equal(t, "Sina", reply.Sources[0].Title)
	assert.Equal(t, "https://eastmoney.com/b", reply.Sources[1].URI)

	assert.Contains(t, reply.Text, "**"+i18n.DefaultText(i18n.MsgSourcesHeading)+"**")
	assert.Contains(t, reply.Text, "- [Sina](https://finance.sina.com.cn/a)")
	assert.Contains(t, reply.Text, "- [https://eastmoney.com/b](https://eastmoney.com/b)")
	assert.Equal(t, 1, strings.Count(reply.Text, "https://finance.sina.com.cn/a"))
	assert.True(t, strings.HasSuffix(reply.Text, disclaimer))
}

func TestChatHistoryIsNotMutated(t *testing.T) {
	gen := &fakeGenerator{results: []*upstream.Generation{{Text: "second answer"}}}
	s := newTestService(t, gen)

	history := make([]models.ChatTurn, 2, 8)
	history[0] = models.ChatTurn{Role: models.RoleUser, Content: "first"}
	history[1] = models.ChatTurn{Role: models.RoleAssistant, Content: "first answer"}

	reply, err := s.Chat(context.Background(), "  second  ", history)
	require.NoError(t, err)

	require.Len(t, history, 2)
	assert.Equal(t, "first answer", history[1].Content)
	assert.Equal(t, "", history[:3][2].Content)

	require.Len(t, reply.History, 4)
	assert.Equal(t, models.ChatTurn{Role: models.RoleUser, Content: "second"}, reply.History[2])
	assert.Equal(t, models.RoleAssistant, reply.History[3].Role)
	assert.Equal(t, reply.Text, reply.History[3].Content)

	require.Len(t, gen.prompts, 1)
	assert.Equal(t, "be precise", gen.prompts[0].System)
	assert.True(t, gen.prompts[0].Grounding)
	assert.Len(t, gen.prompts[0].Turns, 3)
}

func TestChatEmptyAnswer(t *testing.T) {
	gen := &fakeGenerator{results: []*upstream.Generation{{Text: "   "}}}
	s := newTestService(t, gen)

	reply, err := s.Chat(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(reply.Text, i18n.DefaultText(i18n.MsgNoAnswer)))
	assert.True(t, strings.HasSuffix(reply.Text, disclaimer))
}

func TestChatEmptyMessage(t *testing.T) {
	gen := &fakeGenerator{}
	s := newTestService(t, gen)

	_, err := s.Chat(context.Background(), " \n ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, gen.prompts)
}

func TestChatRetriesRateLimit(t *testing.T) {
	gen := &fakeGenerator{
		errs:    []error{retry.New(retry.RateLimited, upstream.SourceChat, errors.New("429"))},
		results: []*upstream.Generation{nil, {Text: "recovered"}},
	}
	s := newTestService(t, gen)

	reply, err := s.Chat(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.Len(t, gen.prompts, 2)
	assert.True(t, strings.HasPrefix(reply.Text, "recovered"))
}

func TestChatMissingCredential(t *testing.T) {
	gen := &fakeGenerator{errs: []error{retry.MissingCredential(upstream.SourceChat)}}
	s := newTestService(t, gen)

	_, err := s.Chat(context.Background(), "hello", nil)
	require.Error(t, err)

	assert.Len(t, gen.prompts, 1)
	assert.Equal(t, retry.AuthMissing, retry.Classify(err))
	id, ok := retry.MessageID(err)
	require.True(t, ok)
	assert.Equal(t, i18n.MsgConfigMissing, id)
}

func TestReplyRenderHTML(t *testing.T) {
	gen := &fakeGenerator{results: []*upstream.Generation{{
		Text:      "**Bullish** on chips",
		Citations: []models.Citation{{Title: "Sina", URI: "https://finance.sina.com.cn"}},
	}}}
	s := newTestService(t, gen)

	reply, err := s.Chat(context.Background(), "chips?", nil)
	require.NoError(t, err)

	reply.RenderHTML()
	assert.Contains(t, reply.HTML, "<strong>Bullish</strong>")
	assert.Contains(t, reply.HTML, `href="https://finance.sina.com.cn"`)
}
