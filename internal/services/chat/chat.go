package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/i18n"
	"github.com/ridou/marketsync/internal/middleware"
	"github.com/ridou/marketsync/internal/models"
	"github.com/ridou/marketsync/internal/services/retry"
	"github.com/ridou/marketsync/internal/services/upstream"
	"github.com/ridou/marketsync/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// ErrEmptyMessage is returned when the user message is blank.
var ErrEmptyMessage = errors.New("chat message is empty")

// Reply is the outcome of one chat cycle.
type Reply struct {
	Text    string            `json:"text"`
	HTML    string            `json:"html,omitempty"`
	History []models.ChatTurn `json:"history"`
	Sources []models.Citation `json:"sources,omitempty"`
}

// Service runs stateless request/response chat cycles against the
// configured generative provider. The caller owns the session history.
type Service struct {
	generator upstream.Generator
	policy    *retry.Policy
	localizer *i18n.Localizer
	system    string
	grounding bool
	logger    *logrus.Logger
	metrics   *middleware.Metrics
}

// NewService creates a chat service
func NewService(cfg *config.AIConfig, generator upstream.Generator, policy *retry.Policy, localizer *i18n.Localizer, logger *logrus.Logger, metrics *middleware.Metrics) *Service {
	return &Service{
		generator: generator,
		policy:    policy,
		localizer: localizer,
		system:    cfg.SystemInstruction,
		grounding: cfg.Grounding,
		logger:    logger,
		metrics:   metrics,
	}
}

// Chat sends message with the prior history and returns the post-processed
// reply. The disclaimer is always the last line of Reply.Text.
func (s *Service) Chat(ctx context.Context, message string, history []models.ChatTurn) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	turns := make([]models.ChatTurn, 0, len(history)+2)
	turns = append(turns, history...)
	turns = append(turns, models.ChatTurn{Role: models.RoleUser, Content: message})

	prompt := upstream.Prompt{
		System:    s.system,
		Turns:     turns,
		Grounding: s.grounding,
	}

	start := time.Now()
	var gen *upstream.Generation
	err := s.policy.Do(ctx, upstream.SourceChat, func(ctx context.Context) error {
		var err error
		gen, err = s.generator.Generate(ctx, prompt)
		return err
	})
	if err != nil {
		s.record("error", start)
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"provider": s.generator.Name(),
				"kind":     retry.Classify(err).String(),
				"error":    err.Error(),
			}).Warn("Chat generation failed")
		}
		return nil, fmt.Errorf("chat generation failed: %w", err)
	}
	s.record("success", start)

	sources := dedupe(gen.Citations)
	text := s.compose(gen.Text, sources)

	turns = append(turns, models.ChatTurn{Role: models.RoleAssistant, Content: text})

	return &Reply{
		Text:    text,
		History: turns,
		Sources: sources,
	}, nil
}

// RenderHTML fills Reply.HTML from the markdown text.
func (r *Reply) RenderHTML() {
	r.HTML = markdown.ToHTML(r.Text)
}

func (s *Service) compose(raw string, sources []models.Citation) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = s.text(i18n.MsgNoAnswer)
	}

	disclaimer := s.text(i18n.MsgDisclaimer)
	text = stripDisclaimer(text, s.disclaimers(disclaimer)...)

	var b strings.Builder
	b.WriteString(text)

	if len(sources) > 0 {
		b.WriteString("\n\n**")
		b.WriteString(s.text(i18n.MsgSourcesHeading))
		b.WriteString("**\n")
		for _, src := range sources {
			title := src.Title
			if title == "" {
				title = src.URI
			}
			fmt.Fprintf(&b, "- [%s](%s)\n", escapeLinkText(title), src.URI)
		}
	}

	b.WriteString("\n\n")
	b.WriteString(disclaimer)

	return b.String()
}

func (s *Service) text(id string) string {
	if s.localizer == nil {
		return i18n.DefaultText(id)
	}
	return s.localizer.Default(id)
}

// disclaimers lists the disclaimer in every bundled language, preferred first.
func (s *Service) disclaimers(preferred string) []string {
	out := []string{preferred, i18n.DefaultText(i18n.MsgDisclaimer)}
	if s.localizer != nil {
		out = append(out, s.localizer.Get("zh", i18n.MsgDisclaimer, nil))
	}
	return out
}

func (s *Service) record(status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordChat(s.generator.Name(), status, time.Since(start))
	}
}

// dedupe keeps the first citation for each URI, in order.
func dedupe(citations []models.Citation) []models.Citation {
	if len(citations) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(citations))
	out := make([]models.Citation, 0, len(citations))
	for _, c := range citations {
		uri := strings.TrimSpace(c.URI)
		if uri == "" || seen[uri] {
			continue
		}
		seen[uri] = true
		out = append(out, models.Citation{Title: strings.TrimSpace(c.Title), URI: uri})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stripDisclaimer removes a disclaimer the model already wrote at the end of
// its answer. Only whitespace, punctuation or emphasis markers may follow it.
func stripDisclaimer(text string, disclaimers ...string) string {
	seen := make(map[string]bool, len(disclaimers))
	for _, d := range disclaimers {
		core := strings.TrimRightFunc(d, isTrailer)
		if core == "" || seen[core] {
			continue
		}
		seen[core] = true

		idx := strings.LastIndex(text, core)
		if idx < 0 || strings.TrimFunc(text[idx+len(core):], isTrailer) != "" {
			continue
		}

		head := text[:idx]
		// Drop an emphasis opener such as "*Note: ..." along with it.
		if opener := strings.TrimRight(head, "*_"); opener == "" || strings.TrimRightFunc(opener, unicode.IsSpace) != opener {
			head = opener
		}
		text = strings.TrimSpace(head)
	}
	return text
}

func isTrailer(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}

var linkTextEscaper = strings.NewReplacer("[", `\[`, "]", `\]`)

func escapeLinkText(s string) string {
	return linkTextEscaper.Replace(s)
}
