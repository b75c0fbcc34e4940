package upstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/models"
	"github.com/ridou/marketsync/internal/services/retry"
)

// Prompt is one generation request: a system instruction and the full turn
// history ending with the user's message.
type Prompt struct {
	System    string
	Turns     []models.ChatTurn
	Grounding bool
}

// Generation is the provider's answer with any grounding sources it cited.
type Generation struct {
	Text      string
	Citations []models.Citation
}

// Generator is the generative-AI adapter.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt Prompt) (*Generation, error)
}

// NewGenerator creates the provider selected by cfg.Provider.
func NewGenerator(cfg *config.AIConfig, deps Deps) (Generator, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGemini(cfg, deps), nil
	case "openai":
		return NewOpenAICompatible(cfg, deps), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

// Gemini calls the Gemini generateContent REST API.
type Gemini struct {
	ep  *endpoint
	cfg config.AIConfig
}

// NewGemini creates the Gemini adapter
func NewGemini(cfg *config.AIConfig, deps Deps) *Gemini {
	return &Gemini{
		ep:  newEndpoint(SourceChat, cfg.BaseURL, cfg.Timeout, deps),
		cfg: *cfg,
	}
}

func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	Tools             []map[string]struct{}  `json:"tools,omitempty"`
	GenerationConfig  map[string]interface{} `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
}

// Generate sends the conversation with the Google Search tool enabled when
// grounding is requested.
func (g *Gemini) Generate(ctx context.Context, prompt Prompt) (*Generation, error) {
	if g.cfg.APIKey == "" {
		return nil, retry.MissingCredential(SourceChat)
	}

	body := geminiRequest{
		Contents: make([]geminiContent, 0, len(prompt.Turns)),
		GenerationConfig: map[string]interface{}{
			"temperature":     g.cfg.Temperature,
			"maxOutputTokens": g.cfg.MaxTokens,
		},
	}
	if prompt.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: prompt.System}}}
	}
	for _, turn := range prompt.Turns {
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: turn.Content}}})
	}
	if prompt.Grounding {
		body.Tools = []map[string]struct{}{{"googleSearch": {}}}
	}

	resp, err := g.ep.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader("x-goog-api-key", g.cfg.APIKey).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(fmt.Sprintf("/v1beta/models/%s:generateContent", g.cfg.Model))
	})
	if err != nil {
		return nil, err
	}

	var result geminiResponse
	if err := g.ep.decode(resp, &result); err != nil {
		return nil, err
	}

	gen := &Generation{}
	if len(result.Candidates) == 0 {
		return gen, nil
	}

	candidate := result.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	gen.Text = text.String()

	if candidate.GroundingMetadata != nil {
		for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			gen.Citations = append(gen.Citations, models.Citation{Title: chunk.Web.Title, URI: chunk.Web.URI})
		}
	}
	return gen, nil
}

// OpenAICompatible calls an OpenAI-style chat/completions endpoint such as
// Groq.
type OpenAICompatible struct {
	ep  *endpoint
	cfg config.AIConfig
}

// NewOpenAICompatible creates the OpenAI-compatible adapter
func NewOpenAICompatible(cfg *config.AIConfig, deps Deps) *OpenAICompatible {
	return &OpenAICompatible{
		ep:  newEndpoint(SourceChat, cfg.BaseURL, cfg.Timeout, deps),
		cfg: *cfg,
	}
}

func (o *OpenAICompatible) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the conversation. Providers that return a top-level
// citations list have it mapped to sources.
func (o *OpenAICompatible) Generate(ctx context.Context, prompt Prompt) (*Generation, error) {
	if o.cfg.APIKey == "" {
		return nil, retry.MissingCredential(SourceChat)
	}

	messages := make([]openAIMessage, 0, len(prompt.Turns)+1)
	if prompt.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: prompt.System})
	}
	for _, turn := range prompt.Turns {
		messages = append(messages, openAIMessage{Role: string(turn.Role), Content: turn.Content})
	}

	reqBody := map[string]interface{}{
		"model":       o.cfg.Model,
		"messages":    messages,
		"max_tokens":  o.cfg.MaxTokens,
		"temperature": o.cfg.Temperature,
	}

	resp, err := o.ep.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetAuthToken(o.cfg.APIKey).
			SetHeader("Content-Type", "application/json").
			SetBody(reqBody).
			Post("/chat/completions")
	})
	if err != nil {
		return nil, err
	}

	var result openAIResponse
	if err := o.ep.decode(resp, &result); err != nil {
		return nil, err
	}
	if result.Error != nil && result.Error.Message != "" {
		return nil, retry.FromStatus(SourceChat, resp.StatusCode(), result.Error.Message)
	}

	gen := &Generation{}
	if len(result.Choices) > 0 {
		gen.Text = result.Choices[0].Message.Content
	}
	for _, uri := range result.Citations {
		if uri != "" {
			gen.Citations = append(gen.Citations, models.Citation{Title: uri, URI: uri})
		}
	}
	return gen, nil
}
