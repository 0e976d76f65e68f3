package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// ProviderOptions selects and configures a model endpoint.
type ProviderOptions struct {
	Provider  string // "anthropic", "openai", "gemini"
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// NewProvider builds the Provider named by opts.Provider.
func NewProvider(ctx context.Context, opts ProviderOptions) (Provider, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	baseURL := strings.TrimSpace(opts.BaseURL)
	model := strings.TrimSpace(opts.Model)
	if apiKey == "" {
		return nil, fmt.Errorf("inference provider %s: missing API key", opts.Provider)
	}
	if model == "" {
		return nil, fmt.Errorf("inference provider %s: missing model", opts.Provider)
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	switch opts.Provider {
	case "anthropic":
		reqOpts := []aoption.RequestOption{aoption.WithAPIKey(apiKey)}
		if baseURL != "" {
			reqOpts = append(reqOpts, aoption.WithBaseURL(baseURL))
		}
		return &anthropicProvider{client: anthropic.NewClient(reqOpts...), model: model, maxTokens: maxTokens}, nil
	case "openai":
		reqOpts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
		if baseURL != "" {
			reqOpts = append(reqOpts, ooption.WithBaseURL(baseURL))
		}
		return &openaiProvider{client: openai.NewClient(reqOpts...), model: model, maxTokens: maxTokens}, nil
	case "gemini":
		cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
		if baseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
		}
		client, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return &geminiProvider{client: client, model: model, maxTokens: int32(maxTokens)}, nil
	default:
		return nil, fmt.Errorf("unknown inference provider '%s', must be one of: anthropic, openai, gemini", opts.Provider)
	}
}

type anthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func (p *anthropicProvider) Name() string { return "anthropic/" + p.model }

func (p *anthropicProvider) Complete(ctx context.Context, pr Prompt) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: pr.System}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(pr.User))},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String(), nil
}

type openaiProvider struct {
	client    openai.Client
	model     string
	maxTokens int64
}

func (p *openaiProvider) Name() string { return "openai/" + p.model }

func (p *openaiProvider) Complete(ctx context.Context, pr Prompt) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(pr.System),
			openai.UserMessage(pr.User),
		},
		MaxCompletionTokens: openai.Int(p.maxTokens),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type geminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

func (p *geminiProvider) Name() string { return "gemini/" + p.model }

func (p *geminiProvider) Complete(ctx context.Context, pr Prompt) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(pr.User), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(pr.System, genai.RoleUser),
		MaxOutputTokens:   p.maxTokens,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
