package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Client is the interface for LLM interactions.
type Client interface {
	ChatCompletion(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error)
	ChatCompletionStream(ctx context.Context, messages []Message, tools []ToolDef, handler StreamHandler) (*Response, error)
}

// Factory builds a client for a model. Agents resolve the model per run.
type Factory func(model string, opts ...Option) Client

// NewFactory returns a Factory bound to one endpoint and key.
func NewFactory(baseURL, apiKey string, base ...Option) Factory {
	return func(model string, opts ...Option) Client {
		return NewClient(baseURL, apiKey, model, append(append([]Option(nil), base...), opts...)...)
	}
}

// Option configures an OpenAICompatClient.
type Option func(*OpenAICompatClient)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *OpenAICompatClient) { c.temperature = &t }
}

// WithLogger sets the logger used for rate-limit notices.
func WithLogger(l hclog.Logger) Option {
	return func(c *OpenAICompatClient) { c.logger = l }
}

// OpenAICompatClient works with any OpenAI-compatible API (Gemini, Ollama, OpenAI).
type OpenAICompatClient struct {
	client      *openai.Client
	model       string
	baseURL     string
	temperature *float64
	logger      hclog.Logger
}

// NewClient creates an LLM client for the given endpoint and model.
func NewClient(baseURL, apiKey, model string, opts ...Option) *OpenAICompatClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
	c := &OpenAICompatClient{
		client:  &client,
		model:   model,
		baseURL: baseURL,
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model name requests are sent for.
func (c *OpenAICompatClient) Model() string { return c.model }

// Temperature returns the configured temperature, if any.
func (c *OpenAICompatClient) Temperature() (float64, bool) {
	if c.temperature == nil {
		return 0, false
	}
	return *c.temperature, true
}

func (c *OpenAICompatClient) params(messages []Message, tools []ToolDef) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	return params
}

func (c *OpenAICompatClient) ChatCompletion(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	params := c.params(messages, tools)

	var completion *openai.ChatCompletion
	err := c.retryRateLimited(ctx, func() error {
		var err error
		completion, err = c.client.Chat.Completions.New(ctx, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}
	return toResponse(completion.Choices[0].Message), nil
}

// retryRateLimited runs fn up to three times, waiting 2s then 4s after an
// HTTP 429. Other errors are returned at once.
func (c *OpenAICompatClient) retryRateLimited(ctx context.Context, fn func() error) error {
	var err error
	for attempt := range 3 {
		err = fn()
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "429") || attempt == 2 {
			return err
		}
		wait := time.Duration(2<<attempt) * time.Second // 2s, 4s
		c.logger.Warn("rate limited, retrying", "model", c.model, "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func toResponse(msg openai.ChatCompletionMessage) *Response {
	resp := &Response{
		Message: Message{
			Role:    RoleAssistant,
			Content: msg.Content,
		},
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]any{"_raw": tc.Function.Arguments}
		}
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return resp
}

func convertMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleAssistant:
			if len(m.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					argsJSON, _ := json.Marshal(tc.Args)
					toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(argsJSON),
						},
					}
				}
				assistant := openai.ChatCompletionAssistantMessageParam{
					ToolCalls: toolCalls,
				}
				if m.Content != "" {
					assistant.Content.OfString = param.NewOpt(m.Content)
				}
				out = append(out, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &assistant,
				})
			} else {
				out = append(out, openai.AssistantMessage(m.Content))
			}
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func convertTools(tools []ToolDef) []openai.ChatCompletionToolParam {
	var out []openai.ChatCompletionToolParam
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}

// ListModels lists the models the endpoint serves.
func (c *OpenAICompatClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	iter := c.client.Models.ListAutoPaging(ctx)
	var models []ModelInfo
	for iter.Next() {
		m := iter.Current()
		models = append(models, ModelInfo{
			ID:      strings.TrimPrefix(m.ID, "models/"),
			OwnedBy: m.OwnedBy,
			Created: m.Created,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return models, nil
}
