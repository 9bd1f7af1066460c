// Package llm wraps the OpenAI-compatible chat-completions endpoint behind
// the outbound rate limiter and exposes the personas the workflow calls:
// planner, verifier, and summarizer. Prompt text lives in a catalog keyed by
// id; the workflow never sees raw prompt strings.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/outbound"
)

// Message roles accepted by Complete.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when the endpoint answers 200 with no
// choices. Some gateways do this on content-filter hits.
var ErrEmptyCompletion = errors.New("completion returned no choices")

// Message is one conversation message.
type Message struct {
	Role    string
	Content string
}

// Request is one chat-completions call. JSONMode asks the endpoint for a
// response_format of json_object; not every gateway honors it, so reply
// parsing never assumes bare JSON.
type Request struct {
	// Label identifies the call in queue logs, e.g. "mode_selection".
	Label    string
	Messages []Message
	JSONMode bool

	// Overrides; zero values fall back to the client-wide config.
	Temperature *float64
	MaxTokens   int
}

// Response is the first choice of a completion plus token accounting.
type Response struct {
	Content          string
	FinishReason     string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// completionAPI is the subset of the SDK the client uses. Tests substitute a
// scripted implementation.
type completionAPI interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client issues chat completions through the outbound queue for the llm
// service. All pacing, retry, and circuit breaking happens there; the SDK's
// own retries are disabled so the queue is the single authority.
type Client struct {
	api         completionAPI
	outbound    *outbound.Client
	model       string
	temperature *float64
	maxTokens   int
	logger      *slog.Logger
}

// NewClient builds a client from the resolved LLM configuration.
func NewClient(cfg *config.LLMConfig, ob *outbound.Client) *Client {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	if cfg.APIKey != "" {
		if cfg.AuthHeader == "" || cfg.AuthHeader == "Authorization" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		} else {
			// Gateways with a custom auth header take the key verbatim,
			// without the Bearer prefix.
			opts = append(opts, option.WithHeader(cfg.AuthHeader, cfg.APIKey))
		}
	}
	if cfg.Referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.Title != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.Title))
	}

	api := openai.NewClient(opts...)
	return &Client{
		api:         &api.Chat.Completions,
		outbound:    ob,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      slog.With("component", "llm_client"),
	}
}

// Complete sends one chat completion and returns the first choice. The call
// waits its turn in the llm queue; queue and retry errors surface unchanged.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toParamMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	} else if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	var completion *openai.ChatCompletion
	err := c.outbound.Do(ctx, outbound.Request{
		Service: config.ServiceLLM,
		Label:   req.Label,
		Fn: func(ctx context.Context) error {
			resp, err := c.api.New(ctx, params)
			if err != nil {
				return wrapAPIError(err)
			}
			completion = resp
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	choice := completion.Choices[0]
	c.logger.Debug("Completion finished",
		"label", req.Label,
		"finish_reason", choice.FinishReason,
		"total_tokens", completion.Usage.TotalTokens)
	return &Response{
		Content:          choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		TotalTokens:      completion.Usage.TotalTokens,
	}, nil
}

func toParamMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// wrapAPIError converts SDK errors into RequestErrors so the outbound retry
// loop sees the HTTP status and the Retry-After header.
func wrapAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return outbound.NewRequestError(config.ServiceLLM, apiErr.StatusCode, header, err)
	}
	return err
}
