package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/outbound"
)

// fakeReply is one scripted completion: either content or an error.
type fakeReply struct {
	content string
	err     error
}

// fakeAPI replays scripted replies and records every request it sees.
type fakeAPI struct {
	mu      sync.Mutex
	replies []fakeReply
	calls   []openai.ChatCompletionNewParams
}

func (f *fakeAPI) New(_ context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if len(f.replies) == 0 {
		return nil, errors.New("fake llm: no scripted reply left")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	if reply.err != nil {
		return nil, reply.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "stop",
			Message:      openai.ChatCompletionMessage{Content: reply.content},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) lastCall(t *testing.T) openai.ChatCompletionNewParams {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

// fastLLMService returns a service config with sub-millisecond pacing so
// tests run quickly. Retries are off unless a test opts in.
func fastLLMService() *config.ServiceConfig {
	cfg := config.DefaultServiceConfig()
	cfg.MaxConcurrent = 1
	cfg.MinInterval = time.Millisecond
	cfg.QueueTimeout = 5 * time.Second
	cfg.MaxRetries = 0
	cfg.RetryBase = time.Millisecond
	cfg.RetryMax = 10 * time.Millisecond
	cfg.RetryJitter = 0
	cfg.RetryAfterLo = time.Millisecond
	cfg.RetryAfterHi = time.Second
	cfg.RequestTimeout = 5 * time.Second
	cfg.Breaker.FailureThreshold = 100
	return cfg
}

func newTestLLMClient(t *testing.T, api completionAPI, svc *config.ServiceConfig) *Client {
	t.Helper()
	if svc == nil {
		svc = fastLLMService()
	}
	registry := config.NewServiceRegistry(map[string]*config.ServiceConfig{
		config.ServiceLLM: svc,
	})
	ob := outbound.NewClient(registry)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ob.Stop(ctx)
	})
	return &Client{
		api:      api,
		outbound: ob,
		model:    "test-model",
		logger:   slog.Default(),
	}
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	api := &fakeAPI{replies: []fakeReply{{content: "hello"}}}
	client := newTestLLMClient(t, api, nil)

	resp, err := client.Complete(context.Background(), Request{
		Label: "test",
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, int64(15), resp.TotalTokens)

	params := api.lastCall(t)
	assert.Equal(t, openai.ChatModel("test-model"), params.Model)
	require.Len(t, params.Messages, 2)
	assert.NotNil(t, params.Messages[0].OfSystem)
	assert.NotNil(t, params.Messages[1].OfUser)
	assert.Nil(t, params.ResponseFormat.OfJSONObject)
}

func TestCompleteJSONMode(t *testing.T) {
	api := &fakeAPI{replies: []fakeReply{{content: "{}"}}}
	client := newTestLLMClient(t, api, nil)

	_, err := client.Complete(context.Background(), Request{
		Label:    "test",
		JSONMode: true,
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.NotNil(t, api.lastCall(t).ResponseFormat.OfJSONObject)
}

func TestCompleteTemperaturePrecedence(t *testing.T) {
	base := 0.3
	override := 0.9

	api := &fakeAPI{replies: []fakeReply{{content: "a"}, {content: "b"}}}
	client := newTestLLMClient(t, api, nil)
	client.temperature = &base
	client.maxTokens = 512

	_, err := client.Complete(context.Background(), Request{
		Label:    "client_defaults",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	params := api.lastCall(t)
	assert.Equal(t, 0.3, params.Temperature.Value)
	assert.Equal(t, int64(512), params.MaxTokens.Value)

	_, err = client.Complete(context.Background(), Request{
		Label:       "request_override",
		Temperature: &override,
		MaxTokens:   64,
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	params = api.lastCall(t)
	assert.Equal(t, 0.9, params.Temperature.Value)
	assert.Equal(t, int64(64), params.MaxTokens.Value)
}

func TestCompleteEmptyChoices(t *testing.T) {
	empty := completionAPIFunc(func(context.Context, openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		return &openai.ChatCompletion{}, nil
	})
	client := newTestLLMClient(t, empty, nil)

	_, err := client.Complete(context.Background(), Request{
		Label:    "test",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

// completionAPIFunc adapts a function to completionAPI.
type completionAPIFunc func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)

func (f completionAPIFunc) New(ctx context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	return f(ctx, params)
}

func TestCompleteWrapsAPIErrorStatus(t *testing.T) {
	apiErr := &openai.Error{StatusCode: http.StatusBadRequest}
	api := &fakeAPI{replies: []fakeReply{{err: apiErr}}}
	client := newTestLLMClient(t, api, nil)

	_, err := client.Complete(context.Background(), Request{
		Label:    "test",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var reqErr *outbound.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, config.ServiceLLM, reqErr.Service)
	assert.Equal(t, http.StatusBadRequest, reqErr.Status)
	// 400 is not retryable, so exactly one attempt reached the API.
	assert.Equal(t, 1, api.callCount())
}

func TestCompleteRetriesServerError(t *testing.T) {
	svc := fastLLMService()
	svc.MaxRetries = 2

	api := &fakeAPI{replies: []fakeReply{
		{err: &openai.Error{StatusCode: http.StatusInternalServerError}},
		{content: "recovered"},
	}}
	client := newTestLLMClient(t, api, svc)

	resp, err := client.Complete(context.Background(), Request{
		Label:    "test",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 2, api.callCount())
}

func TestWrapAPIErrorPassesThroughPlainErrors(t *testing.T) {
	plain := errors.New("connection refused")
	assert.Equal(t, plain, wrapAPIError(plain))

	apiErr := &openai.Error{StatusCode: http.StatusTooManyRequests}
	wrapped := wrapAPIError(apiErr)
	var reqErr *outbound.RequestError
	require.ErrorAs(t, wrapped, &reqErr)
	assert.Equal(t, http.StatusTooManyRequests, reqErr.Status)
	assert.ErrorIs(t, wrapped, apiErr)
}
