// Package e2e drives the full orchestrator stack end to end: real engine,
// queue, validation pipeline, outbound pacing, and in-memory MCP servers,
// with only the chat-completions endpoint replaced by a scripted double.
package e2e

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/history"
	"github.com/maestro-agent/maestro/pkg/llm"
	"github.com/maestro-agent/maestro/pkg/masking"
	"github.com/maestro-agent/maestro/pkg/mcp"
	"github.com/maestro-agent/maestro/pkg/models"
	"github.com/maestro-agent/maestro/pkg/outbound"
	"github.com/maestro-agent/maestro/pkg/queue"
	"github.com/maestro-agent/maestro/pkg/session"
	"github.com/maestro-agent/maestro/pkg/validation"
	"github.com/maestro-agent/maestro/pkg/workflow"
)

// turnDeadline bounds how long one turn may take to stream its done frame.
const turnDeadline = 15 * time.Second

// TestApp is the assembled stack under test.
type TestApp struct {
	LLM      *ScriptedLLM
	Outbound *outbound.Client
	MCP      *mcp.Manager
	Ring     *history.Ring
	Sessions *session.Manager
	Fanout   *events.Fanout
	Engine   *workflow.Engine
	Pool     *queue.Pool
}

type serverSpec struct {
	id    string
	tools map[string]mcpsdk.ToolHandler
}

type testAppConfig struct {
	workflow   *config.WorkflowConfig
	service    *config.ServiceConfig
	validation *config.ValidationConfig
	queue      *config.QueueConfig
	servers    []serverSpec
}

// TestAppOption customizes the assembled stack.
type TestAppOption func(*testAppConfig)

// WithMCPServer adds an in-memory MCP server advertising the given
// wire-named tools.
func WithMCPServer(id string, tools map[string]mcpsdk.ToolHandler) TestAppOption {
	return func(cfg *testAppConfig) {
		cfg.servers = append(cfg.servers, serverSpec{id: id, tools: tools})
	}
}

// WithLLMService replaces the outbound llm service limits.
func WithLLMService(svc *config.ServiceConfig) TestAppOption {
	return func(cfg *testAppConfig) { cfg.service = svc }
}

// WithWorkflowConfig replaces the workflow tunables.
func WithWorkflowConfig(wf *config.WorkflowConfig) TestAppOption {
	return func(cfg *testAppConfig) { cfg.workflow = wf }
}

// WithValidationConfig replaces the validation tunables.
func WithValidationConfig(v *config.ValidationConfig) TestAppOption {
	return func(cfg *testAppConfig) { cfg.validation = v }
}

// fastWorkflowConfig is the default workflow config for tests: no item
// pacing, tight timeouts.
func fastWorkflowConfig() *config.WorkflowConfig {
	cfg := config.DefaultWorkflowConfig()
	cfg.HandlerTimeout = 10 * time.Second
	cfg.TransitionTimeout = 10 * time.Second
	cfg.ItemPacing = 0
	cfg.SessionIdleTimeout = 5 * time.Minute
	cfg.SweepInterval = time.Minute
	return cfg
}

// fastLLMService is the default llm service config for tests: millisecond
// pacing, no retries, breaker effectively off. Tests exercising retry or
// breaker behavior bring their own.
func fastLLMService() *config.ServiceConfig {
	cfg := config.DefaultServiceConfig()
	cfg.MaxConcurrent = 1
	cfg.MinInterval = time.Millisecond
	cfg.BurstLimit = 100
	cfg.QueueTimeout = 10 * time.Second
	cfg.MaxRetries = 0
	cfg.RetryBase = time.Millisecond
	cfg.RetryMax = 10 * time.Millisecond
	cfg.RetryJitter = 0
	cfg.RetryAfterLo = time.Millisecond
	cfg.RetryAfterHi = time.Second
	cfg.RequestTimeout = 10 * time.Second
	cfg.Breaker.FailureThreshold = 100
	return cfg
}

func fastQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             2,
		Depth:                   16,
		TurnTimeout:             30 * time.Second,
		PollInterval:            10 * time.Millisecond,
		PollIntervalJitter:      5 * time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
	}
}

// NewTestApp assembles the stack the way the composition root does, with
// test-speed tunables. Everything is torn down with the test, in reverse
// creation order.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := &testAppConfig{
		workflow:   fastWorkflowConfig(),
		service:    fastLLMService(),
		validation: config.DefaultValidationConfig(),
		queue:      fastQueueConfig(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	app := &TestApp{}

	// 1. The scripted chat-completions endpoint and the events fanout.
	app.LLM = NewScriptedLLM(t)
	app.Fanout = events.NewFanout(256)
	t.Cleanup(app.Fanout.Close)

	// 2. Tool history, masking, and the MCP fleet with in-memory servers.
	app.Ring = history.NewRing(cfg.validation.HistoryMaxSize)
	registry := config.NewMCPServerRegistry(nil)
	maskingService := masking.NewMaskingService(registry)
	app.MCP = mcp.NewManager(registry, mcp.Options{
		CatalogTTL:    cfg.validation.MCPCacheTTL,
		ReconnectBase: time.Millisecond,
	})
	t.Cleanup(func() { _ = app.MCP.Stop() })
	for _, spec := range cfg.servers {
		injectMemoryMCP(t, app.MCP, spec.id, StartMemoryMCP(t, spec.id, spec.tools))
	}
	factory := mcp.NewExecutorFactory(app.MCP, maskingService, app.Ring)

	// 3. Outbound queue and the LLM personas against the scripted endpoint.
	app.Outbound = outbound.NewClient(config.NewServiceRegistry(map[string]*config.ServiceConfig{
		config.ServiceLLM: cfg.service,
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = app.Outbound.Stop(ctx)
	})
	llmClient := llm.NewClient(&config.LLMConfig{
		Endpoint: app.LLM.URL(),
		Model:    "scripted-model",
		APIKey:   "test-key",
	}, app.Outbound)
	prompts := llm.DefaultCatalog()
	planner := llm.NewPlanner(llmClient, prompts)
	verifier := llm.NewVerifier(llmClient, prompts)
	summarizer := llm.NewSummarizer(llmClient, prompts)

	// 4. Validation pipeline over the live fleet catalog, plus inspectors.
	pipeline := validation.NewPipeline(cfg.validation, app.Ring, fleetCatalog{app.MCP}, verifier)
	inspector := history.NewInspectionManager(app.Ring,
		history.DefaultConsecutiveThreshold, cfg.validation.MaxTotalCalls)

	// 5. Sessions and their sweeper.
	app.Sessions = session.NewManager(cfg.workflow)
	app.Sessions.Start(context.Background())
	t.Cleanup(app.Sessions.Stop)

	// 6. The workflow engine.
	app.Engine = workflow.New(cfg.workflow, workflow.Deps{
		Sessions:   app.Sessions,
		Planner:    planner,
		Verifier:   verifier,
		Summarizer: summarizer,
		Validator:  pipeline,
		Inspector:  inspector,
		History:    app.Ring,
		Runners: func(sessionID string, servers []string) workflow.ToolRunner {
			return factory.ForSession(sessionID, servers)
		},
		Servers:   app.MCP,
		Publisher: app.Fanout,
	})

	// 7. The worker pool.
	runCtx, cancelTurns := context.WithCancel(context.Background())
	app.Pool = queue.NewPool(cfg.queue, app.Engine)
	app.Pool.Start(runCtx)
	t.Cleanup(func() {
		app.Pool.Stop()
		cancelTurns()
	})

	return app
}

// fleetCatalog exposes the whole ready fleet to the validation pipeline,
// mirroring the composition root's adapter.
type fleetCatalog struct {
	manager *mcp.Manager
}

var _ validation.Catalog = fleetCatalog{}

func (c fleetCatalog) Servers() []string {
	return c.manager.ReadyServers()
}

func (c fleetCatalog) ListTools(ctx context.Context) ([]models.ToolDefinition, error) {
	var all []models.ToolDefinition
	var lastErr error
	for _, server := range c.manager.ReadyServers() {
		defs, err := c.manager.Tools(ctx, server)
		if err != nil {
			lastErr = err
			continue
		}
		all = append(all, defs...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return all, nil
}

// StartTurn subscribes to the session's frames and enqueues the message.
// Subscribe happens first so no frame of the turn is missed.
func (app *TestApp) StartTurn(t *testing.T, sessionID, message string) (<-chan events.Event, func()) {
	t.Helper()

	frames, cancel := app.Fanout.Subscribe(sessionID)
	_, err := app.Pool.Enqueue(models.Request{SessionID: sessionID, Message: message})
	require.NoError(t, err)
	return frames, cancel
}

// RunTurn runs one request to completion and returns every frame of the
// turn, the done frame last.
func (app *TestApp) RunTurn(t *testing.T, sessionID, message string) []events.Event {
	t.Helper()

	frames, cancel := app.StartTurn(t, sessionID, message)
	defer cancel()
	return collectUntil(t, frames, func(ev events.Event) bool {
		return ev.Type == events.FrameDone
	})
}

// Session returns the stored session, failing the test when it is unknown.
func (app *TestApp) Session(t *testing.T, id string) *models.Session {
	t.Helper()
	sess, ok := app.Sessions.Get(id)
	require.True(t, ok, "session %s not found", id)
	return sess
}

// collectUntil drains frames until stop matches one; the matching frame is
// included in the returned slice.
func collectUntil(t *testing.T, frames <-chan events.Event, stop func(events.Event) bool) []events.Event {
	t.Helper()

	deadline := time.NewTimer(turnDeadline)
	defer deadline.Stop()

	var out []events.Event
	for {
		select {
		case ev, ok := <-frames:
			if !ok {
				t.Fatalf("frame stream closed early, got so far:\n%s", formatFrames(out))
			}
			out = append(out, ev)
			if stop(ev) {
				return out
			}
		case <-deadline.C:
			t.Fatalf("turn did not finish within %s, got so far:\n%s", turnDeadline, formatFrames(out))
		}
	}
}
