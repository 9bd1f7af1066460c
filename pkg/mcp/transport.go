package mcp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maestro-agent/maestro/pkg/config"
)

// createTransport creates an MCP SDK transport from config. The context
// bounds the lifetime of spawned child processes, not the connection attempt;
// pass the manager's lifecycle context so Stop reaps children.
func createTransport(ctx context.Context, cfg config.TransportConfig, stderr *stderrWriter) (mcpsdk.Transport, error) {
	switch cfg.Type {
	case config.TransportStdio:
		return createStdioTransport(ctx, cfg, stderr)
	case config.TransportHTTP:
		return createHTTPTransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}

func createStdioTransport(ctx context.Context, cfg config.TransportConfig, stderr *stderrWriter) (*mcpsdk.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)

	// Inherit parent environment + config overrides.
	// Template vars (e.g., {{.HOME}}) are already resolved by the config loader.
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	// The SDK owns stdin/stdout for JSON-RPC framing; stderr is ours and
	// lands in the per-server log.
	if stderr != nil {
		cmd.Stderr = stderr
	}

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func createHTTPTransport(cfg config.TransportConfig) (*mcpsdk.StreamableClientTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("HTTP transport requires url")
	}
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint: cfg.URL,
	}
	if cfg.BearerToken != "" || cfg.Timeout > 0 {
		transport.HTTPClient = buildHTTPClient(cfg)
	}
	return transport, nil
}

// buildHTTPClient creates an http.Client with auth and timeout settings.
func buildHTTPClient(cfg config.TransportConfig) *http.Client {
	client := &http.Client{
		Transport: http.DefaultTransport,
	}

	// Bearer token via round-tripper wrapper
	if cfg.BearerToken != "" {
		client.Transport = &bearerTokenTransport{
			base:  client.Transport,
			token: cfg.BearerToken,
		}
	}

	// Timeout
	if cfg.Timeout > 0 {
		client.Timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return client
}

// bearerTokenTransport wraps an http.RoundTripper to add Authorization headers.
type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

// stderrWriter forwards a child process's stderr to the server's logger, one
// line per record at debug level. Partial lines are buffered until the
// newline arrives; whatever is left is flushed when the process exits.
type stderrWriter struct {
	logger *slog.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

func newStderrWriter(logger *slog.Logger) *stderrWriter {
	return &stderrWriter{logger: logger}
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: put it back and wait for more.
			w.buf.WriteString(line)
			break
		}
		if trimmed := bytes.TrimRight([]byte(line), "\r\n"); len(trimmed) > 0 {
			w.logger.Debug("server stderr", "line", string(trimmed))
		}
	}
	return len(p), nil
}

// flush logs any buffered partial line.
func (w *stderrWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.logger.Debug("server stderr", "line", w.buf.String())
		w.buf.Reset()
	}
}
