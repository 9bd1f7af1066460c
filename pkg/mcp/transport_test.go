package mcp

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/config"
)

func TestCreateTransport_Stdio(t *testing.T) {
	cfg := config.TransportConfig{
		Type:    config.TransportStdio,
		Command: "npx",
		Args:    []string{"-y", "kubernetes-mcp-server@0.0.54"},
		Env:     map[string]string{"KUBECONFIG": "/home/test/.kube/config"},
	}
	stderr := newStderrWriter(slog.Default())

	transport, err := createTransport(context.Background(), cfg, stderr)
	require.NoError(t, err)

	cmdTransport, ok := transport.(*mcpsdk.CommandTransport)
	require.True(t, ok)
	// exec.Command resolves the full path, so check for the basename
	assert.Contains(t, cmdTransport.Command.Path, "npx")
	assert.Contains(t, cmdTransport.Command.Args, "-y")
	assert.Contains(t, cmdTransport.Command.Args, "kubernetes-mcp-server@0.0.54")

	// Stderr goes to the per-server log writer.
	assert.Same(t, stderr, cmdTransport.Command.Stderr)

	// Check env override is present
	found := false
	for _, e := range cmdTransport.Command.Env {
		if e == "KUBECONFIG=/home/test/.kube/config" {
			found = true
			break
		}
	}
	assert.True(t, found, "expected KUBECONFIG env override in command environment")
}

func TestCreateTransport_Stdio_MissingCommand(t *testing.T) {
	cfg := config.TransportConfig{
		Type: config.TransportStdio,
	}

	_, err := createTransport(context.Background(), cfg, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "requires command")
}

func TestCreateTransport_HTTP(t *testing.T) {
	cfg := config.TransportConfig{
		Type: config.TransportHTTP,
		URL:  "https://mcp.example.com/v1",
	}

	transport, err := createTransport(context.Background(), cfg, nil)
	require.NoError(t, err)

	httpTransport, ok := transport.(*mcpsdk.StreamableClientTransport)
	require.True(t, ok)
	assert.Equal(t, "https://mcp.example.com/v1", httpTransport.Endpoint)
	assert.Nil(t, httpTransport.HTTPClient) // No custom client needed
}

func TestCreateTransport_HTTP_WithAuth(t *testing.T) {
	cfg := config.TransportConfig{
		Type:        config.TransportHTTP,
		URL:         "https://mcp.example.com/v1",
		BearerToken: "my-token",
		Timeout:     30,
	}

	transport, err := createTransport(context.Background(), cfg, nil)
	require.NoError(t, err)

	httpTransport, ok := transport.(*mcpsdk.StreamableClientTransport)
	require.True(t, ok)
	assert.NotNil(t, httpTransport.HTTPClient)
}

func TestCreateTransport_HTTP_MissingURL(t *testing.T) {
	cfg := config.TransportConfig{
		Type: config.TransportHTTP,
	}

	_, err := createTransport(context.Background(), cfg, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "requires url")
}

func TestCreateTransport_UnknownType(t *testing.T) {
	cfg := config.TransportConfig{
		Type: "grpc",
	}

	_, err := createTransport(context.Background(), cfg, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport type")
}

func TestBearerTokenTransport(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := buildHTTPClient(config.TransportConfig{BearerToken: "seekrit", Timeout: 5})
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer seekrit", got)
	assert.Equal(t, 5*time.Second, client.Timeout)
}

func TestStderrWriter_LineBuffering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := newStderrWriter(logger)

	_, err := w.Write([]byte("starting se"))
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "partial lines stay buffered")

	_, err = w.Write([]byte("rver\nready\npar"))
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "starting server")
	assert.Contains(t, out, "ready")
	assert.NotContains(t, out, "par")

	// Leftovers surface when the process exits.
	w.flush()
	assert.Contains(t, buf.String(), "par")
}

func TestStderrWriter_TrimsLineEndings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := newStderrWriter(logger)

	_, err := w.Write([]byte("crlf line\r\n\n\n"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "crlf line")
	assert.NotContains(t, out, `\r`)
	// Blank lines produce no records.
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("server stderr")))
}
