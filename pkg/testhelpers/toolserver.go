// Package testhelpers provides utilities for testing sqlai-console components.
package testhelpers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// StructuredHandler answers one tool call with a structured payload.
// A non-nil error is reported to the caller as a tool-level failure (isError).
type StructuredHandler func(args map[string]any) (map[string]any, error)

// ToolServer is an in-process MCP tool service served over streamable HTTP.
// It is closed automatically when the test ends.
type ToolServer struct {
	mcp  *server.MCPServer
	http *httptest.Server

	mu           sync.Mutex
	calls        map[string][]map[string]any
	failRequests int
}

// NewToolServer starts an empty tool service for the duration of the test.
func NewToolServer(t *testing.T) *ToolServer {
	t.Helper()

	s := &ToolServer{
		mcp: server.NewMCPServer(
			"sqlai-test-tools",
			"0.0.0",
			server.WithToolCapabilities(true),
		),
		calls: make(map[string][]map[string]any),
	}

	streamable := server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
	s.http = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.consumeFailure() {
			http.Error(w, "tool service unavailable", http.StatusServiceUnavailable)
			return
		}
		streamable.ServeHTTP(w, r)
	}))
	t.Cleanup(s.http.Close)

	return s
}

// URL is the endpoint a client should dial.
func (s *ToolServer) URL() string {
	return s.http.URL
}

// RegisterTool registers a raw mcp-go tool handler.
func (s *ToolServer) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}

// HandleStructured registers a tool named name whose results carry both a
// structured envelope and its JSON text rendering.
func (s *ToolServer) HandleStructured(name string, fn StructuredHandler) {
	s.RegisterTool(mcp.NewTool(name), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		s.record(name, args)

		payload, err := fn(args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{
			Content:           []mcp.Content{mcp.NewTextContent(string(text))},
			StructuredContent: payload,
		}, nil
	})
}

// HandleText registers a tool that answers with plain text and no envelope.
func (s *ToolServer) HandleText(name, text string) {
	s.RegisterTool(mcp.NewTool(name), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.record(name, req.GetArguments())
		return mcp.NewToolResultText(text), nil
	})
}

// FailRequests makes the next n HTTP requests fail with 503 before they
// reach the MCP server.
func (s *ToolServer) FailRequests(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRequests = n
}

// Calls returns the arguments of every call made to the named tool.
func (s *ToolServer) Calls(name string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.calls[name]))
	copy(out, s.calls[name])
	return out
}

func (s *ToolServer) record(name string, args map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name] = append(s.calls[name], args)
}

func (s *ToolServer) consumeFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRequests <= 0 {
		return false
	}
	s.failRequests--
	return true
}
