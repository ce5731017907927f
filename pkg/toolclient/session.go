package toolclient

import (
	"context"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Session is one live conversation with the tool service.
// The client opens a new Session per attempt and closes it afterwards.
type Session interface {
	ListTools(ctx context.Context) ([]string, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer opens a Session.
type Dialer func(ctx context.Context) (Session, error)

// HTTPDialer dials the MCP streamable HTTP endpoint at serviceURL and
// performs the initialize handshake.
func HTTPDialer(serviceURL string, info mcp.Implementation) Dialer {
	return func(ctx context.Context) (Session, error) {
		c, err := client.NewStreamableHttpClient(serviceURL)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}

		req := mcp.InitializeRequest{}
		req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		req.Params.ClientInfo = info
		if _, err := c.Initialize(ctx, req); err != nil {
			_ = c.Close()
			return nil, err
		}

		return &mcpSession{client: c}, nil
	}
}

type mcpSession struct {
	client *client.Client
}

func (s *mcpSession) ListTools(ctx context.Context) ([]string, error) {
	var names []string
	req := mcp.ListToolsRequest{}
	for {
		res, err := s.client.ListTools(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, tool := range res.Tools {
			names = append(names, tool.Name)
		}
		if res.NextCursor == "" {
			return names, nil
		}
		req.Params.Cursor = res.NextCursor
	}
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return s.client.CallTool(ctx, req)
}

func (s *mcpSession) Close() error {
	return s.client.Close()
}
