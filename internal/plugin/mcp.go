package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPPlugin runs one tool on a remote MCP server and exposes its output as
// a plugin result. The connection is established lazily on first execution
// and reused afterwards.
type MCPPlugin struct {
	meta     Metadata
	toolName string
	endpoint string

	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

var _ Plugin = (*MCPPlugin)(nil)

// NewMCPPlugin creates a plugin that calls toolName on the MCP server at
// endpoint (streamable HTTP transport).
func NewMCPPlugin(meta Metadata, endpoint, toolName string) *MCPPlugin {
	return &MCPPlugin{
		meta:     meta,
		toolName: toolName,
		endpoint: endpoint,
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "mnemovox", Version: "1.0.0"},
			nil,
		),
	}
}

// Metadata implements [Plugin].
func (p *MCPPlugin) Metadata() Metadata { return p.meta }

// Execute implements [Plugin]. The tool receives the query and the turn
// identifiers as arguments.
func (p *MCPPlugin) Execute(ctx context.Context, pctx Context) (Result, error) {
	session, err := p.connect(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("plugin: %s: connect: %w", p.meta.Name, err)
	}

	callResult, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name: p.toolName,
		Arguments: map[string]any{
			"query":      pctx.Query,
			"user_id":    pctx.UserID,
			"session_id": pctx.SessionID,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("plugin: %s: call %s: %w", p.meta.Name, p.toolName, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if callResult.IsError {
		return Result{}, fmt.Errorf("plugin: %s: tool %s: %s", p.meta.Name, p.toolName, sb.String())
	}

	return Result{Data: map[string]any{"output": sb.String()}}, nil
}

// Close shuts the server connection down.
func (p *MCPPlugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

func (p *MCPPlugin) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session, nil
	}
	session, err := p.client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: p.endpoint}, nil)
	if err != nil {
		return nil, err
	}
	p.session = session
	return session, nil
}
