package main

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes read-only introspection tools over the Model Context
// Protocol so external agents can query reflector state without an
// admin credential.
type MCPServer struct {
	reflector *Reflector

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// NewMCPServer builds an MCP server backed by r.
func NewMCPServer(r *Reflector) *MCPServer {
	m := &MCPServer{reflector: r}

	m.mcpServer = server.NewMCPServer(
		"svxreflector",
		reflectorVersion,
		server.WithToolCapabilities(true),
	)
	m.registerTools()
	m.httpServer = server.NewStreamableHTTPServer(m.mcpServer)

	return m
}

func (m *MCPServer) registerTools() {
	m.mcpServer.AddTool(
		mcp.NewTool("list_nodes",
			mcp.WithDescription("List currently connected nodes with their protocol version, current talkgroup, and receiver telemetry."),
		),
		m.handleListNodes,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("list_talkgroups",
			mcp.WithDescription("List talkgroups with active members, reporting the current talker if any."),
		),
		m.handleListTalkgroups,
	)
}

func (m *MCPServer) handleListNodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := m.reflector.RequestStatusSnapshot()
	data, err := json.MarshalIndent(doc.Nodes, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to render node list: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// TalkgroupSummary is one talkgroup's entry in the list_talkgroups tool
// result.
type TalkgroupSummary struct {
	TG          uint32   `json:"tg"`
	Members     []string `json:"members"`
	Talker      string   `json:"talker,omitempty"`
	Restricted  bool     `json:"restricted"`
}

func (m *MCPServer) handleListTalkgroups(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries := m.reflector.RequestTalkgroupSummary()
	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to render talkgroup list: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Handler returns the HTTP handler serving the MCP endpoint.
func (m *MCPServer) Handler() *server.StreamableHTTPServer {
	return m.httpServer
}
