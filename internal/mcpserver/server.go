package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with the analysis tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("giftguard", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolRunFraudAnalysis, h.HandleRunFraudAnalysis)
	s.AddTool(ToolCreateAnalysisSession, h.HandleCreateAnalysisSession)

	return s
}
