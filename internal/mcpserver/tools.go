package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the GiftGuard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolRunFraudAnalysis = mcp.NewTool("run_fraud_analysis",
	mcp.WithDescription(
		"Run fraud and risk analysis over the gift-streaming transaction ledger. "+
			"Returns risk tier counts, the overall fraud score, suspicious patterns, "+
			"and the five riskiest transactions with their flags. "+
			"Requires an analysis session token; create one with create_analysis_session."),
	mcp.WithString("token",
		mcp.Required(),
		mcp.Description("Analysis session token (a UUID)")),
)

var ToolCreateAnalysisSession = mcp.NewTool("create_analysis_session",
	mcp.WithDescription(
		"Create a short-lived analysis session and return its token. "+
			"Needs the server's admin secret to be configured for this MCP server."),
	mcp.WithString("owner",
		mcp.Required(),
		mcp.Description("Who the session is for, e.g. a reviewer id or team name")),
)
