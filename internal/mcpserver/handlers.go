package mcpserver

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/giftguard/internal/fraud"
)

// topRiskyCount is how many transactions the report lists.
const topRiskyCount = 5

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleRunFraudAnalysis runs an analysis and renders a text report.
func (h *Handlers) HandleRunFraudAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token := strings.TrimSpace(req.GetString("token", ""))
	if token == "" {
		return mcp.NewToolResultError("token is required"), nil
	}

	data, err := h.client.RunAnalysis(ctx, token)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Fraud analysis failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatReport(data)), nil
}

// HandleCreateAnalysisSession issues a session token.
func (h *Handlers) HandleCreateAnalysisSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := strings.TrimSpace(req.GetString("owner", ""))
	if owner == "" {
		return mcp.NewToolResultError("owner is required"), nil
	}
	if h.client.cfg.AdminSecret == "" {
		return mcp.NewToolResultError("GIFTGUARD_ADMIN_SECRET is not configured for this MCP server"), nil
	}

	grant, err := h.client.CreateSession(ctx, owner)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create session: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Analysis session created.\n")
	fmt.Fprintf(&sb, "  Session: %s\n", grant.SessionID)
	fmt.Fprintf(&sb, "  Token:   %s\n", grant.Token)
	fmt.Fprintf(&sb, "  Expires: %s\n", time.UnixMilli(grant.Expires).UTC().Format(time.RFC3339))
	sb.WriteString("\nPass the token to run_fraud_analysis.")
	return mcp.NewToolResultText(sb.String()), nil
}

func formatReport(data *fraud.AnalysisData) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Fraud analysis of %d transaction(s)\n\n", data.TotalTransactions)
	sb.WriteString("Risk tiers:\n")
	fmt.Fprintf(&sb, "  HIGH:    %d\n", data.HighRiskCount)
	fmt.Fprintf(&sb, "  MEDIUM:  %d\n", data.MediumRiskCount)
	fmt.Fprintf(&sb, "  LOW:     %d\n", data.LowRiskCount)
	fmt.Fprintf(&sb, "  MINIMAL: %d\n", data.MinimalRiskCount)

	if res := data.FraudDetectionResult; res != nil {
		o := res.Overall
		fmt.Fprintf(&sb, "\nOverall: %.0f/100 (%s)\n", o.FraudScore, o.RiskLevel)
		for _, r := range o.Reasons {
			fmt.Fprintf(&sb, "  - %s\n", r.Text)
		}
	}

	if len(data.SuspiciousPatterns) == 0 {
		sb.WriteString("\nNo suspicious patterns detected.\n")
	} else {
		sb.WriteString("\nSuspicious patterns:\n")
		for _, p := range data.SuspiciousPatterns {
			fmt.Fprintf(&sb, "  - %s\n", p)
		}
	}

	risky := topRisky(data.Transactions, topRiskyCount)
	if len(risky) > 0 {
		sb.WriteString("\nRiskiest transactions:\n")
		for i, tx := range risky {
			fmt.Fprintf(&sb, "%d. %s  %s -> %s  %.2f  score %.0f (%s)\n",
				i+1, tx.ID, orDash(tx.From), orDash(tx.To), tx.Amount, tx.RiskScore, tx.RiskLevel)
			if len(tx.FraudFlags) > 0 {
				fmt.Fprintf(&sb, "   flags: %s\n", strings.Join(tx.FraudFlags, ", "))
			}
		}
	}

	return sb.String()
}

// topRisky returns up to n transactions by descending score, ties kept in
// input order.
func topRisky(txs []*fraud.Transaction, n int) []*fraud.Transaction {
	sorted := slices.Clone(txs)
	slices.SortStableFunc(sorted, func(a, b *fraud.Transaction) int {
		return cmp.Compare(b.RiskScore, a.RiskScore)
	})
	return sorted[:min(n, len(sorted))]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
