package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/agentflow/internal/agent"
	"github.com/kalambet/agentflow/internal/docconv"
	"github.com/kalambet/agentflow/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Invoker  *agent.Invoker
	Exporter *docconv.Exporter
	State    *session.State
	History  InteractionLister // optional; nil hides agentflow://recent
	// ExportDir receives files written by export_document.
	ExportDir string
}

// NewMCPServer creates an MCP server with the agentflow tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"agentflow",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("agentflow runs QA agents (user stories, acceptance criteria, test cases, test scripts, bug reports) one at a time or as a chain."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List the available agents with their ids and descriptions."),
		),
		mcpListAgents(deps),
	)

	s.AddTool(
		mcp.NewTool("invoke_agent",
			mcp.WithDescription("Send a message to one agent and return its markdown response."),
			mcp.WithString("agent_id", mcp.Description("Agent id, e.g. user-stories"), mcp.Required()),
			mcp.WithString("message", mcp.Description("Message text"), mcp.Required()),
		),
		mcpInvokeAgent(deps),
	)

	s.AddTool(
		mcp.NewTool("run_chain",
			mcp.WithDescription("Run two or more agents in order, feeding each response to the next agent as a text file."),
			mcp.WithArray("agents", mcp.Description("Ordered agent ids"), mcp.Required()),
			mcp.WithString("seed", mcp.Description("Text of the input document for the first agent"), mcp.Required()),
			mcp.WithString("seed_name", mcp.Description("File name for the seed document (default input.txt)")),
		),
		mcpRunChain(deps),
	)

	s.AddTool(
		mcp.NewTool("export_document",
			mcp.WithDescription("Export an agent response, or the last chain run, as an XLSX, DOCX or TXT file and return its path."),
			mcp.WithString("agent_id", mcp.Description("Agent whose output is exported")),
			mcp.WithString("content", mcp.Description("Markdown to export (default: the agent's last response)")),
			mcp.WithString("source", mcp.Description(`Set to "chain" to export the last chain run`)),
		),
		mcpExportDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"agentflow://chain",
			"Last Chain Run",
			mcp.WithResourceDescription("Markdown output of the most recent chain run"),
			mcp.WithMIMEType("text/markdown"),
		),
		mcpResourceChain(deps),
	)

	if deps.History != nil {
		s.AddResource(
			mcp.NewResource(
				"agentflow://recent",
				"Recent Interactions",
				mcp.WithResourceDescription("Last 10 agent calls (responses truncated)"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpListAgents(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Invoker.Registry().List(false))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal agents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpInvokeAgent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("agent_id")
		if err != nil {
			return mcpError("agent_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		res, err := deps.Invoker.Invoke(ctx, agent.Request{AgentID: id, Message: message, Team: deps.State.Team()})
		if err != nil {
			return mcpError(fmt.Sprintf("invoke failed: %v", err)), nil
		}
		if res.Simulated {
			return mcpText(res.Response + "\n\n> Simulated response: " + res.Cause), nil
		}
		return mcpText(res.Response), nil
	}
}

func mcpRunChain(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids := req.GetStringSlice("agents", nil)
		seed, err := req.RequireString("seed")
		if err != nil {
			return mcpError("seed is required"), nil
		}
		name := req.GetString("seed_name", "input.txt")

		run, err := deps.Invoker.RunChain(ctx, ids, &agent.File{Name: name, ContentType: "text/plain", Data: []byte(seed)}, deps.State.Team())
		if err != nil {
			return mcpError(fmt.Sprintf("chain failed: %v", err)), nil
		}
		return mcpText(run.Output), nil
	}
}

func mcpExportDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var a agent.Agent
		content := req.GetString("content", "")

		if req.GetString("source", "") == "chain" {
			results := deps.State.ChainResults()
			if len(results) == 0 {
				return mcpError("no chain run to export"), nil
			}
			a = agent.Agent{ID: "chain", Name: "Chain"}
			content = agent.FormatChain(results)
		} else {
			id := req.GetString("agent_id", "")
			if id == "" {
				return mcpError(`agent_id or source "chain" is required`), nil
			}
			var err error
			if a, err = deps.Invoker.Registry().Get(id); err != nil {
				return mcpError(err.Error()), nil
			}
			if content == "" {
				last, ok := deps.State.LastResponse(id)
				if !ok {
					return mcpError(fmt.Sprintf("no response recorded for agent %q", id)), nil
				}
				content = last.Response
			}
		}

		out := deps.Exporter.Export(a, content)
		if err := os.MkdirAll(deps.ExportDir, 0o755); err != nil {
			return mcpError(fmt.Sprintf("creating export directory: %v", err)), nil
		}
		path := filepath.Join(deps.ExportDir, out.FileName)
		if err := os.WriteFile(path, out.Data, 0o644); err != nil {
			return mcpError(fmt.Sprintf("writing export: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Wrote %s (%s, %s)", path, out.Format, out.Tier)), nil
	}
}

func mcpResourceChain(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/markdown",
				Text:     agent.FormatChain(deps.State.ChainResults()),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.History.ListInteractions(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			AgentID   string `json:"agent_id"`
			Mode      string `json:"mode"`
			Simulated bool   `json:"simulated"`
			Response  string `json:"response"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			resp := ix.Response
			if utf8.RuneCountInString(resp) > 200 {
				resp = string([]rune(resp)[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				AgentID:   ix.AgentID,
				Mode:      ix.Mode,
				Simulated: ix.Simulated,
				Response:  resp,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
