package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/models"
	"github.com/kalambet/tutord/internal/provider"
	"github.com/kalambet/tutord/internal/routing"
	"github.com/kalambet/tutord/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Router  *routing.Router
	Manager *models.Manager
	Store   *storage.Store
}

// NewMCPServer creates an MCP server exposing the tutor's router and
// model lifecycle as tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tutord",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tutord — on-device tutoring daemon: routed LLM chat, routing previews, and local model management."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("tutor_chat",
			mcp.WithDescription("Send a tutoring message through the provider router and return the full response."),
			mcp.WithString("message", mcp.Description("The learner's message"), mcp.Required()),
			mcp.WithString("system", mcp.Description("Optional system prompt")),
		),
		mcpTutorChat(deps),
	)

	s.AddTool(
		mcp.NewTool("preview_route",
			mcp.WithDescription("Explain how a message would route (category, device tier, network, candidates) without calling any provider."),
			mcp.WithString("message", mcp.Description("The message to classify"), mcp.Required()),
		),
		mcpPreviewRoute(deps),
	)

	s.AddTool(
		mcp.NewTool("download_model",
			mcp.WithDescription("Queue an on-device model download. Progress is reported by model_status."),
			mcp.WithString("model", mcp.Description("Catalog model name"), mcp.Required()),
		),
		mcpDownloadModel(deps),
	)

	s.AddTool(
		mcp.NewTool("model_status",
			mcp.WithDescription("Report a catalog model's spec and download state."),
			mcp.WithString("model", mcp.Description("Catalog model name"), mcp.Required()),
		),
		mcpModelStatus(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"models://catalog",
			"Model Catalog",
			mcp.WithResourceDescription("Catalog models with their download state"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"routing://recent",
			"Recent Routing Decisions",
			mcp.WithResourceDescription("Last 10 routing decisions with provider, timing, and status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpTutorChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		msgs := []chat.Message{chat.User(message)}
		if system := req.GetString("system", ""); system != "" {
			msgs = append([]chat.Message{chat.System(system)}, msgs...)
		}

		st, err := deps.Router.Send(ctx, provider.Request{Messages: msgs})
		if err != nil {
			return mcpError(fmt.Sprintf("routing failed: %v", err)), nil
		}
		text, err := provider.Collect(st)
		if err != nil {
			return mcpError(fmt.Sprintf("stream failed: %v", err)), nil
		}
		return mcpText(text), nil
	}
}

func mcpPreviewRoute(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		d := deps.Router.Preview([]chat.Message{chat.User(message)})
		candidates := d.Candidates
		if candidates == nil {
			candidates = []string{}
		}
		b, err := json.Marshal(RouteView{
			Category:       d.Category.String(),
			DeviceTier:     d.Tier.String(),
			Network:        d.Network.String(),
			CostPreference: d.Preference.String(),
			Candidates:     candidates,
			Provider:       d.Provider,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal preview: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDownloadModel(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("model")
		if err != nil {
			return mcpError("model is required"), nil
		}
		if _, ok := deps.Manager.Catalog().Get(name); !ok {
			return mcpError(fmt.Sprintf("unknown model %q", name)), nil
		}
		if deps.Manager.Downloaded(name) {
			return mcpText(fmt.Sprintf("model %s is already downloaded", name)), nil
		}

		job := models.NewDownloadJob(name)
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("failed to queue download: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("queued download job %s for %s", job.ID, name)), nil
	}
}

func mcpModelStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("model")
		if err != nil {
			return mcpError("model is required"), nil
		}
		spec, ok := deps.Manager.Catalog().Get(name)
		if !ok {
			return mcpError(fmt.Sprintf("unknown model %q", name)), nil
		}

		b, err := json.Marshal(models.ModelStatus{
			Spec:       spec,
			State:      deps.Manager.State(name),
			Downloaded: deps.Manager.Downloaded(name),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceCatalog(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Manager.List())
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		decisions, err := deps.Store.RecentDecisions(10)
		if err != nil {
			return nil, fmt.Errorf("loading recent decisions: %w", err)
		}
		return jsonResource(req.Params.URI, decisionRows(decisions))
	}
}

// jsonResource wraps v as a single JSON resource at uri.
func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling resource %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(b)},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	r := mcpText(msg)
	r.IsError = true
	return r
}
