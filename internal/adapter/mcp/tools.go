package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/port/catalog"
)

// registerTools registers the four tools the command-surface contract
// allows: list_endpoints and search_models and get_stats (Query Service),
// resolve_and_chat (Dispatch Service).
func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("list_endpoints",
			mcplib.WithDescription("List discovered Ollama endpoints, optionally filtered by API type, capability, or active status"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("api_type", mcplib.Description(`Filter by API type, e.g. "ollama"`)),
			mcplib.WithString("capability", mcplib.Description(`Filter by required capability, e.g. "chat"`)),
			mcplib.WithBoolean("active_only", mcplib.Description("Only return currently active endpoints")),
		),
		s.handleListEndpoints,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("search_models",
			mcplib.WithDescription("Search catalogued models by name substring, parameter size, or quantization level"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("name_contains", mcplib.Description("Substring match against model name")),
			mcplib.WithString("param_size", mcplib.Description(`Filter by parameter size, e.g. "7b"`)),
			mcplib.WithString("quantization", mcplib.Description(`Filter by quantization level, e.g. "Q4_0"`)),
			mcplib.WithString("sort_by", mcplib.Description("One of name, params, quant, count")),
		),
		s.handleSearchModels,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_stats",
			mcplib.WithDescription("Get aggregate statistics across all discovered endpoints and models"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleGetStats,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("resolve_and_chat",
			mcplib.WithDescription("Resolve a model selector to a live endpoint and forward a chat prompt to it"),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("model_selector", mcplib.Required(), mcplib.Description("Model id or name substring to resolve")),
			mcplib.WithString("prompt", mcplib.Required(), mcplib.Description("User prompt to forward")),
			mcplib.WithString("system_prompt", mcplib.Description("Optional system prompt")),
			mcplib.WithNumber("temperature", mcplib.Description("Sampling temperature")),
			mcplib.WithNumber("max_tokens", mcplib.Description("Maximum tokens to generate")),
		),
		s.handleResolveAndChat,
	)
}

func (s *Server) handleListEndpoints(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.deps.Query == nil {
		return errorResult("query service not configured"), nil
	}

	filter := endpoint.ListFilter{
		APIType:    endpoint.APIType(request.GetString("api_type", "")),
		Capability: endpoint.Capability(request.GetString("capability", "")),
		ActiveOnly: request.GetBool("active_only", false),
	}

	endpoints, err := s.deps.Query.ListEndpoints(ctx, filter)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list endpoints: %v", err)), nil
	}
	return jsonResult(endpoints), nil
}

func (s *Server) handleSearchModels(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.deps.Query == nil {
		return errorResult("query service not configured"), nil
	}

	filter := catalog.ModelListFilter{
		NameContains: request.GetString("name_contains", ""),
		ParamSize:    request.GetString("param_size", ""),
		Quantization: request.GetString("quantization", ""),
		SortBy:       request.GetString("sort_by", ""),
	}

	models, err := s.deps.Query.ListModels(ctx, filter)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to search models: %v", err)), nil
	}
	return jsonResult(models), nil
}

func (s *Server) handleGetStats(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.deps.Query == nil {
		return errorResult("query service not configured"), nil
	}

	stats, err := s.deps.Query.Stats(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to get stats: %v", err)), nil
	}
	return jsonResult(stats), nil
}

func (s *Server) handleResolveAndChat(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.deps.Dispatch == nil {
		return errorResult("dispatch service not configured"), nil
	}

	selector := request.GetString("model_selector", "")
	prompt := request.GetString("prompt", "")
	if selector == "" || prompt == "" {
		return errorResult("model_selector and prompt are required"), nil
	}

	resolved, err := s.deps.Dispatch.Resolve(ctx, dispatch.ResolveRequest{ModelSelector: selector})
	if err != nil {
		return errorResult(fmt.Sprintf("failed to resolve %q: %v", selector, err)), nil
	}

	result, err := s.deps.Dispatch.Forward(ctx, dispatch.ForwardRequest{
		Resolved:     *resolved,
		Prompt:       prompt,
		SystemPrompt: request.GetString("system_prompt", ""),
		Temperature:  request.GetFloat("temperature", 0),
		MaxTokens:    request.GetInt("max_tokens", 0),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("failed to forward chat request: %v", err)), nil
	}
	return jsonResult(result), nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
