package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	cfmcp "github.com/Strob0t/CodeForge/internal/adapter/mcp"
	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/port/catalog"
)

// --- Mocks ---

type mockQuery struct {
	endpoints []endpoint.Endpoint
	models    []model.Model
	stats     *catalog.Stats
	err       error
}

func (m *mockQuery) ListEndpoints(_ context.Context, _ endpoint.ListFilter) ([]endpoint.Endpoint, error) {
	return m.endpoints, m.err
}

func (m *mockQuery) ListModels(_ context.Context, _ catalog.ModelListFilter) ([]model.Model, error) {
	return m.models, m.err
}

func (m *mockQuery) Stats(_ context.Context) (*catalog.Stats, error) {
	return m.stats, m.err
}

type mockDispatch struct {
	resolved *dispatch.Resolved
	result   *dispatch.ForwardResult
	err      error
}

func (m *mockDispatch) Resolve(_ context.Context, _ dispatch.ResolveRequest) (*dispatch.Resolved, error) {
	return m.resolved, m.err
}

func (m *mockDispatch) Forward(_ context.Context, _ dispatch.ForwardRequest) (*dispatch.ForwardResult, error) {
	return m.result, m.err
}

// --- Tests ---

func TestNewServer(t *testing.T) {
	cfg := cfmcp.ServerConfig{
		Addr:    ":3001",
		Name:    "test-server",
		Version: "0.1.0",
	}
	s := cfmcp.NewServer(cfg, cfmcp.ServerDeps{})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := cfmcp.ServerConfig{
		Addr:    ":0",
		Name:    "test-server",
		Version: "0.1.0",
	}
	s := cfmcp.NewServer(cfg, cfmcp.ServerDeps{})

	started := make(chan error, 1)
	go func() { started <- s.Start() }()

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := <-started; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestToolRegistration(t *testing.T) {
	deps := cfmcp.ServerDeps{
		Query:    &mockQuery{},
		Dispatch: &mockDispatch{},
	}
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	if len(tools) != 4 {
		t.Fatalf("expected 4 tools, got %d", len(tools))
	}

	expectedTools := map[string]bool{
		"list_endpoints":   false,
		"search_models":    false,
		"get_stats":        false,
		"resolve_and_chat": false,
	}
	for name := range tools {
		if _, ok := expectedTools[name]; ok {
			expectedTools[name] = true
		} else {
			t.Errorf("unexpected tool: %s", name)
		}
	}
	for name, found := range expectedTools {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleListEndpoints(t *testing.T) {
	deps := cfmcp.ServerDeps{
		Query: &mockQuery{
			endpoints: []endpoint.Endpoint{
				{ID: 1, IP: "198.51.100.1", Port: 11434},
				{ID: 2, IP: "198.51.100.2", Port: 11434},
			},
		},
	}
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	listTool, ok := tools["list_endpoints"]
	if !ok {
		t.Fatal("list_endpoints tool not found")
	}

	ctx := context.Background()
	result, err := listTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "list_endpoints"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var endpoints []endpoint.Endpoint
	if err := json.Unmarshal([]byte(text.Text), &endpoints); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(endpoints))
	}
}

func TestHandleSearchModels(t *testing.T) {
	deps := cfmcp.ServerDeps{
		Query: &mockQuery{
			models: []model.Model{
				{ID: 1, Name: "llama3:8b"},
			},
		},
	}
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	searchTool, ok := tools["search_models"]
	if !ok {
		t.Fatal("search_models tool not found")
	}

	ctx := context.Background()
	result, err := searchTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "search_models",
			Arguments: map[string]any{"name_contains": "llama3"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var models []model.Model
	if err := json.Unmarshal([]byte(text.Text), &models); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}
}

func TestHandleResolveAndChat(t *testing.T) {
	deps := cfmcp.ServerDeps{
		Dispatch: &mockDispatch{
			resolved: &dispatch.Resolved{EndpointID: 1, IP: "198.51.100.1", Port: 11434, ModelID: 2, ModelName: "llama3:8b"},
			result:   &dispatch.ForwardResult{Content: "hello there", EvalCount: 12},
		},
	}
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	chatTool, ok := tools["resolve_and_chat"]
	if !ok {
		t.Fatal("resolve_and_chat tool not found")
	}

	ctx := context.Background()
	result, err := chatTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "resolve_and_chat",
			Arguments: map[string]any{"model_selector": "llama3", "prompt": "hi"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var got dispatch.ForwardResult
	if err := json.Unmarshal([]byte(text.Text), &got); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if got.Content != "hello there" {
		t.Fatalf("expected forwarded content, got %q", got.Content)
	}
}

func TestHandleResolveAndChatMissingArgs(t *testing.T) {
	deps := cfmcp.ServerDeps{Dispatch: &mockDispatch{}}
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	chatTool, ok := tools["resolve_and_chat"]
	if !ok {
		t.Fatal("resolve_and_chat tool not found")
	}

	ctx := context.Background()
	result, err := chatTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "resolve_and_chat"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing model_selector/prompt")
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	listTool, ok := tools["list_endpoints"]
	if !ok {
		t.Fatal("list_endpoints tool not found")
	}

	ctx := context.Background()
	result, err := listTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "list_endpoints"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when deps are nil")
	}
}

func TestHandleGetStats(t *testing.T) {
	deps := cfmcp.ServerDeps{
		Query: &mockQuery{
			stats: &catalog.Stats{TotalEndpoints: 5, TotalModels: 9},
		},
	}
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	statsTool, ok := tools["get_stats"]
	if !ok {
		t.Fatal("get_stats tool not found")
	}

	ctx := context.Background()
	result, err := statsTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "get_stats"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var stats catalog.Stats
	if err := json.Unmarshal([]byte(text.Text), &stats); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if stats.TotalEndpoints != 5 {
		t.Fatalf("expected 5 endpoints, got %d", stats.TotalEndpoints)
	}
}
