package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"codeforge://endpoints",
			"Endpoint List",
			mcplib.WithResourceDescription("All discovered endpoints"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleEndpointsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"codeforge://stats",
			"Catalog Stats",
			mcplib.WithResourceDescription("Aggregate statistics across all discovered endpoints and models"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)
}

func (s *Server) handleEndpointsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Query == nil {
		return textResource(req.Params.URI, `{"error":"query service not configured"}`), nil
	}
	endpoints, err := s.deps.Query.ListEndpoints(ctx, endpoint.ListFilter{})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(endpoints)
	if err != nil {
		return nil, err
	}
	return textResource(req.Params.URI, string(data)), nil
}

func (s *Server) handleStatsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Query == nil {
		return textResource(req.Params.URI, `{"error":"query service not configured"}`), nil
	}
	stats, err := s.deps.Query.Stats(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	return textResource(req.Params.URI, string(data)), nil
}

func textResource(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
