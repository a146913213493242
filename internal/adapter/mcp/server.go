// Package mcp exposes the Query and Dispatch Services over the Model
// Context Protocol, as an alternative front-end alongside the Discord
// command surface (§6's "command-surface contract": only Query and
// Dispatch may be called by any front-end).
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/port/catalog"
)

// QueryReader is the narrow slice of the Query Service the MCP tools need.
type QueryReader interface {
	ListEndpoints(ctx context.Context, filter endpoint.ListFilter) ([]endpoint.Endpoint, error)
	ListModels(ctx context.Context, filter catalog.ModelListFilter) ([]model.Model, error)
	Stats(ctx context.Context) (*catalog.Stats, error)
}

// Dispatcher is the narrow slice of the Dispatch Service the MCP tools need.
type Dispatcher interface {
	Resolve(ctx context.Context, req dispatch.ResolveRequest) (*dispatch.Resolved, error)
	Forward(ctx context.Context, req dispatch.ForwardRequest) (*dispatch.ForwardResult, error)
}

// ServerConfig configures the MCP HTTP listener. APIKey, if set, gates the
// listener behind AuthMiddleware; left empty, the listener is open.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps wires the services each tool calls through. A nil dependency
// makes its tools return a configuration error instead of panicking.
type ServerDeps struct {
	Query    QueryReader
	Dispatch Dispatcher
}

// Server hosts the MCP tool set over HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
}

// NewServer builds an MCP server and registers its tools.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	mcpSrv := mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)
	s := &Server{cfg: cfg, deps: deps, mcpServer: mcpSrv}
	s.registerTools()
	s.registerResources()
	httpServer := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: AuthMiddleware(cfg.APIKey, httpServer)}
	return s
}

// MCPServer exposes the underlying mcp-go server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves the MCP server's streamable-HTTP transport on cfg.Addr. It
// blocks until Stop is called.
func (s *Server) Start() error {
	slog.Info("mcp server listening", "addr", s.cfg.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the MCP server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("mcp server shutdown: %w", err)
	}
	return nil
}
