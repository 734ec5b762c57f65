// Package mcp provides the MCP (Model Context Protocol) server for amocrm-contacts,
// exposing contact lookup, export and import as tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"amocrm-contacts/internal/contacts"
)

// Config holds the MCP server configuration.
type Config struct {
	Addr       string // host:port for the HTTP transport
	APIKey     string // Static API key for authentication (optional)
	ExportFile string // default destination of contacts_export
	Version    string
}

// Server wraps the MCP server and HTTP server.
type Server struct {
	config     *Config
	mcpServer  *mcp.Server
	httpServer *http.Server
	manager    *contacts.Manager
	logger     *slog.Logger

	// sync runs write CSV files, so only one runs at a time
	syncMu sync.Mutex
}

// NewServer creates a new MCP server with its tools registered.
func NewServer(cfg *Config, manager *contacts.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "amocrm-contacts",
		Version: version,
	}, nil)

	s := &Server{
		config:    cfg,
		mcpServer: mcpServer,
		manager:   manager.WithOutput(nil),
		logger:    logger,
	}
	s.registerTools()
	return s
}

// extractBearerToken extracts the API key from the Authorization header.
// Expected format: "Bearer <api_key>"
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}

	return strings.TrimPrefix(authHeader, bearerPrefix)
}

// authMiddleware rejects requests without the configured API key.
// With no key configured every request is allowed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		if extractBearerToken(r) != s.config.APIKey {
			s.logger.Warn("rejected MCP request", "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Unauthorized: invalid or missing API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// PingOutput is the output schema for the ping tool.
type PingOutput struct {
	Message string `json:"message"`
	Time    string `json:"time"`
}

// GetInput is the input schema for contacts_get tool.
type GetInput struct {
	ContactID string `json:"contactId" jsonschema:"numeric amoCRM contact ID"`
}

// ExportInput is the input schema for contacts_export tool.
type ExportInput struct {
	Path string `json:"path,omitempty" jsonschema:"destination CSV file, defaults to the configured export file"`
}

// ImportInput is the input schema for contacts_import tool.
type ImportInput struct {
	Path       string `json:"path" jsonschema:"CSV file with contact_id;name rows after a header"`
	ErrorsPath string `json:"errorsPath,omitempty" jsonschema:"file receiving rows that failed to update"`
}

// registerTools registers all contact tools with the MCP server.
func (s *Server) registerTools() {
	// Register ping tool for connectivity testing
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "ping",
		Description: "Test connectivity with the MCP server",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, PingOutput, error) {
		return nil, PingOutput{
			Message: "pong",
			Time:    time.Now().Format(time.RFC3339),
		}, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "contacts_get",
		Description: "Get a single amoCRM contact by ID",
	}, s.handleGetContact)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "contacts_export",
		Description: "Export all amoCRM contacts to a semicolon separated CSV file",
	}, s.handleExport)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "contacts_import",
		Description: "Update contact names from a semicolon separated CSV file",
	}, s.handleImport)
}

// handleGetContact implements the contacts_get MCP tool.
func (s *Server) handleGetContact(ctx context.Context, req *mcp.CallToolRequest, input GetInput) (
	*mcp.CallToolResult,
	contacts.ContactView,
	error,
) {
	if input.ContactID == "" {
		return nil, contacts.ContactView{}, fmt.Errorf("contactId is required")
	}

	view, err := s.manager.GetContactByID(ctx, input.ContactID)
	if err != nil {
		return nil, contacts.ContactView{}, fmt.Errorf("failed to get contact: %w", err)
	}
	return nil, *view, nil
}

// handleExport implements the contacts_export MCP tool.
func (s *Server) handleExport(ctx context.Context, req *mcp.CallToolRequest, input ExportInput) (
	*mcp.CallToolResult,
	contacts.ExportResult,
	error,
) {
	path := input.Path
	if path == "" {
		path = s.config.ExportFile
	}
	if path == "" {
		return nil, contacts.ExportResult{}, fmt.Errorf("path is required")
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.logger.Info("export requested", "path", path)
	result, err := s.manager.Export(ctx, path)
	if err != nil {
		return nil, contacts.ExportResult{}, fmt.Errorf("failed to export contacts: %w", err)
	}
	return nil, *result, nil
}

// handleImport implements the contacts_import MCP tool.
func (s *Server) handleImport(ctx context.Context, req *mcp.CallToolRequest, input ImportInput) (
	*mcp.CallToolResult,
	contacts.ImportResult,
	error,
) {
	if input.Path == "" {
		return nil, contacts.ImportResult{}, fmt.Errorf("path is required")
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.logger.Info("import requested", "path", input.Path, "errorsPath", input.ErrorsPath)
	result, err := s.manager.WithErrorsFile(input.ErrorsPath).Import(ctx, input.Path)
	if err != nil {
		return nil, contacts.ImportResult{}, fmt.Errorf("failed to import contacts: %w", err)
	}
	return nil, *result, nil
}

// Handler returns the streamable HTTP handler wrapped with authentication.
func (s *Server) Handler() http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.mcpServer
	}, &mcp.StreamableHTTPOptions{
		Stateless: false, // Enable session tracking
	})
	return s.authMiddleware(mcpHandler)
}

// RunStdio serves MCP over stdin/stdout until the client disconnects or ctx is done.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.config.APIKey != "" {
		s.logger.Info("authentication mode: static API key")
	} else {
		s.logger.Warn("authentication mode: disabled (no API key configured)")
	}

	addr := s.config.Addr
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting MCP server", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.logger.Info("MCP server stopped")
	return nil
}
