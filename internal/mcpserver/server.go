// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes typegen tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/history"
	"github.com/starford/typegen/internal/models"
	"github.com/starford/typegen/internal/pipeline"
)

// schemaFormatURI is the resource holding SchemaFormatContract.
const schemaFormatURI = "typegen://schema-format"

// Generator is the pipeline surface used by the tools.
type Generator interface {
	Generate(ctx context.Context, trigger string) (*pipeline.Result, error)
	Preview(ctx context.Context, path string) (string, error)
	Models(ctx context.Context) ([]models.Model, error)
}

// Server wraps the MCP server with typegen tools.
type Server struct {
	mcp   *server.MCPServer
	gen   Generator
	store history.Store

	// runMu serializes generate_types calls.
	runMu sync.Mutex
}

// New creates a new MCP server with all typegen tools registered.
func New(gen Generator, store history.Store, version string) *Server {
	s := &Server{gen: gen, store: store}

	s.mcp = server.NewMCPServer(
		"typegen",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("generate_types",
		mcp.WithDescription("Regenerate the TypeScript declarations from every schema file "+
			"and write them to the output path. Returns the run result as JSON."),
	), s.generateTypes)

	s.mcp.AddTool(mcp.NewTool("preview_types",
		mcp.WithDescription("Render the TypeScript declarations for one schema file without writing anything. "+
			"Read the schema format first via get_schema_format or the "+schemaFormatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Schema file path, relative to the models directory (e.g. user.yaml)")),
	), s.previewTypes)

	s.mcp.AddTool(mcp.NewTool("list_models",
		mcp.WithDescription("List the models found in the schema directory with their fields."),
	), s.listModels)

	s.mcp.AddTool(mcp.NewTool("last_run",
		mcp.WithDescription("Show the most recent generation run."),
	), s.lastRun)

	s.mcp.AddTool(mcp.NewTool("get_schema_format",
		mcp.WithDescription("Returns the schema file format typegen reads. "+
			"Call this before writing or editing schema files."),
	), s.getSchemaFormat)

	// Resource: schema format contract.
	s.mcp.AddResource(
		mcp.NewResource(schemaFormatURI, "Schema Format",
			mcp.WithResourceDescription("Schema file format read by typegen."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSchemaFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) generateTypes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	res, err := s.gen.Generate(ctx, pipeline.TriggerMCP)
	if err != nil {
		return mcp.NewToolResultError(apperr.Format(err)), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	if !res.OK() {
		return mcp.NewToolResultError(string(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) previewTypes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := s.gen.Preview(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(apperr.Format(err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) listModels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ms, err := s.gen.Models(ctx)
	if err != nil {
		return mcp.NewToolResultError(apperr.Format(err)), nil
	}

	var b strings.Builder
	for _, m := range ms {
		names := make([]string, 0, len(m.Fields))
		for _, f := range m.Fields {
			names = append(names, f.Name)
		}
		fmt.Fprintf(&b, "%s (%s): %s\n", m.ModelName, m.FilePath, strings.Join(names, ", "))
	}
	return mcp.NewToolResultText(strings.TrimSuffix(b.String(), "\n")), nil
}

func (s *Server) lastRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, err := s.store.LastRun()
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultText("no runs yet"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(run, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getSchemaFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SchemaFormatContract), nil
}

func (s *Server) readSchemaFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      schemaFormatURI,
			MIMEType: "text/markdown",
			Text:     SchemaFormatContract,
		},
	}, nil
}
