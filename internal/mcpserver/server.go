// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes kitd script tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/kitd/internal/apperr"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/scriptservice"
)

// MetadataFormatURI is the resource URI of the metadata header contract.
const MetadataFormatURI = "kit://metadata-format"

// Server wraps the MCP server with kitd tools.
type Server struct {
	mcp *server.MCPServer
	svc *scriptservice.Service
}

// New creates a new MCP server with all kitd tools registered.
func New(svc *scriptservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"kitd",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_scripts",
		mcp.WithDescription("List indexed scripts with their declared triggers."),
		mcp.WithString("kenv", mcp.Description("Optional kenv name (empty for all)")),
	), s.listScripts)

	s.mcp.AddTool(mcp.NewTool("read_script",
		mcp.WithDescription("Read the full source of an indexed script."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the script")),
	), s.readScript)

	s.mcp.AddTool(mcp.NewTool("search_scripts",
		mcp.WithDescription("Search scripts by name, command, description or path."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchScripts)

	s.mcp.AddTool(mcp.NewTool("get_dependents",
		mcp.WithDescription("Find every script that imports the given script, directly or transitively."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the imported script")),
	), s.getDependents)

	s.mcp.AddTool(mcp.NewTool("list_triggers",
		mcp.WithDescription("List the registrations of one trigger registry."),
		mcp.WithString("kind", mcp.Required(),
			mcp.Description("Registry kind"),
			mcp.Enum("shortcut", "schedule", "system", "watch", "background", "snippet")),
	), s.listTriggers)

	s.mcp.AddTool(mcp.NewTool("match_snippet",
		mcp.WithDescription("Return the snippets whose trigger key ends the given typed text."),
		mcp.WithString("tail", mcp.Required(), mcp.Description("Recently typed text")),
	), s.matchSnippet)

	s.mcp.AddTool(mcp.NewTool("get_metadata_contract",
		mcp.WithDescription("Returns the script metadata header contract. "+
			"Call this before writing scripts so their triggers register."),
	), s.getMetadataContract)

	// Resource: metadata header contract.
	s.mcp.AddResource(
		mcp.NewResource(MetadataFormatURI, "Script Metadata Contract",
			mcp.WithResourceDescription("Comment header format that declares a script's name and triggers."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMetadataFormatResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listScripts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kenv := req.GetString("kenv", "")
	rows, _, err := s.svc.ListScripts(ctx, kenv, 1000, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rows)
}

func (s *Server) readScript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.svc.ReadScript(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) searchScripts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getDependents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	deps, err := s.svc.Dependents(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(deps) == 0 {
		return mcp.NewToolResultText("no dependents found"), nil
	}
	return mcp.NewToolResultText(strings.Join(deps, "\n")), nil
}

func (s *Server) listTriggers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	regs, err := s.svc.Triggers(ctx, registry.Kind(kind))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(regs)
}

func (s *Server) matchSnippet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tail, err := req.RequireString("tail")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	matches, err := s.svc.MatchSnippet(ctx, tail)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(matches)
}

func (s *Server) getMetadataContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MetadataFormatContract), nil
}

func (s *Server) readMetadataFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      MetadataFormatURI,
			MIMEType: "text/markdown",
			Text:     MetadataFormatContract,
		},
	}, nil
}
