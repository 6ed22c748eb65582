// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes guildsync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/guildsync/internal/assetservice"
	"github.com/starford/guildsync/internal/models"
	"github.com/starford/guildsync/internal/refscan"
)

const layoutURI = "guildsync://layout"

// Server wraps the MCP server with guildsync tools.
type Server struct {
	mcp        *server.MCPServer
	svc        *assetservice.Service
	refs       refscan.Options
	targetRoot string
}

// New creates a new MCP server with all guildsync tools registered. refs
// configures find_broken_refs; targetRoot is where referenced files are
// looked up.
func New(svc *assetservice.Service, refs refscan.Options, targetRoot string) *Server {
	s := &Server{svc: svc, refs: refs, targetRoot: targetRoot}

	s.mcp = server.NewMCPServer(
		"guildsync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_characters",
		mcp.WithDescription("List the configured characters as namespace/name keys."),
	), s.listCharacters)

	s.mcp.AddTool(mcp.NewTool("list_assets",
		mcp.WithDescription("List the files of a character directory with role (preserved, gallery, loose), gallery index and intake source."),
		mcp.WithString("character", mcp.Required(), mcp.Description("Character key, e.g. guild/damao")),
	), s.listAssets)

	s.mcp.AddTool(mcp.NewTool("sync_character",
		mcp.WithDescription("Promote configured intake photos, convert new intake photos to WebP, drop duplicates "+
			"and renumber the gallery to a dense 1..N sequence. Read the layout first via the get_layout tool "+
			"or the "+layoutURI+" resource."),
		mcp.WithString("character", mcp.Required(), mcp.Description("Character key, e.g. guild/damao")),
		mcp.WithBoolean("rebuild", mcp.Description("Re-encode existing gallery files too")),
	), s.syncCharacter)

	s.mcp.AddTool(mcp.NewTool("renumber_gallery",
		mcp.WithDescription("Close gaps in a character's gallery numbering without importing or deduplicating."),
		mcp.WithString("character", mcp.Required(), mcp.Description("Character key, e.g. guild/damao")),
	), s.renumberGallery)

	s.mcp.AddTool(mcp.NewTool("import_asset",
		mcp.WithDescription("Download an image from an http(s) URL or decode a base64 data URI into the intake "+
			"folder. Run sync_character afterwards to publish it."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:image/...;base64,... URI")),
		mcp.WithString("filename", mcp.Description("Optional intake file name; derived from the URL when empty")),
	), s.importAsset)

	s.mcp.AddTool(mcp.NewTool("find_broken_refs",
		mcp.WithDescription("Scan page sources for /assets/img/<namespace>/<character>/<file> references whose file does not exist."),
	), s.findBrokenRefs)

	s.mcp.AddTool(mcp.NewTool("get_layout",
		mcp.WithDescription("Returns the character asset layout and naming rules."),
	), s.getLayout)

	s.mcp.AddResource(
		mcp.NewResource(layoutURI, "Asset Layout",
			mcp.WithResourceDescription("Character directory layout and file naming rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLayoutResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func characterArg(req mcp.CallToolRequest) (models.CharacterKey, error) {
	raw, err := req.RequireString("character")
	if err != nil {
		return models.CharacterKey{}, err
	}
	return models.ParseCharacterKey(raw)
}

func (s *Server) listCharacters(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys := s.svc.Characters()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) listAssets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := characterArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	assets, err := s.svc.Assets(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(assets), nil
}

func (s *Server) syncCharacter(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := characterArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep, err := s.svc.Sync(ctx, key, assetservice.SyncOptions{Rebuild: req.GetBool("rebuild", false)})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync %s: %v", key, err)), nil
	}
	return jsonResult(rep), nil
}

func (s *Server) renumberGallery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := characterArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep, err := s.svc.Renumber(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("renumber %s: %v", key, err)), nil
	}
	return jsonResult(rep), nil
}

func (s *Server) findBrokenRefs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	refs, err := refscan.Scan(ctx, s.refs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	missing := refscan.Missing(refs, s.targetRoot)
	if len(missing) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no broken references (%d checked)", len(refs))), nil
	}
	return jsonResult(missing), nil
}

func (s *Server) getLayout(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LayoutContract), nil
}

func (s *Server) readLayoutResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      layoutURI,
			MIMEType: "text/markdown",
			Text:     LayoutContract,
		},
	}, nil
}
