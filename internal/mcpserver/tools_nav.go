package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"adamcp/internal/als"
	"adamcp/internal/manager"
)

// Cache lifetimes per response kind. Navigation results survive longer than
// completion results, which go stale with every keystroke.
const (
	definitionTTL  = 5 * time.Second
	referencesTTL  = 5 * time.Second
	hoverTTL       = 30 * time.Second
	symbolsTTL     = 10 * time.Second
	completionsTTL = 2 * time.Second
)

// PositionInput locates a symbol with 1-based coordinates.
type PositionInput struct {
	ProjectRoot string `json:"project_root,omitempty" jsonschema:"project root directory; inferred from file when omitted"`
	File        string `json:"file" jsonschema:"absolute path to the Ada file"`
	Line        int    `json:"line" jsonschema:"1-based line number"`
	Column      int    `json:"column" jsonschema:"1-based column number"`
}

// SourceLocation is a 1-based location in tool output.
type SourceLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// LocationsOutput is the result of navigation tools.
type LocationsOutput struct {
	Locations []SourceLocation `json:"locations"`
}

// HoverOutput carries symbol documentation.
type HoverOutput struct {
	Contents string `json:"contents"`
}

// ReferencesInput extends PositionInput with declaration inclusion.
type ReferencesInput struct {
	PositionInput
	IncludeDeclaration *bool `json:"include_declaration,omitempty" jsonschema:"include the declaration in results (default true)"`
}

func (s *Server) registerNavigation(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_goto_definition",
		Description: "Navigate to the definition of an Ada symbol at a given location",
	}, s.positionalTool("textDocument/definition", definitionTTL))

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_type_definition",
		Description: "Navigate to a symbol's type definition (where the type is declared)",
	}, s.positionalTool("textDocument/typeDefinition", definitionTTL))

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_implementation",
		Description: "Navigate from declaration to implementation (spec to body)",
	}, s.positionalTool("textDocument/implementation", definitionTTL))

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_find_references",
		Description: "Find all references to an Ada symbol across the project",
	}, s.handleFindReferences)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_hover",
		Description: "Get type information and documentation for an Ada symbol",
	}, s.handleHover)
}

// positionalTool builds a handler for the location-returning requests, which
// share parameter and result shapes.
func (s *Server) positionalTool(method string, ttl time.Duration) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[PositionInput]) (*mcp.CallToolResultFor[LocationsOutput], error) {
	return func(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[PositionInput]) (*mcp.CallToolResultFor[LocationsOutput], error) {
		in := params.Arguments
		raw, err := s.positionalCall(ctx, method, in, nil, ttl)
		if err != nil {
			return nil, err
		}
		return textResult(LocationsOutput{Locations: decodeLocations(raw)})
	}
}

func (s *Server) handleFindReferences(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ReferencesInput]) (*mcp.CallToolResultFor[LocationsOutput], error) {
	in := params.Arguments
	includeDecl := true
	if in.IncludeDeclaration != nil {
		includeDecl = *in.IncludeDeclaration
	}
	extra := map[string]any{"context": map[string]any{"includeDeclaration": includeDecl}}
	raw, err := s.positionalCall(ctx, "textDocument/references", in.PositionInput, extra, referencesTTL)
	if err != nil {
		return nil, err
	}
	return textResult(LocationsOutput{Locations: decodeLocations(raw)})
}

func (s *Server) handleHover(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[PositionInput]) (*mcp.CallToolResultFor[HoverOutput], error) {
	in := params.Arguments
	raw, err := s.positionalCall(ctx, "textDocument/hover", in, nil, hoverTTL)
	if err != nil {
		return nil, err
	}
	return textResult(HoverOutput{Contents: decodeHover(raw)})
}

// positionalCall opens the document and routes a positional request through
// the pool with caching.
func (s *Server) positionalCall(ctx context.Context, method string, in PositionInput, extra map[string]any, ttl time.Duration) (json.RawMessage, error) {
	if err := fileExists(in.File); err != nil {
		return nil, err
	}
	root, err := s.resolveRoot(in.ProjectRoot, in.File)
	if err != nil {
		return nil, err
	}
	if err := s.mgr.EnsureOpen(ctx, root, in.File); err != nil {
		return nil, err
	}
	p := als.PositionParams(in.File, in.Line, in.Column)
	reqParams := map[string]any{
		"textDocument": p.TextDocument,
		"position":     p.Position,
	}
	for k, v := range extra {
		reqParams[k] = v
	}
	return s.mgr.Submit(ctx, root, method, reqParams, manager.SubmitOptions{Cacheable: true, TTL: ttl})
}

// decodeLocations accepts the three result shapes the protocol allows for
// navigation requests: Location, []Location, and []LocationLink.
func decodeLocations(raw json.RawMessage) []SourceLocation {
	out := []SourceLocation{}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	var links []als.LocationLink
	if err := json.Unmarshal(raw, &links); err == nil && len(links) > 0 && links[0].TargetURI != "" {
		for _, l := range links {
			out = append(out, toSourceLocation(l.TargetURI, l.TargetSelectionRange.Start))
		}
		return out
	}
	var locs []als.Location
	if err := json.Unmarshal(raw, &locs); err == nil {
		for _, l := range locs {
			if l.URI == "" {
				continue
			}
			out = append(out, toSourceLocation(l.URI, l.Range.Start))
		}
		return out
	}
	var loc als.Location
	if err := json.Unmarshal(raw, &loc); err == nil && loc.URI != "" {
		out = append(out, toSourceLocation(loc.URI, loc.Range.Start))
	}
	return out
}

func toSourceLocation(uri string, pos als.Position) SourceLocation {
	path, err := als.URIToPath(uri)
	if err != nil {
		path = uri
	}
	line, col := als.UserPosition(pos)
	return SourceLocation{File: path, Line: line, Column: col}
}

// decodeHover flattens the hover result's MarkupContent / MarkedString
// variants into plain text.
func decodeHover(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var h struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(raw, &h); err != nil || len(h.Contents) == 0 {
		return ""
	}
	var markup struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(h.Contents, &markup); err == nil && markup.Value != "" {
		return markup.Value
	}
	var plain string
	if err := json.Unmarshal(h.Contents, &plain); err == nil {
		return plain
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(h.Contents, &parts); err == nil {
		text := ""
		for _, p := range parts {
			var s string
			if err := json.Unmarshal(p, &s); err == nil {
				if text != "" {
					text += "\n"
				}
				text += s
				continue
			}
			var m struct {
				Value string `json:"value"`
			}
			if err := json.Unmarshal(p, &m); err == nil && m.Value != "" {
				if text != "" {
					text += "\n"
				}
				text += m.Value
			}
		}
		return text
	}
	return ""
}
