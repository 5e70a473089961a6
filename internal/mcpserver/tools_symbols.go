package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"adamcp/internal/als"
	"adamcp/internal/manager"
)

// DocumentSymbolsInput names the file to outline.
type DocumentSymbolsInput struct {
	ProjectRoot string `json:"project_root,omitempty" jsonschema:"project root directory; inferred from file when omitted"`
	File        string `json:"file" jsonschema:"absolute path to the Ada file"`
}

// Symbol is one entry of a symbol outline, with children for nested scopes.
type Symbol struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	File     string   `json:"file,omitempty"`
	Children []Symbol `json:"children,omitempty"`
}

// SymbolsOutput is the result of symbol tools.
type SymbolsOutput struct {
	Symbols []Symbol `json:"symbols"`
}

// WorkspaceSymbolsInput is a project-wide symbol query.
type WorkspaceSymbolsInput struct {
	ProjectRoot string `json:"project_root,omitempty" jsonschema:"project root directory; the default project when omitted"`
	Query       string `json:"query" jsonschema:"symbol name or pattern to search for"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum number of results (default 50)"`
}

// DiagnosticsInput selects a file for diagnostics.
type DiagnosticsInput struct {
	ProjectRoot string `json:"project_root,omitempty" jsonschema:"project root directory; inferred from file when omitted"`
	File        string `json:"file" jsonschema:"absolute path to the Ada file"`
	Severity    string `json:"severity,omitempty" jsonschema:"filter: error, warning, hint, or all (default all)"`
}

// FileDiagnostic is one compiler finding with 1-based coordinates.
type FileDiagnostic struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
}

// DiagnosticsOutput is the result of ada_diagnostics.
type DiagnosticsOutput struct {
	File        string           `json:"file"`
	Diagnostics []FileDiagnostic `json:"diagnostics"`
}

// CompletionsInput asks for completions at a position.
type CompletionsInput struct {
	PositionInput
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of results (default 50)"`
}

// Completion is one completion candidate.
type Completion struct {
	Label  string `json:"label"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// CompletionsOutput is the result of ada_completions.
type CompletionsOutput struct {
	Completions []Completion `json:"completions"`
	Incomplete  bool         `json:"incomplete,omitempty"`
}

const defaultSymbolLimit = 50

func (s *Server) registerSymbols(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_document_symbols",
		Description: "Get all symbols defined in an Ada file (outline)",
	}, s.handleDocumentSymbols)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_workspace_symbols",
		Description: "Search for symbols by name across the entire Ada workspace",
	}, s.handleWorkspaceSymbols)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_diagnostics",
		Description: "Get compiler errors and warnings for an Ada file",
	}, s.handleDiagnostics)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_completions",
		Description: "Get code completion suggestions at a location",
	}, s.handleCompletions)
}

func (s *Server) handleDocumentSymbols(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[DocumentSymbolsInput]) (*mcp.CallToolResultFor[SymbolsOutput], error) {
	in := params.Arguments
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
	raw, err := s.mgr.Submit(ctx, root, "textDocument/documentSymbol", map[string]any{
		"textDocument": als.TextDocumentIdentifier{URI: als.FileURI(in.File)},
	}, manager.SubmitOptions{Cacheable: true, TTL: symbolsTTL})
	if err != nil {
		return nil, err
	}
	return textResult(SymbolsOutput{Symbols: decodeSymbols(raw)})
}

func (s *Server) handleWorkspaceSymbols(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[WorkspaceSymbolsInput]) (*mcp.CallToolResultFor[SymbolsOutput], error) {
	in := params.Arguments
	root, err := s.resolveRoot(in.ProjectRoot, "")
	if err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSymbolLimit
	}
	raw, err := s.mgr.Submit(ctx, root, "workspace/symbol", map[string]any{
		"query": in.Query,
	}, manager.SubmitOptions{Cacheable: true, TTL: symbolsTTL})
	if err != nil {
		return nil, err
	}
	symbols := decodeSymbols(raw)
	if len(symbols) > limit {
		symbols = symbols[:limit]
	}
	return textResult(SymbolsOutput{Symbols: symbols})
}

func (s *Server) handleDiagnostics(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[DiagnosticsInput]) (*mcp.CallToolResultFor[DiagnosticsOutput], error) {
	in := params.Arguments
	if err := fileExists(in.File); err != nil {
		return nil, err
	}
	root, err := s.resolveRoot(in.ProjectRoot, in.File)
	if err != nil {
		return nil, err
	}
	diags, err := s.mgr.Diagnostics(ctx, root, in.File)
	if err != nil {
		return nil, err
	}
	out := DiagnosticsOutput{File: in.File, Diagnostics: []FileDiagnostic{}}
	for _, d := range diags {
		sev := severityName(d.Severity)
		if in.Severity != "" && in.Severity != "all" && in.Severity != sev {
			continue
		}
		line, col := als.UserPosition(d.Range.Start)
		out.Diagnostics = append(out.Diagnostics, FileDiagnostic{
			Line:     line,
			Column:   col,
			Severity: sev,
			Message:  d.Message,
			Source:   d.Source,
		})
	}
	return textResult(out)
}

func (s *Server) handleCompletions(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[CompletionsInput]) (*mcp.CallToolResultFor[CompletionsOutput], error) {
	in := params.Arguments
	raw, err := s.positionalCall(ctx, "textDocument/completion", in.PositionInput, nil, completionsTTL)
	if err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSymbolLimit
	}
	out := decodeCompletions(raw)
	if len(out.Completions) > limit {
		out.Completions = out.Completions[:limit]
	}
	return textResult(out)
}

// lspSymbolKinds maps LSP SymbolKind values to readable names.
var lspSymbolKinds = map[int]string{
	1: "file", 2: "module", 3: "namespace", 4: "package", 5: "class",
	6: "method", 7: "property", 8: "field", 9: "constructor", 10: "enum",
	11: "interface", 12: "function", 13: "variable", 14: "constant",
	15: "string", 16: "number", 17: "boolean", 18: "array", 19: "object",
	20: "key", 21: "null", 22: "enum_member", 23: "struct", 24: "event",
	25: "operator", 26: "type_parameter",
}

func symbolKindName(kind int) string {
	if name, ok := lspSymbolKinds[kind]; ok {
		return name
	}
	return "unknown"
}

func severityName(sev int) string {
	switch sev {
	case als.SeverityError:
		return "error"
	case als.SeverityWarning:
		return "warning"
	case als.SeverityInfo, als.SeverityHint:
		return "hint"
	default:
		return "error"
	}
}

// decodeSymbols accepts both DocumentSymbol[] (hierarchical, selectionRange)
// and SymbolInformation[] (flat, location) result shapes.
func decodeSymbols(raw json.RawMessage) []Symbol {
	out := []Symbol{}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	var hier []struct {
		Name           string          `json:"name"`
		Kind           int             `json:"kind"`
		SelectionRange *als.Range      `json:"selectionRange"`
		Range          als.Range       `json:"range"`
		Children       json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(raw, &hier); err == nil && len(hier) > 0 && hier[0].SelectionRange != nil {
		for _, h := range hier {
			line, col := als.UserPosition(h.SelectionRange.Start)
			out = append(out, Symbol{
				Name:     h.Name,
				Kind:     symbolKindName(h.Kind),
				Line:     line,
				Column:   col,
				Children: decodeSymbols(h.Children),
			})
		}
		return out
	}
	var flat []struct {
		Name     string       `json:"name"`
		Kind     int          `json:"kind"`
		Location als.Location `json:"location"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil {
		for _, f := range flat {
			line, col := als.UserPosition(f.Location.Range.Start)
			path, err := als.URIToPath(f.Location.URI)
			if err != nil {
				path = f.Location.URI
			}
			out = append(out, Symbol{
				Name:   f.Name,
				Kind:   symbolKindName(f.Kind),
				Line:   line,
				Column: col,
				File:   path,
			})
		}
	}
	return out
}

// decodeCompletions accepts both CompletionList and CompletionItem[] shapes.
func decodeCompletions(raw json.RawMessage) CompletionsOutput {
	out := CompletionsOutput{Completions: []Completion{}}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	type item struct {
		Label  string `json:"label"`
		Kind   int    `json:"kind"`
		Detail string `json:"detail"`
	}
	var list struct {
		IsIncomplete bool   `json:"isIncomplete"`
		Items        []item `json:"items"`
	}
	items := []item{}
	if err := json.Unmarshal(raw, &list); err == nil && list.Items != nil {
		items = list.Items
		out.Incomplete = list.IsIncomplete
	} else if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, it := range items {
		out.Completions = append(out.Completions, Completion{
			Label:  it.Label,
			Kind:   completionKindName(it.Kind),
			Detail: it.Detail,
		})
	}
	return out
}

var lspCompletionKinds = map[int]string{
	1: "text", 2: "method", 3: "function", 4: "constructor", 5: "field",
	6: "variable", 7: "class", 8: "interface", 9: "module", 10: "property",
	11: "unit", 12: "value", 13: "enum", 14: "keyword", 15: "snippet",
	16: "color", 17: "file", 18: "reference", 19: "folder", 20: "enum_member",
	21: "constant", 22: "struct", 23: "event", 24: "operator", 25: "type_parameter",
}

func completionKindName(kind int) string {
	if name, ok := lspCompletionKinds[kind]; ok {
		return name
	}
	return ""
}
