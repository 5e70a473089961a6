package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"adamcp/internal/als"
	"adamcp/internal/manager"
)

// RenameInput identifies a symbol and its replacement name.
type RenameInput struct {
	PositionInput
	NewName string `json:"new_name" jsonschema:"new name for the symbol (valid Ada identifier)"`
}

// RenameChange is one proposed edit site.
type RenameChange struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// RenameOutput lists the edits a rename would make. Edits are proposed, not
// applied; the caller decides what to do with them.
type RenameOutput struct {
	OldName       string         `json:"old_name,omitempty"`
	NewName       string         `json:"new_name"`
	Changes       []RenameChange `json:"changes"`
	TotalChanges  int            `json:"total_changes"`
	FilesAffected int            `json:"files_affected"`
}

// FormatInput selects a file and formatting options.
type FormatInput struct {
	ProjectRoot  string `json:"project_root,omitempty" jsonschema:"project root directory; inferred from file when omitted"`
	File         string `json:"file" jsonschema:"absolute path to the Ada file"`
	TabSize      int    `json:"tab_size,omitempty" jsonschema:"indentation width (default 3)"`
	InsertSpaces *bool  `json:"insert_spaces,omitempty" jsonschema:"use spaces instead of tabs (default true)"`
}

// FormatEdit is one text replacement with 1-based coordinates.
type FormatEdit struct {
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`
	EndColumn   int    `json:"end_column"`
	NewText     string `json:"new_text"`
}

// FormatOutput lists the edits needed to format a file; empty means the file
// is already formatted.
type FormatOutput struct {
	File    string       `json:"file"`
	Changes int          `json:"changes"`
	Edits   []FormatEdit `json:"edits"`
}

// CodeActionsInput selects a range to request fixes for.
type CodeActionsInput struct {
	ProjectRoot string `json:"project_root,omitempty" jsonschema:"project root directory; inferred from file when omitted"`
	File        string `json:"file" jsonschema:"absolute path to the Ada file"`
	StartLine   int    `json:"start_line" jsonschema:"1-based start line"`
	StartColumn int    `json:"start_column" jsonschema:"1-based start column"`
	EndLine     int    `json:"end_line,omitempty" jsonschema:"1-based end line (default start_line)"`
	EndColumn   int    `json:"end_column,omitempty" jsonschema:"1-based end column (default start_column)"`
}

// CodeAction summarizes one available action.
type CodeAction struct {
	Title         string `json:"title"`
	Kind          string `json:"kind,omitempty"`
	Preferred     bool   `json:"preferred,omitempty"`
	HasEdit       bool   `json:"has_edit"`
	FilesAffected int    `json:"files_affected"`
	Command       string `json:"command,omitempty"`
}

// CodeActionsOutput is the result of ada_code_actions.
type CodeActionsOutput struct {
	Actions []CodeAction `json:"actions"`
}

// GetSpecInput locates a body to find the spec for. Line/column are optional;
// without them the tool falls back to the sibling .ads file.
type GetSpecInput struct {
	ProjectRoot string `json:"project_root,omitempty" jsonschema:"project root directory; inferred from file when omitted"`
	File        string `json:"file" jsonschema:"absolute path to the Ada file (usually a body)"`
	Line        int    `json:"line,omitempty" jsonschema:"1-based line number of a symbol in the body"`
	Column      int    `json:"column,omitempty" jsonschema:"1-based column number"`
}

// GetSpecOutput points at the declaration.
type GetSpecOutput struct {
	Found    bool   `json:"found"`
	SpecFile string `json:"spec_file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Preview  string `json:"preview,omitempty"`
}

// SignatureParameter is one parameter of a signature.
type SignatureParameter struct {
	Label         string `json:"label"`
	Documentation string `json:"documentation,omitempty"`
}

// Signature is one callable signature.
type Signature struct {
	Label         string               `json:"label"`
	Documentation string               `json:"documentation,omitempty"`
	Parameters    []SignatureParameter `json:"parameters"`
}

// SignatureHelpOutput is the result of ada_signature_help.
type SignatureHelpOutput struct {
	Found           bool        `json:"found"`
	Signatures      []Signature `json:"signatures"`
	ActiveSignature int         `json:"active_signature"`
	ActiveParameter int         `json:"active_parameter"`
}

func (s *Server) registerRefactoring(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_rename_symbol",
		Description: "Compute the edits needed to rename an Ada symbol across the project",
	}, s.handleRenameSymbol)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_format_file",
		Description: "Compute formatting edits for an Ada file",
	}, s.handleFormatFile)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_code_actions",
		Description: "List quick fixes and refactorings available at a location",
	}, s.handleCodeActions)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_get_spec",
		Description: "Navigate from an Ada body to its spec (declaration)",
	}, s.handleGetSpec)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_signature_help",
		Description: "Get parameter information for the call at a location",
	}, s.handleSignatureHelp)
}

// adaIdentifier matches a basic Ada identifier; consecutive or trailing
// underscores are checked separately.
var adaIdentifier = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func isValidAdaIdentifier(name string) bool {
	if !adaIdentifier.MatchString(name) {
		return false
	}
	return !strings.Contains(name, "__") && !strings.HasSuffix(name, "_")
}

func (s *Server) handleRenameSymbol(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[RenameInput]) (*mcp.CallToolResultFor[RenameOutput], error) {
	in := params.Arguments
	if !isValidAdaIdentifier(in.NewName) {
		return nil, fmt.Errorf("invalid Ada identifier: %q", in.NewName)
	}
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
	prepared, err := s.mgr.Submit(ctx, root, "textDocument/prepareRename", p, manager.SubmitOptions{})
	if err != nil {
		return nil, err
	}
	if len(prepared) == 0 || string(prepared) == "null" {
		return nil, fmt.Errorf("symbol at %s:%d:%d cannot be renamed", in.File, in.Line, in.Column)
	}
	var prep struct {
		Placeholder string `json:"placeholder"`
	}
	_ = json.Unmarshal(prepared, &prep)

	raw, err := s.mgr.Submit(ctx, root, "textDocument/rename", map[string]any{
		"textDocument": p.TextDocument,
		"position":     p.Position,
		"newName":      in.NewName,
	}, manager.SubmitOptions{})
	if err != nil {
		return nil, err
	}
	changes := decodeWorkspaceEdit(raw)
	return textResult(RenameOutput{
		OldName:       prep.Placeholder,
		NewName:       in.NewName,
		Changes:       changes,
		TotalChanges:  len(changes),
		FilesAffected: countFiles(changes),
	})
}

func (s *Server) handleFormatFile(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[FormatInput]) (*mcp.CallToolResultFor[FormatOutput], error) {
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
	tabSize := in.TabSize
	if tabSize <= 0 {
		tabSize = 3 // the GNAT style default
	}
	insertSpaces := true
	if in.InsertSpaces != nil {
		insertSpaces = *in.InsertSpaces
	}
	raw, err := s.mgr.Submit(ctx, root, "textDocument/formatting", map[string]any{
		"textDocument": als.TextDocumentIdentifier{URI: als.FileURI(in.File)},
		"options":      map[string]any{"tabSize": tabSize, "insertSpaces": insertSpaces},
	}, manager.SubmitOptions{})
	if err != nil {
		return nil, err
	}
	edits := decodeFormatEdits(raw)
	return textResult(FormatOutput{File: in.File, Changes: len(edits), Edits: edits})
}

func (s *Server) handleCodeActions(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[CodeActionsInput]) (*mcp.CallToolResultFor[CodeActionsOutput], error) {
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
	endLine, endCol := in.EndLine, in.EndColumn
	if endLine <= 0 {
		endLine = in.StartLine
	}
	if endCol <= 0 {
		endCol = in.StartColumn
	}
	raw, err := s.mgr.Submit(ctx, root, "textDocument/codeAction", map[string]any{
		"textDocument": als.TextDocumentIdentifier{URI: als.FileURI(in.File)},
		"range": als.Range{
			Start: als.LSPPosition(in.StartLine, in.StartColumn),
			End:   als.LSPPosition(endLine, endCol),
		},
		"context": map[string]any{"diagnostics": []any{}},
	}, manager.SubmitOptions{})
	if err != nil {
		return nil, err
	}
	return textResult(CodeActionsOutput{Actions: decodeCodeActions(raw)})
}

func (s *Server) handleGetSpec(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[GetSpecInput]) (*mcp.CallToolResultFor[GetSpecOutput], error) {
	in := params.Arguments
	if err := fileExists(in.File); err != nil {
		return nil, err
	}
	if in.Line > 0 && in.Column > 0 {
		raw, err := s.positionalCall(ctx, "textDocument/declaration", PositionInput{
			ProjectRoot: in.ProjectRoot, File: in.File, Line: in.Line, Column: in.Column,
		}, nil, definitionTTL)
		if err != nil {
			return nil, err
		}
		if locs := decodeLocations(raw); len(locs) > 0 {
			loc := locs[0]
			return textResult(GetSpecOutput{
				Found:    true,
				SpecFile: loc.File,
				Line:     loc.Line,
				Column:   loc.Column,
				Preview:  lineAt(loc.File, loc.Line),
			})
		}
	}
	// Without a position (or a declaration) fall back to the sibling spec.
	if strings.EqualFold(filepath.Ext(in.File), ".adb") {
		spec := strings.TrimSuffix(in.File, filepath.Ext(in.File)) + ".ads"
		if _, err := os.Stat(spec); err == nil {
			return textResult(GetSpecOutput{
				Found:    true,
				SpecFile: spec,
				Line:     1,
				Column:   1,
				Preview:  firstCodeLine(spec),
			})
		}
	}
	return textResult(GetSpecOutput{Found: false})
}

func (s *Server) handleSignatureHelp(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[PositionInput]) (*mcp.CallToolResultFor[SignatureHelpOutput], error) {
	raw, err := s.positionalCall(ctx, "textDocument/signatureHelp", params.Arguments, nil, completionsTTL)
	if err != nil {
		return nil, err
	}
	return textResult(decodeSignatureHelp(raw))
}

// decodeWorkspaceEdit flattens a WorkspaceEdit's changes and documentChanges
// into edit sites with 1-based coordinates.
func decodeWorkspaceEdit(raw json.RawMessage) []RenameChange {
	out := []RenameChange{}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	type textEdit struct {
		Range als.Range `json:"range"`
	}
	var edit struct {
		Changes         map[string][]textEdit `json:"changes"`
		DocumentChanges []struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
			Edits []textEdit `json:"edits"`
		} `json:"documentChanges"`
	}
	if err := json.Unmarshal(raw, &edit); err != nil {
		return out
	}
	add := func(uri string, edits []textEdit) {
		path, err := als.URIToPath(uri)
		if err != nil {
			path = uri
		}
		for _, e := range edits {
			line, col := als.UserPosition(e.Range.Start)
			out = append(out, RenameChange{File: path, Line: line, Column: col})
		}
	}
	for uri, edits := range edit.Changes {
		add(uri, edits)
	}
	for _, dc := range edit.DocumentChanges {
		if dc.TextDocument.URI != "" {
			add(dc.TextDocument.URI, dc.Edits)
		}
	}
	return out
}

func countFiles(changes []RenameChange) int {
	files := map[string]struct{}{}
	for _, c := range changes {
		files[c.File] = struct{}{}
	}
	return len(files)
}

func decodeFormatEdits(raw json.RawMessage) []FormatEdit {
	out := []FormatEdit{}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	var edits []struct {
		Range   als.Range `json:"range"`
		NewText string    `json:"newText"`
	}
	if err := json.Unmarshal(raw, &edits); err != nil {
		return out
	}
	for _, e := range edits {
		sl, sc := als.UserPosition(e.Range.Start)
		el, ec := als.UserPosition(e.Range.End)
		out = append(out, FormatEdit{
			StartLine: sl, StartColumn: sc,
			EndLine: el, EndColumn: ec,
			NewText: e.NewText,
		})
	}
	return out
}

// decodeCodeActions accepts a mixed array of CodeAction and Command objects.
func decodeCodeActions(raw json.RawMessage) []CodeAction {
	out := []CodeAction{}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	var actions []struct {
		Title       string `json:"title"`
		Kind        string `json:"kind"`
		IsPreferred bool   `json:"isPreferred"`
		Edit        *struct {
			Changes         map[string]json.RawMessage `json:"changes"`
			DocumentChanges []json.RawMessage          `json:"documentChanges"`
		} `json:"edit"`
		Command *struct {
			Title   string `json:"title"`
			Command string `json:"command"`
		} `json:"command"`
	}
	if err := json.Unmarshal(raw, &actions); err != nil {
		return out
	}
	for _, a := range actions {
		if a.Title == "" {
			continue
		}
		act := CodeAction{Title: a.Title, Kind: a.Kind, Preferred: a.IsPreferred}
		if a.Edit != nil {
			act.HasEdit = true
			act.FilesAffected = len(a.Edit.Changes)
			if act.FilesAffected == 0 {
				act.FilesAffected = len(a.Edit.DocumentChanges)
			}
		}
		if a.Command != nil {
			act.Command = a.Command.Title
			if act.Command == "" {
				act.Command = a.Command.Command
			}
		}
		out = append(out, act)
	}
	return out
}

func decodeSignatureHelp(raw json.RawMessage) SignatureHelpOutput {
	out := SignatureHelpOutput{Signatures: []Signature{}}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	var help struct {
		Signatures []struct {
			Label         string          `json:"label"`
			Documentation json.RawMessage `json:"documentation"`
			Parameters    []struct {
				Label         json.RawMessage `json:"label"`
				Documentation json.RawMessage `json:"documentation"`
			} `json:"parameters"`
		} `json:"signatures"`
		ActiveSignature int `json:"activeSignature"`
		ActiveParameter int `json:"activeParameter"`
	}
	if err := json.Unmarshal(raw, &help); err != nil || len(help.Signatures) == 0 {
		return out
	}
	for _, sig := range help.Signatures {
		s := Signature{
			Label:         sig.Label,
			Documentation: docString(sig.Documentation),
			Parameters:    []SignatureParameter{},
		}
		for _, p := range sig.Parameters {
			var label string
			_ = json.Unmarshal(p.Label, &label) // label may also be an offset pair; keep the string form
			s.Parameters = append(s.Parameters, SignatureParameter{
				Label:         label,
				Documentation: docString(p.Documentation),
			})
		}
		out.Signatures = append(out.Signatures, s)
	}
	out.Found = true
	out.ActiveSignature = help.ActiveSignature
	out.ActiveParameter = help.ActiveParameter
	return out
}

// docString flattens a documentation field that may be a plain string or
// MarkupContent.
func docString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var m struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &m); err == nil {
		return m.Value
	}
	return ""
}

// lineAt returns the 1-based line of a file, trimmed, or "".
func lineAt(path string, line int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		if n == line {
			return strings.TrimSpace(sc.Text())
		}
	}
	return ""
}

// firstCodeLine returns the first non-empty, non-comment line of a file.
func firstCodeLine(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && !strings.HasPrefix(line, "--") {
			return line
		}
	}
	return ""
}
