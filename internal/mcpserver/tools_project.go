package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pelletier/go-toml/v2"

	"adamcp/internal/als"
	"adamcp/internal/manager"
	"adamcp/pkg/types"
)

// ProjectInput selects a project by root.
type ProjectInput struct {
	ProjectRoot string `json:"project_root,omitempty" jsonschema:"project root directory; the default project when omitted"`
}

// ProjectInfoOutput describes one managed project.
type ProjectInfoOutput struct {
	Root    string `json:"root"`
	GPRFile string `json:"gpr_file,omitempty"`
	State   string `json:"state,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Crashes int    `json:"crashes,omitempty"`
}

// BuildInput tunes an ada_build invocation.
type BuildInput struct {
	ProjectRoot string   `json:"project_root,omitempty" jsonschema:"project root directory; the default project when omitted"`
	GPRFile     string   `json:"gpr_file,omitempty" jsonschema:"path to the GPR project file; auto-detected when omitted"`
	Target      string   `json:"target,omitempty" jsonschema:"specific main unit to build"`
	Clean       bool     `json:"clean,omitempty" jsonschema:"run gprclean before building"`
	ExtraArgs   []string `json:"extra_args,omitempty" jsonschema:"additional gprbuild arguments"`
}

// BuildDiagnostic is one parsed gprbuild message with 1-based coordinates.
type BuildDiagnostic struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// BuildOutput is the result of ada_build.
type BuildOutput struct {
	Success  bool              `json:"success"`
	Errors   []BuildDiagnostic `json:"errors"`
	Warnings []BuildDiagnostic `json:"warnings"`
	Hints    []BuildDiagnostic `json:"hints"`
	Output   string            `json:"output,omitempty"`
}

// PoolStatusOutput mirrors the ops /status payload for MCP clients.
type PoolStatusOutput struct {
	Instances    []types.InstanceStatus `json:"instances"`
	MaxInstances int                    `json:"max_instances"`
	Spawns       uint64                 `json:"spawns_total"`
	Evictions    uint64                 `json:"evictions_total"`
}

// CacheStatsOutput reports response-cache effectiveness.
type CacheStatsOutput struct {
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// InvalidateOutput reports how many cached entries were dropped.
type InvalidateOutput struct {
	ProjectRoot string `json:"project_root"`
	Invalidated int    `json:"invalidated"`
}

// CallHierarchyInput selects a subprogram and a traversal direction.
type CallHierarchyInput struct {
	PositionInput
	Direction string `json:"direction,omitempty" jsonschema:"outgoing, incoming, or both (default outgoing)"`
}

// HierarchyCall is one caller or callee.
type HierarchyCall struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// CallHierarchyOutput lists callers and callees of a subprogram.
type CallHierarchyOutput struct {
	Found    bool            `json:"found"`
	Symbol   string          `json:"symbol,omitempty"`
	Outgoing []HierarchyCall `json:"outgoing_calls,omitempty"`
	Incoming []HierarchyCall `json:"incoming_calls,omitempty"`
}

// DependencyGraphInput selects the sources to analyze.
type DependencyGraphInput struct {
	Path string `json:"path" jsonschema:"Ada source file or directory to analyze"`
}

// UnitDependencies maps one compilation unit to its with'ed units.
type UnitDependencies struct {
	Unit      string   `json:"unit"`
	File      string   `json:"file"`
	DependsOn []string `json:"depends_on"`
}

// DependencyGraphOutput is the with-clause graph of a source tree.
type DependencyGraphOutput struct {
	Dependencies []UnitDependencies `json:"dependencies"`
	UnitCount    int                `json:"unit_count"`
}

// AlireDependency is one crate dependency with its version constraint.
type AlireDependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// AlireInfoOutput summarizes an Alire crate manifest.
type AlireInfoOutput struct {
	IsAlireProject bool              `json:"is_alire_project"`
	ManifestPath   string            `json:"manifest_path,omitempty"`
	Name           string            `json:"name,omitempty"`
	Version        string            `json:"version,omitempty"`
	Description    string            `json:"description,omitempty"`
	Authors        []string          `json:"authors,omitempty"`
	Licenses       string            `json:"licenses,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Dependencies   []AlireDependency `json:"dependencies,omitempty"`
	Executables    []string          `json:"executables,omitempty"`
	ProjectFiles   []string          `json:"project_files,omitempty"`
	Error          string            `json:"error,omitempty"`
}

func (s *Server) registerProject(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_project_info",
		Description: "Get project file, instance state, and process details for an Ada project",
	}, s.handleProjectInfo)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_build",
		Description: "Build an Ada project with gprbuild and return parsed errors and warnings",
	}, s.handleBuild)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_pool_status",
		Description: "Show the language-server instance pool: states, pending requests, crashes",
	}, s.handlePoolStatus)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_cache_stats",
		Description: "Show response cache size and hit/miss counters",
	}, s.handleCacheStats)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_invalidate_cache",
		Description: "Drop cached responses for a project after external changes",
	}, s.handleInvalidateCache)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_call_hierarchy",
		Description: "Show callers and callees of a subprogram",
	}, s.handleCallHierarchy)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_dependency_graph",
		Description: "Map the with-clause dependencies of Ada sources",
	}, s.handleDependencyGraph)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ada_alire_info",
		Description: "Read crate metadata from a project's alire.toml manifest",
	}, s.handleAlireInfo)
}

func (s *Server) handleProjectInfo(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ProjectInput]) (*mcp.CallToolResultFor[ProjectInfoOutput], error) {
	root, err := s.resolveRoot(params.Arguments.ProjectRoot, "")
	if err != nil {
		return nil, err
	}
	out := ProjectInfoOutput{Root: root, GPRFile: als.FindGPRFile(root)}
	for _, inst := range s.mgr.Status().Instances {
		if inst.ProjectRoot == root {
			out.State = inst.State
			out.PID = inst.PID
			out.Crashes = inst.Crashes
		}
	}
	return textResult(out)
}

func (s *Server) handleBuild(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[BuildInput]) (*mcp.CallToolResultFor[BuildOutput], error) {
	in := params.Arguments
	gpr := in.GPRFile
	if gpr == "" {
		root, err := s.resolveRoot(in.ProjectRoot, "")
		if err != nil {
			return nil, err
		}
		gpr = als.FindGPRFile(root)
	}
	if gpr == "" || fileExists(gpr) != nil {
		return textResult(BuildOutput{
			Success:  false,
			Errors:   []BuildDiagnostic{},
			Warnings: []BuildDiagnostic{},
			Hints:    []BuildDiagnostic{},
			Output:   "no GPR project file found",
		})
	}

	dir := filepath.Dir(gpr)
	if in.Clean {
		clean := exec.CommandContext(ctx, "gprclean", "-P", gpr)
		clean.Dir = dir
		_ = clean.Run() // best effort; the build reports real failures
	}

	args := []string{"-P", gpr}
	if in.Target != "" {
		args = append(args, in.Target)
	}
	args = append(args, in.ExtraArgs...)
	cmd := exec.CommandContext(ctx, "gprbuild", args...)
	cmd.Dir = dir
	combined, runErr := cmd.CombinedOutput()

	diags := parseGprbuildOutput(string(combined))
	out := BuildOutput{
		Success:  runErr == nil,
		Errors:   []BuildDiagnostic{},
		Warnings: []BuildDiagnostic{},
		Hints:    []BuildDiagnostic{},
	}
	for _, d := range diags {
		switch d.Severity {
		case "error":
			out.Errors = append(out.Errors, d)
		case "warning":
			out.Warnings = append(out.Warnings, d)
		default:
			out.Hints = append(out.Hints, d)
		}
	}
	if len(diags) == 0 && runErr != nil {
		out.Output = strings.TrimSpace(string(combined))
	}
	// A build that succeeded invalidates nothing; a build that produced
	// object changes may shift diagnostics, so drop the cache either way.
	if root, err := s.resolveRoot(in.ProjectRoot, gpr); err == nil {
		s.mgr.InvalidateProject(root)
	}
	return textResult(out)
}

func (s *Server) handlePoolStatus(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[struct{}]) (*mcp.CallToolResultFor[PoolStatusOutput], error) {
	st := s.mgr.Status()
	return textResult(PoolStatusOutput{
		Instances:    st.Instances,
		MaxInstances: st.MaxInstances,
		Spawns:       st.SpawnsTotal,
		Evictions:    st.EvictionsTotal,
	})
}

func (s *Server) handleCacheStats(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[struct{}]) (*mcp.CallToolResultFor[CacheStatsOutput], error) {
	st := s.mgr.Status().Cache
	return textResult(CacheStatsOutput{
		Size:      st.Size,
		Hits:      st.Hits,
		Misses:    st.Misses,
		Evictions: st.Evictions,
	})
}

func (s *Server) handleInvalidateCache(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ProjectInput]) (*mcp.CallToolResultFor[InvalidateOutput], error) {
	root, err := s.resolveRoot(params.Arguments.ProjectRoot, "")
	if err != nil {
		return nil, err
	}
	n := s.mgr.InvalidateProject(root)
	return textResult(InvalidateOutput{ProjectRoot: root, Invalidated: n})
}

// gprbuildLine matches "file.adb:12:8: error: message" with an optional
// severity word.
var gprbuildLine = regexp.MustCompile(`(?i)^(.+?):(\d+):(\d+):\s*(?:(error|warning|note|info))?\s*:?\s*(.*)$`)

// parseGprbuildOutput extracts diagnostics from gprbuild's combined output.
func parseGprbuildOutput(output string) []BuildDiagnostic {
	var diags []BuildDiagnostic
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := gprbuildLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		colNum, _ := strconv.Atoi(m[3])
		sev := strings.ToLower(m[4])
		switch sev {
		case "note", "info":
			sev = "hint"
		case "":
			sev = "error"
		}
		diags = append(diags, BuildDiagnostic{
			File:     m[1],
			Line:     lineNum,
			Column:   colNum,
			Severity: sev,
			Message:  m[5],
		})
	}
	return diags
}

func (s *Server) handleCallHierarchy(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[CallHierarchyInput]) (*mcp.CallToolResultFor[CallHierarchyOutput], error) {
	in := params.Arguments
	direction := in.Direction
	if direction == "" {
		direction = "outgoing"
	}
	if direction != "outgoing" && direction != "incoming" && direction != "both" {
		return nil, fmt.Errorf("direction must be outgoing, incoming, or both, got %q", direction)
	}
	raw, err := s.positionalCall(ctx, "textDocument/prepareCallHierarchy", in.PositionInput, nil, definitionTTL)
	if err != nil {
		return nil, err
	}
	item, name := firstHierarchyItem(raw)
	if item == nil {
		return textResult(CallHierarchyOutput{Found: false})
	}
	root, err := s.resolveRoot(in.ProjectRoot, in.File)
	if err != nil {
		return nil, err
	}
	out := CallHierarchyOutput{Found: true, Symbol: name}
	if direction == "outgoing" || direction == "both" {
		res, err := s.mgr.Submit(ctx, root, "callHierarchy/outgoingCalls",
			map[string]any{"item": item}, manager.SubmitOptions{})
		if err != nil {
			return nil, err
		}
		out.Outgoing = decodeHierarchyCalls(res, "to")
	}
	if direction == "incoming" || direction == "both" {
		res, err := s.mgr.Submit(ctx, root, "callHierarchy/incomingCalls",
			map[string]any{"item": item}, manager.SubmitOptions{})
		if err != nil {
			return nil, err
		}
		out.Incoming = decodeHierarchyCalls(res, "from")
	}
	return textResult(out)
}

func (s *Server) handleDependencyGraph(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[DependencyGraphInput]) (*mcp.CallToolResultFor[DependencyGraphOutput], error) {
	path := params.Arguments.Path
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("path not found: %s", path)
	}
	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isAdaSource(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else if isAdaSource(path) {
		files = []string{path}
	}
	sort.Strings(files)

	out := DependencyGraphOutput{Dependencies: []UnitDependencies{}}
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		unit, deps := parseAdaDependencies(string(src))
		if unit == "" {
			continue
		}
		out.Dependencies = append(out.Dependencies, UnitDependencies{
			Unit:      unit,
			File:      f,
			DependsOn: deps,
		})
	}
	out.UnitCount = len(out.Dependencies)
	return textResult(out)
}

func (s *Server) handleAlireInfo(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ProjectInput]) (*mcp.CallToolResultFor[AlireInfoOutput], error) {
	root, err := s.resolveRoot(params.Arguments.ProjectRoot, "")
	if err != nil {
		return nil, err
	}
	manifest := filepath.Join(root, "alire.toml")
	data, err := os.ReadFile(manifest)
	if err != nil {
		return textResult(AlireInfoOutput{
			IsAlireProject: false,
			Error:          fmt.Sprintf("no alire.toml found in %s", root),
		})
	}
	out, err := parseAlireManifest(data)
	if err != nil {
		return textResult(AlireInfoOutput{
			IsAlireProject: false,
			Error:          fmt.Sprintf("parse %s: %v", manifest, err),
		})
	}
	out.ManifestPath = manifest
	return textResult(out)
}

// firstHierarchyItem extracts the first CallHierarchyItem from a
// prepareCallHierarchy result, keeping it raw so it can be echoed back to the
// server unchanged.
func firstHierarchyItem(raw json.RawMessage) (json.RawMessage, string) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ""
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return nil, ""
	}
	var meta struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(items[0], &meta)
	return items[0], meta.Name
}

// decodeHierarchyCalls flattens incoming/outgoing call results; key selects
// the "to" (outgoing) or "from" (incoming) item field.
func decodeHierarchyCalls(raw json.RawMessage, key string) []HierarchyCall {
	out := []HierarchyCall{}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	var calls []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &calls); err != nil {
		return out
	}
	for _, call := range calls {
		var item struct {
			Name           string    `json:"name"`
			Kind           int       `json:"kind"`
			URI            string    `json:"uri"`
			SelectionRange als.Range `json:"selectionRange"`
		}
		if err := json.Unmarshal(call[key], &item); err != nil || item.Name == "" {
			continue
		}
		path, err := als.URIToPath(item.URI)
		if err != nil {
			path = item.URI
		}
		line, col := als.UserPosition(item.SelectionRange.Start)
		out = append(out, HierarchyCall{
			Name:   item.Name,
			Kind:   symbolKindName(item.Kind),
			File:   path,
			Line:   line,
			Column: col,
		})
	}
	return out
}

func isAdaSource(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ads", ".adb":
		return true
	}
	return false
}

var (
	adaUnitName   = regexp.MustCompile(`(?i)(?:package|procedure|function)\s+(?:body\s+)?(\w+(?:\.\w+)*)`)
	adaWithClause = regexp.MustCompile(`(?im)^\s*with\s+([\w.]+(?:\s*,\s*[\w.]+)*)\s*;`)
)

// parseAdaDependencies extracts the compilation unit name and its with'ed
// units from Ada source text.
func parseAdaDependencies(src string) (unit string, deps []string) {
	if m := adaUnitName.FindStringSubmatch(src); m != nil {
		unit = m[1]
	}
	seen := map[string]struct{}{}
	for _, m := range adaWithClause.FindAllStringSubmatch(src, -1) {
		for _, name := range strings.Split(m[1], ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			deps = append(deps, name)
		}
	}
	sort.Strings(deps)
	if deps == nil {
		deps = []string{}
	}
	return unit, deps
}

// parseAlireManifest decodes an alire.toml crate manifest. The depends-on
// table lists one crate per key with a version constraint value.
func parseAlireManifest(data []byte) (AlireInfoOutput, error) {
	var manifest struct {
		Name         string           `toml:"name"`
		Version      string           `toml:"version"`
		Description  string           `toml:"description"`
		Authors      []string         `toml:"authors"`
		Licenses     string           `toml:"licenses"`
		Tags         []string         `toml:"tags"`
		DependsOn    []map[string]any `toml:"depends-on"`
		Executables  []string         `toml:"executables"`
		ProjectFiles []string         `toml:"project-files"`
	}
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return AlireInfoOutput{}, err
	}
	out := AlireInfoOutput{
		IsAlireProject: true,
		Name:           manifest.Name,
		Version:        manifest.Version,
		Description:    manifest.Description,
		Authors:        manifest.Authors,
		Licenses:       manifest.Licenses,
		Tags:           manifest.Tags,
		Executables:    manifest.Executables,
		ProjectFiles:   manifest.ProjectFiles,
	}
	for _, entry := range manifest.DependsOn {
		names := make([]string, 0, len(entry))
		for name := range entry {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			version := "*"
			if v, ok := entry[name].(string); ok && v != "" {
				version = v
			}
			out.Dependencies = append(out.Dependencies, AlireDependency{Name: name, Version: version})
		}
	}
	return out, nil
}
