// Package mcpserver exposes Ada analysis tools over the Model Context
// Protocol. Each tool resolves its target project, routes the request
// through the instance pool, and shapes the language-server response into
// tool output with 1-based positions.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"adamcp/internal/manager"
	"adamcp/internal/registry"
	"adamcp/pkg/types"
)

// Server binds the MCP tool surface to the instance pool.
type Server struct {
	mgr         *manager.Manager
	log         zerolog.Logger
	projects    []types.Project
	defaultRoot string
}

// New builds a Server. projects seeds root resolution; defaultRoot is used
// when a tool call names no project and none can be inferred from the file.
func New(mgr *manager.Manager, projects []types.Project, defaultRoot string, log zerolog.Logger) *Server {
	return &Server{
		mgr:         mgr,
		log:         log,
		projects:    projects,
		defaultRoot: defaultRoot,
	}
}

// Run serves MCP over stdio until ctx is canceled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "adamcp", Version: "0.1.0"}, nil)
	s.register(srv)
	s.log.Info().Int("projects", len(s.projects)).Msg("mcp server listening on stdio")
	return srv.Run(ctx, mcp.NewStdioTransport())
}

func (s *Server) register(srv *mcp.Server) {
	s.registerNavigation(srv)
	s.registerSymbols(srv)
	s.registerRefactoring(srv)
	s.registerProject(srv)
}

// resolveRoot picks the project root for a tool call: an explicit root wins,
// then the project containing file, then walking up from file looking for a
// GPR file, then the configured default.
func (s *Server) resolveRoot(explicit, file string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if file != "" {
		if p, ok := registry.Find(s.projects, file); ok {
			return p.Root, nil
		}
		dir := filepath.Dir(file)
		for {
			matches, _ := filepath.Glob(filepath.Join(dir, "*.gpr"))
			if len(matches) > 0 {
				return dir, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if s.defaultRoot != "" {
		return s.defaultRoot, nil
	}
	return "", fmt.Errorf("no project root: pass project_root or configure a default project")
}

// textResult wraps a JSON-marshalable payload as a tool result.
func textResult[T any](v T) (*mcp.CallToolResultFor[T], error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResultFor[T]{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(b)}},
		StructuredContent: v,
	}, nil
}

// fileExists guards tool calls against obvious typos before they reach the
// language server.
func fileExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	return nil
}
