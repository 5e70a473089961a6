// Package registry discovers Ada projects on disk. A project is any
// directory directly under the workspace root that contains a GPR file.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"adamcp/internal/common/fsutil"
	"adamcp/pkg/types"
)

// LoadDir scans a workspace directory for Ada projects. The workspace root
// itself counts as a project when it holds a GPR file.
func LoadDir(dir string) ([]types.Project, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if !fsutil.IsDir(abs) {
		return nil, fmt.Errorf("workspace %s is not a directory", abs)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var projects []types.Project
	if gpr := gprIn(abs); gpr != "" {
		projects = append(projects, projectFor(abs, gpr))
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		root := filepath.Join(abs, e.Name())
		gpr := gprIn(root)
		if gpr == "" {
			continue
		}
		projects = append(projects, projectFor(root, gpr))
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

// Find returns the project whose root contains path, preferring the longest
// match so nested projects win over their parent workspace.
func Find(projects []types.Project, path string) (types.Project, bool) {
	var best types.Project
	found := false
	for _, p := range projects {
		if path == p.Root || strings.HasPrefix(path, p.Root+string(filepath.Separator)) {
			if !found || len(p.Root) > len(best.Root) {
				best = p
				found = true
			}
		}
	}
	return best, found
}

func gprIn(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.gpr"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	for _, m := range matches {
		if !strings.HasPrefix(strings.ToLower(filepath.Base(m)), "alire") {
			return m
		}
	}
	return matches[0]
}

func projectFor(root, gpr string) types.Project {
	return types.Project{
		ID:      filepath.Base(root),
		Root:    root,
		GPRFile: gpr,
	}
}
