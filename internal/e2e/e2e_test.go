// Package e2e wires the real pool manager, registry, watcher, and HTTP API
// together against an in-memory language server, exercising the paths an
// operator and an MCP client would hit in production.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adamcp/internal/als"
	"adamcp/internal/als/alstest"
	"adamcp/internal/httpapi"
	"adamcp/internal/manager"
	"adamcp/internal/registry"
	"adamcp/internal/watch"
	"adamcp/pkg/types"
)

// managerService adapts the pool manager to the ops HTTP API, mirroring the
// production adapter.
type managerService struct {
	mgr *manager.Manager
}

func (s managerService) Status() types.StatusResponse { return s.mgr.Status() }
func (s managerService) Ready() bool                  { return s.mgr.Ready() }
func (s managerService) InvalidateProject(root string) int {
	return s.mgr.InvalidateProject(root)
}
func (s managerService) Submit(ctx context.Context, root, method string, params json.RawMessage) (json.RawMessage, error) {
	return s.mgr.Submit(ctx, root, method, params, manager.SubmitOptions{})
}

func writeProject(t *testing.T, workspace, name string) string {
	t.Helper()
	root := filepath.Join(workspace, name)
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	gpr := "project " + name + " is\n   for Source_Dirs use (\"src\");\nend " + name + ";\n"
	if err := os.WriteFile(filepath.Join(root, name+".gpr"), []byte(gpr), 0o644); err != nil {
		t.Fatalf("write gpr: %v", err)
	}
	body := "procedure Main is\nbegin\n   null;\nend Main;\n"
	if err := os.WriteFile(filepath.Join(root, "src", "main.adb"), []byte(body), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return root
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestOperatorSurfaceEndToEnd(t *testing.T) {
	workspace := t.TempDir()
	root := writeProject(t, workspace, "demo")

	projects, err := registry.LoadDir(workspace)
	if err != nil {
		t.Fatalf("load workspace: %v", err)
	}
	if len(projects) != 1 || projects[0].Root != root {
		t.Fatalf("projects = %+v", projects)
	}

	launcher := alstest.NewLauncher(func(method string, params json.RawMessage) (any, *als.ResponseError) {
		if method == "textDocument/hover" {
			return map[string]any{"contents": "Integer"}, nil
		}
		return map[string]any{"ok": true}, nil
	})
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		MaxInstances:   2,
		RequestTimeout: 5 * time.Second,
		AcquireTimeout: 5 * time.Second,
		Launcher:       launcher,
		Logger:         zerolog.Nop(),
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.ShutdownAll(ctx)
	}()

	srv := httptest.NewServer(httpapi.NewMux(managerService{mgr}))
	defer srv.Close()

	// Liveness and readiness before any instance exists.
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s = %d", path, resp.StatusCode)
		}
	}

	// A debug request spawns the instance and reaches the fake server.
	resp := postJSON(t, srv.URL+"/debug/request", httpapi.DebugRequest{
		ProjectRoot: root,
		Method:      "textDocument/hover",
		Params:      json.RawMessage(`{"textDocument":{"uri":"file:///x.adb"}}`),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("debug request = %d", resp.StatusCode)
	}
	var debug struct {
		Result struct {
			Contents string `json:"contents"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&debug); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if debug.Result.Contents != "Integer" {
		t.Fatalf("result = %+v", debug)
	}
	if launcher.Launches() != 1 {
		t.Fatalf("launches = %d", launcher.Launches())
	}

	// Status now reports the ready instance.
	stResp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer stResp.Body.Close()
	var st types.StatusResponse
	if err := json.NewDecoder(stResp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(st.Instances) != 1 || st.Instances[0].ProjectRoot != root || st.Instances[0].State != "ready" {
		t.Fatalf("status instances = %+v", st.Instances)
	}

	// Seed the cache through the manager, then invalidate over HTTP.
	if _, err := mgr.Submit(context.Background(), root, "textDocument/documentSymbol", nil,
		manager.SubmitOptions{Cacheable: true, TTL: time.Minute}); err != nil {
		t.Fatalf("cacheable submit: %v", err)
	}
	if mgr.Cache().Size() != 1 {
		t.Fatalf("cache size = %d", mgr.Cache().Size())
	}
	invResp := postJSON(t, srv.URL+"/invalidate", httpapi.InvalidateRequest{ProjectRoot: root})
	defer invResp.Body.Close()
	var inv struct {
		Invalidated int `json:"invalidated"`
	}
	if err := json.NewDecoder(invResp.Body).Decode(&inv); err != nil {
		t.Fatalf("decode invalidate: %v", err)
	}
	if inv.Invalidated != 1 || mgr.Cache().Size() != 0 {
		t.Fatalf("invalidated = %d, size = %d", inv.Invalidated, mgr.Cache().Size())
	}

	// Metrics endpoint is wired.
	mResp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	mResp.Body.Close()
	if mResp.StatusCode != http.StatusOK {
		t.Fatalf("metrics = %d", mResp.StatusCode)
	}
}

func TestFileChangeInvalidatesCachedResponses(t *testing.T) {
	workspace := t.TempDir()
	root := writeProject(t, workspace, "watched")

	launcher := alstest.NewLauncher(nil)
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		MaxInstances:   1,
		RequestTimeout: 5 * time.Second,
		AcquireTimeout: 5 * time.Second,
		Launcher:       launcher,
		Logger:         zerolog.Nop(),
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.ShutdownAll(ctx)
	}()

	w, err := watch.New(mgr, zerolog.Nop())
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	defer w.Close()
	if err := w.WatchProject(root); err != nil {
		t.Fatalf("watch project: %v", err)
	}

	if _, err := mgr.Submit(context.Background(), root, "textDocument/hover", nil,
		manager.SubmitOptions{Cacheable: true, TTL: time.Minute}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if mgr.Cache().Size() != 1 {
		t.Fatalf("cache size = %d", mgr.Cache().Size())
	}

	src := filepath.Join(root, "src", "main.adb")
	if err := os.WriteFile(src, []byte("procedure Main is\nbegin\n   null; -- edited\nend Main;\n"), 0o644); err != nil {
		t.Fatalf("edit source: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for mgr.Cache().Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("cache never invalidated after source edit")
		}
		time.Sleep(25 * time.Millisecond)
	}
}
