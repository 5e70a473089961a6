package mcpserver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"adamcp/pkg/types"
)

func TestDecodeLocationsShapes(t *testing.T) {
	link := `[{"targetUri":"file:///p/a.ads","targetRange":{"start":{"line":4,"character":3},"end":{"line":4,"character":9}},"targetSelectionRange":{"start":{"line":4,"character":3},"end":{"line":4,"character":9}}}]`
	locs := decodeLocations(json.RawMessage(link))
	if len(locs) != 1 || locs[0].File != "/p/a.ads" || locs[0].Line != 5 || locs[0].Column != 4 {
		t.Fatalf("location links: %+v", locs)
	}

	arr := `[{"uri":"file:///p/b.adb","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":4}}}]`
	locs = decodeLocations(json.RawMessage(arr))
	if len(locs) != 1 || locs[0].File != "/p/b.adb" || locs[0].Line != 1 || locs[0].Column != 1 {
		t.Fatalf("location array: %+v", locs)
	}

	single := `{"uri":"file:///p/c.adb","range":{"start":{"line":9,"character":2},"end":{"line":9,"character":7}}}`
	locs = decodeLocations(json.RawMessage(single))
	if len(locs) != 1 || locs[0].File != "/p/c.adb" || locs[0].Line != 10 {
		t.Fatalf("single location: %+v", locs)
	}

	for _, raw := range []string{"null", "", "[]"} {
		if got := decodeLocations(json.RawMessage(raw)); len(got) != 0 {
			t.Fatalf("decodeLocations(%q) = %+v", raw, got)
		}
	}
}

func TestDecodeHoverShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"markup content", `{"contents":{"kind":"plaintext","value":"procedure Main"}}`, "procedure Main"},
		{"plain string", `{"contents":"type Integer"}`, "type Integer"},
		{"marked string array", `{"contents":["line one",{"language":"ada","value":"line two"}]}`, "line one\nline two"},
		{"null", `null`, ""},
		{"empty contents", `{"contents":null}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := decodeHover(json.RawMessage(tc.raw)); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeSymbolsHierarchical(t *testing.T) {
	raw := `[{
		"name":"Main","kind":12,
		"range":{"start":{"line":0,"character":0},"end":{"line":10,"character":0}},
		"selectionRange":{"start":{"line":0,"character":10},"end":{"line":0,"character":14}},
		"children":[{
			"name":"X","kind":13,
			"range":{"start":{"line":2,"character":3},"end":{"line":2,"character":20}},
			"selectionRange":{"start":{"line":2,"character":3},"end":{"line":2,"character":4}}
		}]
	}]`
	syms := decodeSymbols(json.RawMessage(raw))
	if len(syms) != 1 {
		t.Fatalf("symbols = %+v", syms)
	}
	top := syms[0]
	if top.Name != "Main" || top.Kind != "function" || top.Line != 1 || top.Column != 11 {
		t.Fatalf("top = %+v", top)
	}
	if len(top.Children) != 1 || top.Children[0].Name != "X" || top.Children[0].Kind != "variable" || top.Children[0].Line != 3 {
		t.Fatalf("children = %+v", top.Children)
	}
}

func TestDecodeSymbolsFlat(t *testing.T) {
	raw := `[{"name":"Ada.Text_IO","kind":4,"location":{"uri":"file:///p/a.ads","range":{"start":{"line":1,"character":0},"end":{"line":1,"character":10}}}}]`
	syms := decodeSymbols(json.RawMessage(raw))
	if len(syms) != 1 {
		t.Fatalf("symbols = %+v", syms)
	}
	if syms[0].Kind != "package" || syms[0].File != "/p/a.ads" || syms[0].Line != 2 || syms[0].Column != 1 {
		t.Fatalf("symbol = %+v", syms[0])
	}
}

func TestDecodeCompletionsShapes(t *testing.T) {
	list := `{"isIncomplete":true,"items":[{"label":"Put_Line","kind":3,"detail":"procedure"}]}`
	out := decodeCompletions(json.RawMessage(list))
	if !out.Incomplete || len(out.Completions) != 1 {
		t.Fatalf("completion list: %+v", out)
	}
	if c := out.Completions[0]; c.Label != "Put_Line" || c.Kind != "function" || c.Detail != "procedure" {
		t.Fatalf("completion = %+v", c)
	}

	arr := `[{"label":"Integer","kind":7}]`
	out = decodeCompletions(json.RawMessage(arr))
	if out.Incomplete || len(out.Completions) != 1 || out.Completions[0].Kind != "class" {
		t.Fatalf("completion array: %+v", out)
	}

	if out := decodeCompletions(json.RawMessage("null")); len(out.Completions) != 0 {
		t.Fatalf("null completions: %+v", out)
	}
}

func TestSeverityName(t *testing.T) {
	cases := map[int]string{1: "error", 2: "warning", 3: "hint", 4: "hint", 0: "error", 99: "error"}
	for sev, want := range cases {
		if got := severityName(sev); got != want {
			t.Errorf("severityName(%d) = %q, want %q", sev, got, want)
		}
	}
}

func TestParseGprbuildOutput(t *testing.T) {
	output := `Compile
   [Ada]          main.adb
main.adb:4:12: error: ";" expected
main.adb:9:5: warning: variable "X" is not referenced
main.adb:12:3: note: previous declaration here
pack.ads:2:1: info: instance spec
util.adb:7:9: missing severity defaults to error
gprbuild: *** compilation phase failed`
	diags := parseGprbuildOutput(output)
	if len(diags) != 5 {
		t.Fatalf("diags = %+v", diags)
	}
	want := []struct {
		file, sev string
		line, col int
	}{
		{"main.adb", "error", 4, 12},
		{"main.adb", "warning", 9, 5},
		{"main.adb", "hint", 12, 3},
		{"pack.ads", "hint", 2, 1},
		{"util.adb", "error", 7, 9},
	}
	for i, w := range want {
		d := diags[i]
		if d.File != w.file || d.Severity != w.sev || d.Line != w.line || d.Column != w.col {
			t.Fatalf("diag %d = %+v, want %+v", i, d, w)
		}
	}
	if diags[0].Message != `";" expected` {
		t.Fatalf("message = %q", diags[0].Message)
	}
}

func TestParseGprbuildOutputNoDiagnostics(t *testing.T) {
	if diags := parseGprbuildOutput("gprbuild: \"missing.gpr\" processing failed\n"); len(diags) != 0 {
		t.Fatalf("diags = %+v", diags)
	}
}

func TestResolveRoot(t *testing.T) {
	registered := t.TempDir()
	orphan := t.TempDir()
	if err := os.MkdirAll(filepath.Join(orphan, "src", "deep"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(orphan, "orphan.gpr"), []byte("project Orphan is end Orphan;\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := New(nil, []types.Project{{ID: "demo", Root: registered}}, "", zerolog.Nop())

	if root, err := s.resolveRoot("/explicit", filepath.Join(registered, "a.adb")); err != nil || root != "/explicit" {
		t.Fatalf("explicit: %q, %v", root, err)
	}
	if root, err := s.resolveRoot("", filepath.Join(registered, "src", "a.adb")); err != nil || root != registered {
		t.Fatalf("registry: %q, %v", root, err)
	}
	// Unregistered file resolves by walking up to the directory holding a GPR.
	if root, err := s.resolveRoot("", filepath.Join(orphan, "src", "deep", "a.adb")); err != nil || root != orphan {
		t.Fatalf("walk-up: %q, %v", root, err)
	}
	if _, err := s.resolveRoot("", ""); err == nil {
		t.Fatalf("expected error with nothing to resolve")
	}

	withDefault := New(nil, nil, "/fallback", zerolog.Nop())
	if root, err := withDefault.resolveRoot("", ""); err != nil || root != "/fallback" {
		t.Fatalf("default: %q, %v", root, err)
	}
}
