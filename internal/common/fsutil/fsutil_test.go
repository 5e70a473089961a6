package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home) // os.UserHomeDir on windows

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/ada/workspace", "/ada/workspace"},
		{"relative/path", "relative/path"},
		{"~", home},
		{"~/projects/orders", filepath.Join(home, "projects", "orders")},
	}
	for _, tc := range cases {
		got, err := ExpandHome(tc.in)
		if err != nil {
			t.Fatalf("ExpandHome(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsDir(t *testing.T) {
	dir := t.TempDir()
	if !IsDir(dir) {
		t.Fatalf("IsDir(%q) = false", dir)
	}
	file := filepath.Join(dir, "main.adb")
	if err := os.WriteFile(file, []byte("procedure Main is begin null; end Main;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if IsDir(file) {
		t.Errorf("IsDir reported a file as a directory")
	}
	if IsDir(filepath.Join(dir, "missing")) {
		t.Errorf("IsDir reported a missing path as a directory")
	}
}
