package als

import "testing"

func TestFileURIRoundTrip(t *testing.T) {
	paths := []string{
		"/home/dev/proj/src/main.adb",
		"/tmp/with space/pkg.ads",
	}
	for _, p := range paths {
		uri := FileURI(p)
		got, err := URIToPath(uri)
		if err != nil {
			t.Fatalf("URIToPath(%q): %v", uri, err)
		}
		if got != p {
			t.Fatalf("round trip %q -> %q -> %q", p, uri, got)
		}
	}
}

func TestURIToPathRejectsNonFileSchemes(t *testing.T) {
	for _, uri := range []string{"https://example.com/a.adb", "untitled:Untitled-1", ""} {
		if _, err := URIToPath(uri); err == nil {
			t.Fatalf("URIToPath(%q) accepted", uri)
		}
	}
}

func TestUserPositionIsOneBased(t *testing.T) {
	line, col := UserPosition(Position{Line: 0, Character: 0})
	if line != 1 || col != 1 {
		t.Fatalf("got %d:%d", line, col)
	}
}

func TestPositionParamsConvertsToZeroBased(t *testing.T) {
	p := PositionParams("/p/a.adb", 12, 5)
	if p.Position.Line != 11 || p.Position.Character != 4 {
		t.Fatalf("position = %+v", p.Position)
	}
	if p.TextDocument.URI != FileURI("/p/a.adb") {
		t.Fatalf("uri = %q", p.TextDocument.URI)
	}
}
