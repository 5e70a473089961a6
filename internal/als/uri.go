package als

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// FileURI converts an absolute or relative file path to a file:// URI.
func FileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}

// URIToPath converts a file:// URI back to a local file path.
func URIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file uri: %q", uri)
	}
	return filepath.FromSlash(u.Path), nil
}

// LSPPosition converts a 1-based user line/column to a 0-based LSP position.
func LSPPosition(line, column int) Position {
	if line < 1 {
		line = 1
	}
	if column < 1 {
		column = 1
	}
	return Position{Line: line - 1, Character: column - 1}
}

// UserPosition converts a 0-based LSP position to 1-based line/column.
func UserPosition(p Position) (line, column int) {
	return p.Line + 1, p.Character + 1
}

// PositionParams builds the common positional request parameters for a file
// and 1-based coordinates.
func PositionParams(path string, line, column int) TextDocumentPositionParams {
	return TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FileURI(path)},
		Position:     LSPPosition(line, column),
	}
}

// languageIDFor guesses the LSP language id from a file extension.
func languageIDFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpr":
		return "gpr"
	default:
		return "ada"
	}
}
