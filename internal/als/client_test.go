package als

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// clientHarness pairs a Client with the server end of its stream.
type clientHarness struct {
	client *Client
	server *Framer

	mu      sync.Mutex
	methods []string

	clientIn  *io.PipeWriter // close to simulate server death
	serverOut *io.PipeReader
}

func newClientHarness(t *testing.T) *clientHarness {
	t.Helper()
	// client -> server
	reqR, reqW := io.Pipe()
	// server -> client
	respR, respW := io.Pipe()
	h := &clientHarness{
		client:    NewClient(respR, reqW, zerolog.Nop()),
		server:    NewFramer(reqR, respW),
		clientIn:  respW,
		serverOut: reqR,
	}
	h.client.Start()
	t.Cleanup(func() {
		h.client.Close(ErrDisconnected("test over"))
		_ = respW.Close()
		_ = reqR.Close()
	})
	return h
}

// read consumes one client-to-server message.
func (h *clientHarness) read(t *testing.T) *Message {
	t.Helper()
	msg, err := h.server.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	h.mu.Lock()
	h.methods = append(h.methods, msg.Method)
	h.mu.Unlock()
	return msg
}

func (h *clientHarness) respond(t *testing.T, id int64, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := h.server.WriteMessage(&Message{JSONRPC: "2.0", ID: &id, Result: raw}); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func TestCallResolvedByMatchingResponse(t *testing.T) {
	h := newClientHarness(t)
	go func() {
		msg := h.read(t)
		h.respond(t, *msg.ID, map[string]any{"answer": 42})
	}()
	res, err := h.client.Call(context.Background(), "compute", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var out struct {
		Answer int `json:"answer"`
	}
	if err := json.Unmarshal(res, &out); err != nil || out.Answer != 42 {
		t.Fatalf("result = %s err = %v", res, err)
	}
}

func TestCallIDsStrictlyIncreasing(t *testing.T) {
	h := newClientHarness(t)
	ids := make(chan int64, 2)
	go func() {
		for i := 0; i < 2; i++ {
			msg := h.read(t)
			ids <- *msg.ID
			h.respond(t, *msg.ID, "ok")
		}
	}()
	for i := 0; i < 2; i++ {
		if _, err := h.client.Call(context.Background(), "m", nil); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	first, second := <-ids, <-ids
	if second <= first {
		t.Fatalf("ids not strictly increasing: %d then %d", first, second)
	}
}

func TestCallErrorResponseIsProtocolError(t *testing.T) {
	h := newClientHarness(t)
	go func() {
		msg := h.read(t)
		id := *msg.ID
		_ = h.server.WriteMessage(&Message{
			JSONRPC: "2.0",
			ID:      &id,
			Error:   &ResponseError{Code: -32601, Message: "method not found"},
		})
	}()
	_, err := h.client.Call(context.Background(), "nope", nil)
	if !IsProtocol(err) {
		t.Fatalf("err = %v, want protocol error", err)
	}
	var pe *ProtocolError
	if !asProtocol(err, &pe) || pe.Code != -32601 {
		t.Fatalf("code not preserved: %v", err)
	}
	// An error response is local to its request: the client still works.
	go func() {
		msg := h.read(t)
		h.respond(t, *msg.ID, "fine")
	}()
	if _, err := h.client.Call(context.Background(), "ok", nil); err != nil {
		t.Fatalf("follow-up call: %v", err)
	}
}

func asProtocol(err error, target **ProtocolError) bool {
	pe, ok := err.(*ProtocolError)
	if ok {
		*target = pe
	}
	return ok
}

func TestCallTimeoutLeavesClientUsable(t *testing.T) {
	h := newClientHarness(t)
	var timedOutID int64
	gotFirst := make(chan struct{})
	go func() {
		msg := h.read(t)
		timedOutID = *msg.ID
		close(gotFirst)
		// Deliberately no response.
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := h.client.Call(ctx, "slow", nil)
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	<-gotFirst

	// The late response for the abandoned id is discarded without disturbing
	// the next request.
	go func() {
		h.respond(t, timedOutID, "too late")
		msg := h.read(t)
		h.respond(t, *msg.ID, "fresh")
	}()
	res, err := h.client.Call(context.Background(), "next", nil)
	if err != nil {
		t.Fatalf("call after timeout: %v", err)
	}
	if string(res) != `"fresh"` {
		t.Fatalf("got stale result: %s", res)
	}
}

func TestStreamClosureFailsPendingWithDisconnected(t *testing.T) {
	h := newClientHarness(t)
	go func() {
		h.read(t)
		_ = h.clientIn.Close() // server dies before responding
	}()
	_, err := h.client.Call(context.Background(), "m", nil)
	if !IsDisconnected(err) {
		t.Fatalf("err = %v, want disconnected", err)
	}
	// Future calls fail fast with the same terminal error.
	if _, err := h.client.Call(context.Background(), "m2", nil); !IsDisconnected(err) {
		t.Fatalf("post-close call: %v", err)
	}
}

func TestBeginShutdownMapsClosureToShutdown(t *testing.T) {
	h := newClientHarness(t)
	h.client.BeginShutdown()
	go func() {
		h.read(t)
		_ = h.clientIn.Close()
	}()
	_, err := h.client.Call(context.Background(), "m", nil)
	if !IsShutdown(err) {
		t.Fatalf("err = %v, want shutdown", err)
	}
}

func TestNotificationsDispatchedNotCorrelated(t *testing.T) {
	h := newClientHarness(t)
	params, _ := json.Marshal(map[string]any{
		"uri": "file:///p/a.adb",
		"diagnostics": []map[string]any{
			{"range": map[string]any{"start": map[string]int{"line": 2, "character": 4}, "end": map[string]int{"line": 2, "character": 9}}, "severity": 1, "message": "expected \";\""},
		},
	})
	if err := h.server.WriteMessage(&Message{JSONRPC: "2.0", Method: "textDocument/publishDiagnostics", Params: params}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case n := <-h.client.Notifications():
		if n.Method != "textDocument/publishDiagnostics" {
			t.Fatalf("method = %q", n.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notification not dispatched")
	}
	ds := h.client.Diagnostics("file:///p/a.adb")["file:///p/a.adb"]
	if len(ds) != 1 || ds[0].Message != "expected \";\"" {
		t.Fatalf("diagnostics = %+v", ds)
	}
}

func TestEnsureOpenSendsDidOpenOnce(t *testing.T) {
	h := newClientHarness(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "main.adb")
	if err := os.WriteFile(path, []byte("procedure Main is begin null; end Main;\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := make(chan *Message, 1)
	go func() {
		got <- h.read(t)
	}()
	if err := h.client.EnsureOpen(path); err != nil {
		t.Fatalf("ensure open: %v", err)
	}
	msg := <-got
	if msg.Method != "textDocument/didOpen" {
		t.Fatalf("method = %q", msg.Method)
	}
	var p struct {
		TextDocument struct {
			URI        string `json:"uri"`
			LanguageID string `json:"languageId"`
			Text       string `json:"text"`
		} `json:"textDocument"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		t.Fatalf("params: %v", err)
	}
	if p.TextDocument.LanguageID != "ada" || p.TextDocument.Text == "" {
		t.Fatalf("didOpen payload = %+v", p)
	}

	// Second call is a no-op: nothing else reaches the server.
	if err := h.client.EnsureOpen(path); err != nil {
		t.Fatalf("ensure open again: %v", err)
	}
	go func() {
		msg := h.read(t)
		h.respond(t, *msg.ID, "ok")
	}()
	if _, err := h.client.Call(context.Background(), "probe", nil); err != nil {
		t.Fatalf("probe: %v", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.methods[1:] {
		if m == "textDocument/didOpen" {
			t.Fatalf("didOpen sent twice: %v", h.methods)
		}
	}
}

func TestEnsureOpenMissingFileRollsBack(t *testing.T) {
	h := newClientHarness(t)
	missing := filepath.Join(t.TempDir(), "gone.adb")
	if err := h.client.EnsureOpen(missing); err == nil {
		t.Fatalf("expected error for missing file")
	}
	// After creating the file the open succeeds; the failed attempt did not
	// poison the once-per-URI tracking.
	if err := os.WriteFile(missing, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	go func() { h.read(t) }()
	if err := h.client.EnsureOpen(missing); err != nil {
		t.Fatalf("ensure open after create: %v", err)
	}
}
