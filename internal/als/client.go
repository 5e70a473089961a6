package als

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Client correlates JSON-RPC requests with asynchronous responses over a
// framed stream. One background read loop owns the transport's read side;
// frames carrying a known request id resolve the matching pending call,
// everything else is dispatched as a notification.
type Client struct {
	framer *Framer
	log    zerolog.Logger

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]chan outcome
	closed   bool
	closeErr error
	stopping bool
	opened   map[string]bool

	notifCh chan Notification
	done    chan struct{}

	diagMu sync.Mutex
	diags  map[string][]Diagnostic
}

// outcome is the single-assignment result slot of a pending request. The
// pending-map entry is deleted by whichever path resolves first; later
// attempts find no entry and are no-ops.
type outcome struct {
	result json.RawMessage
	err    error
}

// NewClient builds a client over the server's stdin (w) and stdout (r).
// Call Start to begin the read loop.
func NewClient(r io.Reader, w io.Writer, log zerolog.Logger) *Client {
	return &Client{
		framer:  NewFramer(r, w),
		log:     log,
		pending: make(map[int64]chan outcome),
		opened:  make(map[string]bool),
		notifCh: make(chan Notification, 64),
		done:    make(chan struct{}),
		diags:   make(map[string][]Diagnostic),
	}
}

// Start launches the background read loop. Must be called exactly once.
func (c *Client) Start() {
	go c.readLoop()
}

// Done is closed when the read loop has exited (stream closed or client closed).
func (c *Client) Done() <-chan struct{} { return c.done }

// Notifications returns the stream of unsolicited server-to-client messages.
// The channel is closed when the read loop exits.
func (c *Client) Notifications() <-chan Notification { return c.notifCh }

// Call sends a request and suspends the caller until the matching response,
// the context deadline, or stream closure. A fresh strictly-increasing id is
// allocated per call; ids are never reused within the client's lifetime.
// Timing out cancels only the caller's wait: the request stays outstanding at
// the server and its late response is discarded.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan outcome, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	raw, err := marshalParams(params)
	if err != nil {
		c.drop(id)
		return nil, err
	}
	c.log.Debug().Int64("id", id).Str("method", method).Msg("als request")
	if err := c.framer.WriteMessage(&Message{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}); err != nil {
		c.drop(id)
		return nil, ErrDisconnected("write: " + err.Error())
	}

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		c.mu.Lock()
		if _, ok := c.pending[id]; ok {
			delete(c.pending, id)
			c.mu.Unlock()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, timeoutError{method: method}
			}
			return nil, ctx.Err()
		}
		c.mu.Unlock()
		// Resolved concurrently with cancellation; the buffered send has
		// already happened or is imminent.
		out := <-ch
		return out.result, out.err
	}
}

// Notify sends a notification; no response is expected.
func (c *Client) Notify(method string, params any) error {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.framer.WriteMessage(&Message{JSONRPC: "2.0", Method: method, Params: raw})
}

// EnsureOpen sends textDocument/didOpen for path once per client lifetime.
// Positional requests require the document to be open at the server.
func (c *Client) EnsureOpen(path string) error {
	uri := FileURI(path)
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	if c.opened[uri] {
		c.mu.Unlock()
		return nil
	}
	c.opened[uri] = true
	c.mu.Unlock()

	text, err := os.ReadFile(path)
	if err != nil {
		c.mu.Lock()
		delete(c.opened, uri)
		c.mu.Unlock()
		return err
	}
	return c.Notify("textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{
			"uri":        uri,
			"languageId": languageIDFor(path),
			"version":    1,
			"text":       string(text),
		},
	})
}

// Diagnostics returns the last pushed diagnostics for a URI, or for every
// known URI when uri is empty. URIs the server never reported on are absent.
// Returned slices are copies.
func (c *Client) Diagnostics(uri string) map[string][]Diagnostic {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	out := make(map[string][]Diagnostic)
	if uri != "" {
		if ds, ok := c.diags[uri]; ok {
			out[uri] = append([]Diagnostic{}, ds...)
		}
		return out
	}
	for u, ds := range c.diags {
		out[u] = append([]Diagnostic{}, ds...)
	}
	return out
}

// BeginShutdown marks the client as deliberately stopping so that the
// eventual stream closure fails leftover requests with Shutdown rather than
// Disconnected.
func (c *Client) BeginShutdown() {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
}

// Close fails every pending request with err and rejects future calls.
// Idempotent: only the first close takes effect.
func (c *Client) Close(err error) {
	c.fail(err)
}

func (c *Client) drop(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.stopping {
		err = shutdownError{}
	}
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = make(map[int64]chan outcome)
	c.mu.Unlock()
	for id, ch := range pending {
		c.log.Debug().Int64("id", id).Err(err).Msg("failing pending request")
		ch <- outcome{err: err}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.notifCh)
	for {
		msg, err := c.framer.ReadMessage()
		if err != nil {
			reason := "stream closed"
			if err != io.EOF {
				reason = err.Error()
			}
			c.fail(ErrDisconnected(reason))
			return
		}
		switch {
		case msg.ID != nil && msg.Method == "":
			c.dispatchResponse(msg)
		case msg.Method != "":
			c.dispatchNotification(msg)
		default:
			c.log.Debug().Msg("frame with neither id nor method, dropping")
		}
	}
}

func (c *Client) dispatchResponse(msg *Message) {
	id := *msg.ID
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		// Benign: the caller already gave up on this id.
		c.log.Debug().Int64("id", id).Msg("late response for resolved request, dropping")
		return
	}
	if msg.Error != nil {
		ch <- outcome{err: &ProtocolError{Code: msg.Error.Code, Message: msg.Error.Message, Data: msg.Error.Data}}
		return
	}
	ch <- outcome{result: msg.Result}
}

func (c *Client) dispatchNotification(msg *Message) {
	switch msg.Method {
	case "textDocument/publishDiagnostics":
		c.storeDiagnostics(msg.Params)
	case "window/logMessage":
		c.logServerMessage(msg.Params)
	case "window/showMessage":
		var p struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(msg.Params, &p)
		c.log.Info().Str("message", p.Message).Msg("als message")
	}
	select {
	case c.notifCh <- Notification{Method: msg.Method, Params: msg.Params}:
	default:
		c.log.Debug().Str("method", msg.Method).Msg("notification sink full, dropping")
	}
}

func (c *Client) storeDiagnostics(params json.RawMessage) {
	var p struct {
		URI         string       `json:"uri"`
		Diagnostics []Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		c.log.Debug().Err(err).Msg("bad publishDiagnostics payload")
		return
	}
	c.diagMu.Lock()
	c.diags[p.URI] = p.Diagnostics
	c.diagMu.Unlock()
	c.log.Debug().Str("uri", p.URI).Int("count", len(p.Diagnostics)).Msg("diagnostics updated")
}

func (c *Client) logServerMessage(params json.RawMessage) {
	var p struct {
		Type    int    `json:"type"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(params, &p)
	switch p.Type {
	case 1:
		c.log.Error().Str("message", p.Message).Msg("als log")
	case 2:
		c.log.Warn().Str("message", p.Message).Msg("als log")
	case 3:
		c.log.Info().Str("message", p.Message).Msg("als log")
	default:
		c.log.Debug().Str("message", p.Message).Msg("als log")
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return b, nil
}
