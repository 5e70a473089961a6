package als

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Framer turns a raw duplex byte stream into a sequence of discrete JSON-RPC
// messages using the LSP Content-Length framing convention. It knows nothing
// about request/response correlation.
type Framer struct {
	r   *bufio.Reader
	w   io.Writer
	wmu sync.Mutex
}

// NewFramer wraps the read and write sides of a stream.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{r: bufio.NewReader(r), w: w}
}

// WriteMessage serializes msg with a Content-Length header and appends it to
// the outbound stream. Safe for concurrent use.
func (f *Framer) WriteMessage(msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return framingError{msg: "encode message", cause: err}
	}
	f.wmu.Lock()
	defer f.wmu.Unlock()
	if _, err := fmt.Fprintf(f.w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	_, err = f.w.Write(body)
	return err
}

// ReadMessage blocks until the next complete message is available and decodes
// it. It never returns a partial message. A clean stream close at a frame
// boundary returns io.EOF; closure mid-frame, an unparsable header, or a
// malformed body return a framing error (IsFraming).
func (f *Framer) ReadMessage() (*Message, error) {
	contentLength := -1
	sawHeader := false
	for {
		line, err := f.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" && !sawHeader {
				return nil, io.EOF
			}
			return nil, framingError{msg: "stream closed mid-header", cause: err}
		}
		sawHeader = true
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, framingError{msg: fmt.Sprintf("malformed header %q", line)}
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, framingError{msg: fmt.Sprintf("bad Content-Length %q", strings.TrimSpace(value))}
			}
			contentLength = n
		}
		// Content-Type and any other headers are ignored.
	}
	if contentLength < 0 {
		return nil, framingError{msg: "missing Content-Length header"}
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return nil, framingError{msg: fmt.Sprintf("truncated body (want %d bytes)", contentLength), cause: err}
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, framingError{msg: "malformed message body", cause: err}
	}
	return &msg, nil
}
