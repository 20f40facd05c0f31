package dap

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu        sync.Mutex
	sendQueue []*Message
	recvChan  chan *Message
	closed    bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		recvChan: make(chan *Message, 10),
	}
}

// Send records even after Close: closing only drains the inbound side,
// the server may still be writing responses for requests it already
// read.
func (t *mockTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sendQueue = append(t.sendQueue, msg)
	return nil
}

func (t *mockTransport) Receive() (*Message, error) {
	msg, ok := <-t.recvChan
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		t.closed = true
		close(t.recvChan)
	}
	return nil
}

func (t *mockTransport) queueRequest(tb testing.TB, seq int, command string, args interface{}) {
	tb.Helper()

	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			tb.Fatalf("marshal arguments: %v", err)
		}
		raw = b
	}

	req := Request{
		ProtocolMessage: ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
		Arguments:       raw,
	}
	content, err := json.Marshal(req)
	if err != nil {
		tb.Fatalf("marshal request: %v", err)
	}
	t.recvChan <- &Message{ContentLength: len(content), Content: content}
}

func (t *mockTransport) sent() []*Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Message{}, t.sendQueue...)
}

// fnHandler adapts a function to the Handler interface.
type fnHandler struct {
	fn    func(req *Request) (interface{}, error)
	after func(req *Request)
}

func (h *fnHandler) HandleRequest(req *Request) (interface{}, error) {
	return h.fn(req)
}

func (h *fnHandler) AfterResponse(req *Request) {
	if h.after != nil {
		h.after(req)
	}
}

func serveAll(t *testing.T, mt *mockTransport, h Handler) []*Message {
	t.Helper()

	srv := NewServer(mt, zerolog.Nop())
	srv.SetHandler(h)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	mt.Close()
	if err := <-done; err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	return mt.sent()
}

func TestServerSuccessResponse(t *testing.T) {
	mt := newMockTransport()
	mt.queueRequest(t, 7, "threads", nil)

	sent := serveAll(t, mt, &fnHandler{
		fn: func(req *Request) (interface{}, error) {
			return map[string]string{"hello": "world"}, nil
		},
	})

	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}

	content := string(sent[0].Content)
	if got := gjson.Get(content, "type").String(); got != "response" {
		t.Errorf("type = %q, want %q", got, "response")
	}
	if got := gjson.Get(content, "request_seq").Int(); got != 7 {
		t.Errorf("request_seq = %d, want 7", got)
	}
	if got := gjson.Get(content, "command").String(); got != "threads" {
		t.Errorf("command = %q, want %q", got, "threads")
	}
	if !gjson.Get(content, "success").Bool() {
		t.Error("success = false, want true")
	}
	if got := gjson.Get(content, "body.hello").String(); got != "world" {
		t.Errorf("body.hello = %q, want %q", got, "world")
	}
}

func TestServerErrorCodeResponse(t *testing.T) {
	mt := newMockTransport()
	mt.queueRequest(t, 1, "setBreakpoints", nil)

	sent := serveAll(t, mt, &fnHandler{
		fn: func(req *Request) (interface{}, error) {
			return nil, &RequestError{Code: 3010, Message: "bad source"}
		},
	})

	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}

	content := string(sent[0].Content)
	if gjson.Get(content, "success").Bool() {
		t.Error("success = true, want false")
	}
	if got := gjson.Get(content, "message").String(); got != "bad source" {
		t.Errorf("message = %q, want %q", got, "bad source")
	}
	if got := gjson.Get(content, "body.error.id").Int(); got != 3010 {
		t.Errorf("body.error.id = %d, want 3010", got)
	}
}

func TestServerPlainErrorResponse(t *testing.T) {
	mt := newMockTransport()
	mt.queueRequest(t, 2, "frobnicate", nil)

	sent := serveAll(t, mt, &fnHandler{
		fn: func(req *Request) (interface{}, error) {
			return nil, errors.New("no such command")
		},
	})

	content := string(sent[0].Content)
	if gjson.Get(content, "success").Bool() {
		t.Error("success = true, want false")
	}
	if got := gjson.Get(content, "message").String(); got != "no such command" {
		t.Errorf("message = %q, want %q", got, "no such command")
	}
	if gjson.Get(content, "body.error").Exists() {
		t.Error("plain error should not carry a structured body")
	}
}

func TestServerSequenceNumbersShared(t *testing.T) {
	mt := newMockTransport()
	mt.queueRequest(t, 1, "first", nil)
	mt.queueRequest(t, 2, "second", nil)

	var srv *Server
	h := &fnHandler{
		fn: func(req *Request) (interface{}, error) {
			if req.Command == "first" {
				if err := srv.SendEvent("output", map[string]string{"output": "hi"}); err != nil {
					t.Errorf("SendEvent: %v", err)
				}
			}
			return nil, nil
		},
	}

	srv = NewServer(mt, zerolog.Nop())
	srv.SetHandler(h)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	mt.Close()
	if err := <-done; err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	sent := mt.sent()
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sent))
	}

	for i, msg := range sent {
		if got := gjson.GetBytes(msg.Content, "seq").Int(); got != int64(i+1) {
			t.Errorf("message %d: seq = %d, want %d", i, got, i+1)
		}
	}

	// The event was pushed during handling, so it precedes the response.
	if got := gjson.GetBytes(sent[0].Content, "type").String(); got != "event" {
		t.Errorf("first message type = %q, want %q", got, "event")
	}
}

func TestServerAfterResponseOrdering(t *testing.T) {
	mt := newMockTransport()
	mt.queueRequest(t, 1, "initialize", nil)

	var srv *Server
	h := &fnHandler{
		fn: func(req *Request) (interface{}, error) { return nil, nil },
		after: func(req *Request) {
			if err := srv.SendEvent("initialized", nil); err != nil {
				t.Errorf("SendEvent: %v", err)
			}
		},
	}

	srv = NewServer(mt, zerolog.Nop())
	srv.SetHandler(h)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	mt.Close()
	if err := <-done; err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	sent := mt.sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	if got := gjson.GetBytes(sent[0].Content, "type").String(); got != "response" {
		t.Errorf("first message type = %q, want %q", got, "response")
	}
	if got := gjson.GetBytes(sent[1].Content, "event").String(); got != "initialized" {
		t.Errorf("second message event = %q, want %q", got, "initialized")
	}
}

func TestServerRecoversHandlerPanic(t *testing.T) {
	mt := newMockTransport()
	mt.queueRequest(t, 1, "explode", nil)

	sent := serveAll(t, mt, &fnHandler{
		fn: func(req *Request) (interface{}, error) {
			panic("boom")
		},
	})

	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	content := string(sent[0].Content)
	if gjson.Get(content, "success").Bool() {
		t.Error("success = true, want false")
	}
}

func TestServerDiscardsNonRequests(t *testing.T) {
	mt := newMockTransport()

	content := []byte(`{"seq":1,"type":"event","event":"noise"}`)
	mt.recvChan <- &Message{ContentLength: len(content), Content: content}
	mt.recvChan <- &Message{ContentLength: 4, Content: []byte("!!!!")}
	mt.queueRequest(t, 2, "threads", nil)

	sent := serveAll(t, mt, &fnHandler{
		fn: func(req *Request) (interface{}, error) { return nil, nil },
	})

	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if got := gjson.GetBytes(sent[0].Content, "command").String(); got != "threads" {
		t.Errorf("command = %q, want %q", got, "threads")
	}
}
