package dap

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// bufferCloser wraps a bytes.Buffer as an io.ReadWriteCloser.
type bufferCloser struct {
	bytes.Buffer
}

func (b *bufferCloser) Close() error { return nil }

func TestRawTransportRoundTrip(t *testing.T) {
	buf := &bufferCloser{}
	tr := NewRawTransport(buf)

	content := []byte(`{"seq":1,"type":"request","command":"initialize"}`)
	if err := tr.Send(&Message{ContentLength: len(content), Content: content}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msg, err := tr.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if msg.ContentLength != len(content) {
		t.Errorf("ContentLength = %d, want %d", msg.ContentLength, len(content))
	}
	if !bytes.Equal(msg.Content, content) {
		t.Errorf("Content = %s, want %s", msg.Content, content)
	}
}

func TestReadMessageHeaderCaseInsensitive(t *testing.T) {
	content := `{"seq":1}`
	framed := fmt.Sprintf("content-length: %d\r\n\r\n%s", len(content), content)

	msg, err := readMessage(bufio.NewReader(strings.NewReader(framed)))
	if err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if string(msg.Content) != content {
		t.Errorf("Content = %s, want %s", msg.Content, content)
	}
}

func TestReadMessageIgnoresExtraHeaders(t *testing.T) {
	content := `{"seq":1}`
	framed := fmt.Sprintf("Content-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", len(content), content)

	msg, err := readMessage(bufio.NewReader(strings.NewReader(framed)))
	if err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if msg.ContentLength != len(content) {
		t.Errorf("ContentLength = %d, want %d", msg.ContentLength, len(content))
	}
}

func TestReadMessageMissingContentLength(t *testing.T) {
	framed := "Content-Type: application/json\r\n\r\n{}"

	if _, err := readMessage(bufio.NewReader(strings.NewReader(framed))); err == nil {
		t.Fatal("readMessage() error = nil, want missing header error")
	}
}

func TestReadMessageRejectsOversizedContent(t *testing.T) {
	framed := fmt.Sprintf("Content-Length: %d\r\n\r\n", MaxContentLength+1)

	if _, err := readMessage(bufio.NewReader(strings.NewReader(framed))); err == nil {
		t.Fatal("readMessage() error = nil, want size limit error")
	}
}

func TestReadMessageInvalidHeaderLine(t *testing.T) {
	framed := "not a header\r\n\r\n{}"

	if _, err := readMessage(bufio.NewReader(strings.NewReader(framed))); err == nil {
		t.Fatal("readMessage() error = nil, want header parse error")
	}
}
