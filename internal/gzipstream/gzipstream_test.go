package gzipstream

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
)

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestBufferPlain(t *testing.T) {
	body, err := Buffer(strings.NewReader("hello"), false)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("expected hello, got %q", body)
	}
}

func TestBufferInflatesGzip(t *testing.T) {
	compressed := gzipBytes(t, `{"ok":true}`)
	body, err := Buffer(bytes.NewReader(compressed), true)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("expected inflated json, got %q", body)
	}
}

func TestBufferRejectsOversizedBody(t *testing.T) {
	big := bytes.Repeat([]byte("a"), MaxNonSSEBodyBytes+10)
	_, err := Buffer(bytes.NewReader(big), false)
	if err != ErrBodyTooLarge {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestBufferInvalidGzip(t *testing.T) {
	_, err := Buffer(strings.NewReader("not gzip"), true)
	if err == nil {
		t.Fatal("expected error for invalid gzip stream")
	}
}
