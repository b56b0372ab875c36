package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// blockingReader never returns, simulating an upstream that has gone
// silent mid-stream.
type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}

func TestTeeForwardsBytesUnchanged(t *testing.T) {
	input := "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"service_tier\":\"standard\"}}\n\ndata: [DONE]\n\n"
	var out bytes.Buffer
	acc := NewAccumulator(0)
	if err := Tee(&out, strings.NewReader(input), acc, 0); err != nil {
		t.Fatalf("tee: %v", err)
	}
	if out.String() != input {
		t.Fatalf("expected byte-for-byte forwarding, got %q", out.String())
	}
	if acc.ResponseID != "msg_1" {
		t.Fatalf("expected response id msg_1, got %q", acc.ResponseID)
	}
	if acc.ServiceTier != "standard" {
		t.Fatalf("expected service tier standard, got %q", acc.ServiceTier)
	}
}

func TestTeeAccumulatesTextAcrossDeltas(t *testing.T) {
	input := strings.Join([]string{
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":"Hel"}}`,
		"",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		"",
	}, "\n") + "\n"

	acc := NewAccumulator(0)
	if err := Tee(&bytes.Buffer{}, strings.NewReader(input), acc, 0); err != nil {
		t.Fatalf("tee: %v", err)
	}
	if acc.TextPreview != "Hello" {
		t.Fatalf("expected accumulated text 'Hello', got %q", acc.TextPreview)
	}
}

func TestTeeAccumulatesThinkingAndSignatureAcrossShapes(t *testing.T) {
	input := strings.Join([]string{
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"step one. "}}`,
		"",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"step two."}}`,
		"",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig-abc"}}`,
		"",
	}, "\n") + "\n"

	acc := NewAccumulator(0)
	if err := Tee(&bytes.Buffer{}, strings.NewReader(input), acc, 0); err != nil {
		t.Fatalf("tee: %v", err)
	}
	if acc.Thinking != "step one. step two." {
		t.Fatalf("expected accumulated thinking, got %q", acc.Thinking)
	}
	if acc.Signature != "sig-abc" {
		t.Fatalf("expected accumulated signature, got %q", acc.Signature)
	}
}

func TestTeeCapturesStopReasonAndUsageFromMessageDelta(t *testing.T) {
	input := `data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":42}}` + "\n\n"
	acc := NewAccumulator(0)
	if err := Tee(&bytes.Buffer{}, strings.NewReader(input), acc, 0); err != nil {
		t.Fatalf("tee: %v", err)
	}
	if acc.StopReason != "end_turn" {
		t.Fatalf("expected stop_reason end_turn, got %q", acc.StopReason)
	}
	if string(acc.Usage) != `{"output_tokens":42}` {
		t.Fatalf("expected usage captured, got %s", acc.Usage)
	}
}

func TestTeeTextPreviewRespectsCapacity(t *testing.T) {
	input := `data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":"0123456789"}}` + "\n\n"
	acc := NewAccumulator(5)
	if err := Tee(&bytes.Buffer{}, strings.NewReader(input), acc, 0); err != nil {
		t.Fatalf("tee: %v", err)
	}
	if acc.TextPreview != "01234" {
		t.Fatalf("expected preview capped at 5 bytes, got %q", acc.TextPreview)
	}
}

func TestTeeAbortsOnIdleTimeout(t *testing.T) {
	acc := NewAccumulator(0)
	err := Tee(io.Discard, blockingReader{}, acc, 5*time.Millisecond)
	if !errors.Is(err, ErrIdleTimeout) {
		t.Fatalf("expected ErrIdleTimeout, got %v", err)
	}
}

func TestTeeIgnoresMalformedDataWithoutBreakingForward(t *testing.T) {
	input := "data: not-json\n\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_2\"}}\n\n"
	var out bytes.Buffer
	acc := NewAccumulator(0)
	if err := Tee(&out, strings.NewReader(input), acc, 0); err != nil {
		t.Fatalf("tee: %v", err)
	}
	if out.String() != input {
		t.Fatal("expected forwarding to continue past malformed data line")
	}
	if acc.ResponseID != "msg_2" {
		t.Fatalf("expected response id from the well-formed event, got %q", acc.ResponseID)
	}
}
