// Package sse implements the streaming-success tee: it forwards an upstream
// Server-Sent Events byte stream to the client untouched while opportunistically
// parsing Claude-Messages-shaped events in parallel to accumulate a summary
// (response id, usage, stop reason, thinking/signature, text preview). The
// tee never withholds bytes waiting for parsing to catch up. Grounded in the
// teacher's providers/anthropic.go bufio.Scanner line-oriented SSE parser,
// generalized from "decode one struct shape" to "accumulate a summary while
// passing every byte straight through".
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrIdleTimeout is returned by Tee when idleTimeout elapses between two
// reads from the upstream stream.
var ErrIdleTimeout = errors.New("sse: stream idle timeout")

// Accumulator holds everything opportunistically parsed out of the tee'd
// stream.
type Accumulator struct {
	ResponseID    string
	ServiceTier   string
	StopReason    string
	TextPreview   string
	Thinking      string
	Signature     string
	Usage         json.RawMessage

	textPreviewCap int
	blockKinds     map[int]string
}

const defaultTextPreviewCap = 4096

// NewAccumulator constructs an empty Accumulator. previewCap bounds the
// captured text preview length; 0 uses the default (4096 bytes).
func NewAccumulator(previewCap int) *Accumulator {
	if previewCap <= 0 {
		previewCap = defaultTextPreviewCap
	}
	return &Accumulator{textPreviewCap: previewCap, blockKinds: make(map[int]string)}
}

type sseEvent struct {
	event string
	data  string
}

// Tee copies the upstream byte stream to dst untouched while feeding a
// line-oriented SSE parser that updates acc. It returns once src is
// exhausted or a read/write error occurs. The copy is never delayed by
// parsing: parse errors on a single event are swallowed and forwarding
// continues. idleTimeout, if positive, aborts with ErrIdleTimeout when no
// bytes arrive from src for that long; 0 disables the guard.
func Tee(dst io.Writer, src io.Reader, acc *Accumulator, idleTimeout time.Duration) error {
	reader := bufio.NewReader(withIdleTimeout(src, idleTimeout))
	var current sseEvent

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if _, werr := dst.Write([]byte(line)); werr != nil {
				return werr
			}
			processLine(strings.TrimRight(line, "\r\n"), &current, acc)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// idleTimeoutReader bounds the wait for each individual Read on a reader
// that has no native deadline support (http.Response.Body), by racing the
// underlying Read against a timer reset on every call.
type idleTimeoutReader struct {
	src     io.Reader
	timeout time.Duration
}

func withIdleTimeout(src io.Reader, timeout time.Duration) io.Reader {
	if timeout <= 0 {
		return src
	}
	return &idleTimeoutReader{src: src, timeout: timeout}
}

type readResult struct {
	n   int
	err error
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	ch := make(chan readResult, 1)
	go func() {
		n, err := r.src.Read(p)
		ch <- readResult{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(r.timeout):
		return 0, ErrIdleTimeout
	}
}

func processLine(line string, current *sseEvent, acc *Accumulator) {
	switch {
	case line == "":
		// Blank line terminates the event/data pair.
		if current.data != "" {
			acc.ingest(current.event, current.data)
		}
		*current = sseEvent{}
	case strings.HasPrefix(line, ":"):
		// Comment line; ignored.
	case strings.HasPrefix(line, "event:"):
		current.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		d := strings.TrimPrefix(line, "data:")
		d = strings.TrimPrefix(d, " ")
		if current.data != "" {
			current.data += "\n" + d
		} else {
			current.data = d
		}
	}
}

func (acc *Accumulator) ingest(event, data string) {
	if data == "[DONE]" {
		return
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return
	}

	typ := event
	if raw, ok := payload["type"]; ok {
		var t string
		if json.Unmarshal(raw, &t) == nil {
			typ = t
		}
	}

	switch typ {
	case "message_start":
		acc.ingestMessageStart(payload)
	case "content_block_start":
		acc.ingestContentBlockStart(payload)
	case "content_block_delta":
		acc.ingestContentBlockDelta(payload)
	case "message_delta":
		acc.ingestMessageDelta(payload)
	case "message_stop":
		// No further fields of interest; usage/stop_reason already captured.
	}
}

func (acc *Accumulator) ingestMessageStart(payload map[string]json.RawMessage) {
	raw, ok := payload["message"]
	if !ok {
		return
	}
	var msg struct {
		ID          string          `json:"id"`
		ServiceTier string          `json:"service_tier"`
		Usage       json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if acc.ResponseID == "" {
		acc.ResponseID = msg.ID
	}
	if acc.ServiceTier == "" {
		acc.ServiceTier = msg.ServiceTier
	}
	if msg.Usage != nil {
		acc.Usage = msg.Usage
	}
}

func intField(payload map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := payload[key]
	if !ok {
		return 0, false
	}
	var v int
	if json.Unmarshal(raw, &v) != nil {
		return 0, false
	}
	return v, true
}

func (acc *Accumulator) ingestContentBlockStart(payload map[string]json.RawMessage) {
	idx, _ := intField(payload, "index")
	raw, ok := payload["content_block"]
	if !ok {
		return
	}
	var block struct {
		Type      string `json:"type"`
		Text      string `json:"text"`
		Thinking  string `json:"thinking"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return
	}
	acc.blockKinds[idx] = block.Type
	switch block.Type {
	case "text":
		acc.appendText(block.Text)
	case "thinking":
		acc.Thinking += block.Thinking
		if block.Signature != "" {
			acc.Signature = block.Signature
		}
	}
}

func (acc *Accumulator) ingestContentBlockDelta(payload map[string]json.RawMessage) {
	raw, ok := payload["delta"]
	if !ok {
		return
	}
	var delta struct {
		Type      string `json:"type"`
		Text      string `json:"text"`
		Thinking  string `json:"thinking"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(raw, &delta); err != nil {
		return
	}
	switch delta.Type {
	case "text_delta":
		acc.appendText(delta.Text)
	case "thinking_delta":
		acc.Thinking += delta.Thinking
	case "signature_delta":
		acc.Signature += delta.Signature
	}
}

func (acc *Accumulator) ingestMessageDelta(payload map[string]json.RawMessage) {
	if raw, ok := payload["usage"]; ok {
		acc.Usage = raw
	}
	if raw, ok := payload["delta"]; ok {
		var delta struct {
			StopReason string `json:"stop_reason"`
		}
		if json.Unmarshal(raw, &delta) == nil && delta.StopReason != "" {
			acc.StopReason = delta.StopReason
		}
	}
}

func (acc *Accumulator) appendText(s string) {
	if len(acc.TextPreview) >= acc.textPreviewCap {
		return
	}
	remaining := acc.textPreviewCap - len(acc.TextPreview)
	if len(s) > remaining {
		s = s[:remaining]
	}
	acc.TextPreview += s
}
