// Package bodywrap models an upstream response body as a single
// polymorphic abstraction with one capability set (poll next chunk,
// report a finalization event) and five concrete variants: Raw, Gunzip,
// SseTee, TimingTee, Buffered. The Failover Loop and Request Router only
// ever see the Body interface; which variant backs a given response
// depends on the provider's content-encoding and whether the client asked
// for a stream.
//
// Wrappers compose at most two deep (e.g. SseTee wrapping a Gunzip reader
// when the upstream event-stream is itself gzip-encoded) to avoid nesting
// depth explosion.
package bodywrap

import (
	"io"
	"time"

	"github.com/cligateway/hub/internal/gzipstream"
	"github.com/cligateway/hub/internal/sse"
)

// Finalization carries the data every variant produces once the body has
// been fully drained, regardless of how it was read.
type Finalization struct {
	BytesWritten      int64
	TimeToFirstByteMs int64
	TotalDurationMs   int64
	SSE               *sse.Accumulator // nil unless the variant is SseTee
	Err               error
}

// Body is the capability set every variant implements: write the next
// chunk to dst and, once io.EOF is reached, report how it finished.
type Body interface {
	// WriteTo drains the upstream reader into dst, tracking timing, and
	// returns the finalization record. It is called exactly once per
	// response.
	WriteTo(dst io.Writer) Finalization
}

type clock func() time.Time

// Raw copies upstream bytes to the client unmodified. Used for
// non-streaming, non-gzip, non-SSE responses where no downstream
// component needs the bytes rewritten.
type Raw struct {
	Src   io.Reader
	Now   clock
	Start time.Time
}

func (b Raw) WriteTo(dst io.Writer) Finalization {
	now := b.Now
	if now == nil {
		now = time.Now
	}
	start := b.Start
	if start.IsZero() {
		start = now()
	}

	var fin Finalization
	firstByte := true
	buf := make([]byte, 32*1024)
	for {
		n, rerr := b.Src.Read(buf)
		if n > 0 {
			if firstByte {
				fin.TimeToFirstByteMs = now().Sub(start).Milliseconds()
				firstByte = false
			}
			wn, werr := dst.Write(buf[:n])
			fin.BytesWritten += int64(wn)
			if werr != nil {
				fin.Err = werr
				break
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				fin.Err = rerr
			}
			break
		}
	}
	fin.TotalDurationMs = now().Sub(start).Milliseconds()
	return fin
}

// Gunzip inflates a gzip-encoded, non-streaming upstream body into memory
// (bounded by gzipstream.MaxNonSSEBodyBytes) and hands the plaintext bytes
// onward as a single write. It is never used for SSE bodies — those stay
// streamed via SseTee even when gzip-encoded, see GunzippedSseTee below.
type Gunzip struct {
	Src io.Reader
	Now clock
}

func (b Gunzip) WriteTo(dst io.Writer) Finalization {
	now := b.Now
	if now == nil {
		now = time.Now
	}
	start := now()

	var fin Finalization
	plain, err := gzipstream.Buffer(b.Src, true)
	if err != nil {
		fin.Err = err
		fin.TotalDurationMs = now().Sub(start).Milliseconds()
		return fin
	}
	fin.TimeToFirstByteMs = now().Sub(start).Milliseconds()
	n, werr := dst.Write(plain)
	fin.BytesWritten = int64(n)
	fin.Err = werr
	fin.TotalDurationMs = now().Sub(start).Milliseconds()
	return fin
}

// SseTee forwards a Server-Sent Events stream byte-for-byte while
// opportunistically accumulating the Claude-shaped events that cross it.
// A malformed or unrecognized event never interrupts forwarding.
type SseTee struct {
	Src        io.Reader
	PreviewCap int
	Now        clock
	// IdleTimeout aborts the tee with sse.ErrIdleTimeout when no bytes
	// arrive from Src for this long. Zero disables the guard.
	IdleTimeout time.Duration
}

func (b SseTee) WriteTo(dst io.Writer) Finalization {
	now := b.Now
	if now == nil {
		now = time.Now
	}
	start := now()

	acc := sse.NewAccumulator(b.PreviewCap)
	ttfbWriter := &firstByteTracker{dst: dst, now: now, start: start}
	err := sse.Tee(ttfbWriter, b.Src, acc, b.IdleTimeout)

	return Finalization{
		BytesWritten:      ttfbWriter.written,
		TimeToFirstByteMs: ttfbWriter.ttfbMs,
		TotalDurationMs:   now().Sub(start).Milliseconds(),
		SSE:               acc,
		Err:               err,
	}
}

// TimingTee forwards raw bytes unmodified, same as Raw, but exists as a
// distinct variant so a caller can express "I need timing only, no
// accumulation" without constructing an SSE accumulator it will never
// read.
type TimingTee struct {
	Src io.Reader
	Now clock
}

func (b TimingTee) WriteTo(dst io.Writer) Finalization {
	return Raw{Src: b.Src, Now: b.Now}.WriteTo(dst)
}

// Buffered reads the entire upstream body into memory before writing it
// out in one shot. Used for non-streaming responses that the Response
// Fixer needs to inspect and potentially rewrite before the client ever
// sees a byte, so nothing can be forwarded incrementally. Capped at
// gzipstream.MaxNonSSEBodyBytes to bound memory.
type Buffered struct {
	Src     io.Reader
	Now     clock
	Gzipped bool                // Src is gzip-encoded; inflate before buffering
	Rewrite func([]byte) []byte // optional, applied before the single write
}

func (b Buffered) WriteTo(dst io.Writer) Finalization {
	now := b.Now
	if now == nil {
		now = time.Now
	}
	start := now()

	var fin Finalization
	raw, err := gzipstream.Buffer(b.Src, b.Gzipped)
	if err != nil {
		fin.Err = err
		fin.TotalDurationMs = now().Sub(start).Milliseconds()
		return fin
	}
	fin.TimeToFirstByteMs = now().Sub(start).Milliseconds()
	if b.Rewrite != nil {
		raw = b.Rewrite(raw)
	}
	n, werr := dst.Write(raw)
	fin.BytesWritten = int64(n)
	fin.Err = werr
	fin.TotalDurationMs = now().Sub(start).Milliseconds()
	return fin
}

// GunzippedSseTee composes Gunzip and SseTee: the upstream event-stream is
// itself gzip-encoded. This is the one sanctioned two-deep nesting named
// in the component design — inflate first, then tee the plaintext SSE
// frames.
type GunzippedSseTee struct {
	Src         io.Reader
	PreviewCap  int
	Now         clock
	IdleTimeout time.Duration
}

func (b GunzippedSseTee) WriteTo(dst io.Writer) Finalization {
	now := b.Now
	if now == nil {
		now = time.Now
	}

	gz, err := gzipstream.NewStreamReader(b.Src)
	if err != nil {
		return Finalization{Err: err}
	}
	defer gz.Close()

	return SseTee{Src: gz, PreviewCap: b.PreviewCap, Now: now, IdleTimeout: b.IdleTimeout}.WriteTo(dst)
}

// firstByteTracker wraps dst so SseTee can record time-to-first-byte and
// total bytes written without sse.Tee needing to know about timing.
type firstByteTracker struct {
	dst     io.Writer
	now     clock
	start   time.Time
	ttfbMs  int64
	written int64
	seen    bool
}

func (t *firstByteTracker) Write(p []byte) (int, error) {
	if !t.seen && len(p) > 0 {
		t.ttfbMs = t.now().Sub(t.start).Milliseconds()
		t.seen = true
	}
	n, err := t.dst.Write(p)
	t.written += int64(n)
	return n, err
}
