package requestlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cligateway/hub/internal/cost"
)

func waitForTotal(t *testing.T, w *SQLWriter, want int) ListResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last ListResult
	for time.Now().Before(deadline) {
		result, err := w.List(context.Background(), Query{Limit: 10})
		if err != nil {
			t.Fatalf("list logs: %v", err)
		}
		last = result
		if result.Total >= want {
			return result
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d logs, last total=%d", want, last.Total)
	return last
}

func TestSQLiteWriter_EnqueueAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.db")
	w, err := NewSQLiteWriter(path)
	if err != nil {
		t.Fatalf("new sqlite writer: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	now := time.Now().UTC()
	entries := []Entry{
		{TraceID: "trace-1", CLIKey: "codex", Method: "POST", Path: "/v1/responses", RequestedModel: "gpt-4o-mini", FinalProviderID: "openai", Status: "success", CreatedAtMs: now.Add(-2 * time.Hour).UnixMilli()},
		{TraceID: "trace-2", CLIKey: "codex", Method: "POST", Path: "/v1/responses", RequestedModel: "gpt-4o-mini", FinalProviderID: "openai", Status: "success", CreatedAtMs: now.Add(-1 * time.Hour).UnixMilli()},
		{TraceID: "trace-3", CLIKey: "claude", Method: "POST", Path: "/v1/messages", RequestedModel: "claude-3-haiku", FinalProviderID: "anthropic", Status: "error", ErrorCode: "GW_UPSTREAM_TIMEOUT", CreatedAtMs: now.UnixMilli()},
	}
	for _, e := range entries {
		w.Enqueue(e)
	}

	result := waitForTotal(t, w, 3)
	if result.Total != 3 {
		t.Fatalf("expected 3 logs, got %d", result.Total)
	}

	filtered, err := w.List(context.Background(), Query{Limit: 10, Status: "error"})
	if err != nil {
		t.Fatalf("list filtered logs: %v", err)
	}
	if filtered.Total != 1 || filtered.Data[0].TraceID != "trace-3" {
		t.Fatalf("expected only trace-3 to be an error log, got %+v", filtered)
	}
}

func TestSQLiteWriter_UpsertOnTraceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.db")
	w, err := NewSQLiteWriter(path)
	if err != nil {
		t.Fatalf("new sqlite writer: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	w.Enqueue(Entry{TraceID: "dup", CLIKey: "codex", Method: "POST", Path: "/v1/responses", Status: "error", ErrorCode: "GW_UPSTREAM_5XX"})
	waitForTotal(t, w, 1)
	w.Enqueue(Entry{TraceID: "dup", CLIKey: "codex", Method: "POST", Path: "/v1/responses", Status: "success"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, err := w.List(context.Background(), Query{Limit: 10})
		if err != nil {
			t.Fatalf("list logs: %v", err)
		}
		if result.Total == 1 && result.Data[0].Status == "success" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the second enqueue to upsert the same trace_id row")
}

func TestSQLiteWriter_CostResolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.db")
	w, err := NewSQLiteWriter(path,
		WithLookupMultiplier(func(providerID string) (float64, bool) { return 2.0, true }),
		WithLookupPrice(func(cliKey, model string) (string, bool) {
			return `{"input_per_mtok":1000000,"output_per_mtok":2000000}`, true
		}),
	)
	if err != nil {
		t.Fatalf("new sqlite writer: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	w.Enqueue(Entry{
		TraceID: "priced", CLIKey: "claude", Method: "POST", Path: "/v1/messages",
		RequestedModel: "claude-3-haiku", FinalProviderID: "anthropic", Status: "success",
		Usage: cost.Usage{InputTokens: 10, OutputTokens: 5},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, err := w.List(context.Background(), Query{Limit: 10})
		if err != nil {
			t.Fatalf("list logs: %v", err)
		}
		if len(result.Data) == 1 && result.Data[0].CostUSDFemto != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected cost_usd_femto to be populated for a priced, successful request")
}

func TestPostgresWriterContract(t *testing.T) {
	dsn := os.Getenv("CLIGATEWAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set CLIGATEWAY_TEST_POSTGRES_DSN to run Postgres requestlog integration tests")
	}

	w, err := NewPostgresWriter(dsn)
	if err != nil {
		t.Fatalf("new postgres writer: %v", err)
	}
	t.Cleanup(func() {
		_, _ = w.db.Exec("DELETE FROM request_logs")
		_ = w.Close()
	})
	_, _ = w.db.Exec("DELETE FROM request_logs")

	w.Enqueue(Entry{TraceID: "pg-trace", CLIKey: "codex", Method: "POST", Path: "/v1/responses", RequestedModel: "gpt-4o-mini", FinalProviderID: "openai", Status: "success"})
	result := waitForTotal(t, w, 1)
	if result.Total != 1 {
		t.Fatalf("expected 1 postgres log, got %d", result.Total)
	}
}
